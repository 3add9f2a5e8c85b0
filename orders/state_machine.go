package orders

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-storefront-auth"
)

const (
	textCodeInvalidTransition = "INVALID_ORDER_STATE_TRANSITION"
	textCodeTerminalState     = "TERMINAL_ORDER_STATE"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid order state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition)

// ErrTerminalState is returned when attempting to move away from a terminal status.
var ErrTerminalState = goerrors.New("order state is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor auth.ActorRef
	Order *Order
	From  Status
	To    Status
	Meta  TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// StateMachine defines lifecycle operations for orders.
type StateMachine interface {
	Transition(ctx context.Context, actor auth.ActorRef, order *Order, target Status, opts ...TransitionOption) (*Order, error)
	CanTransition(from, to Status) bool
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*orderStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *orderStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink auth.ActivitySink) StateMachineOption {
	return func(sm *orderStateMachine) {
		sm.activitySink = sink
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger auth.Logger) StateMachineOption {
	return func(sm *orderStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewStateMachine returns the default implementation backed by repo.
func NewStateMachine(repo Repository, opts ...StateMachineOption) StateMachine {
	sm := &orderStateMachine{
		repo: repo,
		transitions: map[Status]map[Status]struct{}{
			StatusPending: {
				StatusPaid:      {},
				StatusCancelled: {},
			},
			StatusPaid: {
				StatusShipped:   {},
				StatusCancelled: {},
				StatusRefunded:  {},
			},
			StatusShipped: {
				StatusDelivered: {},
			},
		},
		now:    time.Now,
		logger: auth.NopLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type orderStateMachine struct {
	repo         Repository
	transitions  map[Status]map[Status]struct{}
	now          func() time.Time
	activitySink auth.ActivitySink
	logger       auth.Logger
}

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *orderStateMachine) Transition(ctx context.Context, actor auth.ActorRef, order *Order, target Status, opts ...TransitionOption) (*Order, error) {
	if order == nil {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"target": target,
			"reason": "order is nil",
		})
	}

	if !target.IsValid() {
		return nil, auth.NewFieldsError("unknown order status", map[string]string{"status": "must be a valid order status"}).
			WithTextCode(textCodeInvalidTransition).
			WithMetadata(map[string]any{"target": target})
	}

	from := order.Status
	if from == target {
		return order, nil
	}

	if from.IsTerminal() {
		return nil, ErrTerminalState.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	if !sm.CanTransition(from, target) {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	options := sm.buildTransitionOptions(opts...)

	ctxData := TransitionContext{
		Actor: actor,
		Order: order,
		From:  from,
		To:    target,
		Meta:  options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData); err != nil {
		return nil, err
	}

	now := sm.now().UTC()
	if err := sm.repo.UpdateStatus(ctx, order.ID, from, target, now); err != nil {
		return nil, err
	}

	order.Status = target
	order.UpdatedAt = now

	if err := sm.runHooks(ctx, options.afterHooks, ctxData); err != nil {
		return nil, err
	}

	metadata := sm.transitionMetadata(ctxData.Meta)
	metadata["order_id"] = order.ID.String()

	auth.RecordActivity(ctx, sm.activitySink, sm.logger, auth.ActivityEvent{
		EventType:  auth.ActivityEventOrderStatusChanged,
		Actor:      actor,
		UserID:     order.UserID.String(),
		FromStatus: string(from),
		ToStatus:   string(target),
		Metadata:   metadata,
		OccurredAt: now,
	})

	return order, nil
}

func (sm *orderStateMachine) CanTransition(from, to Status) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *orderStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func (sm *orderStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *orderStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
