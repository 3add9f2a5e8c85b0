package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMesasge struct {
	Session         string `json:"session" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Reset password session token"`
	Password        string `json:"password" example:"some_secret_word" doc:"Password"`
	ConfirmPassword string `json:"confirm_password" example:"some_secret_word" doc:"Password confirmation"`
}

func (e FinalizePasswordResetMesasge) Type() string { return "user.password_reset.finalize" }

func (e FinalizePasswordResetMesasge) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Session, validation.Required),
		validation.Field(&e.Password, validation.Required, validation.Length(6, 72)),
		validation.Field(&e.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(e.Password)),
		),
	)
}

type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

var _ command.Commander[FinalizePasswordResetMesasge] = (*FinalizePasswordResetHandler)(nil)

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *FinalizePasswordResetHandler) WithClock(now func() time.Time) *FinalizePasswordResetHandler {
	if now != nil {
		h.now = now
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMesasge) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryInternal, "context cancelled during password reset finalization")
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMesasge) error {
	if err := event.Validate(); err != nil {
		return NewValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var reset *PasswordReset

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		reset, err = lookupPasswordReset(ctx, h.repo, tx, event.Session, h.now())
		if err != nil {
			return err
		}

		passwordHash, err := HashPassword(event.Password)
		if err != nil {
			return err
		}

		if err := h.repo.Users().UpdatePasswordTx(ctx, tx, reset.UserID, passwordHash); err != nil {
			return err
		}

		now := h.now().UTC()
		reset.Status = ResetChangedStatus
		reset.ResetAt = &now
		reset.UpdatedAt = now

		if _, err := h.repo.PasswordResets().UpdateTx(ctx, tx, reset, repository.UpdateByID(reset.ID.String())); err != nil {
			return storeError(err, "failed to update password reset status")
		}
		return nil
	})
	if err != nil {
		return AsError(err)
	}

	RecordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     ActorRef{ID: reset.UserID.String(), Type: "user"},
		UserID:    reset.UserID.String(),
		Metadata: map[string]any{
			"password_reset_id": reset.ID.String(),
		},
		OccurredAt: h.now(),
	})

	return nil
}
