package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/goliatone/go-storefront-auth/promo"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PromoRedeemer prices and redeems a promo code inside a transaction
type PromoRedeemer interface {
	RedeemTx(ctx context.Context, tx bun.IDB, code string, subtotal int64) (*promo.Quote, error)
}

// PlaceOrderInput is the checkout payload. Prices are the catalog
// snapshot the client was shown.
type PlaceOrderInput struct {
	Items           []Item                `json:"items"`
	PromoCode       string                `json:"promo_code"`
	ShippingAddress *auth.ShippingAddressPayload `json:"shipping_address"`
}

// Validate will run validation rules
func (in PlaceOrderInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Items, validation.Required, validation.Length(1, 100), validation.By(validateItems)),
		validation.Field(&in.PromoCode, validation.Length(0, 32)),
		validation.Field(&in.ShippingAddress),
	)
}

func validateItems(value any) error {
	items, _ := value.([]Item)
	for _, item := range items {
		switch {
		case strings.TrimSpace(item.ProductID) == "":
			return errors.New("product_id is required for every item")
		case strings.TrimSpace(item.Name) == "":
			return errors.New("name is required for every item")
		case item.Quantity < 1 || item.Quantity > 1000:
			return errors.New("quantity must be between 1 and 1000")
		case item.UnitPriceCents < 0:
			return errors.New("unit_price_cents must not be negative")
		}
	}
	return nil
}

// Service places orders and manages their lifecycle
type Service struct {
	db           *bun.DB
	repo         Repository
	promos       PromoRedeemer
	users        auth.UserFinder
	machine      StateMachine
	activitySink auth.ActivitySink
	logger       auth.Logger
	now          func() time.Time
}

var _ auth.AccountDeletionHook = (*Service)(nil)

func NewService(db *bun.DB, repo Repository, promos PromoRedeemer, users auth.UserFinder) *Service {
	s := &Service{
		db:     db,
		repo:   repo,
		promos: promos,
		users:  users,
		logger: auth.NopLogger{},
		now:    time.Now,
	}
	s.machine = s.newMachine()
	return s
}

func (s *Service) WithLogger(logger auth.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	s.machine = s.newMachine()
	return s
}

func (s *Service) WithActivitySink(sink auth.ActivitySink) *Service {
	s.activitySink = sink
	s.machine = s.newMachine()
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	s.machine = s.newMachine()
	return s
}

func (s *Service) newMachine() StateMachine {
	return NewStateMachine(s.repo,
		WithStateMachineClock(s.now),
		WithStateMachineActivitySink(s.activitySink),
		WithStateMachineLogger(s.logger),
	)
}

// Place records a pending order for identity. When a promo code is given
// its redemption and the insert commit together.
func (s *Service) Place(ctx context.Context, identity auth.Identity, in PlaceOrderInput) (*Order, error) {
	if auth.IsSyntheticAdmin(identity) {
		return nil, auth.Derive(auth.ErrAdminAccountImmutable, "the administrator account cannot place orders")
	}

	if err := in.Validate(); err != nil {
		return nil, auth.NewValidationError(err)
	}

	userID, err := uuid.Parse(identity.ID())
	if err != nil {
		return nil, auth.ErrUserNotFound
	}

	var address *auth.ShippingAddress
	if in.ShippingAddress != nil {
		address, err = in.ShippingAddress.Address()
		if err != nil {
			return nil, auth.NewFieldsError("invalid request: shipping_address.phone", map[string]string{"shipping_address.phone": err.Error()})
		}
	} else {
		user, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		address = user.ShippingAddress
	}
	if address == nil {
		return nil, auth.NewFieldsError("invalid request: shipping_address", map[string]string{"shipping_address": "cannot be blank"})
	}

	now := s.now().UTC()
	subtotal := Subtotal(in.Items)
	order := &Order{
		ID:              uuid.New(),
		UserID:          userID,
		Items:           in.Items,
		SubtotalCents:   subtotal,
		TotalCents:      subtotal,
		Status:          StatusPending,
		ShippingAddress: address,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if code := strings.TrimSpace(in.PromoCode); code != "" {
			quote, err := s.promos.RedeemTx(ctx, tx, code, subtotal)
			if err != nil {
				return err
			}
			order.PromoCode = &quote.Code
			order.DiscountCents = quote.DiscountCents
			order.TotalCents = quote.TotalCents
		}

		_, err := s.repo.CreateTx(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order placed", "order_id", order.ID.String(), "user_id", userID.String(), "total_cents", order.TotalCents)
	return order, nil
}

// Get returns an order visible to identity: its owner or an admin.
func (s *Service) Get(ctx context.Context, identity auth.Identity, id string) (*Order, error) {
	oid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrOrderNotFound.Clone().WithMetadata(map[string]any{"id": id})
	}

	order, err := s.repo.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}

	if order.UserID.String() != identity.ID() && !auth.UserRole(identity.Role()).IsAtLeast(auth.RoleAdmin) {
		return nil, ErrOrderNotFound.Clone().WithMetadata(map[string]any{"id": id})
	}
	return order, nil
}

// ListForUser lists the orders owned by identity
func (s *Service) ListForUser(ctx context.Context, identity auth.Identity, opts auth.ListOptions) ([]*Order, int, error) {
	userID, err := uuid.Parse(identity.ID())
	if err != nil {
		return []*Order{}, 0, nil
	}
	return s.repo.List(ctx, ListFilter{ListOptions: opts, UserID: &userID})
}

// ListAll lists every order, optionally filtered by status
func (s *Service) ListAll(ctx context.Context, opts auth.ListOptions, status Status) ([]*Order, int, error) {
	if status != "" && !status.IsValid() {
		return nil, 0, auth.NewFieldsError("invalid request: status", map[string]string{"status": "must be a valid order status"})
	}
	return s.repo.List(ctx, ListFilter{ListOptions: opts, Status: status})
}

// UpdateStatus moves order id to target on behalf of actor
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Identity, id string, target Status, reason string) (*Order, error) {
	oid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrOrderNotFound.Clone().WithMetadata(map[string]any{"id": id})
	}

	order, err := s.repo.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}

	return s.machine.Transition(ctx, auth.ActorFromIdentity(actor), order, target, WithTransitionReason(reason))
}

// DeleteAccountData removes the orders owned by userID inside the account
// deletion transaction.
func (s *Service) DeleteAccountData(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	n, err := s.repo.DeleteByUserTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	s.logger.Debug("orders removed with account", "user_id", userID.String(), "count", n)
	return nil
}
