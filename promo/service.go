package promo

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PromoCodeInput is the admin create/update payload
type PromoCodeInput struct {
	Code             string       `json:"code"`
	Description      string       `json:"description"`
	DiscountType     DiscountType `json:"discount_type"`
	Value            int64        `json:"value"`
	MinSubtotalCents int64        `json:"min_subtotal_cents"`
	MaxRedemptions   int          `json:"max_redemptions"`
	Active           *bool        `json:"active"`
	StartsAt         *time.Time   `json:"starts_at"`
	ExpiresAt        *time.Time   `json:"expires_at"`
}

// Validate will run validation rules
func (in PromoCodeInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Code, validation.Required, validation.Length(3, 32)),
		validation.Field(&in.Description, validation.Length(0, 500)),
		validation.Field(&in.DiscountType,
			validation.Required,
			validation.In(DiscountPercentage, DiscountFixed),
		),
		validation.Field(&in.Value,
			validation.Required,
			validation.Min(int64(1)),
			validation.By(func(value any) error {
				if in.DiscountType == DiscountPercentage && in.Value > 100 {
					return errors.New("must be no greater than 100")
				}
				return nil
			}),
		),
		validation.Field(&in.MinSubtotalCents, validation.Min(int64(0))),
		validation.Field(&in.MaxRedemptions, validation.Min(0)),
		validation.Field(&in.ExpiresAt, validation.By(func(value any) error {
			if in.StartsAt != nil && in.ExpiresAt != nil && !in.ExpiresAt.After(*in.StartsAt) {
				return errors.New("must be after starts_at")
			}
			return nil
		})),
	)
}

// Service manages promo codes and prices subtotals against them
type Service struct {
	repo   Repository
	logger auth.Logger
	now    func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:   repo,
		logger: auth.NopLogger{},
		now:    time.Now,
	}
}

func (s *Service) WithLogger(logger auth.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) List(ctx context.Context, opts auth.ListOptions) ([]*PromoCode, int, error) {
	return s.repo.List(ctx, opts)
}

func (s *Service) Get(ctx context.Context, code string) (*PromoCode, error) {
	return s.repo.GetByCode(ctx, code)
}

func (s *Service) Create(ctx context.Context, in PromoCodeInput) (*PromoCode, error) {
	if err := in.Validate(); err != nil {
		return nil, auth.NewValidationError(err)
	}

	now := s.now().UTC()
	record := &PromoCode{
		ID:        uuid.New(),
		Code:      NormalizeCode(in.Code),
		Active:    true,
		CreatedAt: now,
	}
	in.applyTo(record, now)

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return nil, err
	}

	s.logger.Info("promo code created", "code", created.Code)
	return created, nil
}

// Update replaces the mutable attributes of code. The code itself and the
// redemption count are immutable.
func (s *Service) Update(ctx context.Context, code string, in PromoCodeInput) (*PromoCode, error) {
	in.Code = code
	if err := in.Validate(); err != nil {
		return nil, auth.NewValidationError(err)
	}

	record, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	in.applyTo(record, s.now().UTC())

	updated, err := s.repo.Update(ctx, record)
	if err != nil {
		return nil, err
	}

	s.logger.Info("promo code updated", "code", updated.Code)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, code string) error {
	if err := s.repo.Delete(ctx, code); err != nil {
		return err
	}
	s.logger.Info("promo code deleted", "code", NormalizeCode(code))
	return nil
}

// Apply prices subtotal against code without redeeming it.
func (s *Service) Apply(ctx context.Context, code string, subtotal int64) (*Quote, error) {
	if subtotal < 0 {
		return nil, auth.NewFieldsError("invalid request: subtotal_cents", map[string]string{"subtotal_cents": "must be no less than 0"})
	}

	record, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := record.CheckApplicable(subtotal, s.now()); err != nil {
		return nil, err
	}

	return newQuote(record, subtotal), nil
}

// RedeemTx prices subtotal against code and counts the redemption inside
// tx. Callers insert the order in the same transaction.
func (s *Service) RedeemTx(ctx context.Context, tx bun.IDB, code string, subtotal int64) (*Quote, error) {
	record, err := s.repo.GetByCodeTx(ctx, tx, code)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := record.CheckApplicable(subtotal, now); err != nil {
		return nil, err
	}

	if err := s.repo.IncrementRedemptionsTx(ctx, tx, record.ID.String(), now.UTC()); err != nil {
		return nil, err
	}

	return newQuote(record, subtotal), nil
}

func (in PromoCodeInput) applyTo(record *PromoCode, now time.Time) {
	record.Description = in.Description
	record.DiscountType = in.DiscountType
	record.Value = in.Value
	record.MinSubtotalCents = in.MinSubtotalCents
	record.MaxRedemptions = in.MaxRedemptions
	if in.Active != nil {
		record.Active = *in.Active
	}
	record.StartsAt = utcPtr(in.StartsAt)
	record.ExpiresAt = utcPtr(in.ExpiresAt)
	record.UpdatedAt = now
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
