package promo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/goliatone/go-storefront-auth/persistence"
	"github.com/uptrace/bun"
)

var (
	ErrPromoCodeNotFound = auth.Derive(auth.ErrNotFound, "promo code not found").
				WithTextCode("PROMO_CODE_NOT_FOUND")

	ErrPromoCodeTaken = auth.Derive(auth.ErrConflict, "promo code already exists").
				WithTextCode("PROMO_CODE_TAKEN")

	ErrPromoCodeExhausted = auth.Derive(auth.ErrConflict, "promo code has been fully redeemed").
				WithTextCode("PROMO_CODE_EXHAUSTED")
)

// Repository persists promo codes
type Repository interface {
	List(ctx context.Context, opts auth.ListOptions) ([]*PromoCode, int, error)
	GetByCode(ctx context.Context, code string) (*PromoCode, error)
	GetByCodeTx(ctx context.Context, tx bun.IDB, code string) (*PromoCode, error)
	Create(ctx context.Context, record *PromoCode) (*PromoCode, error)
	Update(ctx context.Context, record *PromoCode) (*PromoCode, error)
	Delete(ctx context.Context, code string) error
	IncrementRedemptionsTx(ctx context.Context, tx bun.IDB, id string, now time.Time) error
}

type repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, opts auth.ListOptions) ([]*PromoCode, int, error) {
	opts = opts.Normalize()

	records := []*PromoCode{}
	count, err := r.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.code ASC").
		Limit(opts.Limit).
		Offset(opts.Offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list promo codes")
	}
	return records, count, nil
}

func (r *repository) GetByCode(ctx context.Context, code string) (*PromoCode, error) {
	return r.GetByCodeTx(ctx, r.db, code)
}

func (r *repository) GetByCodeTx(ctx context.Context, tx bun.IDB, code string) (*PromoCode, error) {
	record := &PromoCode{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.code = ?", NormalizeCode(code)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPromoCodeNotFound.Clone().WithMetadata(map[string]any{"code": NormalizeCode(code)})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to query promo codes")
	}
	return record, nil
}

func (r *repository) Create(ctx context.Context, record *PromoCode) (*PromoCode, error) {
	if _, err := r.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if persistence.IsUniqueViolation(err) {
			return nil, auth.DeriveFrom(ErrPromoCodeTaken, err, "").WithMetadata(map[string]any{"code": record.Code})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create promo code")
	}
	return record, nil
}

func (r *repository) Update(ctx context.Context, record *PromoCode) (*PromoCode, error) {
	res, err := r.db.NewUpdate().
		Model(record).
		Column("description", "discount_type", "value", "min_subtotal_cents",
			"max_redemptions", "active", "starts_at", "expires_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update promo code")
	}
	if err := expectAffected(res, record.Code); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *repository) Delete(ctx context.Context, code string) error {
	res, err := r.db.NewDelete().
		Model((*PromoCode)(nil)).
		Where("code = ?", NormalizeCode(code)).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete promo code")
	}
	return expectAffected(res, NormalizeCode(code))
}

// IncrementRedemptionsTx counts one redemption. The row is only touched
// while it is active and below its cap, so concurrent redemptions cannot
// overshoot max_redemptions.
func (r *repository) IncrementRedemptionsTx(ctx context.Context, tx bun.IDB, id string, now time.Time) error {
	res, err := tx.NewUpdate().
		Model((*PromoCode)(nil)).
		Set("redemptions = redemptions + 1").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("active = ?", true).
		Where("(max_redemptions = 0 OR redemptions < max_redemptions)").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to redeem promo code")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read affected rows")
	}
	if n == 0 {
		return ErrPromoCodeExhausted
	}
	return nil
}

func expectAffected(res sql.Result, code string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read affected rows")
	}
	if n == 0 {
		return ErrPromoCodeNotFound.Clone().WithMetadata(map[string]any{"code": code})
	}
	return nil
}
