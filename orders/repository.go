package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ErrOrderNotFound = auth.Derive(auth.ErrNotFound, "order not found").
	WithTextCode("ORDER_NOT_FOUND")

// ListFilter narrows order listings
type ListFilter struct {
	auth.ListOptions
	UserID *uuid.UUID
	Status Status
}

type Repository interface {
	CreateTx(ctx context.Context, tx bun.IDB, order *Order) (*Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]*Order, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, now time.Time) error
	DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error)
}

type repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateTx(ctx context.Context, tx bun.IDB, order *Order) (*Order, error) {
	if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create order")
	}
	return order, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	record := &Order{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to query orders")
	}
	return record, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]*Order, int, error) {
	opts := filter.ListOptions.Normalize()

	records := []*Order{}
	q := r.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(opts.Limit).
		Offset(opts.Offset)

	if filter.UserID != nil {
		q = q.Where("?TableAlias.user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("?TableAlias.status = ?", filter.Status)
	}

	count, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list orders")
	}
	return records, count, nil
}

// UpdateStatus moves an order from one status to another. The current
// status is part of the predicate so a concurrent transition loses.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, now time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update order status")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read affected rows")
	}
	if n == 0 {
		return auth.Derive(auth.ErrConflict, "order status changed concurrently").
			WithMetadata(map[string]any{"id": id.String(), "from": from, "to": to})
	}
	return nil
}

func (r *repository) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error) {
	res, err := tx.NewDelete().
		Model((*Order)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete orders")
	}
	return res.RowsAffected()
}
