package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type revokedTokens struct {
	db  *bun.DB
	now func() time.Time
}

var _ RevocationList = (*revokedTokens)(nil)

// NewRevokedTokensRepository stores the token id denylist
func NewRevokedTokensRepository(db *bun.DB) RevocationList {
	return &revokedTokens{db: db, now: time.Now}
}

// Revoke adds tokenID to the denylist until expiresAt. Revoking twice is a no-op.
func (r *revokedTokens) Revoke(ctx context.Context, tokenID, subject string, expiresAt time.Time) error {
	if tokenID == "" {
		return Derive(ErrValidation, "token id must not be empty")
	}

	record := &RevokedToken{
		TokenID:   tokenID,
		Subject:   subject,
		ExpiresAt: expiresAt.UTC(),
		RevokedAt: r.now().UTC(),
	}

	if _, err := r.db.NewInsert().
		Model(record).
		On("CONFLICT (token_id) DO NOTHING").
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke token")
	}
	return nil
}

func (r *revokedTokens) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*RevokedToken)(nil)).
		Where("token_id = ?", tokenID).
		Exists(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check revoked tokens")
	}
	return exists, nil
}

// PurgeExpired drops entries whose tokens would be rejected for expiry anyway.
func (r *revokedTokens) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*RevokedToken)(nil)).
		Where("expires_at < ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to purge revoked tokens")
	}
	return res.RowsAffected()
}

// NewPasswordResetsRepository stores password reset sessions, looked up by id.
func NewPasswordResetsRepository(db *bun.DB) repository.Repository[*PasswordReset] {
	handlers := repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset {
			return &PasswordReset{}
		},
		GetID: func(record *PasswordReset) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PasswordReset, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
	return repository.NewRepository(db, handlers)
}
