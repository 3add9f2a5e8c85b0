package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PasswordResetStatus is the public view of a reset session
type PasswordResetStatus struct {
	Session string    `json:"session"`
	Status  string    `json:"status"`
	Expires time.Time `json:"expires_at"`
}

type PasswordResetLookupHandler struct {
	repo RepositoryManager
	now  func() time.Time
}

func NewPasswordResetLookupHandler(repo RepositoryManager) *PasswordResetLookupHandler {
	return &PasswordResetLookupHandler{repo: repo, now: time.Now}
}

func (h *PasswordResetLookupHandler) WithClock(now func() time.Time) *PasswordResetLookupHandler {
	if now != nil {
		h.now = now
	}
	return h
}

// Execute reports whether session can still be used to set a password.
func (h *PasswordResetLookupHandler) Execute(ctx context.Context, session string) (*PasswordResetStatus, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryInternal, "context cancelled during password reset lookup")
	default:
	}

	reset, err := lookupPasswordReset(ctx, h.repo, h.repo.DB(), session, h.now())
	if err != nil {
		return nil, err
	}

	return &PasswordResetStatus{
		Session: reset.ID.String(),
		Status:  reset.Status,
		Expires: reset.CreatedAt.Add(PasswordResetTTL),
	}, nil
}

// lookupPasswordReset loads a session that is still usable: it exists,
// was not consumed and is younger than PasswordResetTTL.
func lookupPasswordReset(ctx context.Context, repo RepositoryManager, tx bun.IDB, session string, now time.Time) (*PasswordReset, error) {
	if _, err := uuid.Parse(session); err != nil {
		return nil, Derive(ErrNotFound, "invalid or expired password reset token")
	}

	reset, err := repo.PasswordResets().GetByIDTx(ctx, tx, session)
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
			return nil, Derive(ErrNotFound, "invalid or expired password reset token")
		}
		return nil, storeError(err, "could not retrieve password reset request")
	}

	if reset.Status != ResetRequestedStatus {
		return nil, Derive(ErrConflict, "password reset token has already been used").
			WithTextCode(TextCodeTokenUsed)
	}

	if reset.Expired(now) {
		return nil, Derive(ErrValidation, "password reset token has expired").
			WithTextCode(TextCodeTokenExpired)
	}

	return reset, nil
}
