package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// UserFinder is the slice of the credential store the resolver needs
type UserFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
}

// IdentityResolver maps verified claims to a live identity.
type IdentityResolver struct {
	users   UserFinder
	admin   *AdminAccount
	revoked RevocationList
	logger  Logger
}

// NewIdentityResolver creates a resolver. admin may be nil when no
// administrator is configured.
func NewIdentityResolver(users UserFinder, admin *AdminAccount) *IdentityResolver {
	return &IdentityResolver{
		users:  users,
		admin:  admin,
		logger: defLogger{},
	}
}

// WithRevocationList enables the token id denylist
func (r *IdentityResolver) WithRevocationList(list RevocationList) *IdentityResolver {
	r.revoked = list
	return r
}

func (r *IdentityResolver) WithLogger(logger Logger) *IdentityResolver {
	r.logger = normalizeLogger(logger)
	return r
}

// Resolve returns the identity behind claims. The administrator resolves
// without a store lookup and keeps the role fixed at issuance; every other
// subject is loaded so the role reflects the live record.
func (r *IdentityResolver) Resolve(ctx context.Context, claims AuthClaims) (UserIdentity, error) {
	if claims == nil || claims.Subject() == "" {
		return UserIdentity{}, ErrInvalidToken
	}

	if err := r.checkRevoked(ctx, claims); err != nil {
		return UserIdentity{}, err
	}

	if r.admin.MatchesSubject(claims.Subject()) {
		return r.admin.Identity().withClaims(claims), nil
	}

	id, err := uuid.Parse(claims.Subject())
	if err != nil {
		r.logger.Debug("token subject is not a user id", "subject", claims.Subject())
		return UserIdentity{}, ErrUserNotFound.Clone().WithMetadata(map[string]any{"subject": claims.Subject()})
	}

	user, err := r.users.FindByID(ctx, id)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return UserIdentity{}, ErrUserNotFound.Clone().WithMetadata(map[string]any{"subject": claims.Subject()})
		}
		return UserIdentity{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve identity")
	}

	if user.TokensValidAfter != nil && claims.IssuedAt().Before(user.TokensValidAfter.Truncate(time.Second)) {
		return UserIdentity{}, ErrTokenRevoked.Clone().WithMetadata(map[string]any{"subject": claims.Subject()})
	}

	return NewUserIdentity(user).withClaims(claims), nil
}

func (r *IdentityResolver) checkRevoked(ctx context.Context, claims AuthClaims) error {
	if r.revoked == nil || claims.TokenID() == "" {
		return nil
	}

	revoked, err := r.revoked.IsRevoked(ctx, claims.TokenID())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token revocation")
	}

	if revoked {
		return ErrTokenRevoked
	}
	return nil
}
