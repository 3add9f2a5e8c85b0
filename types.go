package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Logger takes a message followed by key value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Identity holds the attributes of an authenticated principal
type Identity interface {
	ID() string
	Name() string
	Email() string
	Role() string
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningKeyID() string
	GetPreviousSigningKeys() map[string]string
	GetIssuer() string
	GetAudience() []string
	GetContextKey() string
	GetTokenLookup() string
	GetAuthScheme() string
	GetCookieName() string
	GetCookieSecure() bool
	GetAdminEmail() string
	GetAdminPasswordHash() string
	GetAdminID() string
}

// CredentialStore persists user records.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role UserRole) (*User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	MarkVerified(ctx context.Context, id uuid.UUID, token string) (*User, error)
	SetVerificationToken(ctx context.Context, id uuid.UUID, token string) error
	FindByVerificationToken(ctx context.Context, token string) (*User, error)
	List(ctx context.Context, opts ListOptions) ([]*User, int, error)
	UpdateShippingAddress(ctx context.Context, id uuid.UUID, address *ShippingAddress) (*User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

// RevocationList is the token id denylist.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, subject string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// AccountDeletionHook removes data owned by a user inside the
// transaction that deletes the user row.
type AccountDeletionHook interface {
	DeleteAccountData(ctx context.Context, tx bun.IDB, userID uuid.UUID) error
}

// AccountDeletionHookFunc adapts a function to AccountDeletionHook.
type AccountDeletionHookFunc func(ctx context.Context, tx bun.IDB, userID uuid.UUID) error

func (f AccountDeletionHookFunc) DeleteAccountData(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	return f(ctx, tx, userID)
}

// Mailer delivers transactional messages.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, name, link string) error
	SendPasswordResetEmail(ctx context.Context, to, link string) error
}

// ListOptions paginates list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// Normalize clamps the limit to 1..100, defaulting to 50.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 || o.Limit > 100 {
		o.Limit = 50
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
