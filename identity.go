package auth

import (
	"crypto/subtle"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// UserIdentity is the resolved identity handed to business handlers.
type UserIdentity struct {
	user      *User
	claims    AuthClaims
	synthetic bool
}

var _ Identity = UserIdentity{}

// NewUserIdentity wraps a stored user record
func NewUserIdentity(user *User) UserIdentity {
	return UserIdentity{user: user}
}

func (i UserIdentity) ID() string {
	if i.user == nil {
		return ""
	}
	return i.user.ID.String()
}

func (i UserIdentity) Name() string {
	if i.user == nil {
		return ""
	}
	return i.user.Name
}

func (i UserIdentity) Email() string {
	if i.user == nil {
		return ""
	}
	return i.user.Email
}

func (i UserIdentity) Role() string {
	return string(i.user.GetRole())
}

// User returns the backing record. For the administrator it is a
// synthetic record that does not exist in the store.
func (i UserIdentity) User() *User {
	return i.user
}

// Claims returns the token claims the identity was resolved from, if any.
func (i UserIdentity) Claims() AuthClaims {
	return i.claims
}

// Synthetic reports whether the identity is the configured administrator.
func (i UserIdentity) Synthetic() bool {
	return i.synthetic
}

func (i UserIdentity) withClaims(claims AuthClaims) UserIdentity {
	i.claims = claims
	return i
}

// UserFromIdentity returns the user record behind an identity.
func UserFromIdentity(identity Identity) (*User, bool) {
	ui, ok := identity.(UserIdentity)
	if !ok || ui.user == nil {
		return nil, false
	}
	return ui.user, true
}

// IsSyntheticAdmin reports whether identity is the configured administrator.
func IsSyntheticAdmin(identity Identity) bool {
	ui, ok := identity.(UserIdentity)
	return ok && ui.synthetic
}

// AdminAccount is the fixed administrator identity. It is supplied by
// configuration and never stored in the credential store.
type AdminAccount struct {
	id           uuid.UUID
	name         string
	email        string
	passwordHash string
}

// NewAdminAccount validates the configured credential. When id is empty a
// stable id is derived from the email.
func NewAdminAccount(email, passwordHash, id string) (*AdminAccount, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, goerrors.New("administrator email must be configured", goerrors.CategoryInternal)
	}

	if !IsPasswordHash(passwordHash) {
		return nil, goerrors.New("administrator password hash must be a bcrypt hash", goerrors.CategoryInternal)
	}

	var uid uuid.UUID
	var err error
	if strings.TrimSpace(id) != "" {
		uid, err = uuid.Parse(strings.TrimSpace(id))
	} else {
		uid, err = hashid.NewUUID(email)
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid administrator id")
	}

	return &AdminAccount{
		id:           uid,
		name:         "Administrator",
		email:        email,
		passwordHash: passwordHash,
	}, nil
}

// NewAdminAccountFromConfig reads the administrator credential from Config
func NewAdminAccountFromConfig(cfg Config) (*AdminAccount, error) {
	return NewAdminAccount(cfg.GetAdminEmail(), cfg.GetAdminPasswordHash(), cfg.GetAdminID())
}

func (a *AdminAccount) ID() string {
	if a == nil {
		return ""
	}
	return a.id.String()
}

func (a *AdminAccount) Email() string {
	if a == nil {
		return ""
	}
	return a.email
}

// MatchesEmail compares in constant time after normalization.
func (a *AdminAccount) MatchesEmail(email string) bool {
	if a == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.email), []byte(NormalizeEmail(email))) == 1
}

// MatchesSubject reports whether a token subject is the administrator id.
func (a *AdminAccount) MatchesSubject(subject string) bool {
	return a != nil && subject != "" && subject == a.id.String()
}

// VerifyPassword checks password against the configured hash
func (a *AdminAccount) VerifyPassword(password string) error {
	if a == nil {
		return ErrInvalidCredentials
	}
	if err := ComparePasswordAndHash(password, a.passwordHash); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// User returns the synthetic user record of the administrator
func (a *AdminAccount) User() *User {
	return &User{
		ID:         a.id,
		Name:       a.name,
		Email:      a.email,
		Role:       RoleAdmin,
		IsVerified: true,
	}
}

// Identity returns the synthetic administrator identity
func (a *AdminAccount) Identity() UserIdentity {
	return UserIdentity{user: a.User(), synthetic: true}
}
