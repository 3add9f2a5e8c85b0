package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel      `bun:"table:users,alias:usr"`
	ID                 uuid.UUID        `bun:"id,pk,type:uuid" json:"id"`
	Name               string           `bun:"name,notnull" json:"name"`
	Email              string           `bun:"email,notnull,unique" json:"email"`
	PasswordHash       string           `bun:"password_hash,notnull" json:"-"`
	Role               UserRole         `bun:"role,notnull" json:"role"`
	IsVerified         bool             `bun:"is_verified,notnull" json:"is_verified"`
	VerificationToken  *string          `bun:"verification_token" json:"-"`
	VerificationSentAt *time.Time       `bun:"verification_sent_at" json:"-"`
	ShippingAddress    *ShippingAddress `bun:"shipping_address,nullzero" json:"shipping_address,omitempty"`
	LoginAttempts      int              `bun:"login_attempts,notnull" json:"-"`
	LoginAttemptAt     *time.Time       `bun:"login_attempt_at" json:"-"`
	LoggedInAt         *time.Time       `bun:"loggedin_at" json:"-"`
	TokensValidAfter   *time.Time       `bun:"tokens_valid_after" json:"-"`
	CreatedAt          time.Time        `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt          time.Time        `bun:"updated_at,notnull" json:"updated_at"`
}

// ShippingAddress is the optional delivery address stored with a user
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// NormalizeEmail trims and lower cases an email so uniqueness is case insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetRole returns the role, defaulting to RoleUser
func (u *User) GetRole() UserRole {
	if u == nil || u.Role == "" {
		return RoleUser
	}
	return u.Role
}

func (u *User) prepare(now time.Time) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	u.Email = NormalizeEmail(u.Email)
	u.Name = strings.TrimSpace(u.Name)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}

const (
	// ResetRequestedStatus is the requested status
	ResetRequestedStatus = "requested"
	// ResetChangedStatus is the changed status
	ResetChangedStatus = "changed"
)

// PasswordResetTTL is how long a reset session stays usable
const PasswordResetTTL = 24 * time.Hour

// PasswordReset tracks a password reset session
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_resets,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Email         string     `bun:"email,notnull" json:"email"`
	Status        string     `bun:"status,notnull" json:"status"`
	ResetAt       *time.Time `bun:"reset_at" json:"reset_at,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// Expired reports whether the reset session is older than PasswordResetTTL
func (p *PasswordReset) Expired(now time.Time) bool {
	return !isWithin(p.CreatedAt, now, PasswordResetTTL)
}

// RevokedToken is a denylisted token id kept until the token would expire
type RevokedToken struct {
	bun.BaseModel `bun:"table:revoked_tokens,alias:rvk"`
	TokenID       string    `bun:"token_id,pk" json:"token_id"`
	Subject       string    `bun:"subject,notnull" json:"subject"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
	RevokedAt     time.Time `bun:"revoked_at,notnull" json:"revoked_at"`
}
