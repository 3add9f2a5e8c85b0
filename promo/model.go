// Package promo stores promotional codes and prices discounts against them.
package promo

import (
	"strings"
	"time"

	auth "github.com/goliatone/go-storefront-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DiscountType selects how Value is interpreted
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

func (d DiscountType) IsValid() bool {
	return d == DiscountPercentage || d == DiscountFixed
}

// PromoCode is a durable discount code. Amounts are integer cents; a
// percentage Value is whole percent.
type PromoCode struct {
	bun.BaseModel    `bun:"table:promo_codes,alias:prm"`
	ID               uuid.UUID    `bun:"id,pk,type:uuid" json:"id"`
	Code             string       `bun:"code,notnull" json:"code"`
	Description      string       `bun:"description,notnull" json:"description"`
	DiscountType     DiscountType `bun:"discount_type,notnull" json:"discount_type"`
	Value            int64        `bun:"value,notnull" json:"value"`
	MinSubtotalCents int64        `bun:"min_subtotal_cents,notnull" json:"min_subtotal_cents"`
	MaxRedemptions   int          `bun:"max_redemptions,notnull" json:"max_redemptions"`
	Redemptions      int          `bun:"redemptions,notnull" json:"redemptions"`
	Active           bool         `bun:"active,notnull" json:"active"`
	StartsAt         *time.Time   `bun:"starts_at" json:"starts_at,omitempty"`
	ExpiresAt        *time.Time   `bun:"expires_at" json:"expires_at,omitempty"`
	CreatedAt        time.Time    `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time    `bun:"updated_at,notnull" json:"updated_at"`
}

// NormalizeCode upper cases and trims a code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Exhausted reports whether every allowed redemption has been used
func (p *PromoCode) Exhausted() bool {
	return p.MaxRedemptions > 0 && p.Redemptions >= p.MaxRedemptions
}

// CheckApplicable returns a validation error explaining why the code
// cannot be applied to subtotal at now.
func (p *PromoCode) CheckApplicable(subtotal int64, now time.Time) error {
	reason := ""
	switch {
	case !p.Active:
		reason = "promo code is not active"
	case p.StartsAt != nil && now.Before(*p.StartsAt):
		reason = "promo code is not active yet"
	case p.ExpiresAt != nil && !now.Before(*p.ExpiresAt):
		reason = "promo code has expired"
	case subtotal < p.MinSubtotalCents:
		reason = "order subtotal is below the promo code minimum"
	case p.Exhausted():
		reason = "promo code has been fully redeemed"
	}

	if reason == "" {
		return nil
	}

	return auth.NewFieldsError(reason, map[string]string{"code": reason}).
		WithMetadata(map[string]any{"code": p.Code})
}

// Discount is the amount taken off subtotal. It never exceeds subtotal.
func (p *PromoCode) Discount(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}

	var discount int64
	switch p.DiscountType {
	case DiscountPercentage:
		discount = subtotal * p.Value / 100
	case DiscountFixed:
		discount = p.Value
	}

	if discount > subtotal {
		return subtotal
	}
	if discount < 0 {
		return 0
	}
	return discount
}

// Quote is the result of pricing a subtotal against a code
type Quote struct {
	Code          string `json:"code"`
	SubtotalCents int64  `json:"subtotal_cents"`
	DiscountCents int64  `json:"discount_cents"`
	TotalCents    int64  `json:"total_cents"`
}

func newQuote(p *PromoCode, subtotal int64) *Quote {
	discount := p.Discount(subtotal)
	return &Quote{
		Code:          p.Code,
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TotalCents:    subtotal - discount,
	}
}
