// Package orders records customer orders. It owns user data, so it
// registers as an account deletion hook.
package orders

import (
	"time"

	auth "github.com/goliatone/go-storefront-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Status is the lifecycle state of an order
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// Item is a priced line captured when the order is placed
type Item struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (i Item) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

type Order struct {
	bun.BaseModel   `bun:"table:orders,alias:ord"`
	ID              uuid.UUID             `bun:"id,pk,type:uuid" json:"id"`
	UserID          uuid.UUID             `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Items           []Item                `bun:"items,notnull" json:"items"`
	SubtotalCents   int64                 `bun:"subtotal_cents,notnull" json:"subtotal_cents"`
	DiscountCents   int64                 `bun:"discount_cents,notnull" json:"discount_cents"`
	TotalCents      int64                 `bun:"total_cents,notnull" json:"total_cents"`
	PromoCode       *string               `bun:"promo_code" json:"promo_code,omitempty"`
	Status          Status                `bun:"status,notnull" json:"status"`
	ShippingAddress *auth.ShippingAddress `bun:"shipping_address" json:"shipping_address,omitempty"`
	CreatedAt       time.Time             `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time             `bun:"updated_at,notnull" json:"updated_at"`
}

// Subtotal sums the line totals of items
func Subtotal(items []Item) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotal()
	}
	return total
}
