package orders_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/goliatone/go-storefront-auth/orders"
	"github.com/goliatone/go-storefront-auth/persistence"
	"github.com/goliatone/go-storefront-auth/promo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type fixture struct {
	db      *bun.DB
	users   auth.CredentialStore
	promos  *promo.Service
	service *orders.Service
	events  []auth.ActivityEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := persistence.OpenAndMigrate(context.Background(), persistence.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users := auth.NewUsersRepository(db)

	f := &fixture{db: db, users: users}
	f.promos = promo.NewService(promo.NewRepository(db))
	f.service = orders.NewService(db, orders.NewRepository(db), f.promos, users).
		WithActivitySink(auth.ActivitySinkFunc(func(_ context.Context, e auth.ActivityEvent) error {
			f.events = append(f.events, e)
			return nil
		}))
	users.AddDeletionHook(f.service)
	return f
}

func (f *fixture) customer(t *testing.T, email string) auth.UserIdentity {
	t.Helper()
	user, err := f.users.Create(context.Background(), &auth.User{
		Name:         "Customer",
		Email:        email,
		PasswordHash: "$2a$10$placeholder",
	})
	require.NoError(t, err)
	return auth.NewUserIdentity(user)
}

var address = &auth.ShippingAddress{
	FullName:   "Ada Lovelace",
	Line1:      "1 Main St",
	City:       "Springfield",
	PostalCode: "12345",
	Country:    "US",
}

var inline = &auth.ShippingAddressPayload{
	FullName:   "Ada Lovelace",
	Line1:      "1 Main St",
	City:       "Springfield",
	PostalCode: "12345",
	Country:    "US",
}

func cart() []orders.Item {
	return []orders.Item{
		{ProductID: "sku-1", Name: "Mug", Quantity: 2, UnitPriceCents: 1250},
		{ProductID: "sku-2", Name: "Poster", Quantity: 1, UnitPriceCents: 2500},
	}
}

func TestSubtotal(t *testing.T) {
	assert.EqualValues(t, 5000, orders.Subtotal(cart()))
	assert.EqualValues(t, 0, orders.Subtotal(nil))
}

func TestStateMachine_CanTransition(t *testing.T) {
	sm := orders.NewStateMachine(nil)

	allowed := [][2]orders.Status{
		{orders.StatusPending, orders.StatusPaid},
		{orders.StatusPending, orders.StatusCancelled},
		{orders.StatusPaid, orders.StatusShipped},
		{orders.StatusPaid, orders.StatusRefunded},
		{orders.StatusShipped, orders.StatusDelivered},
	}
	for _, pair := range allowed {
		assert.True(t, sm.CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]orders.Status{
		{orders.StatusPending, orders.StatusShipped},
		{orders.StatusShipped, orders.StatusCancelled},
		{orders.StatusDelivered, orders.StatusRefunded},
		{orders.StatusCancelled, orders.StatusPaid},
	}
	for _, pair := range denied {
		assert.False(t, sm.CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestService_Place(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customer := f.customer(t, "c@x.com")

	order, err := f.service.Place(ctx, customer, orders.PlaceOrderInput{
		Items:           cart(),
		ShippingAddress: inline,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, order.Status)
	assert.EqualValues(t, 5000, order.SubtotalCents)
	assert.EqualValues(t, 5000, order.TotalCents)
	assert.Nil(t, order.PromoCode)

	found, err := f.service.Get(ctx, customer, order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, cart(), found.Items)
	assert.Equal(t, *address, *found.ShippingAddress)
}

func TestService_PlaceUsesStoredAddress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customer := f.customer(t, "c@x.com")

	_, err := f.service.Place(ctx, customer, orders.PlaceOrderInput{Items: cart()})
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryValidation), "no address anywhere")

	uid := uuid.MustParse(customer.ID())
	_, err = f.users.UpdateShippingAddress(ctx, uid, address)
	require.NoError(t, err)

	order, err := f.service.Place(ctx, customer, orders.PlaceOrderInput{Items: cart()})
	require.NoError(t, err)
	assert.Equal(t, address.Line1, order.ShippingAddress.Line1)
}

func TestService_PlaceNormalizesInlineAddress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customer := f.customer(t, "c@x.com")

	order, err := f.service.Place(ctx, customer, orders.PlaceOrderInput{
		Items:           cart(),
		ShippingAddress: &auth.ShippingAddressPayload{
			FullName:   " Ada Lovelace ",
			Line1:      "1600 Amphitheatre Pkwy",
			City:       "Mountain View",
			PostalCode: "94043",
			Country:    " us",
			Phone:      "(650) 253-0000",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, order.ShippingAddress)
	assert.Equal(t, "US", order.ShippingAddress.Country)
	assert.Equal(t, "+16502530000", order.ShippingAddress.Phone)
	assert.Equal(t, "Ada Lovelace", order.ShippingAddress.FullName)

	found, err := f.service.Get(ctx, customer, order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", found.ShippingAddress.Phone)
}

func TestService_PlaceRejectsInvalidInlineAddress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customer := f.customer(t, "c@x.com")

	cases := map[string]struct {
		mutate func(p *auth.ShippingAddressPayload)
		field  string
	}{
		"bad phone":       {func(p *auth.ShippingAddressPayload) { p.Phone = "12" }, "shipping_address.phone"},
		"unknown country": {func(p *auth.ShippingAddressPayload) { p.Country = "zz" }, "shipping_address.country"},
		"missing city":    {func(p *auth.ShippingAddressPayload) { p.City = "  " }, "shipping_address.city"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			payload := *inline
			tc.mutate(&payload)

			_, err := f.service.Place(ctx, customer, orders.PlaceOrderInput{Items: cart(), ShippingAddress: &payload})
			require.Error(t, err)
			assert.True(t, goerrors.IsCategory(err, goerrors.CategoryValidation))
			assert.Contains(t, auth.AsError(err).ValidationMap(), tc.field)
		})
	}

	list, total, err := f.service.ListForUser(ctx, customer, auth.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

func TestService_PlaceValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customer := f.customer(t, "c@x.com")

	cases := map[string][]orders.Item{
		"empty":         {},
		"zero quantity": {{ProductID: "a", Name: "A", Quantity: 0, UnitPriceCents: 100}},
		"negative":      {{ProductID: "a", Name: "A", Quantity: 1, UnitPriceCents: -1}},
		"no product":    {{Name: "A", Quantity: 1, UnitPriceCents: 100}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.Place(ctx, customer, orders.PlaceOrderInput{Items: items, ShippingAddress: inline})
			assert.True(t, goerrors.IsCategory(err, goerrors.CategoryValidation))
		})
	}
}

func TestService_PlaceWithPromo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customer := f.customer(t, "c@x.com")

	_, err := f.promos.Create(ctx, promo.PromoCodeInput{
		Code:           "TENOFF",
		DiscountType:   promo.DiscountPercentage,
		Value:          10,
		MaxRedemptions: 1,
	})
	require.NoError(t, err)

	order, err := f.service.Place(ctx, customer, orders.PlaceOrderInput{
		Items:           cart(),
		PromoCode:       "tenoff",
		ShippingAddress: inline,
	})
	require.NoError(t, err)
	require.NotNil(t, order.PromoCode)
	assert.Equal(t, "TENOFF", *order.PromoCode)
	assert.EqualValues(t, 500, order.DiscountCents)
	assert.EqualValues(t, 4500, order.TotalCents)

	_, err = f.service.Place(ctx, customer, orders.PlaceOrderInput{
		Items:           cart(),
		PromoCode:       "TENOFF",
		ShippingAddress: inline,
	})
	require.Error(t, err, "the code allowed a single redemption")

	list, total, err := f.service.ListForUser(ctx, customer, auth.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "the failed checkout did not record an order")
	assert.Len(t, list, 1)

	_, err = f.service.Place(ctx, customer, orders.PlaceOrderInput{
		Items:           cart(),
		PromoCode:       "UNKNOWN",
		ShippingAddress: inline,
	})
	assert.True(t, auth.IsError(err, promo.ErrPromoCodeNotFound))
}

func TestService_AdministratorCannotPlaceOrders(t *testing.T) {
	f := newFixture(t)
	hash, err := auth.HashPassword("admin-secret")
	require.NoError(t, err)
	admin, err := auth.NewAdminAccount("admin@store.test", hash, "")
	require.NoError(t, err)

	_, err = f.service.Place(context.Background(), admin.Identity(), orders.PlaceOrderInput{Items: cart(), ShippingAddress: inline})
	assert.True(t, auth.IsError(err, auth.ErrAdminAccountImmutable))
}

func TestService_Visibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.customer(t, "owner@x.com")
	other := f.customer(t, "other@x.com")

	order, err := f.service.Place(ctx, owner, orders.PlaceOrderInput{Items: cart(), ShippingAddress: inline})
	require.NoError(t, err)

	_, err = f.service.Get(ctx, other, order.ID.String())
	assert.True(t, auth.IsError(err, orders.ErrOrderNotFound), "other customers cannot see the order")

	staff := other.User()
	staff.Role = auth.RoleAdmin
	_, err = f.service.Get(ctx, auth.NewUserIdentity(staff), order.ID.String())
	assert.NoError(t, err)

	_, err = f.service.Get(ctx, owner, "not-a-uuid")
	assert.True(t, auth.IsError(err, orders.ErrOrderNotFound))

	list, _, err := f.service.ListForUser(ctx, other, auth.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)

	all, total, err := f.service.ListAll(ctx, auth.ListOptions{}, orders.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, all, 1)

	_, _, err = f.service.ListAll(ctx, auth.ListOptions{}, "lost")
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryValidation))
}

func TestService_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customer := f.customer(t, "c@x.com")
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.service.WithClock(func() time.Time { return clock })

	order, err := f.service.Place(ctx, customer, orders.PlaceOrderInput{Items: cart(), ShippingAddress: inline})
	require.NoError(t, err)
	id := order.ID.String()

	_, err = f.service.UpdateStatus(ctx, customer, id, orders.StatusShipped, "")
	assert.True(t, auth.IsError(err, orders.ErrInvalidTransition))

	for _, next := range []orders.Status{orders.StatusPaid, orders.StatusShipped, orders.StatusDelivered} {
		updated, err := f.service.UpdateStatus(ctx, customer, id, next, "progress")
		require.NoError(t, err)
		assert.Equal(t, next, updated.Status)
	}

	_, err = f.service.UpdateStatus(ctx, customer, id, orders.StatusRefunded, "")
	assert.True(t, auth.IsError(err, orders.ErrTerminalState))
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryConflict))

	_, err = f.service.UpdateStatus(ctx, customer, id, "lost", "")
	assert.True(t, auth.IsError(err, orders.ErrInvalidTransition))

	stored, err := f.service.Get(ctx, customer, id)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, stored.Status)

	require.Len(t, f.events, 3)
	assert.Equal(t, auth.ActivityEventOrderStatusChanged, f.events[0].EventType)
	assert.Equal(t, "pending", f.events[0].FromStatus)
	assert.Equal(t, "paid", f.events[0].ToStatus)
	assert.Equal(t, "progress", f.events[0].Metadata["reason"])
	assert.Equal(t, id, f.events[0].Metadata["order_id"])
}

func TestStateMachine_Hooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customer := f.customer(t, "c@x.com")

	order, err := f.service.Place(ctx, customer, orders.PlaceOrderInput{Items: cart(), ShippingAddress: inline})
	require.NoError(t, err)

	sm := orders.NewStateMachine(orders.NewRepository(f.db))

	_, err = sm.Transition(ctx, auth.ActorRef{Type: "system"}, order, orders.StatusPaid,
		orders.WithBeforeTransitionHook(func(context.Context, orders.TransitionContext) error {
			return auth.Derive(auth.ErrConflict, "payment not captured")
		}),
	)
	require.Error(t, err)
	assert.Equal(t, orders.StatusPending, order.Status, "a failing before hook stops the transition")

	var seen orders.TransitionContext
	_, err = sm.Transition(ctx, auth.ActorRef{Type: "system"}, order, orders.StatusPaid,
		orders.WithTransitionMetadata(map[string]any{"payment_id": "pay_1"}),
		orders.WithAfterTransitionHook(func(_ context.Context, tc orders.TransitionContext) error {
			seen = tc
			return nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, seen.From)
	assert.Equal(t, orders.StatusPaid, seen.To)
	assert.Equal(t, "pay_1", seen.Meta.Metadata["payment_id"])
}

func TestService_DeletingAccountRemovesOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customer := f.customer(t, "c@x.com")

	order, err := f.service.Place(ctx, customer, orders.PlaceOrderInput{Items: cart(), ShippingAddress: inline})
	require.NoError(t, err)

	require.NoError(t, f.users.Delete(ctx, uuid.MustParse(customer.ID())))

	count, err := f.db.NewSelect().Model((*orders.Order)(nil)).Where("id = ?", order.ID).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
