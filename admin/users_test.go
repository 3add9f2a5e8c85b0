package admin_test

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/goliatone/go-storefront-auth/admin"
	"github.com/goliatone/go-storefront-auth/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	users   auth.CredentialStore
	admin   *auth.AdminAccount
	service *admin.UserService
	events  []auth.ActivityEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := persistence.OpenAndMigrate(context.Background(), persistence.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hash, err := auth.HashPassword("admin-secret")
	require.NoError(t, err)
	account, err := auth.NewAdminAccount("admin@store.test", hash, "")
	require.NoError(t, err)

	f := &fixture{users: auth.NewUsersRepository(db), admin: account}
	f.service = admin.NewUserService(f.users, account).
		WithActivitySink(auth.ActivitySinkFunc(func(_ context.Context, e auth.ActivityEvent) error {
			f.events = append(f.events, e)
			return nil
		}))
	return f
}

func (f *fixture) create(t *testing.T, email string) *auth.User {
	t.Helper()
	user, err := f.users.Create(context.Background(), &auth.User{
		Name:         "Customer",
		Email:        email,
		PasswordHash: "$2a$10$placeholder",
	})
	require.NoError(t, err)
	return user
}

func TestUserService_SetRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.create(t, "a@x.com")

	updated, err := f.service.SetRole(ctx, f.admin.Identity(), user.ID.String(), auth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, updated.Role)

	require.Len(t, f.events, 1)
	assert.Equal(t, auth.ActivityEventRoleChanged, f.events[0].EventType)
	assert.Equal(t, "user", f.events[0].FromStatus)
	assert.Equal(t, "admin", f.events[0].ToStatus)
	assert.Equal(t, f.admin.ID(), f.events[0].Actor.ID)

	_, err = f.service.SetRole(ctx, f.admin.Identity(), user.ID.String(), "owner")
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryValidation))

	_, err = f.service.SetRole(ctx, f.admin.Identity(), uuid.NewString(), auth.RoleUser)
	assert.True(t, auth.IsError(err, auth.ErrUserNotFound))
}

func TestUserService_AdministratorIsImmutable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.Get(ctx, f.admin.ID())
	assert.True(t, auth.IsError(err, auth.ErrAdminAccountImmutable))

	_, err = f.service.SetRole(ctx, f.admin.Identity(), f.admin.ID(), auth.RoleUser)
	assert.True(t, auth.IsError(err, auth.ErrAdminAccountImmutable))
	assert.Equal(t, 403, auth.HTTPStatus(err))

	err = f.service.Delete(ctx, f.admin.Identity(), f.admin.ID())
	assert.True(t, auth.IsError(err, auth.ErrAdminAccountImmutable))
}

func TestUserService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.create(t, "a@x.com")

	require.NoError(t, f.service.Delete(ctx, f.admin.Identity(), user.ID.String()))

	_, err := f.service.Get(ctx, user.ID.String())
	assert.True(t, auth.IsError(err, auth.ErrUserNotFound))

	err = f.service.Delete(ctx, f.admin.Identity(), user.ID.String())
	assert.True(t, auth.IsError(err, auth.ErrUserNotFound))

	err = f.service.Delete(ctx, f.admin.Identity(), "garbage")
	assert.True(t, auth.IsError(err, auth.ErrUserNotFound))

	require.Len(t, f.events, 1)
	assert.Equal(t, auth.ActivityEventAccountDeleted, f.events[0].EventType)
}

func TestUserService_List(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "a@x.com")
	f.create(t, "b@x.com")

	users, total, err := f.service.List(ctx, auth.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, users, 2)
}

func TestRoleRequest_Validate(t *testing.T) {
	assert.NoError(t, admin.RoleRequest{Role: "admin"}.Validate())
	assert.NoError(t, admin.RoleRequest{Role: "user"}.Validate())
	assert.Error(t, admin.RoleRequest{Role: "root"}.Validate())
	assert.Error(t, admin.RoleRequest{}.Validate())
}
