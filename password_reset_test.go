package auth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResetHandlers(env *testEnv) (*auth.InitializePasswordResetHandler, *auth.FinalizePasswordResetHandler) {
	initialize := auth.NewInitializePasswordResetHandler(env.repo, env.mailer).
		WithAdminAccount(env.admin).
		WithActivitySink(env.sink).
		WithLogger(auth.NopLogger{}).
		WithBaseURL("http://store.test/")
	finalize := auth.NewFinalizePasswordResetHandler(env.repo).
		WithActivitySink(env.sink).
		WithLogger(auth.NopLogger{})
	return initialize, finalize
}

func TestPasswordReset_Initialize(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	initialize, _ := newResetHandlers(env)
	env.register(t, "A", "a@x.com", "secret123")

	t.Run("unknown email succeeds silently", func(t *testing.T) {
		before := len(env.mailer.Sent())
		res, err := initialize.Initialize(ctx, auth.InitializePasswordResetMessage{Email: "nobody@x.com"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Nil(t, res.Reset)
		assert.Len(t, env.mailer.Sent(), before)
	})

	t.Run("administrator is ignored", func(t *testing.T) {
		res, err := initialize.Initialize(ctx, auth.InitializePasswordResetMessage{Email: testAdminEmail})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Nil(t, res.Reset)
	})

	t.Run("known email creates a session and mails it", func(t *testing.T) {
		res, err := initialize.Initialize(ctx, auth.InitializePasswordResetMessage{Email: "A@x.com"})
		require.NoError(t, err)
		require.NotNil(t, res.Reset)
		assert.Equal(t, auth.ResetRequestedStatus, res.Reset.Status)
		assert.Equal(t, "a@x.com", res.Reset.Email)

		sent := env.mailer.Sent()
		last := sent[len(sent)-1]
		assert.Equal(t, "password_reset", last.Kind)
		assert.Equal(t, "a@x.com", last.To)
		assert.Equal(t, "http://store.test/api/auth/password-reset/"+res.Reset.ID.String(), last.Link)
		assert.Contains(t, env.sink.Types(), auth.ActivityEventPasswordResetRequest)
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := initialize.Initialize(ctx, auth.InitializePasswordResetMessage{Email: "nope"})
		assert.True(t, goerrors.IsCategory(err, goerrors.CategoryValidation))
	})
}

func TestPasswordReset_Finalize(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	initialize, finalize := newResetHandlers(env)
	registered := env.register(t, "A", "a@x.com", "secret123")

	started, err := initialize.Initialize(ctx, auth.InitializePasswordResetMessage{Email: "a@x.com"})
	require.NoError(t, err)
	session := started.Reset.ID.String()

	status, err := auth.NewPasswordResetLookupHandler(env.repo).Execute(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, auth.ResetRequestedStatus, status.Status)

	err = finalize.Execute(ctx, auth.FinalizePasswordResetMesasge{
		Session:         session,
		Password:        "new-secret",
		ConfirmPassword: "other-secret",
	})
	require.Error(t, err)
	assert.Contains(t, auth.AsError(err).ValidationMap(), "confirm_password")

	time.Sleep(1100 * time.Millisecond)

	require.NoError(t, finalize.Execute(ctx, auth.FinalizePasswordResetMesasge{
		Session:         session,
		Password:        "new-secret",
		ConfirmPassword: "new-secret",
	}))

	_, err = env.auther.Login(ctx, "a@x.com", "secret123")
	assert.True(t, auth.IsError(err, auth.ErrInvalidCredentials))
	_, err = env.auther.Login(ctx, "a@x.com", "new-secret")
	assert.NoError(t, err)

	_, err = env.gate.Authenticate(ctx, registered.Token)
	assert.True(t, auth.IsError(err, auth.ErrTokenRevoked), "a reset signs out existing sessions")

	err = finalize.Execute(ctx, auth.FinalizePasswordResetMesasge{
		Session:         session,
		Password:        "third-secret",
		ConfirmPassword: "third-secret",
	})
	require.Error(t, err)
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryConflict))
	assert.Equal(t, auth.TextCodeTokenUsed, auth.AsError(err).TextCode)

	assert.Contains(t, env.sink.Types(), auth.ActivityEventPasswordResetSuccess)
}

func TestPasswordReset_Expired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	initialize, finalize := newResetHandlers(env)
	env.register(t, "A", "a@x.com", "secret123")

	started, err := initialize.Initialize(ctx, auth.InitializePasswordResetMessage{Email: "a@x.com"})
	require.NoError(t, err)

	clock := newFixedClock(time.Now().Add(auth.PasswordResetTTL + time.Hour))
	finalize.WithClock(clock.Now)

	err = finalize.Execute(ctx, auth.FinalizePasswordResetMesasge{
		Session:         started.Reset.ID.String(),
		Password:        "new-secret",
		ConfirmPassword: "new-secret",
	})
	require.Error(t, err)
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryValidation))
	assert.Equal(t, auth.TextCodeTokenExpired, auth.AsError(err).TextCode)

	_, err = auth.NewPasswordResetLookupHandler(env.repo).WithClock(clock.Now).Execute(ctx, started.Reset.ID.String())
	assert.Equal(t, auth.TextCodeTokenExpired, auth.AsError(err).TextCode)
}

func TestPasswordReset_UnknownSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, finalize := newResetHandlers(env)
	lookup := auth.NewPasswordResetLookupHandler(env.repo)

	_, err := lookup.Execute(ctx, "not-a-uuid")
	assert.True(t, goerrors.IsNotFound(err))

	_, err = lookup.Execute(ctx, uuid.NewString())
	assert.True(t, goerrors.IsNotFound(err))

	err = finalize.Execute(ctx, auth.FinalizePasswordResetMesasge{
		Session:         uuid.NewString(),
		Password:        "new-secret",
		ConfirmPassword: "new-secret",
	})
	assert.True(t, goerrors.IsNotFound(err))
}

func TestPasswordReset_RunsAsCommanders(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	initialize, finalize := newResetHandlers(env)
	env.register(t, "A", "a@x.com", "secret123")

	var start command.Commander[auth.InitializePasswordResetMessage] = initialize
	var finish command.Commander[auth.FinalizePasswordResetMesasge] = finalize

	require.NoError(t, start.Execute(ctx, auth.InitializePasswordResetMessage{Email: "a@x.com"}))

	sent := env.mailer.Sent()
	require.NotEmpty(t, sent)
	link := sent[len(sent)-1].Link
	session := link[strings.LastIndex(link, "/")+1:]

	stored, err := env.repo.PasswordResets().GetByID(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, auth.ResetRequestedStatus, stored.Status)
	assert.False(t, stored.CreatedAt.IsZero())

	require.NoError(t, finish.Execute(ctx, auth.FinalizePasswordResetMesasge{
		Session:         session,
		Password:        "new-secret",
		ConfirmPassword: "new-secret",
	}))

	stored, err = env.repo.PasswordResets().GetByID(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, auth.ResetChangedStatus, stored.Status)
	require.NotNil(t, stored.ResetAt)

	_, err = env.repo.PasswordResets().GetByID(ctx, uuid.NewString())
	assert.Error(t, err)
}
