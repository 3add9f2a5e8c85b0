package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-storefront-auth"
	"github.com/goliatone/go-storefront-auth/persistence"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

const (
	testSigningKey    = "0123456789abcdef0123456789abcdef"
	testAdminEmail    = "admin@store.test"
	testAdminPassword = "admin-secret"
	testIssuer        = "storefront-test"
)

var (
	adminHashOnce sync.Once
	adminHash     string
)

func testAdminHash(t *testing.T) string {
	t.Helper()
	adminHashOnce.Do(func() {
		h, err := auth.HashPassword(testAdminPassword)
		if err != nil {
			panic(err)
		}
		adminHash = h
	})
	return adminHash
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	db, err := persistence.OpenAndMigrate(context.Background(), persistence.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type testConfig struct {
	cookieName string
}

func (c testConfig) GetSigningKey() string                     { return testSigningKey }
func (c testConfig) GetSigningKeyID() string                   { return auth.DefaultSigningKeyID }
func (c testConfig) GetPreviousSigningKeys() map[string]string { return nil }
func (c testConfig) GetIssuer() string                         { return testIssuer }
func (c testConfig) GetAudience() []string                     { return nil }
func (c testConfig) GetContextKey() string                     { return auth.DefaultContextKey }
func (c testConfig) GetTokenLookup() string {
	if c.cookieName == "" {
		return "header:Authorization"
	}
	return "header:Authorization,cookie:" + c.cookieName
}
func (c testConfig) GetAuthScheme() string        { return "Bearer" }
func (c testConfig) GetCookieName() string        { return c.cookieName }
func (c testConfig) GetCookieSecure() bool        { return false }
func (c testConfig) GetAdminEmail() string        { return testAdminEmail }
func (c testConfig) GetAdminPasswordHash() string { return adminHash }
func (c testConfig) GetAdminID() string           { return "" }

type testEnv struct {
	db       *bun.DB
	repo     auth.RepositoryManager
	tokens   *auth.TokenServiceImpl
	admin    *auth.AdminAccount
	resolver *auth.IdentityResolver
	gate     *auth.Gate
	auther   *auth.Auther
	mailer   *auth.LogMailer
	sink     *recordingSink
	cfg      testConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testAdminHash(t)
	db := newTestDB(t)
	cfg := testConfig{cookieName: "storefront_session"}

	tokens, err := auth.NewTokenServiceFromConfig(cfg, auth.NopLogger{})
	require.NoError(t, err)

	admin, err := auth.NewAdminAccountFromConfig(cfg)
	require.NoError(t, err)

	repo := auth.NewRepositoryManager(db)
	resolver := auth.NewIdentityResolver(repo.Users(), admin).
		WithRevocationList(repo.RevokedTokens()).
		WithLogger(auth.NopLogger{})
	gate := auth.NewGate(tokens, resolver).WithLogger(auth.NopLogger{})

	mailer := auth.NewLogMailer(auth.NopLogger{})
	sink := &recordingSink{}

	auther := auth.NewAuthenticator(repo.Users(), tokens, admin).
		WithLogger(auth.NopLogger{}).
		WithMailer(mailer).
		WithActivitySink(sink).
		WithRevocationList(repo.RevokedTokens()).
		WithBaseURL("http://store.test")

	return &testEnv{
		db:       db,
		repo:     repo,
		tokens:   tokens,
		admin:    admin,
		resolver: resolver,
		gate:     gate,
		auther:   auther,
		mailer:   mailer,
		sink:     sink,
		cfg:      cfg,
	}
}

func (e *testEnv) register(t *testing.T, name, email, password string) *auth.AuthResult {
	t.Helper()
	res, err := e.auther.Register(context.Background(), auth.RegisterUserMessage{
		Name:     name,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return res
}

// fixedClock returns a clock that can be moved forward by tests
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
