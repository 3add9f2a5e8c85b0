// Package server assembles the storefront HTTP application.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/goliatone/go-storefront-auth/activitymap"
	"github.com/goliatone/go-storefront-auth/admin"
	"github.com/goliatone/go-storefront-auth/config"
	"github.com/goliatone/go-storefront-auth/maintenance"
	"github.com/goliatone/go-storefront-auth/orders"
	"github.com/goliatone/go-storefront-auth/promo"
	"github.com/uptrace/bun"
)

// DefaultPurgeInterval is how often expired revocations are removed
const DefaultPurgeInterval = time.Hour

// Server holds the fiber app and the services behind it
type Server struct {
	App          *fiber.App
	DB           *bun.DB
	Repo         auth.RepositoryManager
	Tokens       auth.TokenService
	Admin        *auth.AdminAccount
	Gate         *auth.Gate
	Auther       *auth.Auther
	Orders       *orders.Service
	Promos       *promo.Service
	Maintenance  *maintenance.Store
	Mailer       auth.Mailer
	ActivitySink auth.ActivitySink

	cfg    *config.Config
	logger auth.Logger
}

// Option customizes the collaborators New builds
type Option func(*options)

type options struct {
	logger       auth.Logger
	mailer       auth.Mailer
	activitySink auth.ActivitySink
}

func WithLogger(logger auth.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMailer replaces the default mailer, which only logs
func WithMailer(mailer auth.Mailer) Option {
	return func(o *options) {
		o.mailer = mailer
	}
}

func WithActivitySink(sink auth.ActivitySink) Option {
	return func(o *options) {
		o.activitySink = sink
	}
}

// New wires every component against an already migrated database.
func New(cfg *config.Config, db *bun.DB, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	if db == nil {
		return nil, errors.New("server: database is required")
	}

	o := &options{logger: auth.NopLogger{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.mailer == nil {
		o.mailer = auth.NewLogMailer(o.logger)
	}
	if o.activitySink == nil {
		o.activitySink = activitymap.NewLogSink(o.logger)
	}

	tokens, err := auth.NewTokenServiceFromConfig(cfg, o.logger)
	if err != nil {
		return nil, err
	}

	adminAccount, err := auth.NewAdminAccountFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	repo := auth.NewRepositoryManager(db)
	repo.MustValidate()

	resolver := auth.NewIdentityResolver(repo.Users(), adminAccount).
		WithRevocationList(repo.RevokedTokens()).
		WithLogger(o.logger)

	gate := auth.NewGate(tokens, resolver).WithLogger(o.logger)

	routeAuth := auth.NewRouteAuthenticator(gate, cfg).WithLogger(o.logger)

	auther := auth.NewAuthenticator(repo.Users(), tokens, adminAccount).
		WithLogger(o.logger).
		WithMailer(o.mailer).
		WithActivitySink(o.activitySink).
		WithRevocationList(repo.RevokedTokens()).
		WithBaseURL(cfg.App.BaseURL)

	promoService := promo.NewService(promo.NewRepository(db)).WithLogger(o.logger)

	orderService := orders.NewService(db, orders.NewRepository(db), promoService, repo.Users()).
		WithLogger(o.logger).
		WithActivitySink(o.activitySink)

	repo.Users().AddDeletionHook(orderService)

	maintenanceStore := maintenance.NewStore(db, cfg.App.MaintenanceFile).WithLogger(o.logger)

	s := &Server{
		DB:           db,
		Repo:         repo,
		Tokens:       tokens,
		Admin:        adminAccount,
		Gate:         gate,
		Auther:       auther,
		Orders:       orderService,
		Promos:       promoService,
		Maintenance:  maintenanceStore,
		Mailer:       o.mailer,
		ActivitySink: o.activitySink,
		cfg:          cfg,
		logger:       o.logger,
	}

	s.App = s.routes(routeAuth)
	return s, nil
}

func (s *Server) routes(routeAuth *auth.RouteAuthenticator) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "storefront",
		ErrorHandler:          auth.ErrorHandler(s.logger),
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
	})

	contextKey := s.cfg.GetContextKey()

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(requestLogger(s.logger))
	app.Use(routeAuth.OptionalRoute())
	app.Use(maintenance.New(maintenance.MiddlewareConfig{
		Store:      s.Maintenance,
		ContextKey: contextKey,
	}))

	app.Get("/healthz", s.health).Name("healthz")

	auth.RegisterAuthRoutes(app.Group("/api/auth"),
		auth.WithRepositoryManager(s.Repo),
		auth.WithAuther(s.Auther),
		auth.WithRouteAuthenticator(routeAuth),
		auth.WithControllerLogger(s.logger),
		auth.WithControllerMailer(s.Mailer),
		auth.WithControllerAdmin(s.Admin),
		auth.WithControllerActivitySink(s.ActivitySink),
		auth.WithControllerBaseURL(s.cfg.App.BaseURL),
	)

	auth.RegisterAccountRoutes(app.Group("/api/account"),
		auth.NewAccountController(s.Repo.Users(), s.Auther, routeAuth).WithLogger(s.logger),
	)

	orderController := orders.NewController(s.Orders).WithContextKey(contextKey)
	promoController := promo.NewController(s.Promos)
	maintenanceController := maintenance.NewController(s.Maintenance).WithContextKey(contextKey)

	api := app.Group("/api")
	protected := routeAuth.ProtectedRoute(auth.RoleUser)
	orders.RegisterRoutes(api, orderController, protected)
	promo.RegisterRoutes(api, promoController, protected)
	maintenance.RegisterRoutes(api, maintenanceController)

	users := admin.NewUserService(s.Repo.Users(), s.Admin).
		WithActivitySink(s.ActivitySink).
		WithLogger(s.logger)

	admin.Mount(app.Group("/api/admin"), routeAuth, admin.Controllers{
		Users:       admin.NewUsersController(users).WithContextKey(contextKey),
		PromoCodes:  promoController,
		Maintenance: maintenanceController,
		Orders:      orderController,
	})

	return app
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.DB.PingContext(c.UserContext()); err != nil {
		return goerrors.Wrap(err, auth.CategoryUnavailable, "database unavailable").
			WithTextCode("SERVICE_UNAVAILABLE")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// PurgeRevokedTokens removes expired revocations every interval until ctx
// is done.
func (s *Server) PurgeRevokedTokens(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.Repo.RevokedTokens().PurgeExpired(ctx, now)
			if err != nil {
				s.logger.Warn("revoked token purge failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("purged revoked tokens", "count", n)
			}
		}
	}
}

// Shutdown stops accepting requests and closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.App.ShutdownWithContext(ctx)
	if cerr := s.DB.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
