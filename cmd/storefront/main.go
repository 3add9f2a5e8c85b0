package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	auth "github.com/goliatone/go-storefront-auth"
	"github.com/goliatone/go-storefront-auth/activitymap"
	"github.com/goliatone/go-storefront-auth/config"
	"github.com/goliatone/go-storefront-auth/persistence"
	"github.com/goliatone/go-storefront-auth/server"
	"github.com/uptrace/bun"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		auth.NewSlogLogger(os.Stderr, "error", "text").Fatal("failed to load config", "error", err)
	}

	logger := auth.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open database", "driver", cfg.Database.Driver, "error", err)
	}

	srv, err := server.New(cfg, db,
		server.WithLogger(logger.Named("http")),
		server.WithMailer(auth.NewLogMailer(logger.Named("mailer"))),
		server.WithActivitySink(activitymap.NewLogSink(logger.Named("activity"))),
	)
	if err != nil {
		_ = db.Close()
		logger.Fatal("failed to build server", "error", err)
	}

	go srv.PurgeRevokedTokens(ctx, server.DefaultPurgeInterval)

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.App.Addr, "env", cfg.App.Env)
		errc <- srv.App.Listen(cfg.App.Addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		if err != nil {
			logger.Error("server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	if cfg.Database.AutoMigrate {
		return persistence.OpenAndMigrate(ctx, cfg.Database.Driver, cfg.Database.DSN)
	}
	return persistence.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
}
