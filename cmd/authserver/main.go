package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/XL4Y3R/XL4Net-sub000/internal/auth"
	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/db"
	"github.com/XL4Y3R/XL4Net-sub000/internal/metrics"
)

const ConfigPath = "config/authserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Configure slog
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	slog.Info("xl4net auth server starting")

	// Load config
	cfgPath := ConfigPath
	if p := os.Getenv("XL4NET_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadAuthServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded", "bind", cfg.BindAddress, "port", cfg.Port)

	// Connect to database
	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	// Run migrations
	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	accounts := db.NewPostgresAccountRepository(database.Pool())
	attempts := db.NewPostgresAttemptRepository(database.Pool())

	tokens, err := auth.NewTokenManager(cfg.TokenSecret, cfg.TokenLifetime)
	if err != nil {
		return fmt.Errorf("creating token manager: %w", err)
	}
	limiter := auth.NewRateLimiter(attempts, cfg.RateLimitWindow, cfg.RateLimitThreshold)
	service := auth.NewService(accounts, attempts, tokens, limiter, cfg.BcryptCost)

	reg := metrics.NewAuthRegistry()
	server := auth.NewServer(cfg, service, auth.WithMetrics(reg))

	// Old login attempts age out on a cron schedule.
	purger, err := auth.NewPurger(attempts, cfg.PurgeSchedule, cfg.AttemptRetention, auth.WithPurgeMetrics(reg))
	if err != nil {
		return fmt.Errorf("creating attempt purger: %w", err)
	}
	purger.Start()
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		purger.Stop(stopCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting auth gateway")
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("auth gateway: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := metrics.Serve(gctx, cfg.MetricsAddr, reg.Handler()); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
