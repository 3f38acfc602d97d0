/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Read config from environment, then flags
  2. Build the zap logger
  3. Open the SQLite store (runs goose migrations)
  4. Wire ledger, services, token service and handlers
  5. Optionally seed the demo scenario
  6. Serve until SIGINT/SIGTERM

CONFIGURATION:
  RUN_ADDRESS (-a)      listen address (default :8080)
  DATABASE_PATH (-d)    SQLite path, ":memory:" for an in-memory database
  LOG_LVL (-l)          debug|info|warn|error
  JWT_SECRET (-s)       token signing secret (required)
  TOKEN_TTL             token lifetime (default 24h)
  REFUND_POLICY         strict|clamp
  DEFAULT_ENTITLEMENT   days per year for new users (default 14)
  ALLOWED_ORIGINS       comma separated CORS origins
  SEED_DEMO (-seed)     load the demo scenario on start

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration fields
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/logger"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "leave-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.LogLvl)
	if err != nil {
		return fmt.Errorf("can't init logger: %w", err)
	}
	defer log.Sync()

	store, err := sqlite.New(ctx, cfg.DatabasePath, log)
	if err != nil {
		log.Error("open store failed", zap.Error(err))
		return err
	}
	defer store.Close()

	ledger := generic.NewLedger(cfg.Refund())
	leaves := timeoff.NewRequestService(store, ledger, log)
	users := timeoff.NewUserService(store, auth.NewBcryptHasher(), cfg.DefaultEntitlement, log)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	handler := api.NewHandler(leaves, users, tokens, store)
	if cfg.SeedDemo {
		if err := handler.SeedScenario(ctx, api.DefaultScenario); err != nil {
			log.Warn("seed demo scenario failed", zap.Error(err))
		}
	}

	server := &http.Server{
		Addr:         cfg.Address,
		Handler:      api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.AllowedOrigins}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", zap.String("address", cfg.Address),
			zap.String("refund_policy", string(ledger.Refund)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server exited with error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		sCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(sCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
