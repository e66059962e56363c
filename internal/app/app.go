package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/home-secrets/internal/apikey"
	"github.com/florianilch/home-secrets/internal/googleoauth"
	"github.com/florianilch/home-secrets/internal/observability"
	"github.com/florianilch/home-secrets/internal/secrets"
	"github.com/florianilch/home-secrets/internal/server"
)

// App orchestrates the lifecycle of the HTTP server and related services.
type App struct {
	cfg    *Config
	server *server.Server
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	metrics := observability.NewMetrics()

	manager, err := NewManager(cfg, googleoauth.WithObserver(metrics))
	if err != nil {
		return nil, err
	}

	lookup := secrets.NewLookup(cfg.Secrets.Prefix, secrets.NewEnvSource(), metrics)

	srv, err := server.New(apikey.New(cfg.APIKey), lookup, manager,
		server.WithAllowedOrigins(cfg.CORS.AllowedOrigins),
		server.WithMetrics(metrics),
		server.WithDebugInfo(func() any {
			return cfg.DebugView(os.Environ())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	if cfg.APIKey == "" {
		slog.Warn("api_key is not set, all protected routes will answer 403")
	}

	return &App{
		cfg:    cfg,
		server: srv,
	}, nil
}

// NewManager builds the OAuth manager over the configured token store.
// No I/O is performed beyond preparing the storage location.
func NewManager(cfg *Config, opts ...googleoauth.Option) (*googleoauth.Manager, error) {
	store, err := cfg.Storage.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	manager, err := googleoauth.New(cfg.Google.ManagerConfig(), store, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth manager: %w", err)
	}
	return manager, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Address()
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting server", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready",
		"address", address,
		"google_enabled", a.cfg.Google.IsEnabled(),
		"storage", a.cfg.Storage.Type,
	)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
