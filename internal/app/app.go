// Package app wires configuration into a running directory: store, locker,
// directory, services and HTTP handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/calculator"
	"github.com/prn-tf/userdir/internal/clock"
	"github.com/prn-tf/userdir/internal/config"
	"github.com/prn-tf/userdir/internal/directory"
	"github.com/prn-tf/userdir/internal/handler"
	"github.com/prn-tf/userdir/internal/lock"
	"github.com/prn-tf/userdir/internal/metrics"
	"github.com/prn-tf/userdir/internal/service"
	"github.com/prn-tf/userdir/internal/store"
	"github.com/prn-tf/userdir/internal/store/factory"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Store     store.Store
	Locker    lock.Locker
	Directory *directory.Directory

	Users      *service.UserService
	Calculator *service.CalculatorService
	Monitor    *service.ActivityMonitor

	closers []func() error
}

// New opens the configured store and locker and loads the directory from the
// store. clk may be nil for the system clock.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, clk clock.Clock) (*App, error) {
	if clk == nil {
		clk = clock.System{}
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  clk,
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	f := factory.New(cfg, a.Metrics, logger)

	st, err := f.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	locker, closeLocker, err := f.OpenLocker(ctx)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to open locker: %w", err)
	}
	a.Locker = locker
	a.closers = append(a.closers, closeLocker)

	dir, err := directory.Open(ctx,
		directory.WithStore(st),
		directory.WithKey(cfg.Store.Key),
		directory.WithClock(clk),
		directory.WithLogger(logger),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to load directory: %w", err)
	}
	a.Directory = dir

	a.Users = service.NewUserService(dir, locker, f.LockOptions(), clk, a.Metrics, logger)
	a.Calculator = service.NewCalculatorService(calculator.DefaultTable(), service.SessionConfig{
		HistorySize: cfg.Calculator.HistorySize,
		MaxSessions: cfg.Calculator.MaxSessions,
		IdleTTL:     cfg.Calculator.SessionTTL,
	}, clk, a.Metrics, logger)
	a.Monitor = service.NewActivityMonitor(dir, locker, clk, a.Metrics, logger, service.MonitorConfig{
		Enabled:  cfg.Monitor.Enabled,
		Interval: cfg.Monitor.Interval,
	})

	logger.Info().
		Str("backend", cfg.Store.Backend).
		Str("key", dir.Key()).
		Int("users", dir.Len()).
		Bool("encrypted", cfg.Store.EncryptionKey != "").
		Msg("directory loaded")

	return a, nil
}

// Handler builds the HTTP handler serving the API, the dashboard and,
// when enabled, the metrics endpoint.
func (a *App) Handler() (http.Handler, error) {
	dashboard, err := handler.NewDashboardHandler(handler.DashboardConfig{
		UserService:       a.Users,
		CalculatorService: a.Calculator,
		Logger:            a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load dashboard templates: %w", err)
	}

	return handler.NewRouter(handler.RouterConfig{
		UserHandler:       handler.NewUserHandler(a.Users, a.Logger),
		CalculatorHandler: handler.NewCalculatorHandler(a.Calculator, a.Logger),
		DashboardHandler:  dashboard,
		Monitor:           a.Monitor,
		Metrics:           a.Metrics,
		MetricsPath:       a.Config.Metrics.Path,
		MaxBodySize:       a.Config.Server.MaxBodySize,
		HealthCheck:       a.Store.Ping,
		Logger:            a.Logger,
	}).Handler(), nil
}

// Close releases the store and locker in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
