package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cryptotrader/internal/config"
	"cryptotrader/internal/diagnostics"
	"cryptotrader/internal/events"
	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/gateway/paper"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/order"
	"cryptotrader/internal/position"
	"cryptotrader/internal/scheduler"
	"cryptotrader/internal/store/gormstore"
	livehttp "cryptotrader/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App wires the ledger, the venue client and the two lifecycle managers,
// then runs the HTTP server and the background schedules.
type App struct {
	cfg   *config.Config
	flags config.FeatureFlags

	ledger      *gormstore.GormStore
	client      *exchange.Client
	retrier     *exchange.Retrier
	orders      *order.Manager
	positions   *position.Manager
	bus         *events.Bus
	metrics     *metrics.Metrics
	diagnostics *diagnostics.Collector
	paper       *paper.Venue
	http        *livehttp.Server
	closers     []io.Closer

	Summary *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(ctx context.Context, cfg *config.Config, flags config.FeatureFlags) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(ctx, cfg, flags)
}

// Run reconciles once, then serves until ctx ends or a service fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.orders == nil || a.positions == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		logger.InfoBlock(a.Summary.String())
	}

	// Crash recovery: bind PENDING orders and pick up fills that happened
	// while the process was down before anything new is placed.
	if report, err := a.orders.Reconcile(ctx); err != nil {
		logger.Errorf("App: startup reconcile failed: %v", err)
	} else {
		logger.Infof("App: startup reconcile created=%d updated=%d expired=%d errors=%d",
			report.Created, report.Updated, report.Expired, len(report.Errors))
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	if a.flags.IsEnabled(config.FlagDisablePriceSync, false) {
		logger.Warnf("App: price sync disabled by flag, protective triggers only fire on demand")
	} else if interval := a.cfg.Sync.PriceInterval(); interval > 0 {
		sched := scheduler.NewIntervalScheduler(ctx, "price-sync", interval)
		group.Go(func() error {
			sched.Start(a.syncPrices)
			return nil
		})
	}

	if a.flags.IsEnabled(config.FlagDisableReconcile, false) {
		logger.Warnf("App: periodic reconcile disabled by flag")
	} else if interval := a.cfg.Sync.ReconcileInterval(); interval > 0 {
		sched := scheduler.NewIntervalScheduler(ctx, "reconcile", interval)
		group.Go(func() error {
			sched.Start(a.reconcile)
			return nil
		})
	}

	return group.Wait()
}

func (a *App) syncPrices(ctx context.Context) error {
	report, err := a.positions.SyncAll(ctx)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		pairs := make([]string, 0, len(report.Failed))
		for _, f := range report.Failed {
			pairs = append(pairs, f.Pair)
		}
		return fmt.Errorf("price sync failed for %s", strings.Join(pairs, ", "))
	}
	if report.Closed > 0 || report.OrphansCancelled > 0 {
		logger.Infof("App: price sync closed=%d orphans_cancelled=%d", report.Closed, report.OrphansCancelled)
	}
	return nil
}

func (a *App) reconcile(ctx context.Context) error {
	report, err := a.orders.Reconcile(ctx)
	if err != nil {
		return err
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("reconcile finished with %d order error(s), first: %s", len(report.Errors), report.Errors[0].Error)
	}
	return nil
}

// ApplyRuntime pushes reloaded settings into the running services.
func (a *App) ApplyRuntime(rt config.Runtime) {
	logger.SetLevel(rt.LogLevel)
	a.retrier.Update(rt.Retry.MaxAttempts, rt.Retry.BaseBackoff())
	logger.Infof("App: runtime config v%d applied: log_level=%s retry.max_attempts=%d retry.base_backoff=%s",
		rt.Version, rt.LogLevel, rt.Retry.MaxAttempts, rt.Retry.BaseBackoff())
}

func (a *App) Orders() *order.Manager { return a.orders }

func (a *App) Positions() *position.Manager { return a.positions }

func (a *App) Diagnostics() *diagnostics.Collector { return a.diagnostics }

// Simulated reports whether the app trades against the paper venue.
func (a *App) Simulated() bool { return a.client != nil && a.client.Simulated() }

// Close releases the ledger and venue resources. Safe to call twice.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
