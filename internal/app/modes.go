package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/engine"
	"github.com/alanyoungcy/crossarb/internal/executor"
	"github.com/alanyoungcy/crossarb/internal/feed"
	"github.com/alanyoungcy/crossarb/internal/monitor"
	"github.com/alanyoungcy/crossarb/internal/notify"
	"github.com/alanyoungcy/crossarb/internal/risk"
	"github.com/alanyoungcy/crossarb/internal/tracker"
)

// ExecuteMode runs the execution pipeline: opportunity feed, runner, risk
// manager, and execution engine.
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting execute mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startExecution(ctx, g, deps)
	a.startBridge(ctx, g, deps)
	return g.Wait()
}

// MonitorMode runs read-only position monitoring and the periodic risk limit
// sweep. No orders are placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startMonitoring(ctx, g, deps)
	a.startBridge(ctx, g, deps)
	return g.Wait()
}

// PaperMode runs the execution pipeline and the monitor against the in-memory
// ledger and simulated venues. Nothing touches a real exchange or database.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.Any("venues", deps.Venues.Names()),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startExecution(ctx, g, deps)
	a.startMonitoring(ctx, g, deps)
	a.startBridge(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: execution, monitoring, the limit sweep, and
// notifications.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startExecution(ctx, g, deps)
	a.startMonitoring(ctx, g, deps)
	a.startBridge(ctx, g, deps)
	return g.Wait()
}

// startExecution adds the feed, runner, and engine goroutines to the group.
func (a *App) startExecution(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	trk := tracker.New(deps.Ledger, deps.Bus, a.logger)
	riskMgr := risk.NewManager(a.cfg.Risk, trk, a.logger)

	eng := engine.New(a.cfg.Engine, riskMgr, trk, deps.Venues, deps.Bus, a.logger)
	eng.Hedge = func(ctx context.Context, executionID, venue string, fill domain.OrderResult) {
		a.logger.ErrorContext(ctx, "unpaired fill requires manual hedge",
			slog.String("execution_id", executionID),
			slog.String("venue", venue),
			slog.String("order_id", fill.OrderID),
			slog.String("filled_size", fill.FilledSize.String()),
		)
		_ = deps.Notifier.NotifyAll(ctx, "Unpaired fill",
			"execution "+executionID+" filled one leg on "+venue+"; hedge manually")
	}

	buffer := a.cfg.Executor.ChannelBuffer
	if buffer <= 0 {
		buffer = 64
	}
	oppCh := make(chan domain.Opportunity, buffer)

	source := feed.NewRedisSource(deps.Bus, a.cfg.Feed.Channel, a.logger)
	runner := executor.NewRunner(a.cfg.Executor, oppCh, eng, trk, a.logger)

	g.Go(func() error {
		return source.Run(ctx, oppCh)
	})
	g.Go(func() error {
		return runner.Run(ctx)
	})
}

// startMonitoring adds the position monitor and the risk limit sweep to the
// group.
func (a *App) startMonitoring(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	trk := tracker.New(deps.Ledger, deps.Bus, a.logger)

	mon := monitor.New(a.cfg.Monitor, trk, deps.Venues, deps.Bus, deps.Locks, a.logger)
	g.Go(func() error {
		return mon.Run(ctx)
	})

	interval := time.Duration(a.cfg.Risk.EnforceIntervalMins) * time.Minute
	if interval <= 0 {
		return
	}
	riskMgr := risk.NewManager(a.cfg.Risk, trk, a.logger)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				violations, err := riskMgr.EnforceLimits(ctx)
				if err != nil {
					a.logger.ErrorContext(ctx, "limit sweep failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if len(violations) > 0 {
					a.logger.WarnContext(ctx, "limit sweep found violations",
						slog.Int("count", len(violations)),
					)
				}
			}
		}
	})
}

// startBridge forwards execution and monitor events to the configured
// notification channels.
func (a *App) startBridge(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	bridge := notify.NewBridge(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		return bridge.Run(ctx)
	})
}
