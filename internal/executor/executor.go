// Package executor runs the opportunity intake loop: it reads detected
// opportunities from a channel, applies deduplication and expiry checks,
// sizes the trade, and hands it to the execution engine. Risk validation
// happens inside the engine; the executor only filters what is obviously not
// worth an attempt.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

// TradeExecutor is the engine surface the runner drives. Satisfied by
// *engine.Engine.
type TradeExecutor interface {
	Execute(ctx context.Context, opp domain.Opportunity, requestedSize decimal.Decimal) (domain.ExecutionResult, error)
}

// OpportunityRecorder persists opportunity lifecycle state. Satisfied by
// *tracker.Tracker.
type OpportunityRecorder interface {
	TrackOpportunity(ctx context.Context, opp domain.Opportunity) error
	UpdateOpportunityStatus(ctx context.Context, id string, status domain.OpportunityStatus) error
}

// Runner consumes opportunities from a channel and executes them one at a
// time. Duplicates within the dedup TTL and opportunities past their TTL are
// dropped before any venue call.
type Runner struct {
	opportunities <-chan domain.Opportunity
	engine        TradeExecutor
	tracker       OpportunityRecorder
	dedup         *Dedup
	maxTradeSize  decimal.Decimal
	logger        *slog.Logger

	cleanupInterval time.Duration
}

func NewRunner(cfg config.ExecutorConfig, opportunities <-chan domain.Opportunity, eng TradeExecutor, trk OpportunityRecorder, logger *slog.Logger) *Runner {
	ttl := time.Duration(cfg.DedupTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Runner{
		opportunities:   opportunities,
		engine:          eng,
		tracker:         trk,
		dedup:           NewDedup(ttl),
		maxTradeSize:    decimal.NewFromFloat(cfg.MaxTradeSize),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// SetDedupTTL replaces the dedup instance with a new one using the given TTL.
func (r *Runner) SetDedupTTL(ttl time.Duration) {
	r.dedup = NewDedup(ttl)
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (r *Runner) SetCleanupInterval(d time.Duration) {
	r.cleanupInterval = d
}

// Run processes opportunities until ctx is cancelled, then drains whatever is
// already buffered in the channel before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "executor: started")
	defer r.logger.Info("executor: stopped")

	cleanupTicker := time.NewTicker(r.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()

		case opp, ok := <-r.opportunities:
			if !ok {
				return nil
			}
			r.process(ctx, opp)

		case <-cleanupTicker.C:
			r.dedup.Cleanup()
		}
	}
}

// process pushes a single opportunity through the intake pipeline.
func (r *Runner) process(ctx context.Context, opp domain.Opportunity) {
	log := r.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("venues", opp.Venue1+"/"+opp.Venue2),
	)

	if r.dedup.IsDuplicate(opp.ID) {
		log.DebugContext(ctx, "executor: duplicate opportunity, skipping")
		return
	}

	if opp.Expired(time.Now().UTC()) {
		log.WarnContext(ctx, "executor: opportunity expired, skipping",
			slog.Time("expires_at", opp.ExpiresAt),
		)
		return
	}

	if err := r.tracker.TrackOpportunity(ctx, opp); err != nil {
		log.WarnContext(ctx, "executor: track opportunity failed",
			slog.String("error", err.Error()),
		)
	}

	size := opp.MaxSize
	if r.maxTradeSize.IsPositive() && size.GreaterThan(r.maxTradeSize) {
		size = r.maxTradeSize
	}

	result, err := r.engine.Execute(ctx, opp, size)
	if err != nil {
		log.ErrorContext(ctx, "executor: execution error",
			slog.String("error", err.Error()),
		)
		return
	}

	if !result.Success {
		log.WarnContext(ctx, "executor: execution not completed",
			slog.String("execution_id", result.ExecutionID),
			slog.String("phase", string(result.Phase)),
			slog.String("error", result.Error),
		)
		return
	}

	log.InfoContext(ctx, "executor: execution completed",
		slog.String("execution_id", result.ExecutionID),
		slog.String("actual_size", result.ActualSize.String()),
		slog.String("actual_profit", result.ActualProfit.String()),
	)
}

// drain processes opportunities already buffered in the channel after
// cancellation so in-flight detections are not silently dropped. Each gets a
// short-lived context so shutdown cannot hang on a venue call.
func (r *Runner) drain() {
	for {
		select {
		case opp, ok := <-r.opportunities:
			if !ok {
				return
			}
			r.logger.Warn("executor: draining opportunity after shutdown",
				slog.String("opportunity_id", opp.ID),
			)
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.process(drainCtx, opp)
			cancel()
		default:
			return
		}
	}
}
