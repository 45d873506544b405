// Package engine implements the two-phase execution protocol that turns an
// approved opportunity into an open position: prepare re-validates against
// fresh quotes, commit places both legs concurrently under one shared
// timeout, and rollback best-effort cancels whatever was placed when commit
// fails. An attempt that fails in prepare never reaches commit, and no
// failure path ever retries the trade.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

// RiskGate validates a proposed trade before any venue call. Satisfied by
// *risk.Manager.
type RiskGate interface {
	Validate(ctx context.Context, opp domain.Opportunity, requestedSize decimal.Decimal) (domain.RiskDecision, error)
}

// PositionStore is the tracker surface the engine writes through. Satisfied
// by *tracker.Tracker.
type PositionStore interface {
	RecordExecution(ctx context.Context, exec domain.Execution) error
	UpdateExecution(ctx context.Context, exec domain.Execution) error
	OpenPosition(ctx context.Context, pos domain.Position) error
	UpdateOpportunityStatus(ctx context.Context, id string, status domain.OpportunityStatus) error
}

// VenueLookup resolves a venue name to its client. Satisfied by
// *venue.Registry.
type VenueLookup interface {
	Get(name string) (domain.VenueClient, error)
}

// HedgeHook is called after a failed commit for each leg that filled while
// its sibling did not. The engine itself never places a compensating hedge;
// the hook exists so an external process can.
type HedgeHook func(ctx context.Context, executionID, venue string, fill domain.OrderResult)

// Engine runs execution attempts. Safe for concurrent use; each attempt is
// self-contained and capital safety comes from the tracker's transactions,
// not from any lock held here.
type Engine struct {
	cfg     config.EngineConfig
	risk    RiskGate
	tracker PositionStore
	venues  VenueLookup
	bus     domain.SignalBus
	logger  *slog.Logger

	// Hedge, when set, is invoked for filled-but-unpaired legs during
	// rollback.
	Hedge HedgeHook
}

func New(cfg config.EngineConfig, risk RiskGate, tracker PositionStore, venues VenueLookup, bus domain.SignalBus, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		risk:    risk,
		tracker: tracker,
		venues:  venues,
		bus:     bus,
		logger:  logger.With(slog.String("component", "engine")),
	}
}

// preparedLeg pairs a venue client with its fresh quote for one side of the
// arbitrage.
type preparedLeg struct {
	venue domain.VenueClient
	quote domain.Quote
}

func (e *Engine) publish(ctx context.Context, event string, fields map[string]any) {
	if e.bus == nil {
		return
	}
	fields["event"] = event
	payload, _ := json.Marshal(fields)
	if err := e.bus.Publish(ctx, domain.ChannelExecutions, payload); err != nil {
		e.logger.WarnContext(ctx, "engine: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Execute runs one full attempt for the opportunity at the requested size in
// contracts. The returned result identifies the phase reached on failure;
// err is reserved for infrastructure failures (store, bus lookup), not for
// trade rejections.
func (e *Engine) Execute(ctx context.Context, opp domain.Opportunity, requestedSize decimal.Decimal) (domain.ExecutionResult, error) {
	executionID := uuid.NewString()
	result := domain.ExecutionResult{ExecutionID: executionID, Phase: domain.PhasePrepare}

	decision, err := e.risk.Validate(ctx, opp, requestedSize)
	if err != nil {
		return result, fmt.Errorf("engine: risk validation: %w", err)
	}
	if !decision.Approved {
		result.Error = "risk rejected: " + strings.Join(decision.Blockers, "; ")
		e.logger.InfoContext(ctx, "engine: attempt rejected by risk gate",
			slog.String("execution_id", executionID),
			slog.String("opportunity_id", opp.ID),
			slog.String("error", result.Error),
		)
		if err := e.tracker.UpdateOpportunityStatus(ctx, opp.ID, domain.OpportunityRejected); err != nil {
			e.logger.WarnContext(ctx, "engine: mark opportunity rejected failed", slog.String("error", err.Error()))
		}
		return result, nil
	}
	size := decision.AdjustedSize

	e.publish(ctx, domain.EventExecutionStarted, map[string]any{
		"execution_id":   executionID,
		"opportunity_id": opp.ID,
		"size":           size.String(),
	})

	plan, err := e.prepare(ctx, opp, size)
	if err != nil {
		result.Error = err.Error()
		e.logger.WarnContext(ctx, "engine: prepare failed",
			slog.String("execution_id", executionID),
			slog.String("opportunity_id", opp.ID),
			slog.String("error", result.Error),
		)
		e.publish(ctx, domain.EventExecutionFailed, map[string]any{
			"execution_id": executionID,
			"phase":        string(domain.PhasePrepare),
			"error":        result.Error,
		})
		return result, nil
	}

	e.publish(ctx, domain.EventPrepareCompleted, map[string]any{
		"execution_id":    executionID,
		"total_cost":      plan.TotalCost.String(),
		"expected_profit": plan.ExpectedProfit.String(),
	})

	exec := domain.Execution{
		ID:            executionID,
		OpportunityID: opp.ID,
		Venue1:        opp.Venue1,
		Venue2:        opp.Venue2,
		Market1ID:     opp.Market1ID,
		Market2ID:     opp.Market2ID,
		PlannedSize:   size,
		Status:        domain.ExecutionPending,
		StartedAt:     time.Now().UTC(),
	}
	if err := e.tracker.RecordExecution(ctx, exec); err != nil {
		return result, fmt.Errorf("engine: record execution: %w", err)
	}

	return e.commit(ctx, opp, exec, plan)
}

// prepare fetches both legs' quotes concurrently, rejects stale or unprofitable
// reality, and builds the immutable plan. Quotes older than the freshness
// budget are treated as no quote at all.
func (e *Engine) prepare(ctx context.Context, opp domain.Opportunity, size decimal.Decimal) (domain.ExecutionPlan, error) {
	now := time.Now().UTC()
	if opp.Expired(now) {
		return domain.ExecutionPlan{}, fmt.Errorf("engine: prepare: opportunity %s expired at %s", opp.ID, opp.ExpiresAt.Format(time.RFC3339))
	}

	venue1, err := e.venues.Get(opp.Venue1)
	if err != nil {
		return domain.ExecutionPlan{}, fmt.Errorf("engine: prepare: %w", err)
	}
	venue2, err := e.venues.Get(opp.Venue2)
	if err != nil {
		return domain.ExecutionPlan{}, fmt.Errorf("engine: prepare: %w", err)
	}

	prepCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.PrepareTimeoutMs)*time.Millisecond)
	defer cancel()

	var leg1, leg2 preparedLeg
	leg1.venue, leg2.venue = venue1, venue2

	started := time.Now()
	g, gctx := errgroup.WithContext(prepCtx)
	g.Go(func() error {
		q, err := venue1.GetQuote(gctx, opp.Market1ID)
		if err != nil {
			return fmt.Errorf("quote %s/%s: %w", opp.Venue1, opp.Market1ID, err)
		}
		leg1.quote = q
		return nil
	})
	g.Go(func() error {
		q, err := venue2.GetQuote(gctx, opp.Market2ID)
		if err != nil {
			return fmt.Errorf("quote %s/%s: %w", opp.Venue2, opp.Market2ID, err)
		}
		leg2.quote = q
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.ExecutionPlan{}, fmt.Errorf("engine: prepare: %w", err)
	}

	freshness := time.Duration(e.cfg.FreshnessBudgetMs) * time.Millisecond
	if elapsed := time.Since(started); elapsed > freshness {
		return domain.ExecutionPlan{}, fmt.Errorf("engine: prepare: quotes took %s, over %s budget: %w", elapsed.Round(time.Millisecond), freshness, domain.ErrStaleQuote)
	}

	// Re-derive profitability from the fresh asks, not from the opportunity's
	// original numbers. One contract pays $1 on the winning side.
	ask1 := leg1.quote.AskFor(opp.Side1)
	ask2 := leg2.quote.AskFor(opp.Side2)
	perContractCost := ask1.Add(ask2).Add(opp.Fees.Total())
	perContractProfit := decimal.NewFromInt(1).Sub(perContractCost)
	if !perContractProfit.IsPositive() {
		return domain.ExecutionPlan{}, fmt.Errorf("engine: prepare: no profit at fresh asks %s + %s", ask1, ask2)
	}

	liquidity := leg1.quote.LiquidityFor(opp.Side1)
	if l2 := leg2.quote.LiquidityFor(opp.Side2); l2.LessThan(liquidity) {
		liquidity = l2
	}
	if size.GreaterThan(liquidity) {
		return domain.ExecutionPlan{}, fmt.Errorf("engine: prepare: size %s exceeds live liquidity %s", size, liquidity)
	}

	return domain.ExecutionPlan{
		Venue1: venue1,
		Venue2: venue2,
		Order1: domain.OrderRequest{
			MarketID: opp.Market1ID,
			Side:     opp.Side1,
			Size:     size,
			Price:    ask1,
			Type:     domain.OrderTypeLimit,
		},
		Order2: domain.OrderRequest{
			MarketID: opp.Market2ID,
			Side:     opp.Side2,
			Size:     size,
			Price:    ask2,
			Type:     domain.OrderTypeLimit,
		},
		TotalCost:      perContractCost.Mul(size),
		ExpectedProfit: perContractProfit.Mul(size),
		Timeout:        time.Duration(e.cfg.ExecutionTimeoutMs) * time.Millisecond,
	}, nil
}

// commit places both legs concurrently and races the pair against the plan's
// timeout. Success requires both legs filled; anything else rolls back.
func (e *Engine) commit(ctx context.Context, opp domain.Opportunity, exec domain.Execution, plan domain.ExecutionPlan) (domain.ExecutionResult, error) {
	result := domain.ExecutionResult{ExecutionID: exec.ID, Phase: domain.PhaseCommit}

	commitCtx, cancel := context.WithTimeout(ctx, plan.Timeout)
	defer cancel()

	// Both legs go out together and race the shared timeout. A timeout is a
	// failure requiring rollback, never success-pending.
	var res1, res2 domain.OrderResult
	var err1, err2 error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res1, err1 = plan.Venue1.PlaceOrder(commitCtx, plan.Order1)
	}()
	go func() {
		defer wg.Done()
		res2, err2 = plan.Venue2.PlaceOrder(commitCtx, plan.Order2)
	}()
	wg.Wait()

	result.Order1ID = res1.OrderID
	result.Order2ID = res2.OrderID

	filled1 := err1 == nil && res1.Status == domain.OrderStatusFilled
	filled2 := err2 == nil && res2.Status == domain.OrderStatusFilled

	if filled1 && filled2 {
		actualSize := res1.FilledSize
		if res2.FilledSize.LessThan(actualSize) {
			actualSize = res2.FilledSize
		}
		actualCost := res1.FilledPrice.Mul(res1.FilledSize).Add(res2.FilledPrice.Mul(res2.FilledSize))
		result.Success = true
		result.Phase = domain.PhaseCompleted
		result.ActualSize = actualSize
		result.ActualCost = actualCost
		result.ActualProfit = actualSize.Sub(actualCost)
		return result, e.complete(ctx, opp, exec, result, res1, res2)
	}

	reason := commitFailureReason(res1, res2, err1, err2, commitCtx.Err())
	result.Error = reason
	e.logger.WarnContext(ctx, "engine: commit failed",
		slog.String("execution_id", exec.ID),
		slog.String("reason", reason),
	)
	e.rollback(ctx, exec.ID, plan, res1, res2, filled1, filled2, &result)

	now := time.Now().UTC()
	exec.Order1ID = res1.OrderID
	exec.Order2ID = res2.OrderID
	exec.Status = domain.ExecutionRolledBack
	exec.FailureReason = reason
	exec.CompletedAt = &now
	if err := e.tracker.UpdateExecution(ctx, exec); err != nil {
		return result, fmt.Errorf("engine: update execution: %w", err)
	}

	e.publish(ctx, domain.EventExecutionFailed, map[string]any{
		"execution_id": exec.ID,
		"phase":        string(domain.PhaseCommit),
		"error":        reason,
	})
	return result, nil
}

func commitFailureReason(res1, res2 domain.OrderResult, err1, err2, ctxErr error) string {
	var parts []string
	if ctxErr != nil {
		parts = append(parts, "commit timeout")
	}
	switch {
	case err1 != nil:
		parts = append(parts, "leg1: "+err1.Error())
	case res1.Status != domain.OrderStatusFilled:
		parts = append(parts, "leg1 status "+string(res1.Status))
	}
	switch {
	case err2 != nil:
		parts = append(parts, "leg2: "+err2.Error())
	case res2.Status != domain.OrderStatusFilled:
		parts = append(parts, "leg2 status "+string(res2.Status))
	}
	if len(parts) == 0 {
		parts = append(parts, "commit failed")
	}
	return strings.Join(parts, "; ")
}

// complete records the successful execution and opens the position with the
// actual fills.
func (e *Engine) complete(ctx context.Context, opp domain.Opportunity, exec domain.Execution, result domain.ExecutionResult, res1, res2 domain.OrderResult) error {
	now := time.Now().UTC()
	exec.Order1ID = res1.OrderID
	exec.Order2ID = res2.OrderID
	exec.FilledSize = result.ActualSize
	exec.ActualCost = result.ActualCost
	exec.ActualProfit = result.ActualProfit
	exec.Status = domain.ExecutionCompleted
	exec.CompletedAt = &now
	if err := e.tracker.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("engine: update execution: %w", err)
	}

	pos := domain.Position{
		ID:             uuid.NewString(),
		ExecutionID:    exec.ID,
		Venue1:         opp.Venue1,
		Venue2:         opp.Venue2,
		Market1ID:      opp.Market1ID,
		Market2ID:      opp.Market2ID,
		Side1:          opp.Side1,
		Side2:          opp.Side2,
		Entry1:         res1.FilledPrice,
		Entry2:         res2.FilledPrice,
		Size:           result.ActualSize,
		TotalCost:      result.ActualCost,
		ExpectedPayout: result.ActualSize,
		ExpectedProfit: result.ActualProfit,
		Status:         domain.PositionOpen,
		OpenedAt:       now,
	}
	if err := e.tracker.OpenPosition(ctx, pos); err != nil {
		return fmt.Errorf("engine: open position: %w", err)
	}
	if err := e.tracker.UpdateOpportunityStatus(ctx, opp.ID, domain.OpportunityExecuted); err != nil {
		e.logger.WarnContext(ctx, "engine: mark opportunity executed failed", slog.String("error", err.Error()))
	}

	e.logger.InfoContext(ctx, "engine: execution completed",
		slog.String("execution_id", exec.ID),
		slog.String("position_id", pos.ID),
		slog.String("actual_size", result.ActualSize.String()),
		slog.String("actual_profit", result.ActualProfit.String()),
	)
	e.publish(ctx, domain.EventExecutionCompleted, map[string]any{
		"execution_id":  exec.ID,
		"position_id":   pos.ID,
		"actual_size":   result.ActualSize.String(),
		"actual_cost":   result.ActualCost.String(),
		"actual_profit": result.ActualProfit.String(),
	})
	return nil
}

// rollback best-effort cancels every order id that was returned, filled legs
// included; venues no-op a cancel of an already-filled order. Cancellation
// failures are logged, never raised, and rollback completion is reported
// either way. Runs on a context detached from the caller's so a fired commit
// timeout cannot also abort the cancels.
func (e *Engine) rollback(ctx context.Context, executionID string, plan domain.ExecutionPlan, res1, res2 domain.OrderResult, filled1, filled2 bool, result *domain.ExecutionResult) {
	result.RollbackReason = result.Error

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(e.cfg.RollbackTimeoutMs)*time.Millisecond)
	defer cancel()

	cancelled := 0
	for _, leg := range []struct {
		venue domain.VenueClient
		res   domain.OrderResult
	}{{plan.Venue1, res1}, {plan.Venue2, res2}} {
		if leg.res.OrderID == "" {
			continue
		}
		if err := leg.venue.CancelOrder(rbCtx, leg.res.OrderID); err != nil {
			e.logger.WarnContext(ctx, "engine: rollback cancel failed",
				slog.String("execution_id", executionID),
				slog.String("venue", leg.venue.Name()),
				slog.String("order_id", leg.res.OrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		cancelled++
	}

	// One leg filled while its sibling failed leaves residual one-sided
	// exposure. The engine never hedges it; the hook hands it off.
	if e.Hedge != nil {
		if filled1 && !filled2 {
			e.Hedge(rbCtx, executionID, plan.Venue1.Name(), res1)
		}
		if filled2 && !filled1 {
			e.Hedge(rbCtx, executionID, plan.Venue2.Name(), res2)
		}
	}

	e.publish(ctx, domain.EventRollbackCompleted, map[string]any{
		"execution_id": executionID,
		"phase":        string(domain.PhaseRollback),
		"cancelled":    cancelled,
		"reason":       result.RollbackReason,
	})
}
