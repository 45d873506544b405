// Package tracker provides the position tracker: the durable system of record
// for opportunities, executions, open positions, and the single capital
// allocation counter. All mutations go through the transactional ledger; the
// tracker adds structured logging and lifecycle events on top.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Tracker is the only component permitted to mutate capital state; every
// other component reads it through the tracker's getters.
type Tracker struct {
	ledger domain.Ledger
	bus    domain.SignalBus
	logger *slog.Logger
}

// New creates a Tracker over the given ledger. bus may be nil, in which case
// lifecycle events are not published.
func New(ledger domain.Ledger, bus domain.SignalBus, logger *slog.Logger) *Tracker {
	return &Tracker{
		ledger: ledger,
		bus:    bus,
		logger: logger.With(slog.String("component", "tracker")),
	}
}

func (t *Tracker) publish(ctx context.Context, channel, event string, fields map[string]any) {
	if t.bus == nil {
		return
	}
	fields["event"] = event
	payload, _ := json.Marshal(fields)
	if err := t.bus.Publish(ctx, channel, payload); err != nil {
		t.logger.WarnContext(ctx, "tracker: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// TrackOpportunity records a newly detected opportunity.
func (t *Tracker) TrackOpportunity(ctx context.Context, opp domain.Opportunity) error {
	if err := t.ledger.TrackOpportunity(ctx, opp); err != nil {
		return fmt.Errorf("tracker: track opportunity: %w", err)
	}
	t.logger.DebugContext(ctx, "tracker: opportunity tracked",
		slog.String("opportunity_id", opp.ID),
		slog.Float64("net_profit_pct", opp.NetProfitPct),
	)
	return nil
}

// UpdateOpportunityStatus advances an opportunity's lifecycle status.
func (t *Tracker) UpdateOpportunityStatus(ctx context.Context, id string, status domain.OpportunityStatus) error {
	if err := t.ledger.UpdateOpportunityStatus(ctx, id, status); err != nil {
		return fmt.Errorf("tracker: update opportunity status: %w", err)
	}
	return nil
}

// RecordExecution inserts a new execution attempt.
func (t *Tracker) RecordExecution(ctx context.Context, exec domain.Execution) error {
	if err := t.ledger.RecordExecution(ctx, exec); err != nil {
		return fmt.Errorf("tracker: record execution: %w", err)
	}
	t.logger.InfoContext(ctx, "tracker: execution recorded",
		slog.String("execution_id", exec.ID),
		slog.String("status", string(exec.Status)),
	)
	return nil
}

// UpdateExecution replaces the mutable fields of an execution.
func (t *Tracker) UpdateExecution(ctx context.Context, exec domain.Execution) error {
	if err := t.ledger.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("tracker: update execution: %w", err)
	}
	t.logger.InfoContext(ctx, "tracker: execution updated",
		slog.String("execution_id", exec.ID),
		slog.String("status", string(exec.Status)),
	)
	return nil
}

// GetExecution retrieves a single execution by id.
func (t *Tracker) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	exec, err := t.ledger.GetExecution(ctx, id)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("tracker: get execution: %w", err)
	}
	return exec, nil
}

// OpenPosition opens a position, moving its cost from available to allocated
// capital in the ledger's transaction.
func (t *Tracker) OpenPosition(ctx context.Context, pos domain.Position) error {
	if err := t.ledger.OpenPosition(ctx, pos); err != nil {
		return fmt.Errorf("tracker: open position: %w", err)
	}

	t.logger.InfoContext(ctx, "tracker: position opened",
		slog.String("position_id", pos.ID),
		slog.String("execution_id", pos.ExecutionID),
		slog.String("size", pos.Size.String()),
		slog.String("total_cost", pos.TotalCost.String()),
	)
	t.publish(ctx, domain.ChannelExecutions, domain.EventPositionOpened, map[string]any{
		"position_id":  pos.ID,
		"execution_id": pos.ExecutionID,
		"size":         pos.Size.String(),
		"total_cost":   pos.TotalCost.String(),
	})
	return nil
}

// ClosePosition closes a position against confirmed resolution data, crediting
// the realized payout. The monitor never calls this; closure is an operator or
// settlement-driven action.
func (t *Tracker) ClosePosition(ctx context.Context, positionID string, payout decimal.Decimal, resolvedAt time.Time) error {
	if err := t.ledger.ClosePosition(ctx, positionID, payout, resolvedAt); err != nil {
		return fmt.Errorf("tracker: close position: %w", err)
	}

	t.logger.InfoContext(ctx, "tracker: position closed",
		slog.String("position_id", positionID),
		slog.String("payout", payout.String()),
	)
	t.publish(ctx, domain.ChannelExecutions, domain.EventPositionClosed, map[string]any{
		"position_id": positionID,
		"payout":      payout.String(),
	})
	return nil
}

// GetCapitalStatus returns the current capital allocation record.
func (t *Tracker) GetCapitalStatus(ctx context.Context) (domain.CapitalStatus, error) {
	cs, err := t.ledger.GetCapitalStatus(ctx)
	if err != nil {
		return domain.CapitalStatus{}, fmt.Errorf("tracker: get capital status: %w", err)
	}
	return cs, nil
}

// GetOpenPositions returns every position not yet resolved.
func (t *Tracker) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	positions, err := t.ledger.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracker: get open positions: %w", err)
	}
	return positions, nil
}

// GetPosition retrieves a single position by id.
func (t *Tracker) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	pos, err := t.ledger.GetPosition(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("tracker: get position: %w", err)
	}
	return pos, nil
}

// DailyDeployed returns the total contract size deployed on the given day.
func (t *Tracker) DailyDeployed(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	deployed, err := t.ledger.DailyDeployed(ctx, day)
	if err != nil {
		return decimal.Zero, fmt.Errorf("tracker: daily deployed: %w", err)
	}
	return deployed, nil
}

// SetTotalCapital adjusts the total capital ceiling.
func (t *Tracker) SetTotalCapital(ctx context.Context, total decimal.Decimal) error {
	if err := t.ledger.SetTotalCapital(ctx, total); err != nil {
		return fmt.Errorf("tracker: set total capital: %w", err)
	}
	t.logger.InfoContext(ctx, "tracker: total capital set",
		slog.String("total", total.String()),
	)
	return nil
}
