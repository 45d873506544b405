// Package monitor implements the position monitor: a periodic sweep that
// re-derives every open position's health directly from the venues instead of
// trusting what was recorded at open time. The monitor is strictly
// observation-only; it never closes a position, cancels an order, or mutates
// any state. Findings go out as bus events for downstream alerting.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

const sweepLockKey = "monitor:sweep"

// PositionReader is the tracker surface the monitor reads through.
type PositionReader interface {
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)
	GetExecution(ctx context.Context, id string) (domain.Execution, error)
}

// VenueLookup resolves a venue name to its client.
type VenueLookup interface {
	Get(name string) (domain.VenueClient, error)
}

// Monitor runs the sweep loop. locks may be nil; when set, each sweep is
// guarded by a distributed lock so only one process sweeps at a time.
type Monitor struct {
	cfg     config.MonitorConfig
	tracker PositionReader
	venues  VenueLookup
	bus     domain.SignalBus
	locks   domain.LockManager
	logger  *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	restart  chan struct{}
}

func New(cfg config.MonitorConfig, tracker PositionReader, venues VenueLookup, bus domain.SignalBus, locks domain.LockManager, logger *slog.Logger) *Monitor {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		cfg:      cfg,
		tracker:  tracker,
		venues:   venues,
		bus:      bus,
		locks:    locks,
		logger:   logger.With(slog.String("component", "monitor")),
		interval: interval,
		restart:  make(chan struct{}, 1),
	}
}

// Interval returns the current sweep interval.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// SetInterval changes the sweep interval. A running loop stops its old ticker
// and starts a fresh one; two tickers never run at once.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()

	select {
	case m.restart <- struct{}{}:
	default:
	}
}

func (m *Monitor) publish(ctx context.Context, event string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	payload["event"] = event
	raw, _ := json.Marshal(payload)
	if err := m.bus.Publish(ctx, domain.ChannelMonitor, raw); err != nil {
		m.logger.WarnContext(ctx, "monitor: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Run sweeps on the configured interval until ctx is cancelled. The first
// sweep happens one full interval after start.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "monitor: started", slog.Duration("interval", m.Interval()))
	m.publish(ctx, domain.EventMonitorStarted, map[string]any{"interval": m.Interval().String()})
	defer m.publish(context.WithoutCancel(ctx), domain.EventMonitorStopped, map[string]any{})

	ticker := time.NewTicker(m.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "monitor: stopped")
			return ctx.Err()
		case <-m.restart:
			ticker.Stop()
			ticker = time.NewTicker(m.Interval())
			m.logger.InfoContext(ctx, "monitor: interval changed", slog.Duration("interval", m.Interval()))
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.ErrorContext(ctx, "monitor: sweep failed", slog.String("error", err.Error()))
				m.publish(ctx, domain.EventMonitorError, map[string]any{"error": err.Error()})
			}
		}
	}
}

// Sweep checks every open position once. Positions are snapshotted at sweep
// start; one position's failure never aborts the rest.
func (m *Monitor) Sweep(ctx context.Context) error {
	if m.locks != nil {
		ttl := time.Duration(m.cfg.LockTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 2 * m.Interval()
		}
		release, err := m.locks.Acquire(ctx, sweepLockKey, ttl)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				m.logger.DebugContext(ctx, "monitor: sweep lock held elsewhere, skipping")
				return nil
			}
			return fmt.Errorf("monitor: acquire sweep lock: %w", err)
		}
		defer release()
	}

	positions, err := m.tracker.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("monitor: get open positions: %w", err)
	}

	for _, pos := range positions {
		if err := m.checkPosition(ctx, pos); err != nil {
			m.logger.WarnContext(ctx, "monitor: position check failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			m.publish(ctx, domain.EventMonitorError, map[string]any{
				"position_id": pos.ID,
				"error":       err.Error(),
			})
		}
	}
	return nil
}

// legState is one venue's live view of a position's leg.
type legState struct {
	venue  domain.VenueClient
	market domain.Market
	// missing is true when the venue no longer returns the market.
	missing bool
}

func (m *Monitor) checkPosition(ctx context.Context, pos domain.Position) error {
	venue1, err := m.venues.Get(pos.Venue1)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	venue2, err := m.venues.Get(pos.Venue2)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	leg1, err := m.fetchLeg(ctx, venue1, pos.Market1ID)
	if err != nil {
		return err
	}
	leg2, err := m.fetchLeg(ctx, venue2, pos.Market2ID)
	if err != nil {
		return err
	}

	for _, leg := range []struct {
		state    legState
		marketID string
	}{{leg1, pos.Market1ID}, {leg2, pos.Market2ID}} {
		if leg.state.missing {
			m.emitDiscrepancy(ctx, domain.Discrepancy{
				PositionID: pos.ID,
				Type:       domain.DiscrepancyMissingLeg,
				Severity:   domain.SeverityCritical,
				Detail:     fmt.Sprintf("venue %s no longer returns market %s", leg.state.venue.Name(), leg.marketID),
				Timestamp:  time.Now().UTC(),
			})
		}
	}

	if !leg1.missing && !leg2.missing {
		m.checkResolution(ctx, pos, leg1.market, leg2.market)
		m.checkSize(ctx, pos, venue1, venue2)
		m.emitPnL(ctx, pos, venue1, venue2)
	}
	return nil
}

func (m *Monitor) fetchLeg(ctx context.Context, client domain.VenueClient, marketID string) (legState, error) {
	market, err := client.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return legState{venue: client, missing: true}, nil
		}
		return legState{}, fmt.Errorf("monitor: market %s/%s: %w", client.Name(), marketID, err)
	}
	return legState{venue: client, market: market}, nil
}

// checkResolution flags the two failure modes of a resolved leg: both legs
// resolved to different outcomes (the risk-free guarantee is broken), or one
// leg resolved while its sibling has not (the position is naked on one side).
func (m *Monitor) checkResolution(ctx context.Context, pos domain.Position, m1, m2 domain.Market) {
	switch {
	case m1.Resolved && m2.Resolved:
		if m1.Outcome != m2.Outcome {
			m.emitDiscrepancy(ctx, domain.Discrepancy{
				PositionID: pos.ID,
				Type:       domain.DiscrepancyResolutionDivergence,
				Severity:   domain.SeverityCritical,
				Detail: fmt.Sprintf("%s resolved %s but %s resolved %s",
					pos.Market1ID, m1.Outcome, pos.Market2ID, m2.Outcome),
				Timestamp: time.Now().UTC(),
			})
		}
	case m1.Resolved != m2.Resolved:
		resolved := pos.Market1ID
		if m2.Resolved {
			resolved = pos.Market2ID
		}
		m.emitDiscrepancy(ctx, domain.Discrepancy{
			PositionID: pos.ID,
			Type:       domain.DiscrepancyPrematureResolution,
			Severity:   domain.SeverityMedium,
			Detail:     fmt.Sprintf("market %s resolved while its sibling has not", resolved),
			Timestamp:  time.Now().UTC(),
		})
	}
}

// checkSize compares the size recorded at open time against what each venue
// reports for the execution's orders.
func (m *Monitor) checkSize(ctx context.Context, pos domain.Position, venue1, venue2 domain.VenueClient) {
	if pos.ExecutionID == "" || pos.Size.IsZero() {
		return
	}
	exec, err := m.tracker.GetExecution(ctx, pos.ExecutionID)
	if err != nil {
		m.logger.WarnContext(ctx, "monitor: execution lookup failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	tolerance := decimal.NewFromFloat(m.cfg.SizeTolerancePct)
	hundred := decimal.NewFromInt(100)
	for _, leg := range []struct {
		venue   domain.VenueClient
		orderID string
	}{{venue1, exec.Order1ID}, {venue2, exec.Order2ID}} {
		if leg.orderID == "" {
			continue
		}
		order, err := leg.venue.GetOrderStatus(ctx, leg.orderID)
		if err != nil {
			m.logger.WarnContext(ctx, "monitor: order status failed",
				slog.String("position_id", pos.ID),
				slog.String("order_id", leg.orderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		driftPct := order.FilledSize.Sub(pos.Size).Abs().Div(pos.Size).Mul(hundred)
		if driftPct.GreaterThan(tolerance) {
			m.emitDiscrepancy(ctx, domain.Discrepancy{
				PositionID: pos.ID,
				Type:       domain.DiscrepancySizeMismatch,
				Severity:   domain.SeverityHigh,
				Detail: fmt.Sprintf("venue %s reports size %s, recorded %s (%s%% drift)",
					leg.venue.Name(), order.FilledSize, pos.Size, driftPct.Round(2)),
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// emitPnL marks the position to market from live bids on both legs, never
// from the entry prices.
func (m *Monitor) emitPnL(ctx context.Context, pos domain.Position, venue1, venue2 domain.VenueClient) {
	q1, err := venue1.GetQuote(ctx, pos.Market1ID)
	if err != nil {
		m.logger.WarnContext(ctx, "monitor: quote failed",
			slog.String("position_id", pos.ID),
			slog.String("market_id", pos.Market1ID),
			slog.String("error", err.Error()),
		)
		return
	}
	q2, err := venue2.GetQuote(ctx, pos.Market2ID)
	if err != nil {
		m.logger.WarnContext(ctx, "monitor: quote failed",
			slog.String("position_id", pos.ID),
			slog.String("market_id", pos.Market2ID),
			slog.String("error", err.Error()),
		)
		return
	}

	currentValue := q1.BidFor(pos.Side1).Add(q2.BidFor(pos.Side2)).Mul(pos.Size)
	pnl := domain.PositionPnL{
		PositionID:     pos.ID,
		UnrealizedPnL:  currentValue.Sub(pos.TotalCost),
		TotalCost:      pos.TotalCost,
		CurrentValue:   currentValue,
		ExpectedPayout: pos.ExpectedPayout,
		Timestamp:      time.Now().UTC(),
	}
	payload, _ := json.Marshal(pnl)

	fields := map[string]any{"pnl": json.RawMessage(payload)}
	m.publish(ctx, domain.EventPnLUpdated, fields)
}

func (m *Monitor) emitDiscrepancy(ctx context.Context, d domain.Discrepancy) {
	m.logger.WarnContext(ctx, "monitor: discrepancy detected",
		slog.String("position_id", d.PositionID),
		slog.String("type", string(d.Type)),
		slog.String("severity", string(d.Severity)),
		slog.String("detail", d.Detail),
	)
	raw, _ := json.Marshal(d)
	fields := map[string]any{"discrepancy": json.RawMessage(raw)}
	m.publish(ctx, domain.EventDiscrepancyDetected, fields)
	if d.Severity == domain.SeverityCritical {
		m.publish(ctx, domain.EventCriticalDiscrepancy, map[string]any{"discrepancy": json.RawMessage(raw)})
	}
}
