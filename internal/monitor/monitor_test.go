package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/events"
	"github.com/alanyoungcy/crossarb/internal/store/memory"
	"github.com/alanyoungcy/crossarb/internal/tracker"
	"github.com/alanyoungcy/crossarb/internal/venue"
)

type fixture struct {
	monitor *Monitor
	tracker *tracker.Tracker
	bus     *events.MemoryBus
	venue1  *venue.PaperClient
	venue2  *venue.PaperClient
	events  <-chan []byte
	cancel  context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledger := memory.NewLedger(decimal.NewFromInt(10_000))
	bus := events.NewMemoryBus()
	trk := tracker.New(ledger, nil, logger)

	v1 := venue.NewPaperClient("alpha", decimal.NewFromInt(10_000))
	v2 := venue.NewPaperClient("beta", decimal.NewFromInt(10_000))
	registry := venue.NewRegistry()
	registry.Register(v1)
	registry.Register(v2)

	v1.SetMarket(domain.Market{ID: "m1", Active: true})
	v2.SetMarket(domain.Market{ID: "m2", Active: true})
	v1.SetQuote("m1", domain.Quote{
		MarketID: "m1",
		YesBid:   decimal.NewFromFloat(0.48), YesAsk: decimal.NewFromFloat(0.50), YesLiquidity: decimal.NewFromInt(1000),
		NoBid: decimal.NewFromFloat(0.50), NoAsk: decimal.NewFromFloat(0.52), NoLiquidity: decimal.NewFromInt(1000),
	})
	v2.SetQuote("m2", domain.Quote{
		MarketID: "m2",
		YesBid:   decimal.NewFromFloat(0.48), YesAsk: decimal.NewFromFloat(0.50), YesLiquidity: decimal.NewFromInt(1000),
		NoBid: decimal.NewFromFloat(0.50), NoAsk: decimal.NewFromFloat(0.52), NoLiquidity: decimal.NewFromInt(1000),
	})

	cfg := config.MonitorConfig{IntervalSeconds: 60, SizeTolerancePct: 1.0}
	mon := New(cfg, trk, registry, bus, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := bus.Subscribe(ctx, domain.ChannelMonitor)
	require.NoError(t, err)

	return &fixture{monitor: mon, tracker: trk, bus: bus, venue1: v1, venue2: v2, events: ch, cancel: cancel}
}

func (f *fixture) openPosition(t *testing.T, id string) domain.Position {
	t.Helper()
	pos := domain.Position{
		ID:          id,
		ExecutionID: "exec-" + id,
		Venue1:      "alpha",
		Venue2:      "beta",
		Market1ID:   "m1",
		Market2ID:   "m2",
		Side1:       domain.SideYes,
		Side2:       domain.SideNo,
		Entry1:      decimal.NewFromFloat(0.47),
		Entry2:      decimal.NewFromFloat(0.47),
		Size:        decimal.NewFromInt(100),
		TotalCost:   decimal.NewFromInt(94),
		OpenedAt:    time.Now().UTC(),
	}
	require.NoError(t, f.tracker.OpenPosition(context.Background(), pos))
	return pos
}

// drainEvents collects every event currently buffered on the monitor channel.
func (f *fixture) drainEvents(t *testing.T) []map[string]json.RawMessage {
	t.Helper()
	var out []map[string]json.RawMessage
	for {
		select {
		case payload := <-f.events:
			var evt map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(payload, &evt))
			out = append(out, evt)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func eventNames(evts []map[string]json.RawMessage) []string {
	var names []string
	for _, e := range evts {
		var name string
		_ = json.Unmarshal(e["event"], &name)
		names = append(names, name)
	}
	return names
}

func discrepancyOf(t *testing.T, evt map[string]json.RawMessage) domain.Discrepancy {
	t.Helper()
	var d domain.Discrepancy
	require.NoError(t, json.Unmarshal(evt["discrepancy"], &d))
	return d
}

func TestSweepHealthyPositionEmitsPnL(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, "p1")

	require.NoError(t, f.monitor.Sweep(context.Background()))

	evts := f.drainEvents(t)
	names := eventNames(evts)
	require.Equal(t, []string{domain.EventPnLUpdated}, names)

	var pnl domain.PositionPnL
	require.NoError(t, json.Unmarshal(evts[0]["pnl"], &pnl))
	assert.Equal(t, "p1", pnl.PositionID)
	// Live bids 0.48 + 0.50 over 100 contracts against a $94 cost.
	assert.True(t, pnl.CurrentValue.Equal(decimal.NewFromInt(98)), "got %s", pnl.CurrentValue)
	assert.True(t, pnl.UnrealizedPnL.Equal(decimal.NewFromInt(4)), "got %s", pnl.UnrealizedPnL)
}

func TestSweepMissingLegIsCritical(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, "p1")
	f.venue2.RemoveMarket("m2")

	require.NoError(t, f.monitor.Sweep(context.Background()))

	evts := f.drainEvents(t)
	names := eventNames(evts)
	assert.Contains(t, names, domain.EventDiscrepancyDetected)
	assert.Contains(t, names, domain.EventCriticalDiscrepancy)

	d := discrepancyOf(t, evts[0])
	assert.Equal(t, domain.DiscrepancyMissingLeg, d.Type)
	assert.Equal(t, domain.SeverityCritical, d.Severity)
	assert.Contains(t, d.Detail, "beta")
}

func TestSweepSizeMismatch(t *testing.T) {
	f := newFixture(t)
	pos := f.openPosition(t, "p1")

	ctx := context.Background()
	require.NoError(t, f.tracker.RecordExecution(ctx, domain.Execution{
		ID:       pos.ExecutionID,
		Order1ID: "o1",
		Order2ID: "o2",
		Status:   domain.ExecutionCompleted,
	}))
	f.venue1.SetOrderStatus("o1", domain.OrderResult{
		OrderID: "o1", Status: domain.OrderStatusFilled,
		FilledSize: decimal.NewFromInt(100), FilledPrice: decimal.NewFromFloat(0.47),
	})
	// The venue reports 10% less than what was recorded at open.
	f.venue2.SetOrderStatus("o2", domain.OrderResult{
		OrderID: "o2", Status: domain.OrderStatusFilled,
		FilledSize: decimal.NewFromInt(90), FilledPrice: decimal.NewFromFloat(0.47),
	})

	require.NoError(t, f.monitor.Sweep(ctx))

	var mismatch *domain.Discrepancy
	for _, evt := range f.drainEvents(t) {
		if _, ok := evt["discrepancy"]; !ok {
			continue
		}
		d := discrepancyOf(t, evt)
		if d.Type == domain.DiscrepancySizeMismatch {
			mismatch = &d
			break
		}
	}
	require.NotNil(t, mismatch)
	assert.Equal(t, domain.SeverityHigh, mismatch.Severity)
	assert.Contains(t, mismatch.Detail, "beta")
}

func TestSweepWithinSizeTolerance(t *testing.T) {
	f := newFixture(t)
	pos := f.openPosition(t, "p1")

	ctx := context.Background()
	require.NoError(t, f.tracker.RecordExecution(ctx, domain.Execution{
		ID:       pos.ExecutionID,
		Order1ID: "o1",
		Order2ID: "o2",
		Status:   domain.ExecutionCompleted,
	}))
	f.venue1.SetOrderStatus("o1", domain.OrderResult{
		OrderID: "o1", Status: domain.OrderStatusFilled, FilledSize: decimal.NewFromInt(100),
	})
	// Half a percent drift stays under the 1% tolerance.
	f.venue2.SetOrderStatus("o2", domain.OrderResult{
		OrderID: "o2", Status: domain.OrderStatusFilled, FilledSize: decimal.NewFromFloat(99.5),
	})

	require.NoError(t, f.monitor.Sweep(ctx))

	for _, evt := range f.drainEvents(t) {
		if _, ok := evt["discrepancy"]; ok {
			t.Fatalf("unexpected discrepancy: %s", evt["discrepancy"])
		}
	}
}

func TestSweepResolutionDivergence(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, "p1")
	f.venue1.SetMarket(domain.Market{ID: "m1", Resolved: true, Outcome: domain.SideYes})
	f.venue2.SetMarket(domain.Market{ID: "m2", Resolved: true, Outcome: domain.SideNo})

	require.NoError(t, f.monitor.Sweep(context.Background()))

	evts := f.drainEvents(t)
	d := discrepancyOf(t, evts[0])
	assert.Equal(t, domain.DiscrepancyResolutionDivergence, d.Type)
	assert.Equal(t, domain.SeverityCritical, d.Severity)
	assert.Contains(t, eventNames(evts), domain.EventCriticalDiscrepancy)
}

func TestSweepPrematureResolution(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, "p1")
	f.venue1.SetMarket(domain.Market{ID: "m1", Resolved: true, Outcome: domain.SideYes})

	require.NoError(t, f.monitor.Sweep(context.Background()))

	evts := f.drainEvents(t)
	d := discrepancyOf(t, evts[0])
	assert.Equal(t, domain.DiscrepancyPrematureResolution, d.Type)
	assert.Equal(t, domain.SeverityMedium, d.Severity)
	assert.NotContains(t, eventNames(evts), domain.EventCriticalDiscrepancy)
}

func TestSweepIsolatesPositionFailures(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, "healthy")

	// A position referencing a venue nobody registered.
	require.NoError(t, f.tracker.OpenPosition(context.Background(), domain.Position{
		ID:        "broken",
		Venue1:    "gamma",
		Venue2:    "beta",
		Market1ID: "m1",
		Market2ID: "m2",
		Side1:     domain.SideYes,
		Side2:     domain.SideNo,
		Size:      decimal.NewFromInt(10),
		TotalCost: decimal.NewFromInt(9),
		OpenedAt:  time.Now().UTC(),
	}))

	require.NoError(t, f.monitor.Sweep(context.Background()))

	names := eventNames(f.drainEvents(t))
	assert.Contains(t, names, domain.EventMonitorError)
	assert.Contains(t, names, domain.EventPnLUpdated)
}

func TestSetIntervalRestartsTicker(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, time.Minute, f.monitor.Interval())
	f.monitor.SetInterval(20 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, f.monitor.Interval())

	// A second change while the restart signal is still pending must not block.
	f.monitor.SetInterval(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, f.monitor.Interval())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.monitor.Run(ctx) }()

	// The loop ticks at the new interval and sweeps without positions.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
