package engine

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
	"github.com/alanyoungcy/crossarb/internal/risk"
	"github.com/alanyoungcy/crossarb/internal/store/memory"
	"github.com/alanyoungcy/crossarb/internal/tracker"
	"github.com/alanyoungcy/crossarb/internal/venue"
)

type harness struct {
	engine  *Engine
	tracker *tracker.Tracker
	ledger  *memory.Ledger
	bus     *events.MemoryBus
	venue1  *venue.PaperClient
	venue2  *venue.PaperClient
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledger := memory.NewLedger(decimal.NewFromInt(10_000))
	bus := events.NewMemoryBus()
	trk := tracker.New(ledger, bus, logger)

	riskCfg := config.RiskConfig{
		TotalCapital:       10_000,
		MinNetProfitPct:    1.0,
		MinPositionSize:    10,
		MaxPositionSize:    1000,
		MaxOpenPositions:   10,
		MaxDailyDeployment: 5000,
		SlippageBase:       0.001,
		SpreadCost:         0.001,
		ImpactK:            0.1,
		SlippageTolerance:  0.05,
	}
	riskMgr := risk.NewManager(riskCfg, trk, logger)

	v1 := venue.NewPaperClient("alpha", decimal.NewFromInt(10_000))
	v2 := venue.NewPaperClient("beta", decimal.NewFromInt(10_000))
	registry := venue.NewRegistry()
	registry.Register(v1)
	registry.Register(v2)

	engineCfg := config.EngineConfig{
		FreshnessBudgetMs:  500,
		ExecutionTimeoutMs: 2000,
		PrepareTimeoutMs:   3000,
		RollbackTimeoutMs:  1000,
	}
	eng := New(engineCfg, riskMgr, trk, registry, bus, logger)

	return &harness{engine: eng, tracker: trk, ledger: ledger, bus: bus, venue1: v1, venue2: v2}
}

// seedMarkets installs quotes where yes on alpha asks 0.47 and no on beta asks
// 0.47, a profitable complementary pair at $0.02 total fees.
func (h *harness) seedMarkets() {
	h.venue1.SetQuote("m1", domain.Quote{
		MarketID: "m1",
		YesBid:   decimal.NewFromFloat(0.45), YesAsk: decimal.NewFromFloat(0.47), YesLiquidity: decimal.NewFromInt(5000),
		NoBid: decimal.NewFromFloat(0.51), NoAsk: decimal.NewFromFloat(0.53), NoLiquidity: decimal.NewFromInt(5000),
	})
	h.venue2.SetQuote("m2", domain.Quote{
		MarketID: "m2",
		YesBid:   decimal.NewFromFloat(0.49), YesAsk: decimal.NewFromFloat(0.51), YesLiquidity: decimal.NewFromInt(5000),
		NoBid: decimal.NewFromFloat(0.45), NoAsk: decimal.NewFromFloat(0.47), NoLiquidity: decimal.NewFromInt(5000),
	})
}

func testOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:           "opp-1",
		Venue1:       "alpha",
		Venue2:       "beta",
		Market1ID:    "m1",
		Market2ID:    "m2",
		Side1:        domain.SideYes,
		Side2:        domain.SideNo,
		NetProfitPct: 4.0,
		TotalCost:    decimal.NewFromFloat(0.96),
		MaxSize:      decimal.NewFromInt(5000),
		Fees: domain.FeeBreakdown{
			Leg1Fee: decimal.NewFromFloat(0.01),
			Leg2Fee: decimal.NewFromFloat(0.01),
		},
		Liquidity1: decimal.NewFromInt(5000),
		Liquidity2: decimal.NewFromInt(5000),
		DetectedAt: time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(time.Minute),
	}
}

func TestExecuteSuccessOpensPosition(t *testing.T) {
	h := newHarness(t)
	h.seedMarkets()
	ctx := context.Background()
	opp := testOpportunity()
	require.NoError(t, h.tracker.TrackOpportunity(ctx, opp))

	res, err := h.engine.Execute(ctx, opp, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, domain.PhaseCompleted, res.Phase)
	assert.NotEmpty(t, res.Order1ID)
	assert.NotEmpty(t, res.Order2ID)
	assert.True(t, res.ActualSize.Equal(decimal.NewFromInt(100)), "got %s", res.ActualSize)
	// Both legs filled 100 at 0.47.
	assert.True(t, res.ActualCost.Equal(decimal.NewFromInt(94)), "got %s", res.ActualCost)
	assert.True(t, res.ActualProfit.Equal(decimal.NewFromInt(6)), "got %s", res.ActualProfit)

	exec, err := h.tracker.GetExecution(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)

	positions, err := h.tracker.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, res.ExecutionID, positions[0].ExecutionID)
	assert.True(t, positions[0].Entry1.Equal(decimal.NewFromFloat(0.47)))

	capital, err := h.tracker.GetCapitalStatus(ctx)
	require.NoError(t, err)
	assert.True(t, capital.Allocated.Equal(res.ActualCost))
	assert.Equal(t, 1, capital.OpenPositions)
}

func TestExecuteRejectsStaleQuotes(t *testing.T) {
	h := newHarness(t)
	h.seedMarkets()
	h.venue2.QuoteDelay = 600 * time.Millisecond

	res, err := h.engine.Execute(context.Background(), testOpportunity(), decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, domain.PhasePrepare, res.Phase)
	assert.Contains(t, res.Error, "budget")

	// Nothing durable was written for an attempt that died in prepare.
	_, err = h.tracker.GetExecution(context.Background(), res.ExecutionID)
	assert.Error(t, err)
}

func TestExecuteRejectsUnprofitableFreshQuotes(t *testing.T) {
	h := newHarness(t)
	h.seedMarkets()
	// Prices moved against the plan since detection.
	h.venue1.SetQuote("m1", domain.Quote{
		MarketID: "m1",
		YesAsk:   decimal.NewFromFloat(0.55), YesLiquidity: decimal.NewFromInt(5000),
		NoAsk: decimal.NewFromFloat(0.47), NoLiquidity: decimal.NewFromInt(5000),
	})

	res, err := h.engine.Execute(context.Background(), testOpportunity(), decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, domain.PhasePrepare, res.Phase)
	assert.Contains(t, res.Error, "no profit")
}

func TestExecuteRejectsSizeOverLiveLiquidity(t *testing.T) {
	h := newHarness(t)
	h.seedMarkets()
	h.venue2.SetQuote("m2", domain.Quote{
		MarketID: "m2",
		YesAsk:   decimal.NewFromFloat(0.51), YesLiquidity: decimal.NewFromInt(5000),
		NoAsk: decimal.NewFromFloat(0.47), NoLiquidity: decimal.NewFromInt(50),
	})

	res, err := h.engine.Execute(context.Background(), testOpportunity(), decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, domain.PhasePrepare, res.Phase)
	assert.Contains(t, res.Error, "liquidity")
}

func TestExecuteCommitTimeoutRollsBack(t *testing.T) {
	h := newHarness(t)
	h.seedMarkets()
	// Leg 2 never answers inside the commit window.
	h.venue2.OrderDelay = 500 * time.Millisecond

	hedged := make(chan string, 1)
	h.engine.Hedge = func(_ context.Context, executionID, venueName string, _ domain.OrderResult) {
		hedged <- venueName
	}

	ctx := context.Background()
	opp := testOpportunity()
	require.NoError(t, h.tracker.TrackOpportunity(ctx, opp))

	h.engine.cfg.ExecutionTimeoutMs = 100
	res, err := h.engine.Execute(ctx, opp, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, domain.PhaseCommit, res.Phase)
	assert.NotEmpty(t, res.Order1ID)
	assert.Empty(t, res.Order2ID)
	assert.NotEmpty(t, res.RollbackReason)

	exec, err := h.tracker.GetExecution(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRolledBack, exec.Status)
	assert.NotEmpty(t, exec.FailureReason)

	// The filled leg was handed to the hedge hook, never hedged in-engine.
	select {
	case v := <-hedged:
		assert.Equal(t, "alpha", v)
	case <-time.After(time.Second):
		t.Fatal("hedge hook never called")
	}

	positions, err := h.tracker.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestExecuteRejectedLegRollsBackBoth(t *testing.T) {
	h := newHarness(t)
	h.seedMarkets()
	h.venue2.RejectOrders = true

	ctx := context.Background()
	opp := testOpportunity()
	require.NoError(t, h.tracker.TrackOpportunity(ctx, opp))

	res, err := h.engine.Execute(ctx, opp, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, domain.PhaseCommit, res.Phase)
	assert.NotEmpty(t, res.Order1ID)
	assert.NotEmpty(t, res.Order2ID)
	assert.Contains(t, res.Error, "rejected")

	// Rollback cancels are idempotent; a second sweep must be a no-op.
	assert.NoError(t, h.venue1.CancelOrder(ctx, res.Order1ID))
	assert.NoError(t, h.venue2.CancelOrder(ctx, res.Order2ID))
}

func TestExecuteActualSizeIsMinimumFill(t *testing.T) {
	h := newHarness(t)
	h.seedMarkets()
	h.venue2.FillFraction = decimal.NewFromFloat(0.5)

	ctx := context.Background()
	opp := testOpportunity()
	require.NoError(t, h.tracker.TrackOpportunity(ctx, opp))

	res, err := h.engine.Execute(ctx, opp, decimal.NewFromInt(100))
	require.NoError(t, err)

	require.True(t, res.Success)
	assert.True(t, res.ActualSize.Equal(decimal.NewFromInt(50)), "got %s", res.ActualSize)
	// Cost reflects what was actually paid on each leg.
	assert.True(t, res.ActualCost.Equal(decimal.NewFromFloat(70.5)), "got %s", res.ActualCost)
}

func TestExecuteRiskRejectionSkipsVenues(t *testing.T) {
	h := newHarness(t)
	h.seedMarkets()

	ctx := context.Background()
	opp := testOpportunity()
	opp.NetProfitPct = 0.2
	require.NoError(t, h.tracker.TrackOpportunity(ctx, opp))

	res, err := h.engine.Execute(ctx, opp, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, domain.PhasePrepare, res.Phase)
	assert.Contains(t, res.Error, "risk rejected")
	assert.Empty(t, res.Order1ID)

	status, err := h.ledger.OpportunityStatus(opp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpportunityRejected, status)
}

func TestExecuteEmitsPhaseOrderedEvents(t *testing.T) {
	h := newHarness(t)
	h.seedMarkets()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := h.bus.Subscribe(ctx, domain.ChannelExecutions)
	require.NoError(t, err)

	opp := testOpportunity()
	require.NoError(t, h.tracker.TrackOpportunity(ctx, opp))
	res, err := h.engine.Execute(ctx, opp, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.True(t, res.Success)

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 4 {
		select {
		case payload := <-ch:
			var evt struct {
				Event string `json:"event"`
			}
			require.NoError(t, json.Unmarshal(payload, &evt))
			got = append(got, evt.Event)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	assert.Equal(t, []string{
		domain.EventExecutionStarted,
		domain.EventPrepareCompleted,
		domain.EventPositionOpened,
		domain.EventExecutionCompleted,
	}, got)
}
