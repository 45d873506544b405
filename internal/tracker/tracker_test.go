package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/events"
	"github.com/alanyoungcy/crossarb/internal/store/memory"
)

func newTracker(t *testing.T, total int64) (*Tracker, *memory.Ledger) {
	t.Helper()
	ledger := memory.NewLedger(decimal.NewFromInt(total))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ledger, events.NewMemoryBus(), logger), ledger
}

func TestOpenPositionMovesCapital(t *testing.T) {
	trk, _ := newTracker(t, 1000)
	ctx := context.Background()

	err := trk.OpenPosition(ctx, domain.Position{
		ID:        "p1",
		Size:      decimal.NewFromInt(100),
		TotalCost: decimal.NewFromInt(96),
		OpenedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)

	capital, err := trk.GetCapitalStatus(ctx)
	require.NoError(t, err)
	assert.True(t, capital.Available.Equal(decimal.NewFromInt(904)))
	assert.True(t, capital.Allocated.Equal(decimal.NewFromInt(96)))
	assert.Equal(t, 1, capital.OpenPositions)
}

func TestOpenPositionInsufficientCapital(t *testing.T) {
	trk, _ := newTracker(t, 50)
	ctx := context.Background()

	err := trk.OpenPosition(ctx, domain.Position{
		ID:        "p1",
		Size:      decimal.NewFromInt(100),
		TotalCost: decimal.NewFromInt(96),
		OpenedAt:  time.Now().UTC(),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientCapital)

	capital, err := trk.GetCapitalStatus(ctx)
	require.NoError(t, err)
	assert.True(t, capital.Available.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 0, capital.OpenPositions)
}

func TestClosePositionRealizesProfit(t *testing.T) {
	trk, _ := newTracker(t, 1000)
	ctx := context.Background()

	require.NoError(t, trk.OpenPosition(ctx, domain.Position{
		ID:        "p1",
		Size:      decimal.NewFromInt(100),
		TotalCost: decimal.NewFromInt(96),
		OpenedAt:  time.Now().UTC(),
	}))
	// The winning side pays $1 per contract.
	require.NoError(t, trk.ClosePosition(ctx, "p1", decimal.NewFromInt(100), time.Now().UTC()))

	capital, err := trk.GetCapitalStatus(ctx)
	require.NoError(t, err)
	assert.True(t, capital.Allocated.IsZero())
	assert.True(t, capital.Available.Equal(decimal.NewFromInt(1004)))
	assert.True(t, capital.Total.Equal(decimal.NewFromInt(1004)))
	assert.True(t, capital.RealizedProfit.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, 0, capital.OpenPositions)
	assert.Equal(t, int64(1), capital.TradeCount)

	pos, err := trk.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionResolved, pos.Status)
	require.NotNil(t, pos.ResolvedAt)
}

func TestClosePositionUnknown(t *testing.T) {
	trk, _ := newTracker(t, 1000)
	err := trk.ClosePosition(context.Background(), "nope", decimal.NewFromInt(10), time.Now().UTC())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecutionLifecycle(t *testing.T) {
	trk, _ := newTracker(t, 1000)
	ctx := context.Background()

	exec := domain.Execution{
		ID:            "e1",
		OpportunityID: "opp-1",
		PlannedSize:   decimal.NewFromInt(100),
		Status:        domain.ExecutionPending,
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, trk.RecordExecution(ctx, exec))

	now := time.Now().UTC()
	exec.Status = domain.ExecutionCompleted
	exec.FilledSize = decimal.NewFromInt(100)
	exec.CompletedAt = &now
	require.NoError(t, trk.UpdateExecution(ctx, exec))

	got, err := trk.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, got.Status)
	assert.True(t, got.FilledSize.Equal(decimal.NewFromInt(100)))
}

func TestDailyDeployedAggregates(t *testing.T) {
	trk, _ := newTracker(t, 10_000)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, trk.OpenPosition(ctx, domain.Position{
			ID:        fmt.Sprintf("p%d", i),
			Size:      decimal.NewFromInt(100),
			TotalCost: decimal.NewFromInt(96),
			OpenedAt:  now,
		}))
	}

	deployed, err := trk.DailyDeployed(ctx, now)
	require.NoError(t, err)
	assert.True(t, deployed.Equal(decimal.NewFromInt(300)), "got %s", deployed)

	yesterday, err := trk.DailyDeployed(ctx, now.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.True(t, yesterday.IsZero())
}

// Random interleavings of opens and closes must never leave the capital
// counter claiming more than it has.
func TestCapitalInvariantUnderRandomSequences(t *testing.T) {
	trk, _ := newTracker(t, 5000)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	var open []string
	next := 0
	checkInvariant := func() {
		capital, err := trk.GetCapitalStatus(ctx)
		require.NoError(t, err)
		sum := capital.Allocated.Add(capital.Available)
		assert.True(t, sum.LessThanOrEqual(capital.Total),
			"allocated %s + available %s > total %s", capital.Allocated, capital.Available, capital.Total)
		assert.False(t, capital.Available.IsNegative())
		assert.False(t, capital.Allocated.IsNegative())
	}

	for i := 0; i < 300; i++ {
		if len(open) > 0 && rng.Intn(2) == 0 {
			idx := rng.Intn(len(open))
			id := open[idx]
			pos, err := trk.GetPosition(ctx, id)
			require.NoError(t, err)
			// Payout between a total loss and the full $1 per contract.
			payout := pos.Size.Mul(decimal.NewFromFloat(rng.Float64()))
			require.NoError(t, trk.ClosePosition(ctx, id, payout.Round(2), time.Now().UTC()))
			open = append(open[:idx], open[idx+1:]...)
		} else {
			id := fmt.Sprintf("p%d", next)
			next++
			size := decimal.NewFromInt(rng.Int63n(200) + 1)
			cost := size.Mul(decimal.NewFromFloat(0.9 + rng.Float64()*0.09)).Round(2)
			err := trk.OpenPosition(ctx, domain.Position{
				ID:        id,
				Size:      size,
				TotalCost: cost,
				OpenedAt:  time.Now().UTC(),
			})
			if err != nil {
				require.ErrorIs(t, err, domain.ErrInsufficientCapital)
			} else {
				open = append(open, id)
			}
		}
		checkInvariant()
	}
}
