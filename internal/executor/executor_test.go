package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

type fakeEngine struct {
	mu       sync.Mutex
	executed []struct {
		opp  domain.Opportunity
		size decimal.Decimal
	}
}

func (f *fakeEngine) Execute(_ context.Context, opp domain.Opportunity, size decimal.Decimal) (domain.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, struct {
		opp  domain.Opportunity
		size decimal.Decimal
	}{opp, size})
	return domain.ExecutionResult{ExecutionID: "e-" + opp.ID, Success: true, Phase: domain.PhaseCompleted}, nil
}

func (f *fakeEngine) calls() []struct {
	opp  domain.Opportunity
	size decimal.Decimal
} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]struct {
		opp  domain.Opportunity
		size decimal.Decimal
	}(nil), f.executed...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	tracked []string
}

func (f *fakeRecorder) TrackOpportunity(_ context.Context, opp domain.Opportunity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, opp.ID)
	return nil
}

func (f *fakeRecorder) UpdateOpportunityStatus(_ context.Context, _ string, _ domain.OpportunityStatus) error {
	return nil
}

func testOpp(id string) domain.Opportunity {
	return domain.Opportunity{
		ID:         id,
		Venue1:     "alpha",
		Venue2:     "beta",
		MaxSize:    decimal.NewFromInt(500),
		DetectedAt: time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(time.Minute),
	}
}

func newRunner(ch <-chan domain.Opportunity, eng *fakeEngine, rec *fakeRecorder) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.ExecutorConfig{MaxTradeSize: 200, DedupTTLSeconds: 120, ChannelBuffer: 16}
	return NewRunner(cfg, ch, eng, rec, logger)
}

func TestRunnerExecutesAndCapsSize(t *testing.T) {
	ch := make(chan domain.Opportunity, 4)
	eng := &fakeEngine{}
	rec := &fakeRecorder{}
	r := newRunner(ch, eng, rec)

	ch <- testOpp("opp-1")
	close(ch)
	require.NoError(t, r.Run(context.Background()))

	calls := eng.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "opp-1", calls[0].opp.ID)
	// MaxSize 500 capped to the configured per-trade limit.
	assert.True(t, calls[0].size.Equal(decimal.NewFromInt(200)), "got %s", calls[0].size)
	assert.Equal(t, []string{"opp-1"}, rec.tracked)
}

func TestRunnerDeduplicates(t *testing.T) {
	ch := make(chan domain.Opportunity, 4)
	eng := &fakeEngine{}
	r := newRunner(ch, eng, &fakeRecorder{})

	ch <- testOpp("opp-1")
	ch <- testOpp("opp-1")
	ch <- testOpp("opp-2")
	close(ch)
	require.NoError(t, r.Run(context.Background()))

	calls := eng.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "opp-1", calls[0].opp.ID)
	assert.Equal(t, "opp-2", calls[1].opp.ID)
}

func TestRunnerSkipsExpired(t *testing.T) {
	ch := make(chan domain.Opportunity, 4)
	eng := &fakeEngine{}
	r := newRunner(ch, eng, &fakeRecorder{})

	opp := testOpp("opp-1")
	opp.ExpiresAt = time.Now().UTC().Add(-time.Second)
	ch <- opp
	close(ch)
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, eng.calls())
}

func TestRunnerDrainsOnCancel(t *testing.T) {
	ch := make(chan domain.Opportunity, 4)
	eng := &fakeEngine{}
	r := newRunner(ch, eng, &fakeRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch <- testOpp("opp-1")
	ch <- testOpp("opp-2")

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// Buffered opportunities were still processed on the way out.
	assert.Len(t, eng.calls(), 2)
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup(20 * time.Millisecond)

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, d.IsDuplicate("a"))

	d.Cleanup()
	assert.True(t, d.IsDuplicate("a"))
}
