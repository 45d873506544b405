package feed

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

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/events"
)

func TestRedisSourceForwardsOpportunities(t *testing.T) {
	bus := events.NewMemoryBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := NewRedisSource(bus, "", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan domain.Opportunity, 4)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	// Give the subscriber a moment to register.
	time.Sleep(20 * time.Millisecond)

	opp := domain.Opportunity{
		ID:        "opp-1",
		Venue1:    "alpha",
		Venue2:    "beta",
		MaxSize:   decimal.NewFromInt(100),
		ExpiresAt: time.Now().UTC().Add(time.Minute),
	}
	payload, err := json.Marshal(opp)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelOpportunities, payload))

	// Garbage and expired messages are dropped silently.
	require.NoError(t, bus.Publish(ctx, domain.ChannelOpportunities, []byte("{not json")))
	expired := opp
	expired.ID = "opp-expired"
	expired.ExpiresAt = time.Now().UTC().Add(-time.Second)
	stale, err := json.Marshal(expired)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelOpportunities, stale))

	select {
	case got := <-out:
		assert.Equal(t, "opp-1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("opportunity never forwarded")
	}

	select {
	case got := <-out:
		t.Fatalf("unexpected second opportunity %s", got.ID)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("source did not stop")
	}
}

func TestChanSourceForwardsUntilClosed(t *testing.T) {
	in := make(chan domain.Opportunity, 2)
	src := NewChanSource(in)

	out := make(chan domain.Opportunity, 2)
	in <- domain.Opportunity{ID: "a"}
	in <- domain.Opportunity{ID: "b"}
	close(in)

	require.NoError(t, src.Run(context.Background(), out))
	assert.Equal(t, "a", (<-out).ID)
	assert.Equal(t, "b", (<-out).ID)
}
