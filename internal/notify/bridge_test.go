package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/events"
)

type captureSender struct {
	mu     sync.Mutex
	titles []string
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	return nil
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.titles...)
}

func TestBridgeForwardsSelectedEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewMemoryBus()
	sender := &captureSender{}
	notifier := NewNotifier([]Sender{sender}, nil, logger)
	bridge := NewBridge(bus, notifier, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.ChannelExecutions,
		[]byte(`{"event":"execution_failed","execution_id":"e1","error":"leg2 status rejected"}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelMonitor,
		[]byte(`{"event":"critical_discrepancy","discrepancy":{"position_id":"p1","type":"missing_leg"}}`)))
	// Routine events stay quiet.
	require.NoError(t, bus.Publish(ctx, domain.ChannelExecutions,
		[]byte(`{"event":"execution_started","execution_id":"e2"}`)))

	assert.Eventually(t, func() bool {
		return len(sender.sent()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"Execution failed", "CRITICAL position discrepancy"}, sender.sent())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestNotifierEventFilter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &captureSender{}
	notifier := NewNotifier([]Sender{sender}, []string{"execution_failed"}, logger)

	require.NoError(t, notifier.Notify(context.Background(), "execution_completed", "done", "x"))
	require.NoError(t, notifier.Notify(context.Background(), "execution_failed", "failed", "x"))

	assert.Equal(t, []string{"failed"}, sender.sent())
}
