package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Bridge subscribes to the core's bus channels and turns selected events into
// operator notifications. Alerting closes the loop to humans; nothing here
// feeds back into execution.
type Bridge struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

func NewBridge(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_bridge")),
	}
}

// Run consumes both bus channels until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, channel := range []string{domain.ChannelExecutions, domain.ChannelMonitor} {
		ch, err := b.bus.Subscribe(gctx, channel)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", channel, err)
		}
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case payload, ok := <-ch:
					if !ok {
						return nil
					}
					b.handle(gctx, payload)
				}
			}
		})
	}
	b.logger.InfoContext(ctx, "notify: bridge started")
	defer b.logger.Info("notify: bridge stopped")
	return g.Wait()
}

// busEvent is the envelope every core event shares.
type busEvent struct {
	Event       string          `json:"event"`
	ExecutionID string          `json:"execution_id"`
	PositionID  string          `json:"position_id"`
	Error       string          `json:"error"`
	Discrepancy json.RawMessage `json:"discrepancy"`
}

func (b *Bridge) handle(ctx context.Context, payload []byte) {
	var evt busEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		b.logger.DebugContext(ctx, "notify: undecodable event", slog.String("error", err.Error()))
		return
	}

	var title, message string
	switch evt.Event {
	case domain.EventExecutionCompleted:
		title = "Execution completed"
		message = fmt.Sprintf("Execution %s completed.\n%s", evt.ExecutionID, string(payload))
	case domain.EventExecutionFailed:
		title = "Execution failed"
		message = fmt.Sprintf("Execution %s failed: %s", evt.ExecutionID, evt.Error)
	case domain.EventRollbackCompleted:
		title = "Rollback completed"
		message = fmt.Sprintf("Execution %s rolled back.", evt.ExecutionID)
	case domain.EventCriticalDiscrepancy:
		title = "CRITICAL position discrepancy"
		message = string(evt.Discrepancy)
	case domain.EventDiscrepancyDetected:
		title = "Position discrepancy"
		message = string(evt.Discrepancy)
	case domain.EventMonitorError:
		title = "Monitor error"
		message = evt.Error
	default:
		return
	}

	if err := b.notifier.Notify(ctx, evt.Event, title, message); err != nil {
		b.logger.WarnContext(ctx, "notify: delivery failed",
			slog.String("event", evt.Event),
			slog.String("error", err.Error()),
		)
	}
}
