// Package feed delivers detected opportunities from the upstream scanner into
// the executor's channel. The scanner itself is a separate system; this
// package only adapts its publish surface to the intake channel.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// RedisSource subscribes to the scanner's bus channel and decodes each
// message into an Opportunity.
type RedisSource struct {
	bus     domain.SignalBus
	channel string
	logger  *slog.Logger
}

func NewRedisSource(bus domain.SignalBus, channel string, logger *slog.Logger) *RedisSource {
	if strings.TrimSpace(channel) == "" {
		channel = domain.ChannelOpportunities
	}
	return &RedisSource{
		bus:     bus,
		channel: channel,
		logger:  logger.With(slog.String("component", "feed")),
	}
}

// Run forwards decoded opportunities to out until ctx is cancelled. Messages
// that fail to decode or arrive already expired are dropped with a log line;
// a full out channel also drops, matching the bus's fire-and-forget delivery.
func (s *RedisSource) Run(ctx context.Context, out chan<- domain.Opportunity) error {
	ch, err := s.bus.Subscribe(ctx, s.channel)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "feed: started", slog.String("channel", s.channel))
	defer s.logger.Info("feed: stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var opp domain.Opportunity
			if err := json.Unmarshal(data, &opp); err != nil {
				s.logger.DebugContext(ctx, "feed: undecodable message",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			if opp.ID == "" {
				continue
			}
			if opp.Expired(time.Now().UTC()) {
				s.logger.DebugContext(ctx, "feed: opportunity already expired",
					slog.String("opportunity_id", opp.ID),
				)
				continue
			}
			select {
			case out <- opp:
			default:
				s.logger.WarnContext(ctx, "feed: intake channel full, dropping",
					slog.String("opportunity_id", opp.ID),
				)
			}
		}
	}
}

// ChanSource adapts an in-process channel of opportunities to the
// OpportunitySource surface, for paper trading and tests.
type ChanSource struct {
	in <-chan domain.Opportunity
}

func NewChanSource(in <-chan domain.Opportunity) *ChanSource {
	return &ChanSource{in: in}
}

func (s *ChanSource) Run(ctx context.Context, out chan<- domain.Opportunity) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-s.in:
			if !ok {
				return nil
			}
			select {
			case out <- opp:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

var (
	_ domain.OpportunitySource = (*RedisSource)(nil)
	_ domain.OpportunitySource = (*ChanSource)(nil)
)
