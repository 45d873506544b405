// Package events provides an in-process implementation of domain.SignalBus
// for paper trading and tests, mirroring the semantics of the Redis-backed
// bus: per-channel fan-out, payloads delivered in publish order, subscriber
// channels closed on context cancellation.
package events

import (
	"context"
	"sync"
)

// subscriber is one registered receiver on a channel.
type subscriber struct {
	ch chan []byte
}

// MemoryBus is a channel-based publish/subscribe bus. Publish never blocks on
// a slow subscriber; payloads a full subscriber cannot accept are dropped,
// matching the fire-and-forget delivery of Redis Pub/Sub.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*subscriber)}
}

// Publish delivers payload to every current subscriber of channel. Sends are
// non-blocking and happen under the bus lock, which also serializes them
// against subscriber teardown.
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs[channel] {
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a receiver on channel. The returned channel is closed
// when ctx is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := &subscriber{ch: make(chan []byte, 128)}

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, s := range subs {
			if s == sub {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}()

	return sub.ch, nil
}
