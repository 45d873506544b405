// Package venue provides the registry of connected venue clients and a
// simulated in-memory venue for paper trading and tests. Real exchange
// adapters implement domain.VenueClient in their own packages and register
// themselves here.
package venue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Registry is a thread-safe name-to-client lookup for venue clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]domain.VenueClient
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]domain.VenueClient)}
}

// Register adds a client under its own name, replacing any previous client
// with the same name.
func (r *Registry) Register(client domain.VenueClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Name()] = client
}

// Get returns the client registered under name, or domain.ErrUnknownVenue.
func (r *Registry) Get(name string) (domain.VenueClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("venue %q: %w", name, domain.ErrUnknownVenue)
	}
	return client, nil
}

// Names returns the registered venue names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
