package provider

import (
	"context"
	"fmt"

	"github.com/campwatch/campwatch/internal/availability"
)

// Mux routes searches to the client registered for each entity's provider.
type Mux struct {
	clients map[string]availability.Provider
}

// NewMux creates an empty provider mux.
func NewMux() *Mux {
	return &Mux{clients: make(map[string]availability.Provider)}
}

// Register adds a client under a provider name, replacing any previous one.
func (m *Mux) Register(name string, client availability.Provider) {
	m.clients[name] = client
}

// Search dispatches to the client for entity.Provider.
func (m *Mux) Search(ctx context.Context, entity availability.WatchedEntity, window availability.SearchWindow) (availability.Observation, error) {
	client, ok := m.clients[entity.Provider]
	if !ok {
		return availability.Observation{}, fmt.Errorf("no client registered for provider %q", entity.Provider)
	}
	return client.Search(ctx, entity, window)
}
