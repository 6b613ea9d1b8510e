package gateway

import (
	"fmt"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/ports/adapter"
)

var _ adapter.Registry = (*Registry)(nil)

// Registry holds the configured gateways by name. The set is fixed at
// startup, so lookups need no locking.
type Registry struct {
	gateways map[string]adapter.Gateway
}

func NewRegistry(gws ...adapter.Gateway) (*Registry, error) {
	m := make(map[string]adapter.Gateway, len(gws))
	for _, gw := range gws {
		name := gw.Name()
		if name == "" {
			return nil, fmt.Errorf("gateway with empty name: %w", domain.ErrInvalidArgument)
		}
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("duplicate gateway %q: %w", name, domain.ErrInvalidArgument)
		}
		m[name] = gw
	}
	return &Registry{gateways: m}, nil
}

func (r *Registry) Resolve(name string) (adapter.Gateway, error) {
	gw, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("gateway %q: %w", name, domain.ErrUnknownGateway)
	}
	return gw, nil
}
