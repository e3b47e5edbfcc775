package payment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/erp/settlement/internal/domain/refund"
)

// Registry holds the configured gateways keyed by refund method
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]refund.Gateway
}

// NewRegistry creates a registry with the given gateways
func NewRegistry(gateways ...refund.Gateway) *Registry {
	r := &Registry{gateways: make(map[string]refund.Gateway, len(gateways))}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds or replaces a gateway under its name
func (r *Registry) Register(g refund.Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Name()] = g
}

// Get returns the gateway registered under name
func (r *Registry) Get(name string) (refund.Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", refund.ErrGatewayNotConfigured, name)
	}
	return g, nil
}

// Has reports whether a gateway is registered under name
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.gateways[name]
	return ok
}

// Names lists the registered gateways in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.gateways)
	sort.Strings(names)
	return names
}

// Ensure Registry implements refund.GatewayRegistry
var _ refund.GatewayRegistry = (*Registry)(nil)
