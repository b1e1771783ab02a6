// Package strategy hosts the trading strategies and their registry. A
// strategy is a pure decision function over market state; everything with a
// side effect (risk, rate limits, venue calls) lives downstream of the
// signals it emits.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dkoval/gotrader/internal/domain"
)

// Registry manages a named collection of strategies that can be looked up at
// runtime. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]domain.Strategy
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]domain.Strategy)}
}

// Register adds a strategy under its own name. Registering the same name
// twice replaces the previous entry.
func (r *Registry) Register(s domain.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (domain.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return s, nil
}

// All returns the registered strategies ordered by name, so evaluation order
// is deterministic across runs.
func (r *Registry) All() []domain.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]domain.Strategy, 0, len(names))
	for _, n := range names {
		out = append(out, r.strategies[n])
	}
	return out
}

// Names returns the registered strategy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
