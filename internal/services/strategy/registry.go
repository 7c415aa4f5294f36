package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"FixedTime/internal/domain/service"
)

var (
	ErrUnknownStrategy   = errors.New("strategy: unknown provider id")
	ErrDuplicateStrategy = errors.New("strategy: provider id already registered")
)

// Metadata describes a registered provider and its default parameters.
type Metadata struct {
	ID          int                `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Defaults    map[string]float64 `json:"defaults"`
}

// Factory builds a provider instance from parameter overrides.
type Factory func(id int, params map[string]float64) (service.StrategyProvider, error)

type entry struct {
	meta    Metadata
	factory Factory
}

// Registry maps small integer ids to provider factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[int]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[int]entry)}
}

// NewDefaultRegistry registers the built-in providers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(IDEMACrossover, Metadata{
		Name:        "ema_crossover",
		Description: "Fast/slow EMA cross confirmed for N bars",
		Defaults:    emaCrossoverDefaults(),
	}, NewEMACrossover)
	_ = r.Register(IDEMARSI, Metadata{
		Name:        "ema_rsi",
		Description: "EMA trend filtered by RSI",
		Defaults:    emaRSIDefaults(),
	}, NewEMARSI)
	_ = r.Register(IDRSIReversal, Metadata{
		Name:        "rsi_reversal",
		Description: "RSI oversold/overbought mean reversion",
		Defaults:    rsiReversalDefaults(),
	}, NewRSIReversal)
	return r
}

// Register adds a provider factory under id.
func (r *Registry) Register(id int, meta Metadata, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateStrategy, id)
	}
	meta.ID = id
	r.entries[id] = entry{meta: meta, factory: f}
	return nil
}

// Build instantiates provider id with params merged over its defaults.
func (r *Registry) Build(id int, params map[string]float64) (service.StrategyProvider, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, id)
	}

	merged := make(map[string]float64, len(e.meta.Defaults)+len(params))
	for k, v := range e.meta.Defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return e.factory(id, merged)
}

// BuildAll instantiates every id with default params. An empty list builds all registered providers.
func (r *Registry) BuildAll(ids []int) ([]service.StrategyProvider, error) {
	if len(ids) == 0 {
		ids = r.IDs()
	}
	out := make([]service.StrategyProvider, 0, len(ids))
	for _, id := range ids {
		p, err := r.Build(id, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Registry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r *Registry) Metadata() []Metadata {
	ids := r.IDs()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id].meta)
	}
	return out
}

func param(p map[string]float64, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func intParam(p map[string]float64, key string, def int) int {
	return int(param(p, key, float64(def)))
}
