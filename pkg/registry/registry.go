// Package registry holds the configured set of scanner adapters for a run.
package registry

import (
	"fmt"
	"sort"

	"github.com/scangate/scangate/pkg/adapter"
)

// Registry is an ordered mapping from scanner id to configured adapter
// instance. It only supports lookup and iteration; enable/disable is applied
// per run without mutating the adapters.
type Registry struct {
	order    []string
	adapters map[string]adapter.Adapter
	disabled map[string]bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		adapters: make(map[string]adapter.Adapter),
		disabled: make(map[string]bool),
	}
}

// Register adds an adapter. Registering the same id twice is an error.
func (r *Registry) Register(ad adapter.Adapter) error {
	id := ad.ID()
	if _, ok := r.adapters[id]; ok {
		return fmt.Errorf("scanner %q is already registered", id)
	}
	r.adapters[id] = ad
	r.order = append(r.order, id)
	return nil
}

// Disable marks a scanner as inactive for this run. Unknown ids are ignored;
// configuration validation already rejected them.
func (r *Registry) Disable(id string) {
	r.disabled[id] = true
}

// Get returns the adapter for an id.
func (r *Registry) Get(id string) (adapter.Adapter, bool) {
	ad, ok := r.adapters[id]
	return ad, ok
}

// IDs returns all registered scanner ids sorted ascending.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Strings(ids)
	return ids
}

// Active returns the enabled adapters sorted by scanner id, which fixes the
// ordering of every downstream result sequence.
func (r *Registry) Active() []adapter.Adapter {
	var active []adapter.Adapter
	for _, id := range r.IDs() {
		if r.disabled[id] {
			continue
		}
		active = append(active, r.adapters[id])
	}
	return active
}

// Disabled returns the disabled scanner ids sorted ascending. They still
// appear in the final report as SKIPPED.
func (r *Registry) Disabled() []string {
	var ids []string
	for _, id := range r.IDs() {
		if r.disabled[id] {
			ids = append(ids, id)
		}
	}
	return ids
}
