// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: render/registry.go
// Summary: Ordered registry of renderer backends with availability probes.

package render

import (
	"sort"
	"sync"

	"github.com/framegrace/deskview/client"
)

// Factory creates a backend painting into store and presenting to surface.
type Factory func(store *client.FrameStore, surface Surface) (Backend, error)

// Entry is one registered backend.
type Entry struct {
	Kind Kind
	// Priority determines fallback order (higher first).
	//   - 100: GPU
	//   - 50: worker offload
	//   - 10: software
	Priority  int
	Factory   Factory
	Available func() bool
}

// Registry holds backend factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]*Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Kind]*Entry)}
}

// DefaultRegistry returns a registry with the built-in backends.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindGPU, 100, NewGPU, GPUAvailable)
	r.Register(KindWorker, 50, NewWorker, WorkerAvailable)
	r.Register(KindSoftware, 10, NewSoftware, nil)
	return r
}

// Register adds or replaces a backend. A nil available func means always
// available.
func (r *Registry) Register(kind Kind, priority int, factory Factory, available func() bool) {
	if available == nil {
		available = func() bool { return true }
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[Kind]*Entry)
	}
	r.entries[kind] = &Entry{Kind: kind, Priority: priority, Factory: factory, Available: available}
}

// Get returns a copy of the entry for kind.
func (r *Registry) Get(kind Kind) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Candidates returns the kinds to try, in order: the preference first (when
// registered), then every other backend by descending priority.
func (r *Registry) Candidates(pref Kind) []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ordered := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].Kind < ordered[j].Kind
	})
	out := make([]Kind, 0, len(ordered))
	if _, ok := r.entries[pref]; ok && pref != KindAuto {
		out = append(out, pref)
	}
	for _, e := range ordered {
		if e.Kind != pref {
			out = append(out, e.Kind)
		}
	}
	return out
}
