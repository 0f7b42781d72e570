// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: render/binding.go
// Summary: Holds the single active backend of a session.

package render

import (
	"context"
	"fmt"

	"pkt.systems/pslog"

	"github.com/framegrace/deskview/client"
)

// Binding owns at most one active backend.
type Binding struct {
	registry *Registry
	logger   pslog.Logger
	backend  Backend
}

// NewBinding returns an empty binding drawing factories from registry.
func NewBinding(registry *Registry, logger pslog.Logger) *Binding {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Binding{registry: registry, logger: logger}
}

// Backend returns the active backend or nil.
func (b *Binding) Backend() Backend {
	return b.backend
}

// Bind replaces the active backend. The previous backend is destroyed
// before the new one is created; when it did not keep the store current its
// visible pixels are synced back first. Candidates are tried in preference
// then priority order; the first one that constructs wins.
func (b *Binding) Bind(pref Kind, store *client.FrameStore, surface Surface) (Backend, error) {
	b.Release(store)

	var lastErr error
	for _, kind := range b.registry.Candidates(pref) {
		entry, ok := b.registry.Get(kind)
		if !ok {
			continue
		}
		if !entry.Available() {
			b.log().Debug("renderer unavailable", "kind", kind)
			lastErr = fmt.Errorf("%w: %s", ErrUnavailable, kind)
			continue
		}
		backend, err := entry.Factory(store, surface)
		if err != nil {
			b.log().Warn("renderer init failed", "kind", kind, "err", err)
			lastErr = err
			continue
		}
		b.backend = backend
		b.log().Info("renderer selected", "kind", backend.Kind(), "name", backend.Name(), "preferred", pref)
		return backend, nil
	}
	if lastErr == nil {
		return nil, ErrNoBackend
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBackend, lastErr)
}

// Release destroys the active backend, syncing its pixels into store first
// when the backend was not authoritative. store may be nil.
func (b *Binding) Release(store *client.FrameStore) {
	prev := b.backend
	if prev == nil {
		return
	}
	b.backend = nil
	if store != nil && !prev.Authoritative() {
		store.SyncFromVisible(prev.Visible())
	}
	prev.Destroy()
}

func (b *Binding) log() pslog.Logger {
	return b.logger
}
