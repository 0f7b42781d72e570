// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/trust.go
// Summary: Holds frames while an external decider judges the host identity.

package clientruntime

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/framegrace/deskview/protocol"
)

// ErrUntrusted is reported when a decider rejects the host.
var ErrUntrusted = errors.New("host identity rejected")

// TrustDecider judges a host identity. It may block (prompting a user, say);
// it is always called off the scheduler.
type TrustDecider interface {
	Decide(ctx context.Context, id protocol.ServerIdentity) (bool, error)
}

// TrustFunc adapts a function to TrustDecider.
type TrustFunc func(ctx context.Context, id protocol.ServerIdentity) (bool, error)

func (f TrustFunc) Decide(ctx context.Context, id protocol.ServerIdentity) (bool, error) {
	return f(ctx, id)
}

// AcceptAnyHost trusts every identity.
func AcceptAnyHost() TrustDecider {
	return TrustFunc(func(context.Context, protocol.ServerIdentity) (bool, error) {
		return true, nil
	})
}

// PinnedHosts trusts only the listed fingerprints (case-insensitive).
func PinnedHosts(fingerprints ...string) TrustDecider {
	pins := make([]string, 0, len(fingerprints))
	for _, fp := range fingerprints {
		pins = append(pins, strings.ToLower(strings.TrimSpace(fp)))
	}
	return TrustFunc(func(_ context.Context, id protocol.ServerIdentity) (bool, error) {
		return slices.Contains(pins, strings.ToLower(id.Fingerprint)), nil
	})
}

// trustGate buffers frame messages between a ServerIdentity and its decision.
type trustGate struct {
	holding  bool
	identity protocol.ServerIdentity
	held     [][]byte
}

func (g *trustGate) hold(id protocol.ServerIdentity) {
	g.holding = true
	g.identity = id
}

// admit returns false when msg was held.
func (g *trustGate) admit(msg []byte) bool {
	if !g.holding {
		return true
	}
	g.held = append(g.held, msg)
	return false
}

// release ends holding and returns the held messages in arrival order.
func (g *trustGate) release() [][]byte {
	held := g.held
	g.held = nil
	g.holding = false
	return held
}

func (g *trustGate) reset() {
	g.held = nil
	g.holding = false
	g.identity = protocol.ServerIdentity{}
}
