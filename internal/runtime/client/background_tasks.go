// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/background_tasks.go
// Summary: Keep-alive goroutine for an attached session.

package clientruntime

import (
	"context"
	"time"

	"pkt.systems/pslog"

	"github.com/framegrace/deskview/protocol"
)

// DefaultPingInterval is used when Options.PingInterval is zero.
const DefaultPingInterval = 5 * time.Second

type messageSender interface {
	Send(t protocol.MessageType, v any) error
}

// pingLoop sends a Ping every interval until ctx ends or a send fails. The
// failure itself is reported by the read loop when the connection drops.
func pingLoop(ctx context.Context, sender messageSender, interval time.Duration, logger pslog.Logger) {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sender.Send(protocol.MsgPing, protocol.Ping{Timestamp: time.Now().UnixNano()}); err != nil {
				logger.Debug("send ping failed", "err", err)
				return
			}
		}
	}
}
