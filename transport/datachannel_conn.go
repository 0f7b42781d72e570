// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: transport/datachannel_conn.go
// Summary: Detached WebRTC data channel presented as a net.Conn.
// Notes: Data channels deliver whole messages. Reads are buffered so callers may
//   use short buffers; writes are split into chunks under the SCTP message limit.

package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

const (
	dataChannelChunk   = 16 << 10
	dataChannelReadBuf = 64 << 10
)

var errDeadlineExceeded = errors.New("transport: data channel deadline exceeded")

// DataChannelConn wraps a detached data channel. Deadlines close the
// channel when they fire, unblocking pending I/O; the conn is unusable after.
type DataChannelConn struct {
	rwc     io.ReadWriteCloser
	onClose func()
	local   string
	peer    string

	readMu  sync.Mutex
	readBuf []byte
	pending []byte

	writeMu sync.Mutex

	mu         sync.Mutex
	readTimer  *time.Timer
	writeTimer *time.Timer
	expired    bool
	closeOnce  sync.Once
}

var _ net.Conn = (*DataChannelConn)(nil)

// NewDataChannelConn wraps rwc. onClose, when set, runs once after the
// channel closes (typically tearing down the peer connection).
func NewDataChannelConn(rwc io.ReadWriteCloser, local, peer string, onClose func()) *DataChannelConn {
	return &DataChannelConn{rwc: rwc, local: local, peer: peer, onClose: onClose}
}

func (c *DataChannelConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if len(c.pending) == 0 {
		if c.readBuf == nil {
			c.readBuf = make([]byte, dataChannelReadBuf)
		}
		n, err := c.rwc.Read(c.readBuf)
		if err != nil {
			if c.isExpired() {
				return 0, errDeadlineExceeded
			}
			return 0, err
		}
		c.pending = c.readBuf[:n]
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *DataChannelConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	written := 0
	for written < len(p) {
		end := min(written+dataChannelChunk, len(p))
		n, err := c.rwc.Write(p[written:end])
		written += n
		if err != nil {
			if c.isExpired() {
				return written, errDeadlineExceeded
			}
			return written, err
		}
	}
	return written, nil
}

func (c *DataChannelConn) Close() error {
	c.mu.Lock()
	c.stopTimersLocked()
	c.mu.Unlock()
	err := c.rwc.Close()
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

func (c *DataChannelConn) LocalAddr() net.Addr  { return dataChannelAddr(c.local) }
func (c *DataChannelConn) RemoteAddr() net.Addr { return dataChannelAddr(c.peer) }

func (c *DataChannelConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimer = c.armLocked(c.readTimer, t)
	c.writeTimer = c.armLocked(c.writeTimer, t)
	return nil
}

func (c *DataChannelConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimer = c.armLocked(c.readTimer, t)
	return nil
}

func (c *DataChannelConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeTimer = c.armLocked(c.writeTimer, t)
	return nil
}

func (c *DataChannelConn) armLocked(timer *time.Timer, deadline time.Time) *time.Timer {
	if timer != nil {
		timer.Stop()
	}
	if deadline.IsZero() || c.expired {
		return nil
	}
	d := time.Until(deadline)
	if d <= 0 {
		c.expireLocked()
		return nil
	}
	return time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.expireLocked()
	})
}

func (c *DataChannelConn) expireLocked() {
	if c.expired {
		return
	}
	c.expired = true
	_ = c.rwc.Close()
}

func (c *DataChannelConn) isExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

func (c *DataChannelConn) stopTimersLocked() {
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
}

type dataChannelAddr string

func (a dataChannelAddr) Network() string { return "webrtc" }
func (a dataChannelAddr) String() string  { return string(a) }
