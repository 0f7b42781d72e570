// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: transport/transport.go
// Summary: Byte-stream channels between viewer and remote host, selected by URL scheme.
// Usage: Dial("tcp://host:7390"), Dial("unix:///run/deskview.sock"), Dial("ws://host/ws"),
//   Dial("webrtc+http://host/offer").
// Notes: Every transport yields a net.Conn; the framing layer never sees the difference.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"pkt.systems/pslog"
)

// DefaultDialTimeout applies when the context carries no deadline.
const DefaultDialTimeout = 10 * time.Second

var ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

// Dialer opens a connection to address. Implementations interpret address
// according to their scheme.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// NetDialer dials plain stream sockets.
type NetDialer struct {
	Network string
	Timeout time.Duration
}

func (d NetDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	nd := net.Dialer{Timeout: timeout}
	return nd.DialContext(ctx, d.Network, address)
}

// Options tunes the dialers selected by DialOptions.
type Options struct {
	Timeout    time.Duration
	ICEServers []string
}

func (o Options) iceServers() []webrtc.ICEServer {
	if len(o.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: o.ICEServers}}
}

// Dial opens a connection described by a URL. Bare paths are treated as unix
// sockets and bare host:port pairs as TCP.
func Dial(ctx context.Context, address string) (net.Conn, error) {
	return DialOptions(ctx, address, Options{})
}

// DialOptions is Dial with explicit dialer settings.
func DialOptions(ctx context.Context, address string, opts Options) (net.Conn, error) {
	network, target, err := Resolve(address)
	if err != nil {
		return nil, err
	}
	pslog.Ctx(ctx).Debug("transport dial", "network", network, "target", target)

	var dialer Dialer
	switch network {
	case "unix", "tcp":
		dialer = NetDialer{Network: network, Timeout: opts.Timeout}
	case "ws":
		dialer = &WebSocketDialer{HandshakeTimeout: opts.Timeout}
	case "webrtc":
		dialer = &WebRTCDialer{ICEServers: opts.iceServers()}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, network)
	}
	conn, err := dialer.DialContext(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s %s: %w", network, target, err)
	}
	return conn, nil
}

// Resolve splits an address into a network kind and the target understood by
// the matching Dialer.
func Resolve(address string) (network, target string, err error) {
	if address == "" {
		return "", "", fmt.Errorf("%w: empty address", ErrUnsupportedScheme)
	}
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, "/") || strings.HasPrefix(address, ".") {
			return "unix", address, nil
		}
		return "tcp", address, nil
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("transport: parse %q: %w", address, err)
	}
	switch u.Scheme {
	case "unix":
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		return "unix", path, nil
	case "tcp":
		return "tcp", u.Host, nil
	case "ws", "wss":
		return "ws", address, nil
	case "webrtc+http", "webrtc+https":
		u.Scheme = strings.TrimPrefix(u.Scheme, "webrtc+")
		return "webrtc", u.String(), nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

// Listen opens a stream listener for the host side. Only unix and tcp
// addresses are accepted; WebSocket and WebRTC are served over HTTP.
func Listen(address string) (net.Listener, error) {
	network, target, err := Resolve(address)
	if err != nil {
		return nil, err
	}
	switch network {
	case "unix", "tcp":
		return net.Listen(network, target)
	}
	return nil, fmt.Errorf("%w: cannot listen on %q", ErrUnsupportedScheme, network)
}
