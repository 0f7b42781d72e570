// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/server.go
// Summary: Reference desktop host serving sessions over any transport.
// Usage: Used by deskview-server-sim and by end-to-end tests of the viewer.

package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"pkt.systems/pslog"

	"github.com/framegrace/deskview/transport"
)

const (
	DefaultFPS           = 30
	DefaultStatsInterval = time.Second
)

// Options tunes a Server. Zero values select defaults.
type Options struct {
	Name          string
	FPS           int
	StatsInterval time.Duration
	TileSize      int
	// Identity is presented to viewers that advertise the trust gate.
	Identity      *Identity
	Sink          EventSink
	StatsObserver SessionStatsObserver
	ICEServers    []string
	Logger        pslog.Logger
}

// Server accepts viewer connections and manages sessions.
type Server struct {
	addr    string
	manager *Manager
	opts    Options

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	wg       sync.WaitGroup
}

func NewServer(addr string, manager *Manager, opts Options) *Server {
	if manager == nil {
		manager = NewManager(nil)
	}
	if opts.Name == "" {
		opts.Name = "deskview-server"
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = pslog.Ctx(context.Background())
	}
	return &Server{addr: addr, manager: manager, opts: opts, quit: make(chan struct{})}
}

// Start binds the address and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	network, target, err := transport.Resolve(s.addr)
	if err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	switch network {
	case "unix", "tcp":
		if network == "unix" {
			if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		l, err := transport.Listen(s.addr)
		if err != nil {
			return err
		}
		s.setListener(l)
		s.wg.Add(1)
		go s.acceptLoop(l)
	case "ws", "webrtc":
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("server: %s address: %w", network, err)
		}
		l, err := net.Listen("tcp", u.Host)
		if err != nil {
			return err
		}
		var handler http.Handler
		if network == "ws" {
			handler = transport.WebSocketHandler(s.ctx, s.spawn)
		} else {
			answerer := &transport.WebRTCAnswerer{Accept: s.spawn, Logger: s.opts.Logger}
			if len(s.opts.ICEServers) > 0 {
				answerer.ICEServers = []webrtc.ICEServer{{URLs: s.opts.ICEServers}}
			}
			handler = answerer
		}
		mux := http.NewServeMux()
		path := u.Path
		if path == "" {
			path = "/"
		}
		mux.Handle(path, handler)
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		s.mu.Lock()
		s.httpSrv = srv
		s.mu.Unlock()
		s.setListener(l)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.opts.Logger.Warn("http serve failed", "err", err)
			}
		}()
	default:
		return fmt.Errorf("server: unsupported network %q", network)
	}
	s.opts.Logger.Info("listening", "address", s.addr, "bound", s.Addr())
	return nil
}

func (s *Server) setListener(l net.Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.spawn(conn)
	}
}

func (s *Server) spawn(conn net.Conn) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.ServeConn(s.ctx, conn); err != nil {
			s.opts.Logger.Debug("connection ended", "remote", conn.RemoteAddr(), "err", err)
		}
	}()
}

// ServeConn runs the handshake and the attached session on conn, closing it
// on return.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()
	w := newWireWriter(conn)
	hs, err := handleHandshake(w, conn, s.manager, s.opts.Name)
	if err != nil {
		return err
	}
	s.opts.Logger.Info("viewer attached", "session", hs.session.ID(), "client", hs.hello.ClientName, "connection", hs.session.ConnectionID())
	return newConnection(conn, w, hs, s.manager, s.opts).serve(ctx)
}

// Stop closes the listener, ends every connection and waits for them.
func (s *Server) Stop(ctx context.Context) error {
	select {
	case <-s.quit:
		return nil
	default:
		close(s.quit)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	listener, httpSrv := s.listener, s.httpSrv
	s.mu.Unlock()
	if httpSrv != nil {
		_ = httpSrv.Close()
	} else if listener != nil {
		_ = listener.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	if ctx == nil {
		<-done
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Server) Manager() *Manager {
	return s.manager
}
