// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/session.go
// Summary: Session lifecycle: connect, attach, resize, detach, terminate.
// Usage: Create with NewManager and drive every method from the Scheduler.
//   Blocking work (dial, handshake, trust prompts) runs on helper goroutines
//   that post their results back. Writes to the host go through the outbox
//   and registry writes through one serial queue, so neither blocks the loop.
// Notes: Teardown always cancels the pending tick, then destroys the renderer,
//   then hands the transport to the outbox to close.

package clientruntime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/framegrace/deskview/client"
	"github.com/framegrace/deskview/internal/sessionstore"
	"github.com/framegrace/deskview/protocol"
	"github.com/framegrace/deskview/render"
	"github.com/framegrace/deskview/transport"
)

// DefaultResizeDebounce delays committing a local resize to the host.
const DefaultResizeDebounce = 150 * time.Millisecond

var errNotConnected = errors.New("session not connected")

// SessionRecord is the observable state of the session.
type SessionRecord struct {
	ID            uuid.UUID
	ConnectionID  string
	Status        protocol.SessionState
	DesktopWidth  int
	DesktopHeight int
	Renderer      string
	Stats         protocol.Stats
	Err           string
}

// Observer receives notifications on the Scheduler.
type Observer interface {
	StateChanged(rec SessionRecord)
	RendererSelected(name string)
	StatsUpdated(remote protocol.Stats, local CompositorStats)
}

type nopObserver struct{}

func (nopObserver) StateChanged(SessionRecord)                   {}
func (nopObserver) RendererSelected(string)                      {}
func (nopObserver) StatsUpdated(protocol.Stats, CompositorStats) {}

// SessionRegistry remembers the session attached for each logical
// connection. *sessionstore.Store implements it.
type SessionRegistry interface {
	Lookup(ctx context.Context, connectionID string) (sessionstore.Record, error)
	Remember(ctx context.Context, rec sessionstore.Record) error
	Forget(ctx context.Context, connectionID string) error
	RecordStats(ctx context.Context, connectionID string, rx, tx, frames uint64) error
}

// Options configures a Manager.
type Options struct {
	Address      string
	ConnectionID string
	ClientName   string
	Renderer     render.Kind
	Registry     *render.Registry
	Surface      render.Surface
	Compression  []string
	// Width and Height request a desktop size when a session is created.
	Width          int
	Height         int
	ResizeDebounce time.Duration
	PingInterval   time.Duration
	// WriteTimeout bounds each write to the host; a write that exceeds it
	// fails the session.
	WriteTimeout time.Duration
	Dial           func(ctx context.Context, address string) (net.Conn, error)
	Sessions       SessionRegistry
	Trust          TrustDecider
	Observer       Observer
	Panics         *PanicLogger
	Logger         pslog.Logger
}

// Manager owns one session's store, renderer, compositor and transport.
type Manager struct {
	sched    Scheduler
	opts     Options
	logger   pslog.Logger
	observer Observer
	panics   *PanicLogger

	rec        SessionRecord
	gen        uint64
	out        *outbox
	lastOut    *outbox
	registry   *serialQueue
	cancel     context.CancelFunc
	store      *client.FrameStore
	binding    *render.Binding
	compositor *Compositor
	input      *InputBatcher
	geometry   Geometry
	trust      trustGate

	resizeTimer *time.Timer
	resizeGen   uint64

	rxBytes atomic.Uint64
}

// NewManager prepares a disconnected session.
func NewManager(sched Scheduler, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = pslog.Ctx(context.Background())
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Panics == nil {
		opts.Panics = NewPanicLogger("", opts.Logger)
	}
	if opts.Dial == nil {
		opts.Dial = transport.Dial
	}
	if opts.ResizeDebounce <= 0 {
		opts.ResizeDebounce = DefaultResizeDebounce
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.ClientName == "" {
		opts.ClientName = "deskview"
	}
	logger := opts.Logger.With("connection", opts.ConnectionID)
	m := &Manager{
		sched:    sched,
		opts:     opts,
		logger:   logger,
		observer: opts.Observer,
		panics:   opts.Panics,
		binding:  render.NewBinding(opts.Registry, logger),
		rec: SessionRecord{
			ConnectionID: opts.ConnectionID,
			Status:       protocol.StateDisconnected,
		},
	}
	m.compositor = NewCompositor(sched, m, logger)
	if opts.Sessions != nil {
		m.registry = newSerialQueue(opts.Panics, "sessionRegistry", registrySize)
	}
	return m
}

// Shutdown stops the registry writer and returns a channel closed once
// everything queued for the host and the registry has been written. Call it
// after the final Detach or Terminate.
func (m *Manager) Shutdown() <-chan struct{} {
	var pending []<-chan struct{}
	if m.lastOut != nil {
		pending = append(pending, m.lastOut.done())
	}
	if m.registry != nil {
		m.registry.close()
		pending = append(pending, m.registry.done)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range pending {
			<-ch
		}
	}()
	return done
}

// Backend implements PaintTarget.
func (m *Manager) Backend() render.Backend {
	return m.binding.Backend()
}

// Store implements PaintTarget.
func (m *Manager) Store() *client.FrameStore {
	return m.store
}

// Record returns a copy of the session state.
func (m *Manager) Record() SessionRecord {
	return m.rec
}

// Compositor exposes the frame pipeline counters.
func (m *Manager) Compositor() *Compositor {
	return m.compositor
}

// Input returns the active input batcher, nil when not connected.
func (m *Manager) Input() *InputBatcher {
	return m.input
}

// BytesReceived counts payload bytes read on the current transport.
func (m *Manager) BytesReceived() uint64 {
	return m.rxBytes.Load()
}

func allowed(from, to protocol.SessionState) bool {
	switch to {
	case protocol.StateDisconnected:
		return true
	case protocol.StateConnecting:
		return from == protocol.StateDisconnected || from == protocol.StateError
	case protocol.StateConnected:
		return from == protocol.StateConnecting
	case protocol.StateError:
		return from == protocol.StateConnecting || from == protocol.StateConnected
	}
	return false
}

func (m *Manager) setStatus(to protocol.SessionState, msg string) bool {
	from := m.rec.Status
	if !allowed(from, to) {
		m.logger.Debug("state transition ignored", "from", from, "to", to)
		return false
	}
	m.rec.Status = to
	m.rec.Err = ""
	if to == protocol.StateError {
		m.rec.Err = msg
	}
	m.logger.Info("session state", "from", from, "to", to, "msg", msg)
	m.observer.StateChanged(m.rec)
	return true
}

// post runs fn on the scheduler unless the connection generation moved on.
func (m *Manager) post(gen uint64, fn func()) {
	m.sched.Post(func() {
		if gen != m.gen {
			return
		}
		fn()
	})
}

type attachResult struct {
	client  *client.SimpleClient
	welcome protocol.Welcome
	accept  protocol.AttachAccept
	// release stops ctx cancellation from closing the connection.
	release func() bool
}

// Connect dials the host and attaches, re-attaching to the session kept for
// this connection id when one exists. It returns immediately; progress is
// reported through the Observer.
func (m *Manager) Connect(ctx context.Context) {
	if !m.setStatus(protocol.StateConnecting, "") {
		return
	}
	m.gen++
	gen := m.gen
	connCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.panics.Go("connect", func() {
		res, err := m.dialAndAttach(connCtx)
		m.sched.Post(func() {
			if gen != m.gen {
				if res.client != nil {
					res.client.Close()
				}
				return
			}
			if err != nil {
				m.fail(fmt.Sprintf("connect failed: %v", err))
				return
			}
			m.attached(connCtx, gen, res)
		})
	})
}

// Retry leaves the error (or disconnected) state by reconnecting. It never
// terminates the remote session.
func (m *Manager) Retry(ctx context.Context) {
	m.Connect(ctx)
}

func (m *Manager) dialAndAttach(ctx context.Context) (attachResult, error) {
	conn, err := m.opts.Dial(ctx, m.opts.Address)
	if err != nil {
		return attachResult{}, err
	}
	// Until the scheduler takes the result, cancelling ctx closes the
	// connection. That covers blocked handshake reads and a result posted
	// to a loop that has already stopped.
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	sc := client.NewSimpleClient(conn, m.opts.ClientName)
	failed := func(err error) (attachResult, error) {
		stop()
		sc.Close()
		return attachResult{}, err
	}

	caps := protocol.CapMultiRect | protocol.CapStats
	if m.opts.Trust != nil {
		caps |= protocol.CapTrustGate
	}
	welcome, err := sc.Handshake(protocol.Hello{
		ClientName:   m.opts.ClientName,
		Capabilities: caps,
		Compression:  m.opts.Compression,
	})
	if err != nil {
		return failed(fmt.Errorf("handshake: %w", err))
	}
	sessions, err := sc.ListSessions(m.opts.ConnectionID)
	if err != nil {
		return failed(fmt.Errorf("list sessions: %w", err))
	}

	req := protocol.Attach{
		SessionID:    m.pickSession(ctx, sessions),
		ConnectionID: m.opts.ConnectionID,
		Width:        uint16(max(m.opts.Width, 0)),
		Height:       uint16(max(m.opts.Height, 0)),
	}
	accept, err := sc.Attach(req)
	var remote protocol.ErrorFrame
	if err != nil && req.SessionID != uuid.Nil && errors.As(err, &remote) && remote.Code == protocol.ErrCodeSessionNotFound {
		// the session ended between listing and attaching
		m.logger.Info("listed session vanished, creating", "session", req.SessionID)
		req.SessionID = uuid.Nil
		accept, err = sc.Attach(req)
	}
	if err != nil {
		return failed(fmt.Errorf("attach: %w", err))
	}
	return attachResult{client: sc, welcome: welcome, accept: accept, release: stop}, nil
}

// pickSession prefers the remembered session, then any session the host kept
// for this connection id. uuid.Nil asks the host to create one.
func (m *Manager) pickSession(ctx context.Context, sessions []protocol.SessionInfo) uuid.UUID {
	if m.opts.Sessions != nil {
		rec, err := m.opts.Sessions.Lookup(ctx, m.opts.ConnectionID)
		switch {
		case err == nil:
			for _, s := range sessions {
				if s.ID == rec.SessionID {
					return s.ID
				}
			}
		case !errors.Is(err, sessionstore.ErrNotFound):
			m.logger.Warn("session registry lookup failed", "err", err)
		}
	}
	for _, s := range sessions {
		if s.ConnectionID == m.opts.ConnectionID {
			return s.ID
		}
	}
	return uuid.Nil
}

func (m *Manager) attached(ctx context.Context, gen uint64, res attachResult) {
	res.release()
	sc := res.client
	sc.SetTimeout(m.opts.WriteTimeout)
	m.out = newOutbox(sc, m.panics, func(err error) {
		m.post(gen, func() { m.fail(fmt.Sprintf("connection lost: %v", err)) })
	}, m.logger)
	m.rec.ID = res.accept.SessionID
	m.rxBytes.Store(0)
	m.trust.reset()
	m.input = NewInputBatcher(m.sched, m.sendInput, m.logger)

	w, h := int(res.accept.Width), int(res.accept.Height)
	m.recreate(w, h)
	m.logger.Info("attached",
		"session", m.rec.ID,
		"server", res.welcome.ServerName,
		"created", res.accept.Created,
		"compression", res.welcome.Compression,
		"width", w, "height", h)
	m.remember(w, h)
	m.setStatus(protocol.StateConnected, "")

	m.panics.Go("readLoop", func() { m.readLoop(ctx, gen, sc) })
	m.panics.Go("pingLoop", func() { pingLoop(ctx, sc, m.opts.PingInterval, m.logger) })
}

func (m *Manager) remember(w, h int) {
	if m.opts.Sessions == nil {
		return
	}
	rec := sessionstore.Record{
		ConnectionID: m.opts.ConnectionID,
		SessionID:    m.rec.ID,
		Address:      m.opts.Address,
		Width:        w,
		Height:       h,
	}
	m.writeRegistry("remember", func(registry SessionRegistry) error {
		return registry.Remember(context.Background(), rec)
	})
}

// writeRegistry queues a registry update behind earlier ones.
func (m *Manager) writeRegistry(what string, write func(SessionRegistry) error) {
	if m.registry == nil {
		return
	}
	registry, logger := m.opts.Sessions, m.logger
	err := m.registry.push(func() {
		if err := write(registry); err != nil {
			logger.Warn("session registry write failed", "op", what, "err", err)
		}
	})
	if err != nil {
		logger.Warn("session registry write dropped", "op", what, "err", err)
	}
}

// recreate replaces the store with one of the given size, carrying the old
// content over scaled, and binds a fresh renderer to it.
func (m *Manager) recreate(w, h int) {
	m.binding.Release(m.store)
	next := client.NewFrameStore(w, h)
	if m.store != nil && m.store.HasPainted() {
		next.SyncFromVisible(m.store.Image())
	}
	m.store = next
	m.rec.DesktopWidth, m.rec.DesktopHeight = w, h
	m.geometry.SetDesktop(w, h)
	m.bindRenderer()
}

func (m *Manager) bindRenderer() {
	backend, err := m.binding.Bind(m.opts.Renderer, m.store, m.opts.Surface)
	if err != nil {
		// frames keep landing in the store through PaintDirect
		m.logger.Error("no renderer available", "err", err)
		m.rec.Renderer = ""
		return
	}
	m.rec.Renderer = backend.Name()
	m.observer.RendererSelected(backend.Name())
	if m.opts.Surface != nil {
		m.geometry.SetView(m.opts.Surface.Size())
	}
	m.compositor.Invalidate()
}

// ViewResized reacts to the presentation surface changing size: input
// mapping is updated and the whole frame is presented again.
func (m *Manager) ViewResized(w, h int) {
	m.geometry.SetView(w, h)
	if m.store != nil && m.binding.Backend() != nil {
		m.bindRenderer()
	}
}

// Resize rescales the current frame into w×h straight away, then after the
// debounce interval recreates the buffers and asks the host for that size.
func (m *Manager) Resize(w, h int) {
	if m.store == nil || w <= 0 || h <= 0 {
		return
	}
	backend := m.binding.Backend()
	if backend != nil && !backend.Authoritative() {
		m.store.SyncFromVisible(backend.Visible())
	}
	m.store.Resize(w, h, nil)
	if backend != nil {
		if err := backend.Resize(w, h); err != nil {
			m.logger.Warn("renderer resize failed", "err", err)
		}
	}
	m.geometry.SetDesktop(w, h)
	m.compositor.Invalidate()

	m.resizeGen++
	gen := m.resizeGen
	if m.resizeTimer != nil {
		m.resizeTimer.Stop()
	}
	m.resizeTimer = time.AfterFunc(m.opts.ResizeDebounce, func() {
		m.sched.Post(func() { m.commitResize(gen, w, h) })
	})
}

func (m *Manager) commitResize(gen uint64, w, h int) {
	if gen != m.resizeGen || m.rec.Status != protocol.StateConnected {
		return
	}
	m.resizeTimer = nil
	m.recreate(w, h)
	if m.out != nil {
		sendResize(m.out, w, h, m.logger)
	}
}

// Reactivate follows a host-side desktop size change. The transport is kept.
func (m *Manager) Reactivate(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	if m.store != nil {
		if sw, sh := m.store.Size(); sw == w && sh == h {
			return
		}
	}
	m.logger.Info("desktop resized by host", "width", w, "height", h)
	m.recreate(w, h)
	m.observer.StateChanged(m.rec)
}

// HandleStatus applies a lifecycle notification from the host.
func (m *Manager) HandleStatus(st protocol.Status) {
	switch st.State {
	case protocol.StateConnected:
		if st.Width > 0 && st.Height > 0 {
			m.Reactivate(int(st.Width), int(st.Height))
		}
		m.setStatus(protocol.StateConnected, st.Message)
	case protocol.StateConnecting:
		m.setStatus(protocol.StateConnecting, st.Message)
	case protocol.StateError:
		m.fail(st.Message)
	case protocol.StateDisconnected:
		if m.rec.Status == protocol.StateError {
			m.logger.Debug("disconnect after error ignored", "err", m.rec.Err)
			return
		}
		m.teardown(nil)
		m.setStatus(protocol.StateDisconnected, st.Message)
	}
}

// SendInput maps view-space events to the desktop and hands them to the
// batcher. Input is dropped unless the session is connected.
func (m *Manager) SendInput(events ...protocol.InputEvent) {
	if m.input == nil || m.rec.Status != protocol.StateConnected || len(events) == 0 {
		return
	}
	mapped := make([]protocol.InputEvent, len(events))
	for i, ev := range events {
		if ev.Kind != protocol.InputKeyboardKey {
			x, y := m.geometry.ToDesktop(int(ev.X), int(ev.Y))
			ev.X, ev.Y = int32(x), int32(y)
		}
		mapped[i] = ev
	}
	m.input.Submit(mapped...)
}

func (m *Manager) sendInput(events []protocol.InputEvent) error {
	if m.out == nil {
		return errNotConnected
	}
	return sendInputBatch(m.out, events)
}

// Detach releases local resources and leaves the remote session running.
// The registry keeps the session id for the next Connect.
func (m *Manager) Detach() {
	id := m.rec.ID
	var last func(sc *client.SimpleClient) error
	if id != uuid.Nil {
		last = func(sc *client.SimpleClient) error { return sc.Detach(id) }
	}
	m.teardown(last)
	m.setStatus(protocol.StateDisconnected, "detached")
}

// Terminate ends the remote session and forgets it.
func (m *Manager) Terminate() {
	id := m.rec.ID
	var last func(sc *client.SimpleClient) error
	if id != uuid.Nil {
		last = func(sc *client.SimpleClient) error { return sc.Terminate(id) }
	}
	m.teardown(last)
	connID := m.opts.ConnectionID
	m.writeRegistry("forget", func(registry SessionRegistry) error {
		return registry.Forget(context.Background(), connID)
	})
	m.rec.ID = uuid.Nil
	m.setStatus(protocol.StateDisconnected, "terminated")
}

// fail moves to error, keeping msg for display. Only a connecting or
// connected session can fail.
func (m *Manager) fail(msg string) {
	if m.rec.Status != protocol.StateConnecting && m.rec.Status != protocol.StateConnected {
		m.logger.Debug("failure ignored", "state", m.rec.Status, "msg", msg)
		return
	}
	m.teardown(nil)
	m.setStatus(protocol.StateError, msg)
}

// teardown releases everything but the store. last is the final write
// queued before the transport is closed.
func (m *Manager) teardown(last func(sc *client.SimpleClient) error) {
	m.gen++
	m.compositor.Cancel()
	if m.resizeTimer != nil {
		m.resizeTimer.Stop()
		m.resizeTimer = nil
	}
	m.resizeGen++
	if m.input != nil {
		m.input.Close()
		m.input = nil
	}
	m.binding.Release(m.store)
	m.rec.Renderer = ""
	m.trust.reset()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.out != nil {
		if last != nil {
			if err := m.out.do("final", last); err != nil {
				m.logger.Warn("final message dropped", "err", err)
			}
		}
		m.out.close()
		m.lastOut = m.out
		m.out = nil
	}
}

func (m *Manager) onFrame(msg []byte) {
	if m.trust.admit(msg) {
		m.compositor.Enqueue(msg)
	}
}

func (m *Manager) onIdentity(ctx context.Context, id protocol.ServerIdentity) {
	if m.opts.Trust == nil {
		m.resolveTrust(id, true, nil)
		return
	}
	m.trust.hold(id)
	gen := m.gen
	decider := m.opts.Trust
	m.panics.Go("trustDecision", func() {
		ok, err := decider.Decide(ctx, id)
		m.post(gen, func() { m.resolveTrust(id, ok, err) })
	})
}

func (m *Manager) resolveTrust(id protocol.ServerIdentity, ok bool, err error) {
	accept := ok && err == nil
	if m.out != nil {
		sendTrustDecision(m.out, protocol.TrustDecision{Accept: accept, Fingerprint: id.Fingerprint}, m.logger)
	}
	if !accept {
		m.trust.reset()
		msg := fmt.Sprintf("%v: %s (%s)", ErrUntrusted, id.Host, id.Fingerprint)
		if err != nil {
			msg = fmt.Sprintf("trust decision failed: %v", err)
		}
		m.fail(msg)
		return
	}
	for _, msg := range m.trust.release() {
		m.compositor.Enqueue(msg)
	}
}

func (m *Manager) onStats(stats protocol.Stats) {
	m.rec.Stats = stats
	m.observer.StatsUpdated(stats, m.compositor.Stats())
	if m.opts.Sessions == nil {
		return
	}
	connID := m.opts.ConnectionID
	m.writeRegistry("stats", func(registry SessionRegistry) error {
		return registry.RecordStats(context.Background(), connID, stats.BytesSent, stats.BytesReceived, stats.Frames)
	})
}
