// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/session_test.go
// Summary: Drives the session manager against an in-process fake host.

package clientruntime

import (
	"context"
	"errors"
	"image/color"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/framegrace/deskview/internal/sessionstore"
	"github.com/framegrace/deskview/protocol"
	"github.com/framegrace/deskview/render"
)

type hostMsg struct {
	typ     protocol.MessageType
	payload []byte
}

// fakeHost answers the control handshake and records everything else.
type fakeHost struct {
	t             *testing.T
	width, height uint16

	mu        sync.Mutex
	conn      net.Conn
	sessions  []protocol.SessionInfo
	failDials int
	dials     int
	// stall, when set, stops the host reading after it accepts an attach.
	stall chan struct{}

	attaches    chan protocol.Attach
	received    chan hostMsg
	disconnects chan struct{}
}

func newFakeHost(t *testing.T, w, h int) *fakeHost {
	return &fakeHost{
		t:        t,
		width:    uint16(w),
		height:   uint16(h),
		attaches:    make(chan protocol.Attach, 8),
		received:    make(chan hostMsg, 256),
		disconnects: make(chan struct{}, 8),
	}
}

func (h *fakeHost) dial(ctx context.Context, _ string) (net.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dials++
	if h.failDials > 0 {
		h.failDials--
		return nil, errors.New("connection refused")
	}
	local, remote := net.Pipe()
	h.conn = remote
	go h.serve(remote, h.stall)
	return local, nil
}

func (h *fakeHost) serve(conn net.Conn, stall chan struct{}) {
	defer func() { h.disconnects <- struct{}{} }()
	defer conn.Close()
	for {
		hdr, payload, err := protocol.ReadMessage(conn)
		if err != nil {
			return
		}
		switch hdr.Type {
		case protocol.MsgHello:
			h.send(protocol.MsgWelcome, protocol.Welcome{ServerName: "fake-host"})
		case protocol.MsgListSessions:
			h.mu.Lock()
			list := protocol.SessionList{Sessions: h.sessions}
			h.mu.Unlock()
			h.send(protocol.MsgSessionList, list)
		case protocol.MsgAttach:
			req, err := protocol.Decode[protocol.Attach](payload)
			if err != nil {
				h.t.Errorf("decode attach: %v", err)
				return
			}
			h.attaches <- req
			id := req.SessionID
			if id == uuid.Nil {
				id = uuid.New()
			}
			h.send(protocol.MsgAttachAccept, protocol.AttachAccept{
				SessionID: id,
				Width:     h.width,
				Height:    h.height,
				Created:   req.SessionID == uuid.Nil,
			})
			if stall != nil {
				<-stall
			}
		default:
			h.received <- hostMsg{typ: hdr.Type, payload: payload}
		}
	}
}

func (h *fakeHost) sendRaw(t protocol.MessageType, payload []byte) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	header := protocol.Header{Version: protocol.Version, Type: t, Flags: protocol.FlagChecksum}
	if err := protocol.WriteMessage(conn, header, payload); err != nil {
		h.t.Logf("host send %s: %v", t, err)
	}
}

func (h *fakeHost) send(t protocol.MessageType, v any) {
	payload, err := protocol.Encode(v)
	if err != nil {
		h.t.Errorf("encode %s: %v", t, err)
		return
	}
	h.sendRaw(t, payload)
}

func (h *fakeHost) closeConn() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		h.conn.Close()
	}
}

// expect waits for the next message of type want, skipping keep-alives.
func (h *fakeHost) expect(t *testing.T, want protocol.MessageType) []byte {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-h.received:
			if msg.typ == want {
				return msg.payload
			}
			if msg.typ != protocol.MsgPing && msg.typ != protocol.MsgPong {
				t.Fatalf("host got %s while waiting for %s", msg.typ, want)
			}
		case <-deadline:
			t.Fatalf("host never received %s", want)
		}
	}
}

type stateRecorder struct {
	states chan SessionRecord
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{states: make(chan SessionRecord, 256)}
}

func (r *stateRecorder) StateChanged(rec SessionRecord)               { r.states <- rec }
func (r *stateRecorder) RendererSelected(string)                      {}
func (r *stateRecorder) StatsUpdated(protocol.Stats, CompositorStats) {}

func (r *stateRecorder) wait(t *testing.T, want protocol.SessionState) SessionRecord {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case rec := <-r.states:
			if rec.Status == want {
				return rec
			}
		case <-deadline:
			t.Fatalf("session never reached %s", want)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type sessionFixture struct {
	loop     *Loop
	host     *fakeHost
	mgr      *Manager
	states   *stateRecorder
	surface  *recordingSurface
	registry *sessionstore.Store
	ctx      context.Context
}

func softwareOnly() *render.Registry {
	reg := render.NewRegistry()
	reg.Register(render.KindSoftware, 10, render.NewSoftware, nil)
	return reg
}

func newSessionFixture(t *testing.T, deskW, deskH int, mutate func(*Options)) *sessionFixture {
	t.Helper()
	registry, err := sessionstore.Open(sessionstore.MemoryPath)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	f := &sessionFixture{
		loop:     startLoop(t, 5*time.Millisecond),
		host:     newFakeHost(t, deskW, deskH),
		states:   newStateRecorder(),
		surface:  newRecordingSurface(deskW/10, deskH/10),
		registry: registry,
		ctx:      context.Background(),
	}
	opts := Options{
		Address:        "pipe://fake",
		ConnectionID:   "desk-1",
		Renderer:       render.KindSoftware,
		Registry:       softwareOnly(),
		Surface:        f.surface,
		ResizeDebounce: 10 * time.Millisecond,
		PingInterval:   time.Hour,
		Dial:           f.host.dial,
		Sessions:       registry,
		Observer:       f.states,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.mgr = NewManager(f.loop, opts)
	t.Cleanup(func() {
		var drained <-chan struct{}
		onLoop(t, f.loop, func() {
			f.mgr.Detach()
			drained = f.mgr.Shutdown()
		})
		select {
		case <-drained:
		case <-time.After(3 * time.Second):
			t.Error("queued writes never drained")
		}
	})
	return f
}

func (f *sessionFixture) connect(t *testing.T) SessionRecord {
	t.Helper()
	onLoop(t, f.loop, func() { f.mgr.Connect(f.ctx) })
	return f.states.wait(t, protocol.StateConnected)
}

func (f *sessionFixture) record(t *testing.T) SessionRecord {
	t.Helper()
	var rec SessionRecord
	onLoop(t, f.loop, func() { rec = f.mgr.Record() })
	return rec
}

func TestSessionConnectCreatesAndPaints(t *testing.T) {
	f := newSessionFixture(t, 64, 48, nil)
	rec := f.connect(t)

	req := <-f.host.attaches
	if req.SessionID != uuid.Nil || req.ConnectionID != "desk-1" {
		t.Fatalf("attach = %+v, want create for desk-1", req)
	}
	if rec.ID == uuid.Nil || rec.DesktopWidth != 64 || rec.DesktopHeight != 48 {
		t.Fatalf("record = %+v", rec)
	}
	if got := f.record(t).Renderer; got != "software" {
		t.Fatalf("renderer = %q", got)
	}

	f.host.sendRaw(protocol.MsgFrameUpdate, rectMsg(0, 0, 64, 48, red))
	eventually(t, "present", func() bool {
		img := f.surface.lastImage()
		return img != nil && img.RGBAAt(5, 5) == red
	})

	eventually(t, "registry write", func() bool {
		got, err := f.registry.Lookup(context.Background(), "desk-1")
		return err == nil && got.SessionID == rec.ID
	})
}

func TestSessionReattachesRememberedSession(t *testing.T) {
	f := newSessionFixture(t, 64, 48, nil)
	remembered, other := uuid.New(), uuid.New()
	f.host.sessions = []protocol.SessionInfo{
		{ID: other, ConnectionID: "desk-1", Width: 64, Height: 48},
		{ID: remembered, ConnectionID: "desk-1", Width: 64, Height: 48},
	}
	if err := f.registry.Remember(context.Background(), sessionstore.Record{ConnectionID: "desk-1", SessionID: remembered}); err != nil {
		t.Fatal(err)
	}

	rec := f.connect(t)
	if req := <-f.host.attaches; req.SessionID != remembered {
		t.Fatalf("attached to %v, want remembered %v", req.SessionID, remembered)
	}
	if rec.ID != remembered {
		t.Fatalf("record id %v, want %v", rec.ID, remembered)
	}
}

func TestSessionFallsBackToListedSession(t *testing.T) {
	f := newSessionFixture(t, 64, 48, nil)
	kept := uuid.New()
	f.host.sessions = []protocol.SessionInfo{
		{ID: uuid.New(), ConnectionID: "someone-else"},
		{ID: kept, ConnectionID: "desk-1"},
	}
	f.connect(t)
	if req := <-f.host.attaches; req.SessionID != kept {
		t.Fatalf("attached to %v, want %v", req.SessionID, kept)
	}
}

func TestSessionErrorIsSticky(t *testing.T) {
	f := newSessionFixture(t, 64, 48, nil)
	f.connect(t)

	f.host.send(protocol.MsgError, protocol.ErrorFrame{Code: protocol.ErrCodeInternal, Message: "capture died"})
	rec := f.states.wait(t, protocol.StateError)
	if !strings.Contains(rec.Err, "capture died") {
		t.Fatalf("error message = %q", rec.Err)
	}

	f.host.closeConn()
	onLoop(t, f.loop, func() {
		f.mgr.HandleStatus(protocol.Status{State: protocol.StateDisconnected, Message: "bye"})
	})
	got := f.record(t)
	if got.Status != protocol.StateError || got.Err != rec.Err {
		t.Fatalf("after disconnect: %s %q, want error %q", got.Status, got.Err, rec.Err)
	}

	// error only follows connecting or connected
	onLoop(t, f.loop, func() { f.mgr.fail("second failure") })
	if got := f.record(t); got.Err != rec.Err {
		t.Fatalf("error overwritten with %q", got.Err)
	}
}

func TestSessionConnectionLossIsError(t *testing.T) {
	f := newSessionFixture(t, 64, 48, nil)
	f.connect(t)
	f.host.closeConn()
	rec := f.states.wait(t, protocol.StateError)
	if rec.Err != "connection closed by host" {
		t.Fatalf("error = %q", rec.Err)
	}
}

func TestSessionRetryAfterConnectFailure(t *testing.T) {
	f := newSessionFixture(t, 64, 48, nil)
	f.host.failDials = 1

	onLoop(t, f.loop, func() { f.mgr.Connect(f.ctx) })
	rec := f.states.wait(t, protocol.StateError)
	if !strings.Contains(rec.Err, "connection refused") {
		t.Fatalf("error = %q", rec.Err)
	}

	onLoop(t, f.loop, func() { f.mgr.Retry(f.ctx) })
	f.states.wait(t, protocol.StateConnected)
}

func TestSessionDetachAndTerminate(t *testing.T) {
	cases := []struct {
		name     string
		leave    func(*Manager)
		wantMsg  protocol.MessageType
		keepsRec bool
	}{
		{"detach", (*Manager).Detach, protocol.MsgDetach, true},
		{"terminate", (*Manager).Terminate, protocol.MsgTerminate, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newSessionFixture(t, 64, 48, nil)
			rec := f.connect(t)
			eventually(t, "registry write", func() bool {
				_, err := f.registry.Lookup(context.Background(), "desk-1")
				return err == nil
			})

			onLoop(t, f.loop, func() { tc.leave(f.mgr) })
			f.states.wait(t, protocol.StateDisconnected)

			payload := f.host.expect(t, tc.wantMsg)
			var id uuid.UUID
			switch tc.wantMsg {
			case protocol.MsgDetach:
				msg, err := protocol.Decode[protocol.Detach](payload)
				if err != nil {
					t.Fatal(err)
				}
				id = msg.SessionID
			case protocol.MsgTerminate:
				msg, err := protocol.Decode[protocol.Terminate](payload)
				if err != nil {
					t.Fatal(err)
				}
				id = msg.SessionID
			}
			if id != rec.ID {
				t.Fatalf("%s for %v, want %v", tc.wantMsg, id, rec.ID)
			}

			if tc.keepsRec {
				if _, err := f.registry.Lookup(context.Background(), "desk-1"); err != nil {
					t.Fatalf("detach forgot the session: %v", err)
				}
			} else {
				eventually(t, "registry forget", func() bool {
					_, err := f.registry.Lookup(context.Background(), "desk-1")
					return errors.Is(err, sessionstore.ErrNotFound)
				})
			}
			onLoop(t, f.loop, func() {
				if f.mgr.Backend() != nil || f.mgr.Input() != nil || f.mgr.Compositor().Scheduled() {
					t.Error("teardown left resources behind")
				}
			})
		})
	}
}

func TestSessionResizePreservesContent(t *testing.T) {
	f := newSessionFixture(t, 800, 600, nil)
	f.connect(t)

	blue := color.RGBA{B: 0xff, A: 0xff}
	frame := rectMsg(0, 0, 800, 300, red)
	frame = append(frame, rectMsg(0, 300, 800, 300, blue)...)
	f.host.sendRaw(protocol.MsgFrameUpdate, frame)
	eventually(t, "frame painted", func() bool { return f.surface.count() > 0 })

	onLoop(t, f.loop, func() {
		f.mgr.Resize(1024, 768)
		store := f.mgr.Store()
		if w, h := store.Size(); w != 1024 || h != 768 {
			t.Errorf("immediate store size %dx%d", w, h)
		}
		if got := store.Image().RGBAAt(10, 10); got != red {
			t.Errorf("immediate top = %v, want red", got)
		}
	})

	resize, err := protocol.Decode[protocol.Resize](f.host.expect(t, protocol.MsgResize))
	if err != nil {
		t.Fatal(err)
	}
	if resize.Width != 1024 || resize.Height != 768 {
		t.Fatalf("host asked for %dx%d", resize.Width, resize.Height)
	}

	onLoop(t, f.loop, func() {
		store := f.mgr.Store()
		if w, h := store.Size(); w != 1024 || h != 768 {
			t.Errorf("committed store size %dx%d", w, h)
		}
		img := store.Image()
		if got := img.RGBAAt(10, 10); got != red {
			t.Errorf("top = %v, want red", got)
		}
		if got := img.RGBAAt(1000, 700); got != blue {
			t.Errorf("bottom = %v, want blue", got)
		}
		if rec := f.mgr.Record(); rec.DesktopWidth != 1024 || rec.DesktopHeight != 768 {
			t.Errorf("record size %dx%d", rec.DesktopWidth, rec.DesktopHeight)
		}
	})
}

func TestSessionResizeDebounceKeepsLast(t *testing.T) {
	f := newSessionFixture(t, 200, 100, func(o *Options) { o.ResizeDebounce = 30 * time.Millisecond })
	f.connect(t)

	onLoop(t, f.loop, func() {
		f.mgr.Resize(300, 150)
		f.mgr.Resize(400, 200)
		f.mgr.Resize(500, 250)
	})
	resize, err := protocol.Decode[protocol.Resize](f.host.expect(t, protocol.MsgResize))
	if err != nil {
		t.Fatal(err)
	}
	if resize.Width != 500 || resize.Height != 250 {
		t.Fatalf("host asked for %dx%d, want the last size", resize.Width, resize.Height)
	}
	select {
	case msg := <-f.host.received:
		if msg.typ == protocol.MsgResize {
			t.Fatal("debounced resizes were all sent")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionHostResizeReactivates(t *testing.T) {
	f := newSessionFixture(t, 64, 48, nil)
	f.connect(t)

	f.host.send(protocol.MsgDesktopSize, protocol.DesktopSize{Width: 320, Height: 200})
	eventually(t, "reactivation", func() bool {
		rec := f.record(t)
		return rec.DesktopWidth == 320 && rec.DesktopHeight == 200
	})
	if got := f.record(t).Status; got != protocol.StateConnected {
		t.Fatalf("status = %s after host resize", got)
	}
}

func TestSessionInputIsMappedAndBatched(t *testing.T) {
	f := newSessionFixture(t, 800, 600, nil)
	f.connect(t)

	onLoop(t, f.loop, func() {
		f.mgr.SendInput(protocol.PointerMove(1, 1), protocol.PointerMove(2, 2))
		f.mgr.SendInput(protocol.PointerButton(8, 6, protocol.ButtonLeft, true))
	})
	batch, err := protocol.Decode[protocol.InputBatch](f.host.expect(t, protocol.MsgInputBatch))
	if err != nil {
		t.Fatal(err)
	}
	want := []protocol.InputEvent{
		protocol.PointerMove(25, 25),
		protocol.PointerButton(85, 65, protocol.ButtonLeft, true),
	}
	if len(batch.Events) != len(want) {
		t.Fatalf("batch = %+v, want %+v", batch.Events, want)
	}
	for i := range want {
		if batch.Events[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v", i, batch.Events[i], want[i])
		}
	}
}

func TestSessionTrustGate(t *testing.T) {
	cases := []struct {
		name   string
		accept bool
	}{
		{"accept", true},
		{"reject", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decide := make(chan bool, 1)
			trust := TrustFunc(func(ctx context.Context, _ protocol.ServerIdentity) (bool, error) {
				select {
				case ok := <-decide:
					return ok, nil
				case <-ctx.Done():
					return false, ctx.Err()
				}
			})
			f := newSessionFixture(t, 64, 48, func(o *Options) { o.Trust = trust })
			f.connect(t)

			f.host.send(protocol.MsgServerIdentity, protocol.ServerIdentity{Host: "fake-host", Fingerprint: "abcd"})
			f.host.sendRaw(protocol.MsgFrameUpdate, rectMsg(0, 0, 64, 48, red))
			eventually(t, "frame held", func() bool {
				var held int
				onLoop(t, f.loop, func() { held = len(f.mgr.trust.held) })
				return held == 1
			})
			if f.surface.count() != 0 {
				t.Fatal("held frame was presented")
			}

			decide <- tc.accept
			decision, err := protocol.Decode[protocol.TrustDecision](f.host.expect(t, protocol.MsgTrustDecision))
			if err != nil {
				t.Fatal(err)
			}
			if decision.Accept != tc.accept || decision.Fingerprint != "abcd" {
				t.Fatalf("decision = %+v", decision)
			}
			if tc.accept {
				eventually(t, "released frame", func() bool {
					img := f.surface.lastImage()
					return img != nil && img.RGBAAt(1, 1) == red
				})
				return
			}
			rec := f.states.wait(t, protocol.StateError)
			if !strings.Contains(rec.Err, ErrUntrusted.Error()) {
				t.Fatalf("error = %q", rec.Err)
			}
			if f.surface.count() != 0 {
				t.Fatal("rejected host's frame was presented")
			}
		})
	}
}

func TestSessionStalledHostDoesNotBlockLoop(t *testing.T) {
	f := newSessionFixture(t, 64, 48, func(o *Options) { o.WriteTimeout = 50 * time.Millisecond })
	stall := make(chan struct{})
	f.host.stall = stall
	t.Cleanup(func() { close(stall) })
	f.connect(t)

	// more key presses than the outbox holds; each one is a synchronous flush
	start := time.Now()
	for i := 0; i < outboxSize*2; i++ {
		onLoop(t, f.loop, func() {
			f.mgr.SendInput(protocol.KeyboardKey(0x1e, true, false))
		})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("input toward a stalled host took %v on the loop", elapsed)
	}

	rec := f.states.wait(t, protocol.StateError)
	if !strings.Contains(rec.Err, "connection lost") {
		t.Fatalf("error = %q", rec.Err)
	}
	onLoop(t, f.loop, func() { f.mgr.Detach() })
	if got := f.record(t).Status; got != protocol.StateDisconnected {
		t.Fatalf("status = %s after detach", got)
	}
}

func TestSessionAttachAfterLoopStopClosesConnection(t *testing.T) {
	host := newFakeHost(t, 64, 48)
	// the loop never runs, as after Run has returned
	loop := NewLoop(time.Millisecond, nil)
	mgr := NewManager(loop, Options{
		Address:      "pipe://fake",
		ConnectionID: "desk-1",
		PingInterval: time.Hour,
		Dial:         host.dial,
	})
	ctx, cancel := context.WithCancel(context.Background())
	mgr.Connect(ctx)

	select {
	case <-host.attaches:
	case <-time.After(3 * time.Second):
		t.Fatal("host never saw the attach")
	}
	cancel()
	select {
	case <-host.disconnects:
	case <-time.After(3 * time.Second):
		t.Fatal("attached connection stayed open after cancellation")
	}
}

// slowRegistry delays Remember so a later write could overtake it.
type slowRegistry struct {
	*sessionstore.Store
	delay time.Duration
}

func (r slowRegistry) Remember(ctx context.Context, rec sessionstore.Record) error {
	time.Sleep(r.delay)
	return r.Store.Remember(ctx, rec)
}

func TestSessionRegistryWritesKeepOrder(t *testing.T) {
	f := newSessionFixture(t, 64, 48, func(o *Options) {
		o.Sessions = slowRegistry{Store: o.Sessions.(*sessionstore.Store), delay: 50 * time.Millisecond}
	})
	f.connect(t)
	f.host.send(protocol.MsgStats, protocol.Stats{BytesSent: 4096, Frames: 7})

	eventually(t, "stats on the remembered row", func() bool {
		rec, err := f.registry.Lookup(context.Background(), "desk-1")
		return err == nil && rec.Frames == 7 && rec.BytesRx == 4096
	})
}
