package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/framegrace/deskview/protocol"
)

// DefaultRequestTimeout bounds each synchronous request/response exchange.
const DefaultRequestTimeout = 10 * time.Second

var ErrUnexpectedMessage = errors.New("client: unexpected message")

// SimpleClient speaks the control half of the protocol over one connection.
// Writes are serialized; request helpers read synchronously and must not be
// used once a separate read loop owns the connection.
type SimpleClient struct {
	conn    net.Conn
	name    string
	timeout time.Duration

	writeMu sync.Mutex
	seq     atomic.Uint64
	session atomic.Value // uuid.UUID
}

// NewSimpleClient wraps an established connection.
func NewSimpleClient(conn net.Conn, name string) *SimpleClient {
	c := &SimpleClient{conn: conn, name: name, timeout: DefaultRequestTimeout}
	c.session.Store(uuid.Nil)
	return c
}

// Conn returns the underlying connection.
func (c *SimpleClient) Conn() net.Conn {
	return c.conn
}

// SetTimeout overrides DefaultRequestTimeout. It also bounds every write;
// zero disables both limits.
func (c *SimpleClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SessionID returns the session bound by the last successful Attach.
func (c *SimpleClient) SessionID() uuid.UUID {
	return c.session.Load().(uuid.UUID)
}

// Send encodes v and writes it as a message of type t.
func (c *SimpleClient) Send(t protocol.MessageType, v any) error {
	payload, err := protocol.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	return c.SendRaw(t, 0, payload)
}

// SendRaw writes a pre-encoded payload with extra header flags.
func (c *SimpleClient) SendRaw(t protocol.MessageType, flags uint8, payload []byte) error {
	header := protocol.Header{
		Version:   protocol.Version,
		Type:      t,
		Flags:     protocol.FlagChecksum | flags,
		SessionID: c.SessionID(),
		Sequence:  c.seq.Add(1),
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return protocol.WriteMessage(c.conn, header, payload)
}

// Handshake sends Hello and waits for Welcome.
func (c *SimpleClient) Handshake(hello protocol.Hello) (protocol.Welcome, error) {
	if hello.ClientName == "" {
		hello.ClientName = c.name
	}
	if err := c.Send(protocol.MsgHello, hello); err != nil {
		return protocol.Welcome{}, err
	}
	payload, err := c.await(protocol.MsgWelcome)
	if err != nil {
		return protocol.Welcome{}, err
	}
	return protocol.Decode[protocol.Welcome](payload)
}

// ListSessions returns the headless sessions kept for connectionID.
func (c *SimpleClient) ListSessions(connectionID string) ([]protocol.SessionInfo, error) {
	if err := c.Send(protocol.MsgListSessions, protocol.ListSessions{ConnectionID: connectionID}); err != nil {
		return nil, err
	}
	payload, err := c.await(protocol.MsgSessionList)
	if err != nil {
		return nil, err
	}
	list, err := protocol.Decode[protocol.SessionList](payload)
	if err != nil {
		return nil, err
	}
	return list.Sessions, nil
}

// Attach binds to req.SessionID, or creates a session when it is uuid.Nil.
func (c *SimpleClient) Attach(req protocol.Attach) (protocol.AttachAccept, error) {
	if err := c.Send(protocol.MsgAttach, req); err != nil {
		return protocol.AttachAccept{}, err
	}
	payload, err := c.await(protocol.MsgAttachAccept)
	if err != nil {
		return protocol.AttachAccept{}, err
	}
	accept, err := protocol.Decode[protocol.AttachAccept](payload)
	if err != nil {
		return protocol.AttachAccept{}, err
	}
	c.session.Store(accept.SessionID)
	return accept, nil
}

// Detach releases the view and leaves the remote session running.
func (c *SimpleClient) Detach(id uuid.UUID) error {
	return c.Send(protocol.MsgDetach, protocol.Detach{SessionID: id})
}

// Terminate ends the remote session.
func (c *SimpleClient) Terminate(id uuid.UUID) error {
	return c.Send(protocol.MsgTerminate, protocol.Terminate{SessionID: id})
}

// Close closes the connection.
func (c *SimpleClient) Close() error {
	return c.conn.Close()
}

// await reads until a message of type want arrives. Remote ErrorFrames are
// returned as errors; unrelated traffic is skipped.
func (c *SimpleClient) await(want protocol.MessageType) ([]byte, error) {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	for {
		hdr, payload, err := protocol.ReadMessage(c.conn)
		if err != nil {
			return nil, err
		}
		switch hdr.Type {
		case want:
			return protocol.DecompressFrame(hdr.Flags, payload)
		case protocol.MsgError:
			frame, err := protocol.Decode[protocol.ErrorFrame](payload)
			if err != nil {
				return nil, err
			}
			return nil, frame
		case protocol.MsgFrameUpdate, protocol.MsgPing, protocol.MsgPong, protocol.MsgStats, protocol.MsgStatus, protocol.MsgDesktopSize:
			continue
		default:
			return nil, fmt.Errorf("%w: %s while waiting for %s", ErrUnexpectedMessage, hdr.Type, want)
		}
	}
}
