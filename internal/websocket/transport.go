package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
)

// Conn is the part of *gws.Conn the socket uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens one transport. It must return when ctx is cancelled.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// NewDialer returns a DialFunc backed by a gorilla dialer.
func NewDialer(handshakeTimeout time.Duration) DialFunc {
	dialer := &gws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		conn, _, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

var (
	errNotReady           = errors.New("transport is not open")
	errClosedWhileDialing = errors.New("transport closed while dialing")
)

const closeWriteWait = time.Second

// transport is one dial attempt and the connection it produced. It is never
// reused: every reconnect makes a new one.
type transport struct {
	id           string
	cancel       context.CancelFunc
	writeTimeout time.Duration

	mu    sync.Mutex // guards conn and state
	conn  Conn
	state State

	writeMu sync.Mutex // gorilla allows one concurrent writer
}

func newTransport(cancel context.CancelFunc, writeTimeout time.Duration) *transport {
	return &transport{
		id:           uuid.NewString(),
		cancel:       cancel,
		writeTimeout: writeTimeout,
		state:        Connecting,
	}
}

// attach stores the dialed conn. It fails if close was called while dialing.
func (t *transport) attach(conn Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Connecting {
		return false
	}
	t.conn = conn
	t.state = Open
	return true
}

func (t *transport) ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == Open
}

func (t *transport) write(data []byte) error {
	t.mu.Lock()
	conn, ready := t.conn, t.state == Open
	t.mu.Unlock()

	if !ready {
		return errNotReady
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return conn.WriteMessage(gws.BinaryMessage, data)
}

// close sends a close frame when connected and tears the conn down. The read
// loop then fails and reports the close. Calling it more than once is a no-op.
func (t *transport) close(code int, reason string) {
	t.mu.Lock()
	if t.state == Closed {
		t.mu.Unlock()
		return
	}
	t.state = Closed
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if conn == nil {
		return
	}
	msg := gws.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(closeWriteWait))
	_ = conn.Close()
}

// closed marks the transport dead after its conn failed on its own.
func (t *transport) closed() {
	t.mu.Lock()
	t.state = Closed
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}
