package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gws "github.com/gorilla/websocket"
)

var errFakeClosed = errors.New("fake conn closed")

type fakeMsg struct {
	msgType int
	data    []byte
}

// fakeConn is an in-memory transport. The test plays the server through push
// and drop.
type fakeConn struct {
	dialer  *fakeDialer
	inbound chan fakeMsg
	gone    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	written   [][]byte
	closeCode int
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.inbound:
		return m.msgType, m.data, nil
	case <-c.gone:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(msgType int, data []byte) error {
	select {
	case <-c.gone:
		return errFakeClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(msgType int, data []byte, _ time.Time) error {
	if msgType == gws.CloseMessage && len(data) >= 2 {
		c.mu.Lock()
		c.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.gone)
		c.dialer.live.Add(-1)
	})
	return nil
}

// push delivers a message from the "server".
func (c *fakeConn) push(msgType int, data []byte) {
	select {
	case c.inbound <- fakeMsg{msgType, data}:
	case <-c.gone:
	}
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	_ = c.Close()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.gone:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

type fakeDialer struct {
	fail  atomic.Bool
	block atomic.Bool

	dials   atomic.Int32
	live    atomic.Int32
	maxLive atomic.Int32

	conns   chan *fakeConn
	mu      sync.Mutex
	urls    []string
	headers []http.Header
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.headers = append(d.headers, header)
	d.mu.Unlock()

	if d.block.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.fail.Load() {
		return nil, errors.New("connection refused")
	}

	live := d.live.Add(1)
	for {
		cur := d.maxLive.Load()
		if live <= cur || d.maxLive.CompareAndSwap(cur, live) {
			break
		}
	}

	c := &fakeConn{
		dialer:  d,
		inbound: make(chan fakeMsg),
		gone:    make(chan struct{}),
	}
	select {
	case d.conns <- c:
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
	return c, nil
}

// next waits for the next successfully dialed conn.
func (d *fakeDialer) next(timeout time.Duration) *fakeConn {
	select {
	case c := <-d.conns:
		return c
	case <-time.After(timeout):
		return nil
	}
}
