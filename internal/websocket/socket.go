// Package websocket keeps one signaling connection alive.
//
// A Socket owns at most one transport at a time and walks it through
// Connecting -> Open -> Closed, dialing a fresh transport a fixed delay after
// every close until Shutdown is called. Inbound binary frames are decoded with
// package frame and published to listeners as typed events. Anything the
// socket can't decode closes the connection, which then reconnects like any
// other disconnect.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sushiag/signaling-socket/internal/frame"
	"github.com/sushiag/signaling-socket/internal/metrics"
)

type signalKind uint8

const (
	signalOpen signalKind = iota
	signalClose
	signalMessage
	signalReconnect
)

// signal is everything the event loop reacts to.
type signal struct {
	kind    signalKind
	t       *transport
	msgType int
	data    []byte
	err     error
}

type Socket struct {
	url     string
	header  http.Header
	dial         DialFunc
	delay        time.Duration
	writeTimeout time.Duration
	log          logrus.FieldLogger
	metrics      *metrics.Metrics

	listeners registry

	signals  chan signal
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.RWMutex // guards current and state
	current *transport
	state   State

	// owned by the event loop
	timer   *time.Timer
	halting bool
}

// New normalizes addr and starts connecting right away. It never blocks.
func New(addr string, opts ...Option) *Socket {
	o := newOptions(opts...)

	s := &Socket{
		url:          NormalizeURL(addr),
		header:       o.header,
		dial:         o.dial,
		delay:        o.reconnectDelay,
		writeTimeout: o.writeTimeout,
		log:          o.logger.WithField("component", "socket"),
		metrics:      o.metrics,
		signals:      make(chan signal),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		state:        Connecting,
	}
	for _, l := range o.listeners {
		s.listeners.add(l)
	}

	go s.loop()
	return s
}

// URL is the normalized server address.
func (s *Socket) URL() string {
	return s.url
}

func (s *Socket) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Listen registers l and returns a func that removes it.
func (s *Socket) Listen(l Listener) (unsubscribe func()) {
	return s.listeners.add(l)
}

// Send encodes one frame and writes it to the current transport. When the
// transport isn't open the frame is dropped and Send returns nil: delivery is
// at most once and nothing is queued. A write that doesn't finish within the
// write timeout fails and closes the transport.
func (s *Socket) Send(kind frame.EventKind, payload any) error {
	t := s.transport()
	if t == nil || !t.ready() {
		s.log.WithField("kind", kind.String()).Debug("dropping frame, socket is not open")
		return nil
	}

	b, err := frame.Encode(kind, payload)
	if err != nil {
		return err
	}

	if err := t.write(b); err != nil {
		if errors.Is(err, errNotReady) {
			return nil
		}
		s.log.WithError(err).WithField("transport", t.id).Warn("write failed, closing transport")
		t.close(gws.CloseGoingAway, "write failed")
		return fmt.Errorf("send %s: %w", kind, err)
	}

	s.metrics.FrameOut(kind.String())
	return nil
}

// Close closes the current transport, if any. The socket reconnects afterwards;
// use Shutdown to stop for good. A zero code means normal closure.
func (s *Socket) Close(code int, reason string) {
	t := s.transport()
	if t == nil {
		return
	}
	if code == 0 {
		code = gws.CloseNormalClosure
	}
	t.close(code, reason)
}

// Shutdown stops reconnecting and closes the transport. It returns at once;
// Done is closed after the final disconnect has been published.
func (s *Socket) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Socket) Done() <-chan struct{} {
	return s.done
}

func (s *Socket) transport() *transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Socket) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.metrics.SetState(int(state))
}

func (s *Socket) post(sig signal) {
	select {
	case s.signals <- sig:
	case <-s.done:
	}
}

func (s *Socket) loop() {
	defer close(s.done)

	s.connect()

	stop := s.stop
	for {
		select {
		case sig := <-s.signals:
			if s.handle(sig) {
				return
			}
		case <-stop:
			stop = nil
			if s.beginShutdown() {
				return
			}
		}
	}
}

// stopping reports whether Shutdown was called but the loop hasn't seen it yet.
func (s *Socket) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// handle applies one signal and reports whether the loop is finished.
func (s *Socket) handle(sig signal) bool {
	switch sig.kind {
	case signalOpen:
		s.onOpen(sig.t)
	case signalMessage:
		s.onMessage(sig.t, sig.msgType, sig.data)
	case signalClose:
		return s.onClose(sig.t, sig.err)
	case signalReconnect:
		s.timer = nil
		if !s.halting && !s.stopping() {
			s.connect()
		}
	}
	return false
}

// connect is only ever called from the loop, either at start or when the
// reconnect timer fires, so there is never more than one live transport.
func (s *Socket) connect() {
	ctx, cancel := context.WithCancel(context.Background())
	t := newTransport(cancel, s.writeTimeout)

	s.mu.Lock()
	s.current = t
	s.state = Connecting
	s.mu.Unlock()
	s.metrics.SetState(int(Connecting))
	s.metrics.Dial()

	s.log.WithFields(logrus.Fields{
		"transport": t.id,
		"url":       s.url,
	}).Debug("dialing")

	go s.run(ctx, t)
}

// run dials t and then reads from it until it fails. It reports exactly one
// close for t, always after t's conn has been closed.
func (s *Socket) run(ctx context.Context, t *transport) {
	conn, err := s.dial(ctx, s.url, s.header)
	if err != nil {
		t.closed()
		s.post(signal{kind: signalClose, t: t, err: err})
		return
	}

	if !t.attach(conn) {
		_ = conn.Close()
		s.post(signal{kind: signalClose, t: t, err: errClosedWhileDialing})
		return
	}
	s.post(signal{kind: signalOpen, t: t})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.closed()
			s.post(signal{kind: signalClose, t: t, err: err})
			return
		}
		s.post(signal{kind: signalMessage, t: t, msgType: msgType, data: data})
	}
}

func (s *Socket) onOpen(t *transport) {
	if t != s.transport() || s.halting {
		return
	}

	s.setState(Open)
	s.metrics.Open()
	s.log.WithField("transport", t.id).Info("connected")
	s.listeners.connect()
}

func (s *Socket) onMessage(t *transport, msgType int, data []byte) {
	if t != s.transport() || !t.ready() {
		return
	}

	if msgType != gws.BinaryMessage {
		s.forceClose(t, gws.CloseUnsupportedData, "non-binary", fmt.Errorf("message type %d", msgType))
		return
	}

	f, err := frame.Decode(data)
	if err != nil {
		s.forceClose(t, gws.CloseProtocolError, "malformed", err)
		return
	}

	ev, err := frame.Parse(f)
	if err != nil {
		s.forceClose(t, gws.CloseProtocolError, "malformed", err)
		return
	}
	if ev == nil {
		s.log.WithFields(logrus.Fields{
			"transport": t.id,
			"kind":      f.Kind.String(),
		}).Debug("ignoring unknown event kind")
		return
	}

	s.metrics.FrameIn(f.Kind.String())
	s.listeners.event(ev)
}

func (s *Socket) forceClose(t *transport, code int, reason string, cause error) {
	s.log.WithError(cause).WithFields(logrus.Fields{
		"transport": t.id,
		"reason":    reason,
	}).Warn("protocol violation, closing transport")

	s.metrics.ForceClose(reason)
	t.close(code, reason)
}

func (s *Socket) onClose(t *transport, err error) bool {
	if t != s.transport() {
		return false
	}

	s.setState(Closed)
	s.metrics.Close()
	s.log.WithError(err).WithField("transport", t.id).Info("disconnected")
	s.listeners.disconnect(err)

	if s.halting {
		s.setState(Shutdown)
		return true
	}

	s.timer = time.AfterFunc(s.delay, func() {
		s.post(signal{kind: signalReconnect})
	})
	return false
}

// beginShutdown reports whether the loop can stop right away, which is the
// case unless a transport still has to report its close.
func (s *Socket) beginShutdown() bool {
	s.halting = true

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if s.State() == Closed {
		s.setState(Shutdown)
		s.log.Info("shut down")
		return true
	}

	if t := s.transport(); t != nil {
		t.close(gws.CloseNormalClosure, "shutdown")
	}
	return false
}
