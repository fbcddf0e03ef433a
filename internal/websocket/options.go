package websocket

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sushiag/signaling-socket/internal/metrics"
)

const (
	DefaultReconnectDelay   = 1000 * time.Millisecond
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

type options struct {
	reconnectDelay   time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	header           http.Header
	dial             DialFunc
	logger           logrus.FieldLogger
	metrics          *metrics.Metrics
	listeners        []Listener
}

type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		reconnectDelay:   DefaultReconnectDelay,
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
		logger:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dial == nil {
		o.dial = NewDialer(o.handshakeTimeout)
	}
	return o
}

// WithReconnectDelay sets how long the socket waits in Closed before dialing again.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.reconnectDelay = d
		}
	}
}

// WithHandshakeTimeout only applies to the default dialer.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = d
	}
}

// WithWriteTimeout bounds every frame write. A write that times out closes the
// transport and the socket reconnects.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithHeader adds request headers to every handshake, e.g. X-Api-Key.
func WithHeader(header http.Header) Option {
	return func(o *options) {
		o.header = header.Clone()
	}
}

func WithDialer(dial DialFunc) Option {
	return func(o *options) {
		o.dial = dial
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithListener registers l before the first transport is dialed, so it can't
// miss the first connect.
func WithListener(l Listener) Option {
	return func(o *options) {
		o.listeners = append(o.listeners, l)
	}
}
