// Package metrics exposes Prometheus collectors for the signaling socket.
//
// A nil *Metrics is valid and records nothing, so callers never need to check.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "signaling").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

type Metrics struct {
	dials       prometheus.Counter
	opens       prometheus.Counter
	closes      prometheus.Counter
	forceCloses *prometheus.CounterVec
	framesIn    *prometheus.CounterVec
	framesOut   *prometheus.CounterVec
	state       prometheus.Gauge
}

func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "signaling",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Metrics{
		dials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "dials_total",
			Help:      "Transports created, including reconnects.",
		}),
		opens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "connects_total",
			Help:      "Transports that completed the handshake.",
		}),
		closes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "disconnects_total",
			Help:      "Transports that closed for any reason.",
		}),
		forceCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "force_closes_total",
			Help:      "Connections closed by the client because of a protocol violation.",
		}, []string{"reason"}),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded from the server by kind.",
		}, []string{"kind"}),
		framesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the server by kind.",
		}, []string{"kind"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 connecting, 1 open, 2 closed, 3 shut down).",
		}),
	}

	if cfg.Registry != nil {
		cfg.Registry.MustRegister(m.dials, m.opens, m.closes, m.forceCloses, m.framesIn, m.framesOut, m.state)
	}

	return m
}

func (m *Metrics) Dial() {
	if m == nil {
		return
	}
	m.dials.Inc()
}

func (m *Metrics) Open() {
	if m == nil {
		return
	}
	m.opens.Inc()
}

func (m *Metrics) Close() {
	if m == nil {
		return
	}
	m.closes.Inc()
}

func (m *Metrics) ForceClose(reason string) {
	if m == nil {
		return
	}
	m.forceCloses.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameIn(kind string) {
	if m == nil {
		return
	}
	m.framesIn.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameOut(kind string) {
	if m == nil {
		return
	}
	m.framesOut.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}
