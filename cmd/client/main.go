package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sushiag/signaling-socket/internal/config"
	"github.com/sushiag/signaling-socket/internal/frame"
	"github.com/sushiag/signaling-socket/internal/metrics"
	"github.com/sushiag/signaling-socket/internal/websocket"
	"github.com/sushiag/signaling-socket/internal/webrtc"
)

type flags struct {
	config         string
	url            string
	apiKey         string
	metricsAddr    string
	reconnectDelay time.Duration
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:   "signal-client",
		Short: "Connect to a signaling server and log every event",
		Long: `signal-client keeps a connection to a signaling server open,
reconnecting after every disconnect, and logs the events it receives.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	rootCmd.Flags().StringVarP(&f.config, "config", "c", "", "TOML config file")
	rootCmd.Flags().StringVar(&f.url, "url", "", "server address (http, https, ws or wss)")
	rootCmd.Flags().StringVar(&f.apiKey, "api-key", "", "sent as X-Api-Key on every handshake")
	rootCmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.Flags().DurationVar(&f.reconnectDelay, "reconnect-delay", 0, "wait between reconnect attempts")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, f flags) error {
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}

	// flags win over file and environment
	if f.url != "" {
		cfg.ServerURL = f.url
	}
	if f.apiKey != "" {
		cfg.APIKey = f.apiKey
	}
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}
	if cmd.Flags().Changed("reconnect-delay") {
		cfg.ReconnectDelay = f.reconnectDelay
	}

	log, err := cfg.Logger()
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		go serveMetrics(log, cfg.MetricsAddr)
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("X-Api-Key", cfg.APIKey)
	}

	socket := websocket.New(cfg.ServerURL,
		websocket.WithLogger(log),
		websocket.WithMetrics(m),
		websocket.WithHeader(header),
		websocket.WithReconnectDelay(cfg.ReconnectDelay),
		websocket.WithListener(eventLogger(log)),
	)
	log.WithFields(logrus.Fields{
		"url":             socket.URL(),
		"reconnect_delay": cfg.ReconnectDelay.String(),
		"ice_servers":     webrtc.Configuration(cfg.STUNServer).ICEServers[0].URLs,
	}).Info("client started. Press CTRL+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	socket.Shutdown()
	<-socket.Done()
	return nil
}

func serveMetrics(log logrus.FieldLogger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("metrics server stopped")
	}
}

func eventLogger(log logrus.FieldLogger) websocket.Listener {
	return websocket.Listener{
		Connect: func() {
			log.Info("connected")
		},
		Disconnect: func(err error) {
			log.WithError(err).Warn("disconnected")
		},
		SetClient: func(ev frame.SetClientEvent) {
			log.WithFields(logrus.Fields{"id": ev.ID, "player": ev.PlayerID}).Info("identity assigned")
		},
		SetIDs: func(ev frame.SetIDsEvent) {
			log.WithField("clients", len(ev.Clients)).Info("client table updated")
		},
		Join: func(ev frame.JoinEvent) {
			log.WithFields(logrus.Fields{"id": ev.ID, "player": ev.PlayerID}).Info("client joined")
		},
		Leave: func(ev frame.LeaveEvent) {
			log.WithField("payload", string(ev.Payload)).Info("client left")
		},
		Signal: func(ev frame.SignalEvent) {
			entry := log.WithField("from", ev.From)
			s, err := webrtc.ParseSignal(ev.Data)
			switch {
			case err != nil:
				entry.WithError(err).Warn("unrecognised signal")
			case s.Description != nil:
				entry.WithField("type", s.Description.Type.String()).Info("session description received")
			default:
				entry.WithField("candidate", s.Candidate.Candidate).Info("ice candidate received")
			}
		},
		Event: func(ev frame.Event) {
			log.WithField("kind", ev.Kind().String()).Debug("event")
		},
	}
}
