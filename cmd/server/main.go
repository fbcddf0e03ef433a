package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sushiag/signaling-socket/internal/config"
	"github.com/sushiag/signaling-socket/internal/relay"
)

var log = logrus.New()

func authHandler(authenticate func(*http.Request) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticate(r) {
			log.Warn("Unauthorized access attempt!")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message": "Authorized"}`))
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if log, err = cfg.Logger(); err != nil {
		logrus.WithError(err).Fatal("bad log level")
	}

	authenticate := relay.HMACAuthenticator(cfg.HMACSecret)
	server := relay.NewServer(
		relay.WithLogger(log),
		relay.WithAuthenticator(authenticate),
		relay.WithAllowedOrigin(os.Getenv("ALLOWED_ORIGIN")),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth", authHandler(authenticate))
	mux.Handle("/ws", server)

	serverPort := ":" + cfg.ServerPort
	log.WithField("port", serverPort).Info("Server is running. Press CTRL+C to exit.")
	if cfg.HMACSecret != "" {
		fmt.Println("Expected Token:", relay.GenerateHMACToken(cfg.HMACSecret))
	}

	if err := http.ListenAndServe(serverPort, mux); err != nil {
		log.WithError(err).Fatal("Server failed to start")
	}
}
