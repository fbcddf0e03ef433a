package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/sushiag/signaling-socket/internal/webrtc"
)

type Config struct {
	ServerURL      string
	ReconnectDelay time.Duration
	APIKey         string
	LogLevel       string
	MetricsAddr    string
	STUNServer     string

	// relay server only
	ServerPort string
	HMACSecret string
}

type fileConfig struct {
	ServerURL        string `toml:"server_url"`
	ReconnectDelay   string `toml:"reconnect_delay"`
	ReconnectDelayMS int64  `toml:"reconnect_delay_ms"`
	APIKey           string `toml:"api_key"`
	LogLevel         string `toml:"log_level"`
	MetricsAddr      string `toml:"metrics_addr"`
	STUNServer       string `toml:"stun_server"`
	ServerPort       string `toml:"server_port"`
	HMACSecret       string `toml:"hmac_secret"`
}

func Default() Config {
	return Config{
		ServerURL:      "http://localhost:8080/ws",
		ReconnectDelay: time.Second,
		LogLevel:       "info",
		STUNServer:     webrtc.DefaultSTUNServer,
		ServerPort:     "8080",
	}
}

// Load reads .env (if present), then the TOML file at path (if path is not
// empty), then environment variables. Later sources win.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, using defaults")
	}

	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("server_url") {
		c.ServerURL = strings.TrimSpace(raw.ServerURL)
	}

	if meta.IsDefined("reconnect_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReconnectDelay))
		if err != nil {
			return fmt.Errorf("parse reconnect_delay: %w", err)
		}
		c.ReconnectDelay = d
	}

	if meta.IsDefined("reconnect_delay_ms") {
		c.ReconnectDelay = time.Duration(raw.ReconnectDelayMS) * time.Millisecond
	}

	if meta.IsDefined("api_key") {
		c.APIKey = raw.APIKey
	}

	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("metrics_addr") {
		c.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("stun_server") {
		c.STUNServer = strings.TrimSpace(raw.STUNServer)
	}

	if meta.IsDefined("server_port") {
		c.ServerPort = strings.TrimSpace(raw.ServerPort)
	}

	if meta.IsDefined("hmac_secret") {
		c.HMACSecret = raw.HMACSecret
	}

	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.ServerURL, "SIGNAL_SERVER_URL")
	setString(&c.APIKey, "API_KEY")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.MetricsAddr, "METRICS_ADDR")
	setString(&c.STUNServer, "STUN_SERVER")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.HMACSecret, "HMAC_SECRET")

	if v := os.Getenv("RECONNECT_DELAY_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			return fmt.Errorf("RECONNECT_DELAY_MS must be a non-negative integer, got %q", v)
		}
		c.ReconnectDelay = time.Duration(ms) * time.Millisecond
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Logger builds the JSON logger used by the binaries.
func (c Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(level)
	return log, nil
}
