// Package config loads vetchat settings from a YAML file and VETCHAT_*
// environment variables. Command line flags are applied by the binaries on
// top of the loaded value.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/omochice/vetchat/internal/client"
	"github.com/omochice/vetchat/internal/session"
	"github.com/omochice/vetchat/internal/transport/gobwas"
	"github.com/omochice/vetchat/internal/transport/gorilla"
	"github.com/omochice/vetchat/internal/transport/ws"
	"github.com/omochice/vetchat/pkg/protocol"
)

const envPrefix = "VETCHAT_"

// Transport names accepted by the transport key.
const (
	TransportGobwas  = "gobwas"
	TransportNhooyr  = "ws"
	TransportGorilla = "gorilla"
)

// Store names accepted by server.store.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// ErrNoIdentity is returned when an operation needs an identity and none is
// configured.
var ErrNoIdentity = errors.New("identity is required")

type Config struct {
	Identity     string    `yaml:"identity"`
	BackendURL   string    `yaml:"backend_url"`
	ChannelURL   string    `yaml:"channel_url"`
	Transport    string    `yaml:"transport"`
	Format       string    `yaml:"format"`
	Reconnect    Reconnect `yaml:"reconnect"`
	HistoryMerge string    `yaml:"history_merge"`
	Ack          string    `yaml:"ack"`
	Log          Log       `yaml:"log"`
	Server       Server    `yaml:"server"`
}

type Reconnect struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Server struct {
	Addr       string `yaml:"addr"`
	Store      string `yaml:"store"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	b := client.DefaultBackoff()
	return Config{
		BackendURL: "http://localhost:8000",
		ChannelURL: "ws://localhost:8000/chat/ws",
		Transport:  TransportGobwas,
		Format:     protocol.FormatText.String(),
		Reconnect: Reconnect{
			Initial:    b.Initial,
			Max:        b.Max,
			Multiplier: b.Multiplier,
		},
		HistoryMerge: session.MergeKeepAll.String(),
		Ack:          session.AckNextFrame.String(),
		Log:          Log{Level: "info"},
		Server: Server{
			Addr:       ":8000",
			Store:      StoreMemory,
			SQLitePath: "vetchat.db",
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Identity = envOrDefault("IDENTITY", c.Identity)
	c.BackendURL = envOrDefault("BACKEND_URL", c.BackendURL)
	c.ChannelURL = envOrDefault("CHANNEL_URL", c.ChannelURL)
	c.Transport = envOrDefault("TRANSPORT", c.Transport)
	c.Format = envOrDefault("FORMAT", c.Format)
	c.HistoryMerge = envOrDefault("HISTORY_MERGE", c.HistoryMerge)
	c.Ack = envOrDefault("ACK", c.Ack)
	c.Log.Level = envOrDefault("LOG_LEVEL", c.Log.Level)
	c.Server.Addr = envOrDefault("SERVER_ADDR", c.Server.Addr)
	c.Server.Store = envOrDefault("SERVER_STORE", c.Server.Store)
	c.Server.SQLitePath = envOrDefault("SERVER_SQLITE_PATH", c.Server.SQLitePath)

	var err error
	if c.Reconnect.Initial, err = envDuration("RECONNECT_INITIAL", c.Reconnect.Initial); err != nil {
		return err
	}
	if c.Reconnect.Max, err = envDuration("RECONNECT_MAX", c.Reconnect.Max); err != nil {
		return err
	}
	if v := os.Getenv(envPrefix + "RECONNECT_MULTIPLIER"); v != "" {
		if c.Reconnect.Multiplier, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("invalid %sRECONNECT_MULTIPLIER: %w", envPrefix, err)
		}
	}
	if v := os.Getenv(envPrefix + "LOG_PRETTY"); v != "" {
		if c.Log.Pretty, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("invalid %sLOG_PRETTY: %w", envPrefix, err)
		}
	}
	return nil
}

// Validate checks every enumerated value.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportGobwas, TransportNhooyr, TransportGorilla:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	switch c.Server.Store {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("unknown server store %q", c.Server.Store)
	}
	if _, err := protocol.ParseFormat(c.Format); err != nil {
		return err
	}
	if _, err := session.ParseAckPolicy(c.Ack); err != nil {
		return err
	}
	if _, err := session.ParseMergePolicy(c.HistoryMerge); err != nil {
		return err
	}
	if c.Reconnect.Initial < 0 || c.Reconnect.Max < 0 {
		return errors.New("reconnect delays must not be negative")
	}
	if c.Reconnect.Multiplier != 0 && c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be at least 1, got %v", c.Reconnect.Multiplier)
	}
	return nil
}

// Dialer returns the channel transport selected by Transport.
func (c Config) Dialer() (client.Dialer, error) {
	switch c.Transport {
	case TransportGobwas:
		return gobwas.Dialer{}, nil
	case TransportNhooyr:
		return ws.Dialer{}, nil
	case TransportGorilla:
		return gorilla.Dialer{HandshakeTimeout: 10 * time.Second}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", c.Transport)
}

func (c Config) Backoff() client.Backoff {
	return client.Backoff{
		Initial:    c.Reconnect.Initial,
		Max:        c.Reconnect.Max,
		Multiplier: c.Reconnect.Multiplier,
	}
}

// Session returns the controller configuration for the configured identity.
func (c Config) Session(logger zerolog.Logger) (session.Config, error) {
	if c.Identity == "" {
		return session.Config{}, ErrNoIdentity
	}
	format, err := protocol.ParseFormat(c.Format)
	if err != nil {
		return session.Config{}, err
	}
	ack, err := session.ParseAckPolicy(c.Ack)
	if err != nil {
		return session.Config{}, err
	}
	merge, err := session.ParseMergePolicy(c.HistoryMerge)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Identity: c.Identity,
		Ack:      ack,
		Merge:    merge,
		Format:   format,
		Logger:   logger,
	}, nil
}

func envOrDefault(key string, fallback string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	return d, nil
}
