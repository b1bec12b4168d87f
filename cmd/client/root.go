package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/omochice/vetchat/internal/backend"
	"github.com/omochice/vetchat/internal/config"
	"github.com/omochice/vetchat/internal/logging"
	"github.com/omochice/vetchat/internal/rooms"
)

var (
	configPath string
	flagValues config.Config

	cfg    config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vetchat",
	Short: "Real-time chat client for the veterans platform",
	Long: `vetchat talks to the chat backend: it manages your room memberships and
runs an interactive session on a room channel.

Quick Start:
  vetchat --identity alice rooms list      # Rooms you are a member of
  vetchat --identity alice rooms create vets
  vetchat --identity alice chat vets       # Open an interactive session`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)
		return err
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringVarP(&flagValues.Identity, "identity", "u", "", "Your user name")
	flags.StringVar(&flagValues.BackendURL, "backend-url", "", "Base URL of the chat REST API")
	flags.StringVar(&flagValues.ChannelURL, "channel-url", "", "WebSocket URL of the room channel endpoint")
	flags.StringVar(&flagValues.Transport, "transport", "", "Channel transport: gobwas, ws or gorilla")
	flags.StringVar(&flagValues.Format, "format", "", "Outbound frame format: text or envelope")
	flags.StringVar(&flagValues.Ack, "ack", "", "Send acknowledgment policy: next-frame or own-echo")
	flags.StringVar(&flagValues.HistoryMerge, "history-merge", "", "History merge policy: keep or dedupe")
	flags.StringVar(&flagValues.Log.Level, "log-level", "", "Log level")
	flags.BoolVar(&flagValues.Log.Pretty, "pretty", false, "Human readable logs")
}

// loadConfig loads the config file and environment, then applies the flags
// that were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	c, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("identity", &c.Identity, flagValues.Identity)
	set("backend-url", &c.BackendURL, flagValues.BackendURL)
	set("channel-url", &c.ChannelURL, flagValues.ChannelURL)
	set("transport", &c.Transport, flagValues.Transport)
	set("format", &c.Format, flagValues.Format)
	set("ack", &c.Ack, flagValues.Ack)
	set("history-merge", &c.HistoryMerge, flagValues.HistoryMerge)
	set("log-level", &c.Log.Level, flagValues.Log.Level)
	if flags.Changed("pretty") {
		c.Log.Pretty = flagValues.Log.Pretty
	}

	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

func newBackend() *backend.Client {
	return backend.NewClient(cfg.BackendURL, &http.Client{Timeout: 15 * time.Second}, logger)
}

func newRegistry() (*backend.Client, *rooms.Registry, error) {
	if cfg.Identity == "" {
		return nil, nil, config.ErrNoIdentity
	}
	b := newBackend()
	return b, rooms.NewRegistry(b, logger), nil
}
