package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/omochice/vetchat/internal/config"
	"github.com/omochice/vetchat/internal/logging"
	"github.com/omochice/vetchat/internal/server"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	addr       string
	storeName  string
	sqlitePath string
	logLevel   string
	pretty     bool
)

var rootCmd = &cobra.Command{
	Use:   "vetchat-server",
	Short: "Development chat backend",
	Long: `vetchat-server serves the chat REST API and room channels on a single
port. Rooms, memberships and messages live in memory or in a SQLite file.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Server.Addr = addr
		}
		if flags.Changed("store") {
			cfg.Server.Store = storeName
		}
		if flags.Changed("sqlite-path") {
			cfg.Server.SQLitePath = sqlitePath
		}
		if flags.Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if flags.Changed("pretty") {
			cfg.Log.Pretty = pretty
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := logging.New(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)
		if err != nil {
			return err
		}
		store, err := openStore(cfg.Server, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		return run(server.New(cfg.Server.Addr, store, logger), logger)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringVar(&addr, "addr", "", "Listen address (e.g., :8000)")
	flags.StringVar(&storeName, "store", "", "Store backend: memory or sqlite")
	flags.StringVar(&sqlitePath, "sqlite-path", "", "SQLite database file")
	flags.StringVar(&logLevel, "log-level", "", "Log level")
	flags.BoolVar(&pretty, "pretty", false, "Human readable logs")
}

func openStore(cfg config.Server, logger zerolog.Logger) (server.Store, error) {
	if cfg.Store == config.StoreSQLite {
		logger.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
		return server.OpenSQLite(cfg.SQLitePath)
	}
	return server.NewMemoryStore(), nil
}

// run starts srv and blocks until it fails or a shutdown signal arrives.
func run(srv *server.Server, logger zerolog.Logger) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"server": func(ctx context.Context) error {
			logger.Info().Msg("shutting down")
			srv.Stop()
			return nil
		},
	})

	select {
	case err := <-errChan:
		if errors.Is(err, server.ErrServerStopped) {
			return nil
		}
		return err
	case code := <-wait:
		if code != 0 {
			return fmt.Errorf("shutdown exited with code %d", code)
		}
		return nil
	}
}
