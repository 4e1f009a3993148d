package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/supportdesk/internal/logging"
	"github.com/Tyrowin/supportdesk/internal/registry"
	"github.com/Tyrowin/supportdesk/internal/router"
	"github.com/Tyrowin/supportdesk/internal/server"
	"github.com/Tyrowin/supportdesk/internal/transcript"
)

const shutdownTimeout = 30 * time.Second

type flags struct {
	configPath string
	port       string
	store      string
	storePath  string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:          "supportdesk",
		Short:        "Support chat server routing messages between end users and admins",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "path to a YAML config file (defaults to $CONFIG_FILE)")
	cmd.Flags().StringVar(&f.port, "port", "", "listen address, e.g. :8080")
	cmd.Flags().StringVar(&f.store, "store", "", "transcript backend: memory, json, sqlite, pebble or redis")
	cmd.Flags().StringVar(&f.storePath, "store-path", "", "file or directory for the transcript backend")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	return cmd
}

// apply overrides cfg with flags the user actually set.
func (f *flags) apply(cmd *cobra.Command, cfg *server.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Driver = f.store
	}
	if cmd.Flags().Changed("store-path") {
		cfg.Store.Path = f.storePath
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	cfg.Sanitize()
}

func run(parent context.Context, cfg *server.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := transcript.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open transcript store")
		return errors.Wrap(err, "open transcript store")
	}
	defer closeStore(store, logger)

	reg := registry.New()
	srv := server.New(cfg, server.Deps{
		Registry:    reg,
		Transcripts: store,
		Router:      router.New(store, reg, logger),
		Logger:      logger,
	})

	logger.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Env).
		Str("store", cfg.Store.Driver).
		Msg("starting supportdesk server")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(srv.ListenAndServe)
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info().Msg("shutting down server...")
		return srv.Shutdown(shutdownTimeout)
	})

	if err := eg.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func closeStore(store *transcript.Store, logger zerolog.Logger) {
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing transcript store")
	}
}
