package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llamagate/internal/auth"
	"llamagate/internal/config"
	"llamagate/internal/generator"
	"llamagate/internal/httpapi"
	"llamagate/internal/manager"
	"llamagate/internal/scheduler"
)

// serveOptions hold the server flags.
type serveOptions struct {
	configPath   string
	port         int
	host         string
	debug        bool
	requireToken bool
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}
	root := &cobra.Command{
		Use:           "llamagate",
		Short:         "Multi-tenant local LLM serving gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Tolerate flags from newer or older wrappers.
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts)
		},
	}
	root.Flags().StringVarP(&opts.configPath, "config", "c", "./config.json", "path to the model configuration file")
	root.Flags().IntVarP(&opts.port, "port", "p", 9000, "HTTP listen port")
	root.Flags().StringVarP(&opts.host, "host", "h", "0.0.0.0", "HTTP listen host")
	root.Flags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")
	root.Flags().BoolVarP(&opts.requireToken, "require-token", "t", false, "require a valid bearer token on every request")
	// Registered without a shorthand so cobra's InitDefaultHelpFlag doesn't
	// try to claim "-h", which "host" above already uses.
	root.Flags().Bool("help", false, "help for "+root.Use)

	root.AddCommand(newTokenCmd())
	return root
}

func serve(opts *serveOptions) error {
	log := newLogger(opts.debug)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llamagate: %v\n", err)
		return err
	}

	runtime := generator.NewRuntime()
	models, err := manager.New(manager.Config{
		Runtime: runtime,
		Models:  cfg.Models,
		Logger:  log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "llamagate: %v\n", err)
		return err
	}

	store := auth.LoadStore(tokensPath(opts.configPath))
	filter := auth.NewFilter(store, opts.requireToken)
	sched := scheduler.New(models, log)

	mux := httpapi.NewMux(httpapi.Config{
		Logger:    log,
		Version:   version,
		Models:    models,
		Scheduler: sched,
		Filter:    filter,
	})

	addr := opts.host + ":" + strconv.Itoa(opts.port)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Int("models", len(cfg.Models)).
			Bool("require_token", opts.requireToken).
			Str("version", version).
			Msg("llamagate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
		models.Shutdown()
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	models.Shutdown()
	log.Info().Msg("goodbye")
	return nil
}

// tokensPath resolves the token store next to the config file.
func tokensPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "tokens.json")
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}
