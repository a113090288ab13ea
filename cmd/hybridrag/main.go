// Command hybridrag serves and drives the hybrid retrieval engine: an HTTP
// question endpoint, catalog ingestion, graph loading, evaluation and store
// statistics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/hybridrag"
)

var (
	cfgFile  string
	cfg      *cliConfig
	closeLog func() error

	// openEngine is replaced in tests.
	openEngine = func(c hybridrag.Config) (hybridrag.Engine, error) {
		return hybridrag.New(c)
	}
)

var rootCmd = &cobra.Command{
	Use:           "hybridrag",
	Short:         "Answer catalog questions from a knowledge graph and a vector index",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		logger, closer, err := newLogger(c.Log, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		cfg, closeLog = c, closer
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLog != nil {
			return closeLog()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.AddCommand(serveCmd, askCmd, ingestCmd, loadGraphCmd, evalCmd, statsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withEngine opens the engine for the duration of fn.
func withEngine(fn func(hybridrag.Engine) error) error {
	eng, err := openEngine(cfg.Config)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("closing engine", "error", err)
		}
	}()
	return fn(eng)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		return withEngine(func(eng hybridrag.Engine) error {
			return serve(cmd.Context(), eng, cfg.Server)
		})
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
}

// serve runs the HTTP server until ctx is cancelled, then drains
// in-flight requests.
func serve(ctx context.Context, eng hybridrag.Engine, sc serverConfig) error {
	srv := &http.Server{
		Addr:         sc.Addr,
		Handler:      newHandler(eng).routes(sc),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingest can run for minutes
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", sc.Addr, "auth", sc.APIKey != "")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
