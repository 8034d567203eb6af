// Command server runs the authoring engine's HTTP service: it wires
// config, persistence, the LLM gateway, and the engine components into
// an internal/httpapi.Server and serves it until terminated.
//
// Grounded on the orchestrator CLI's root command
// (cmd/nerd/main.go): a cobra root command whose RunE does the real
// work, with signal-driven graceful shutdown in place of the CLI's
// interactive chat loop.
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

	"github.com/vampirenirmal/taletwo/internal/branchcache"
	"github.com/vampirenirmal/taletwo/internal/config"
	"github.com/vampirenirmal/taletwo/internal/httpapi"
	"github.com/vampirenirmal/taletwo/internal/llm"
	"github.com/vampirenirmal/taletwo/internal/pagegen"
	"github.com/vampirenirmal/taletwo/internal/persistence"
	"github.com/vampirenirmal/taletwo/internal/planengine"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
	"github.com/vampirenirmal/taletwo/internal/storyruntime"
	"github.com/vampirenirmal/taletwo/internal/verifier"
)

// idleTimeout must exceed the LLM's worst-case latency so a slow
// synchronous generation is never killed mid-flight by the server's own
// idle connection reaper (spec.md §6).
const idleTimeout = 255 * time.Second

var (
	verbose  bool
	seedPath string
)

var rootCmd = &cobra.Command{
	Use:   "taletwo-server",
	Short: "Serves the branching-narrative authoring engine over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func main() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&seedPath, "seed", "", "path to a YAML file bootstrapping a demo book at startup")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := persistence.OpenSQLite(cfg.DB.Path, cfg.DB.TablePrefix, logger)
	if err != nil {
		return fmt.Errorf("open persistence adapter: %w", err)
	}
	defer store.Close()

	gateway := llm.New(cfg.AI.APIKey,
		llm.WithBaseURL(cfg.AI.BaseURL),
		llm.WithModel(cfg.AI.Model),
		llm.WithTimeout(cfg.AI.Timeout),
		llm.WithLogger(logger),
	)

	plans := planengine.New(gateway, logger)
	pages := pagegen.New(gateway, pagegen.WithLogger(logger))
	verify := verifier.New(gateway, logger)
	cache := branchcache.New(store, pages, branchcache.WithLogger(logger))
	runtime := storyruntime.New(store, plans, pages, verify, cache, storyruntime.WithLogger(logger))

	if seedPath != "" {
		if err := seedDemoBook(ctx, store, seedPath); err != nil {
			return fmt.Errorf("seed demo book: %w", err)
		}
	}

	srv := httpapi.New(runtime, store, httpapi.DebugHeaderResolver{}, cfg.HTTP.CORSOrigin, httpapi.WithLogger(logger))

	httpServer := &http.Server{
		Addr:        ":" + cfg.HTTP.Port,
		Handler:     srv.Routes(),
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// demoOwnerID is the fixed owner of the book seedDemoBook creates, so a
// --seed run is idempotent to inspect across restarts via the debug auth
// header.
const demoOwnerID = "demo"

func seedDemoBook(ctx context.Context, store persistence.Adapter, path string) error {
	seedCfg, err := config.LoadSeed(path)
	if err != nil {
		return err
	}
	book := storymodel.NewBook(demoOwnerID, *seedCfg)
	return store.InsertOne(ctx, book)
}
