package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vitalhq/pulse/internal/chat/ai"
	"github.com/vitalhq/pulse/internal/chat/health"
	"github.com/vitalhq/pulse/internal/chat/report"
	"github.com/vitalhq/pulse/internal/chat/runner"
	"github.com/vitalhq/pulse/internal/chat/store"
	"github.com/vitalhq/pulse/internal/chat/stream"
	"github.com/vitalhq/pulse/internal/config"
	"github.com/vitalhq/pulse/internal/events"
)

var (
	configPath string
	verbose    bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pulse",
		Short: "Chat with your personal health assistant",
		Long: `Pulse is the conversational pipeline of a personal health companion.
It builds a bounded context from your health records, dispatches to the
configured AI backend, and keeps the full conversation history locally.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.pulse/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(chatCmd())
	cmd.AddCommand(conversationsCmd())
	cmd.AddCommand(providersCmd())
	return cmd
}

// app wires the pipeline for a CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	store    *store.SQLiteStore
	registry *ai.Registry
	runner   *runner.Runner
	reporter *report.Reporter
}

func newApp() (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	bus := events.NewBus(logger)

	st, err := store.NewSQLite(cfg.DBPath())
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	registry, err := buildProviders(cfg)
	if err != nil {
		st.Close()
		bus.Close()
		return nil, err
	}

	reporter := report.NewReporter(bus, logger)
	builder := health.NewContextBuilder(
		health.NewFileSource(recordsPath(cfg)), logger)

	r := runner.New(runner.Options{
		Store:       st,
		Providers:   registry,
		Context:     builder,
		Injector:    ai.NewInjector(cfg.InjectionPatterns...),
		Coordinator: stream.NewCoordinator(),
		Reporter:    reporter,
		Bus:         bus,
		Retry:       cfg.Retry,
		Persona:     cfg.Persona,
		Categories:  cfg.Categories,
		TokenBudget: cfg.TokenBudget,
		Streaming:   cfg.Streaming,
		Logger:      logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		store:    st,
		registry: registry,
		runner:   r,
		reporter: reporter,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.bus.Close()
}

func recordsPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "records.yaml")
}
