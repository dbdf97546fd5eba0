package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	apiPkg "github.com/supportflow-io/supportflow/internal/api"
	"github.com/supportflow-io/supportflow/internal/config"
	"github.com/supportflow-io/supportflow/internal/llm"
	"github.com/supportflow-io/supportflow/internal/oplog"
	"github.com/supportflow-io/supportflow/internal/provider"
	"github.com/supportflow-io/supportflow/internal/scheduler"
	"github.com/supportflow-io/supportflow/internal/store"
	"github.com/supportflow-io/supportflow/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// A local .env is optional; real env vars win.
	godotenv.Load()

	// Load config (2 modes: file, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up logging: JSON to stdout, plus a ring buffer served over the API.
	logLevel := parseLevel(cfg.Log.Level)
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := oplog.New(cfg.Log.BufferSize)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(oplog.NewHandler(jsonHandler, logBuf))

	logger.Info("supportflowd starting",
		"provider", cfg.Provider.Type,
		"model", cfg.Provider.Model,
		"db", cfg.Store.Path,
	)

	// 1. Initialize the LLM provider
	var prov provider.Provider
	switch cfg.Provider.Type {
	case "openai":
		var opts []provider.OpenAIOption
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(cfg.Provider.BaseURL))
		}
		if cfg.Provider.Model != "" {
			opts = append(opts, provider.WithModel(cfg.Provider.Model))
		}
		prov = provider.NewOpenAI(cfg.Provider.APIKey, opts...)
	default: // "anthropic"
		var opts []provider.AnthropicOption
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, provider.WithAnthropicBaseURL(cfg.Provider.BaseURL))
		}
		if cfg.Provider.Model != "" {
			opts = append(opts, provider.WithAnthropicModel(cfg.Provider.Model))
		}
		prov = provider.NewAnthropic(cfg.Provider.APIKey, opts...)
	}
	logger.Info("provider initialized", "name", prov.Name())

	// 2. Open the store
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}

	// 3. Wire the orchestration engine
	timeout := time.Duration(cfg.Workflow.LLMTimeoutSeconds) * time.Second
	client := llm.New(prov, timeout, logger.With("component", "llm"))
	engine := workflow.NewEngine(client, st, logger.With("component", "workflow"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Start the maintenance scheduler
	sched := scheduler.New(logger.With("component", "scheduler"))
	if err := sched.RegisterStatsRollup(st, cfg.Workflow.StatsSchedule, cfg.Workflow.StatsWindowDays); err != nil {
		logger.Error("failed to register stats rollup", "error", err)
		os.Exit(1)
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 5. Start the API server
	apiSrv := apiPkg.NewServer(engine, st, apiPkg.Config{
		Host:            cfg.API.Host,
		Port:            cfg.API.Port,
		Key:             cfg.API.Key,
		StatsWindowDays: cfg.Workflow.StatsWindowDays,
	}, logger.With("component", "api"), logBuf)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 6. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("supportflowd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
