package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/agents"
	"github.com/renalworks/nefro/pkg/config"
	"github.com/renalworks/nefro/pkg/databases"
	"github.com/renalworks/nefro/pkg/docstore"
	"github.com/renalworks/nefro/pkg/embedders"
	"github.com/renalworks/nefro/pkg/litapi"
	"github.com/renalworks/nefro/pkg/llms"
	"github.com/renalworks/nefro/pkg/logger"
	"github.com/renalworks/nefro/pkg/observability"
	"github.com/renalworks/nefro/pkg/orchestrator"
	"github.com/renalworks/nefro/pkg/retrieval"
	"github.com/renalworks/nefro/pkg/server"
	"github.com/renalworks/nefro/pkg/session"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := serveCmd.String("config", "", "Configuration file")
		debug := serveCmd.Bool("debug", false, "Enable debug logging")
		_ = serveCmd.Parse(os.Args[2:])

		if err := runServe(*configFile, *debug); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("nefro %s\n", version)
	case "help", "-h", "--help":
		showHelp()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		showHelp()
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println(`nefro - CKD question-answering orchestration service

Usage:
  nefro serve [-config FILE] [-debug]   Start the HTTP server
  nefro version                         Print the version
  nefro help                            Show this help`)
}

func runServe(configFile string, debug bool) error {
	if err := config.LoadDotEnv(""); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	level := logger.ParseLevel(cfg.Logging.Level)
	if debug {
		level = logger.ParseLevel("debug")
	}
	output := os.Stdout
	if cfg.Logging.File != "" {
		f, closeFile, err := logger.OpenLogFile(cfg.Logging.File)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer closeFile()
		output = f
	}
	logger.Init(level, output, cfg.Logging.Format)
	log := logger.GetLogger()

	if _, err := observability.InitMetrics(cfg.Metrics.Enabled); err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}

	store, err := docstore.NewSQLStore(&cfg.DocumentStore)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer store.Close()

	vector, err := databases.NewProviderFromConfig(&cfg.VectorStore)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer vector.Close()

	embedder, err := embedders.CreateFromConfig(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer embedder.Close()

	llmRegistry := llms.NewRegistry()
	llm, err := llmRegistry.CreateFromConfig("default", &cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	defer llm.Close()

	engine := retrieval.NewEngine(store, vector, embedder, &cfg.Retrieval)
	health := retrieval.NewHealthSupervisor(store, vector,
		time.Duration(cfg.Retrieval.HealthInterval)*time.Second)
	literature := litapi.NewClientFromConfig(&cfg.Literature)

	sessions := session.NewManager(&cfg.Session)
	policy := session.NewPolicy(&cfg.Session)
	streams := session.NewActiveStreams()

	registry := agent.NewRegistry()
	deps := agents.Deps{Engine: engine, Store: store, LLM: llm, Literature: literature}
	if err := agents.RegisterAll(registry, deps, cfg); err != nil {
		return fmt.Errorf("failed to register agents: %w", err)
	}
	log.Info("agents registered", "agents", registry.ListAgents())

	orch := orchestrator.New(registry, sessions, policy, streams)
	srv := server.New(cfg, orch, sessions, policy, registry, health)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go health.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("signal received, shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
