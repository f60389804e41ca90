package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/clarityxdr/orchestrator/internal/agent"
	"github.com/clarityxdr/orchestrator/internal/api"
	"github.com/clarityxdr/orchestrator/internal/config"
	"github.com/clarityxdr/orchestrator/internal/events"
	"github.com/clarityxdr/orchestrator/internal/github"
	"github.com/clarityxdr/orchestrator/internal/health"
	"github.com/clarityxdr/orchestrator/internal/ingest"
	"github.com/clarityxdr/orchestrator/internal/kvstore"
	"github.com/clarityxdr/orchestrator/internal/lock"
	"github.com/clarityxdr/orchestrator/internal/log"
	"github.com/clarityxdr/orchestrator/internal/storage"
	"github.com/clarityxdr/orchestrator/internal/store"
	"github.com/clarityxdr/orchestrator/internal/task"
	"github.com/clarityxdr/orchestrator/internal/webhook"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("orchestrator version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`orchestrator - Agent orchestration service

Usage:
  orchestrator <command> [flags]

Commands:
  start             Start the orchestrator service in foreground
  config lock       Authorize current configuration (update integrity hash)
  config check      Validate configuration syntax and integrity
  version           Show version information
  help              Show this help message
`)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: orchestrator config <lock|check> [flags]")
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		return runConfigLock(actionArgs)
	case "check":
		return runConfigCheck(actionArgs)
	case "help", "--help", "-h":
		fmt.Println("Usage: orchestrator config <lock|check> [--config PATH]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	hash, err := config.Lock(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Locked %s (%s)\n", *configPath, hash)
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}
	if err := config.VerifyIntegrity(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}
	fmt.Println("Config check PASSED")
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := config.VerifyIntegrity(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Config integrity check failed: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("orchestrator starting", "version", version, "config", *configPath)

	pidPath := pidLockPath(cfg)
	pidLock, err := lock.Acquire(pidPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Database.Path)

	var kv kvstore.Store
	switch cfg.KV.Backend {
	case "redis":
		kv, err = kvstore.NewRedis(ctx, cfg.KV.Addr, cfg.KV.Password, cfg.KV.DB)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.KV.Addr, "error", err)
			return 1
		}
	default:
		kv = kvstore.NewMemory(cfg.Tasks.TTL)
	}
	defer kv.Close()
	logger.Info("kv store ready", "backend", cfg.KV.Backend)

	agents := store.NewAgents(db)
	issues := store.NewIssues(db)
	actionLogs := store.NewActionLogs(db)
	relationships := store.NewRelationships(db)

	hub := events.NewHub(256)

	registry := agent.NewRegistry(agents, actionLogs)
	if err := registry.Load(ctx); err != nil {
		logger.Error("failed to load agent registry", "error", err)
		return 1
	}
	logger.Info("agent registry loaded", "agents", registry.Count())

	queue := task.NewQueue(kv, cfg.Tasks.TTL, cfg.Tasks.Workers, cfg.Tasks.QueueSize, hub)
	task.RegisterDefaultHandlers(queue, registry)

	tracker := github.NewClient(cfg.GitHub.BaseURL, cfg.GitHub.Token)
	pipeline := ingest.NewPipeline(registry, agents, issues, actionLogs, tracker, hub)

	checker := health.NewChecker(db, kv, registry)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 4)

	go func() {
		if err := queue.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("task queue: %w", err)
		}
	}()

	if cfg.Poller.Enabled {
		poller := ingest.NewPoller(pipeline, cfg.Poller.Interval, cfg.Poller.Jitter)
		go func() {
			if err := poller.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("poller: %w", err)
			}
		}()
		logger.Info("poller enabled", "interval", cfg.Poller.Interval)
	}

	if cfg.Webhook.Enabled {
		webhookServer := webhook.New(cfg.Webhook, pipeline)
		go func() {
			if err := webhookServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", cfg.Webhook.Listen, "path", cfg.Webhook.Path)
	}

	if cfg.API.Enabled {
		apiServer := api.New(cfg.API, queue, registry, agents, actionLogs, relationships, checker, hub)
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("orchestrator running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("orchestrator stopped")
	return 0
}

func pidLockPath(cfg *config.Config) string {
	if cfg.Service.PIDFile != "" {
		return cfg.Service.PIDFile
	}
	dbPath := cfg.Database.Path
	ext := filepath.Ext(dbPath)
	return dbPath[:len(dbPath)-len(ext)] + ".pid"
}
