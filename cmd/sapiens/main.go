// Sapiens adaptive-learning backend — serves the authoring and
// virtualization HTTP API, runs the generation worker pool, and keeps every
// student's virtual modules converging on the published source content.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/api"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/cleanup"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/database"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/generator"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/llm"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/queue"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/reconciler"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/scheduler"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/secrets"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	podID := resolvePodID()
	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting sapiens",
		"version", version.GitCommit,
		"pod_id", podID,
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (runs embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Invalid database configuration", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	// 3. Queue + startup orphan recovery. Tasks this pod leased before a
	// crash go straight back to pending.
	taskQueue := queue.NewTaskQueue(dbClient, cfg.Queue)
	if reclaimed, err := taskQueue.ReclaimAbandoned(ctx, podID); err != nil {
		slog.Error("Failed to reclaim abandoned tasks", "error", err)
		os.Exit(1)
	} else if reclaimed > 0 {
		slog.Info("Reclaimed abandoned tasks from previous run", "count", reclaimed)
	}

	// 4. Stores. Profile API keys are sealed at rest; a missing key is a
	// deployment error, not something to limp past.
	sealer, err := secrets.NewSealer(os.Getenv(cfg.Auth.EncryptionKeyEnv))
	if err != nil {
		slog.Error("Failed to initialize profile key sealer",
			"env_var", cfg.Auth.EncryptionKeyEnv, "error", err)
		os.Exit(1)
	}
	contentStore := store.NewContentStore(dbClient)
	virtualStore := store.NewVirtualStore(dbClient)
	resultStore := store.NewResultStore(dbClient)
	profileStore := store.NewProfileStore(dbClient, sealer)

	// 5. Budget gate and LLM providers
	ledger := budget.NewLedger(dbClient)
	gate := budget.NewGate(ledger, cfg.Budget)

	registry, err := llm.NewRegistry(cfg.LLMProviderRegistry)
	if err != nil {
		slog.Error("Failed to initialize LLM providers", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			slog.Warn("Error closing LLM providers", "error", err)
		}
	}()
	provider := cfg.DefaultLLMProvider()

	// 6. Generation pipeline: executor + worker pool
	executor := generator.NewExecutor(contentStore, virtualStore, profileStore,
		gate, registry, provider, cfg.Virtualization)
	workerPool := queue.NewWorkerPool(podID, taskQueue, cfg.Queue, executor)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker pool started", "workers", cfg.Queue.WorkerCount)

	// 7. Scheduler, periodic sweep, reconciler, retention cleanup
	sched := scheduler.NewScheduler(contentStore, virtualStore, taskQueue,
		gate, provider, cfg.Virtualization)
	sweep := scheduler.NewSweep(sched, cfg.Virtualization.SchedulerSweepInterval)
	sweep.Start(ctx)

	recon := reconciler.NewReconciler(contentStore, virtualStore, taskQueue)

	cleaner := cleanup.NewService(cfg.Retention, taskQueue, ledger)
	cleaner.Start(ctx)

	// 8. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, api.Dependencies{
		DB:         dbClient,
		Contents:   contentStore,
		Virtual:    virtualStore,
		Results:    resultStore,
		Profiles:   profileStore,
		Gate:       gate,
		Ledger:     ledger,
		Queue:      taskQueue,
		WorkerPool: workerPool,
		Scheduler:  sched,
		Reconciler: recon,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Sapiens started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount,
		"default_provider", provider)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown. Background loops first, then the worker pool
	// (waiting out in-flight generations), the HTTP server last.
	sweep.Stop()
	cleaner.Stop()

	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — in-flight tasks will be orphan-recovered on restart")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
