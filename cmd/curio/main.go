// Curio orchestrator server — provides the HTTP API, runs queue workers,
// and executes bookmark pipeline tasks.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/curioworks/curio/pkg/api"
	"github.com/curioworks/curio/pkg/bus"
	"github.com/curioworks/curio/pkg/collab/gitexec"
	"github.com/curioworks/curio/pkg/collab/httpfetch"
	"github.com/curioworks/curio/pkg/collab/local"
	"github.com/curioworks/curio/pkg/collab/markdown"
	"github.com/curioworks/curio/pkg/collab/pgvectorstore"
	"github.com/curioworks/curio/pkg/config"
	"github.com/curioworks/curio/pkg/control"
	"github.com/curioworks/curio/pkg/database"
	"github.com/curioworks/curio/pkg/pipeline/handlers"
	"github.com/curioworks/curio/pkg/progress"
	"github.com/curioworks/curio/pkg/queue"
	"github.com/curioworks/curio/pkg/reaper"
	"github.com/curioworks/curio/pkg/services"
	"github.com/curioworks/curio/pkg/version"
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
	slog.Info("Starting curio",
		"version", version.Full(),
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (connect + migrate)
	dbClient, err := database.NewClient(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	db := dbClient.DB()
	slog.Info("Connected to PostgreSQL database")

	// 3. Message bus
	queueBus, err := bus.Connect(ctx, cfg.Redis, cfg.Bus)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueBus.Close(); err != nil {
			slog.Error("Error closing message bus", "error", err)
		}
	}()
	slog.Info("Connected to Redis message bus", "addr", cfg.Redis.Addr)

	// 4. Domain services
	taskService := services.NewTaskService(db)
	itemService := services.NewItemService(db)
	knowledgeService := services.NewKnowledgeService(db)
	logService := services.NewLogService(db)
	publisher := progress.NewPublisher(queueBus)
	slog.Info("Services initialized")

	// 5. One-time startup orphan cleanup
	if err := queue.CleanupStartupOrphans(ctx, taskService, publisher, podID); err != nil {
		slog.Error("Failed to cleanup startup orphans", "error", err)
		// Non-fatal — continue
	}

	// 6. Pipeline collaborators and executor
	collaborators := queue.Collaborators{
		Model:          local.NewModel(),
		Scraper:        httpfetch.NewScraper(getEnv("SOURCE_URL", "http://localhost:9100"), os.Getenv("SOURCE_TOKEN")),
		Renderer:       markdown.NewRenderer(cfg.Project.Root),
		Vectors:        pgvectorstore.NewStore(db),
		Git:            gitexec.NewPublisher(cfg.Project.Root, os.Getenv("GIT_PUSH") == "true"),
		EmbeddingModel: local.ModelName,
	}
	executor := queue.NewExecutor(
		taskService, itemService, knowledgeService, logService,
		publisher, handlers.DefaultRegistry(), cfg.Task, cfg.Synthesis, cfg.Project.Root,
		collaborators)

	// 7. Worker pool (before the HTTP server takes traffic)
	workerPool := queue.NewWorkerPool(podID, taskService, queueBus, publisher, cfg.Worker, executor)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 8. Progress fan-out: Redis listener feeding the WebSocket hub
	hub := progress.NewHub(queueBus, cfg.Bus.EventRingSize, 10*time.Second)
	listener := progress.NewListener(queueBus.Client(), hub)
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start progress listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop()

	// 9. Reaper (stuck-task detection + retention archival)
	reaperService := reaper.NewService(taskService, queueBus, publisher,
		cfg.Reaper, cfg.Retention, cfg.Task)
	reaperService.Start(ctx)
	defer reaperService.Stop()

	// 10. HTTP server
	controller := control.NewController(taskService, queueBus, publisher, workerPool)
	httpServer := api.NewServer(cfg.API, cfg.Task, api.Deps{
		DB:         db,
		Queue:      queueBus,
		Tasks:      taskService,
		Logs:       logService,
		Controller: controller,
		Reaper:     reaperService,
		Pool:       workerPool,
		Hub:        hub,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Curio started successfully",
		"pod_id", podID,
		"workers", cfg.Worker.Concurrency)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown. Stop accepting work first, then drain the
	// pool; its Stop is grace-bounded and cancels stragglers itself.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	workerPool.Stop()
	slog.Info("Worker pool stopped")

	slog.Info("Shutdown complete")
}
