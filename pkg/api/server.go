// Package api exposes the HTTP and WebSocket surface of the task
// substrate: task lifecycle endpoints, log and event retrieval, health
// and version probes, and the privileged admin routes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v5"

	"github.com/curioworks/curio/pkg/bus"
	"github.com/curioworks/curio/pkg/config"
	"github.com/curioworks/curio/pkg/control"
	"github.com/curioworks/curio/pkg/progress"
	"github.com/curioworks/curio/pkg/queue"
	"github.com/curioworks/curio/pkg/reaper"
	"github.com/curioworks/curio/pkg/services"
)

// Deps bundles the collaborators the server dispatches to. Pool and Hub
// may be nil on replicas that run neither workers nor WebSocket fan-out;
// the affected endpoints degrade rather than panic.
type Deps struct {
	DB         *sqlx.DB
	Queue      *bus.Bus
	Tasks      *services.TaskService
	Logs       *services.LogService
	Controller *control.Controller
	Reaper     *reaper.Service
	Pool       *queue.WorkerPool
	Hub        *progress.Hub
}

// Server is the HTTP API server.
type Server struct {
	echo    *echo.Echo
	http    *http.Server
	cfg     *config.APIConfig
	taskCfg *config.TaskConfig

	db         *sqlx.DB
	queue      *bus.Bus
	tasks      *services.TaskService
	logs       *services.LogService
	controller *control.Controller
	reaper     *reaper.Service
	pool       *queue.WorkerPool
	hub        *progress.Hub
}

// NewServer creates the server and registers all routes. Admin routes
// are registered only when an admin token is configured.
func NewServer(cfg *config.APIConfig, taskCfg *config.TaskConfig, deps Deps) *Server {
	s := &Server{
		echo:       echo.New(),
		cfg:        cfg,
		taskCfg:    taskCfg,
		db:         deps.DB,
		queue:      deps.Queue,
		tasks:      deps.Tasks,
		logs:       deps.Logs,
		controller: deps.Controller,
		reaper:     deps.Reaper,
		pool:       deps.Pool,
		hub:        deps.Hub,
	}
	s.registerRoutes()

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/healthz", s.healthHandler)
	e.GET("/version", s.versionHandler)
	e.GET("/ws", s.wsHandler)

	e.POST("/tasks", s.createTaskHandler)
	e.GET("/tasks", s.listTasksHandler)
	e.GET("/tasks/active", s.activeTaskHandler)
	e.GET("/tasks/:id", s.getTaskHandler)
	e.POST("/tasks/:id/cancel", s.cancelTaskHandler)
	e.GET("/tasks/:id/logs", s.taskLogsHandler)
	e.GET("/tasks/:id/events", s.taskEventsHandler)

	if s.cfg.AdminToken != "" {
		admin := e.Group("/admin", requireBearerToken(s.cfg.AdminToken))
		admin.POST("/reset", s.adminResetHandler)
		admin.POST("/archive", s.adminArchiveHandler)
	}
}

// Handler returns the underlying HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves HTTP until Shutdown is called. Blocks.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.http.Addr, "admin_routes", s.cfg.AdminToken != "")
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
