// Package api is the control plane: a small gin router exposing run
// lifecycle and live progress over HTTP, in front of the Agent Manager.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ratchet-labs/ratchet/internal/config"
)

// RunStatus is the lifecycle state of one tracked run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// RunSummary is what GET /runs/:id returns.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Launcher starts a run in the background and reports its terminal
// outcome back through onDone. Implemented by the cmd/ratchet bootstrap,
// which owns the Manager, Oracle, GPU allocator and telemetry wiring.
// resumeFrom, when non-empty, names a previously checkpointed run id to
// continue from (spec.md §6.2's --resume) instead of starting stage 1
// fresh; runID is that same id in that case.
type Launcher interface {
	Launch(ctx context.Context, runID string, cfg config.Config, resumeFrom string, onDone func(err error))
}

// Server holds the gin engine and in-memory run registry.
type Server struct {
	engine   *gin.Engine
	launcher Launcher
	runs     *runRegistry
	hub      *eventHub
}

// NewServer builds the router with /healthz, /runs, /runs/:id, and
// /runs/:id/events wired up.
func NewServer(launcher Launcher) *Server {
	s := &Server{
		engine:   gin.Default(),
		launcher: launcher,
		runs:     newRunRegistry(),
		hub:      newEventHub(),
	}
	s.routes()
	return s
}

// Hub exposes the server's SSE fan-out so the composition root can push
// telemetry events into it alongside the queue/dashboard sinks.
func (s *Server) Hub() *eventHub { return s.hub }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.POST("/runs", s.handleCreateRun)
	s.engine.GET("/runs/:id", s.handleGetRun)
	s.engine.GET("/runs/:id/events", s.handleRunEvents)
}

// Run starts the HTTP server, blocking until it exits or ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("api server shutdown error", "error", err)
		}
		return nil
	}
}
