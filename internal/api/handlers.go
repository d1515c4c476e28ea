package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ratchet-labs/ratchet/internal/config"
)

// runRegistry tracks in-memory run status; the durable record lives in
// storage's run_checkpoints table, this is just what the API needs to
// answer GET /runs/:id without a round trip to the database.
type runRegistry struct {
	mu   sync.RWMutex
	runs map[string]*RunSummary
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: map[string]*RunSummary{}}
}

func (r *runRegistry) create(runID string) *RunSummary {
	s := &RunSummary{RunID: runID, Status: StatusPending, StartedAt: time.Now()}
	r.mu.Lock()
	r.runs[runID] = s
	r.mu.Unlock()
	return s
}

func (r *runRegistry) get(runID string) (*RunSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.runs[runID]
	return s, ok
}

func (r *runRegistry) finish(runID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.runs[runID]
	if !ok {
		return
	}
	s.EndedAt = time.Now()
	if err != nil {
		s.Status = StatusFailed
		s.Error = err.Error()
		return
	}
	s.Status = StatusSucceeded
}

func (r *runRegistry) setRunning(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.runs[runID]; ok {
		s.Status = StatusRunning
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// createRunRequest is the POST /runs body: the run's config, inline, plus
// an optional resume_from naming a previously checkpointed run id to
// continue instead of starting a new one (spec.md §6.2's --resume flag,
// expressed as a request field since this binary is a long-lived control
// plane rather than a once-per-run CLI invocation).
type createRunRequest struct {
	Config     config.Config `json:"config"`
	ResumeFrom string        `json:"resume_from,omitempty"`
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Config.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runID := req.ResumeFrom
	if runID == "" {
		runID = req.Config.Telemetry.RunID
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	summary := s.runs.create(runID)

	s.runs.setRunning(runID)
	s.launcher.Launch(c.Request.Context(), runID, req.Config, req.ResumeFrom, func(err error) {
		s.runs.finish(runID, err)
	})

	c.JSON(http.StatusAccepted, summary)
}

func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")
	summary, ok := s.runs.get(runID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
