package storage

import (
	"context"
	"sync"
	"time"

	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/telemetry"
)

// SSEBroadcaster is the subset of api.Server's event hub this package
// needs: push a JSON-encodable payload to every subscriber of a run.
// Declared here (not imported from api) so storage never depends on
// api; api.Server.Hub() satisfies this structurally.
type SSEBroadcaster interface {
	Broadcast(runID string, payload interface{})
}

// EmittingCheckpointStore composes the durable checkpoint write with the
// live telemetry side-effects (the queue feeding DB/webhook/Slack sinks,
// the websocket dashboard fan-out, and the HTTP SSE fan-out), so the
// Agent Manager's single per-iteration checkpoint call drives every
// downstream sink without the manager importing telemetry or api
// directly. Satisfies manager.CheckpointStore structurally.
type EmittingCheckpointStore struct {
	Journal   *JournalStore
	Queue     *telemetry.Queue
	Dashboard *telemetry.Dashboard
	SSE       SSEBroadcaster

	mu          sync.Mutex
	lastJournal map[string]*model.Journal // keyed by runID+"/"+stageName
	lastStepAt  map[string]time.Time
}

// NewEmittingCheckpointStore constructs a store. Queue, Dashboard and sse
// may each be nil to disable that sink independently.
func NewEmittingCheckpointStore(journal *JournalStore, queue *telemetry.Queue, dashboard *telemetry.Dashboard, sse SSEBroadcaster) *EmittingCheckpointStore {
	return &EmittingCheckpointStore{
		Journal:     journal,
		Queue:       queue,
		Dashboard:   dashboard,
		SSE:         sse,
		lastJournal: map[string]*model.Journal{},
		lastStepAt:  map[string]time.Time{},
	}
}

// SaveCheckpoint persists the journal and remembers it for the next
// EmitProgress call on the same (runID, stageName).
func (s *EmittingCheckpointStore) SaveCheckpoint(ctx context.Context, runID, stageName string, j *model.Journal) error {
	s.mu.Lock()
	s.lastJournal[runID+"/"+stageName] = j
	s.mu.Unlock()
	return s.Journal.SaveCheckpoint(ctx, runID, stageName, j)
}

// EmitProgress derives a StageProgress event from the journal snapshot
// saved moments earlier by SaveCheckpoint and pushes it to both the
// telemetry queue and the dashboard fan-out.
func (s *EmittingCheckpointStore) EmitProgress(ctx context.Context, runID, stageName string, iteration, maxIter, nodeCount int) {
	s.mu.Lock()
	j := s.lastJournal[runID+"/"+stageName]
	key := runID + "/" + stageName
	var iterTime *float64
	if last, ok := s.lastStepAt[key]; ok {
		d := time.Since(last).Seconds()
		iterTime = &d
	}
	s.lastStepAt[key] = time.Now()
	s.mu.Unlock()

	if j == nil {
		return
	}

	good := len(j.GoodNodes())
	buggy := len(j.BuggyNodes())
	progress := StageProgress(iteration, maxIter)

	var bestMetric *float64
	if best, _ := j.GetBestNode(ctx, true, true, nil); best != nil && best.Metric != nil {
		if v, ok := best.Metric.Value.(float64); ok {
			bestMetric = &v
		}
	}

	var eta *float64
	if iterTime != nil && maxIter > iteration {
		e := *iterTime * float64(maxIter-iteration)
		eta = &e
	}

	ev := telemetry.Event{
		RunID: runID,
		Kind:  telemetry.KindRunStageProgress,
		At:    time.Now(),
		Progress: &telemetry.StageProgress{
			Stage: stageName, Iteration: iteration, MaxIterations: maxIter,
			Progress: progress, TotalNodes: nodeCount, BuggyNodes: buggy, GoodNodes: good,
			BestMetric: bestMetric, ETASeconds: eta, LatestIterationTimeS: iterTime,
		},
	}
	if s.Queue != nil {
		s.Queue.Enqueue(ev)
	}
	if s.Dashboard != nil {
		s.Dashboard.Broadcast(ctx, ev)
	}
	if s.SSE != nil {
		s.SSE.Broadcast(runID, ev)
	}
}

// StageProgress computes iteration/maxIter as a [0,1] fraction, clamped
// for the maxIter==0 (unknown cap) case.
func StageProgress(iteration, maxIter int) float64 {
	if maxIter <= 0 {
		return 0
	}
	p := float64(iteration) / float64(maxIter)
	if p > 1 {
		return 1
	}
	return p
}
