package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ratchet-labs/ratchet/internal/telemetry"
)

// TelemetryStore persists telemetry events. It implements telemetry.DBSink.
type TelemetryStore struct {
	db *DB
}

// NewTelemetryStore constructs a TelemetryStore over an open DB.
func NewTelemetryStore(db *DB) *TelemetryStore {
	return &TelemetryStore{db: db}
}

// InsertStageProgress inserts one run_stage_progress row.
func (s *TelemetryStore) InsertStageProgress(ctx context.Context, runID string, p telemetry.StageProgress) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO run_stage_progress
			(run_id, stage, iteration, max_iterations, progress, total_nodes, buggy_nodes, good_nodes, best_metric, eta_s, latest_iteration_time_s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, runID, p.Stage, p.Iteration, p.MaxIterations, p.Progress, p.TotalNodes, p.BuggyNodes, p.GoodNodes, p.BestMetric, p.ETASeconds, p.LatestIterationTimeS)
	if err != nil {
		return fmt.Errorf("storage: insert stage progress: %w", err)
	}
	return nil
}

// InsertRunLog inserts one run_logs row.
func (s *TelemetryStore) InsertRunLog(ctx context.Context, runID string, l telemetry.RunLog) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO run_logs (run_id, level, message) VALUES ($1, $2, $3)
	`, runID, string(l.Level), l.Message)
	if err != nil {
		return fmt.Errorf("storage: insert run log: %w", err)
	}
	return nil
}

// InsertNodeCompleted inserts one experiment_node_completed row.
func (s *TelemetryStore) InsertNodeCompleted(ctx context.Context, runID string, n telemetry.NodeCompleted) error {
	summary, err := json.Marshal(n.Summary)
	if err != nil {
		return fmt.Errorf("storage: marshal node summary: %w", err)
	}
	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO experiment_node_completed (run_id, stage, node_id, summary) VALUES ($1, $2, $3, $4)
	`, runID, n.Stage, n.NodeID, summary)
	if err != nil {
		return fmt.Errorf("storage: insert node completed: %w", err)
	}
	return nil
}

// Reopen pings the connection to verify (and, via the pool, transparently
// re-establish) connectivity after an insert error.
func (s *TelemetryStore) Reopen(ctx context.Context) error {
	return s.db.Conn().PingContext(ctx)
}
