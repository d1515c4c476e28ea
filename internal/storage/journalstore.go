package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ratchet-labs/ratchet/internal/model"
)

// JournalStore persists Journal checkpoints, one row per (run, stage),
// upserted on every Parallel Agent step. It backs manager.CheckpointStore
// via the EmittingCheckpointStore wrapper (which also fans checkpoints out
// to telemetry), and backs the --resume path via LatestCheckpoint.
type JournalStore struct {
	db *DB
}

// NewJournalStore constructs a JournalStore over an open DB.
func NewJournalStore(db *DB) *JournalStore {
	return &JournalStore{db: db}
}

// SaveCheckpoint upserts the journal's current flat-list serialization.
func (s *JournalStore) SaveCheckpoint(ctx context.Context, runID, stageName string, j *model.Journal) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("storage: marshal journal: %w", err)
	}
	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO run_checkpoints (run_id, stage_name, journal, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (run_id, stage_name) DO UPDATE SET journal = EXCLUDED.journal, updated_at = now()
	`, runID, stageName, data)
	if err != nil {
		return fmt.Errorf("storage: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint fetches the most recently saved journal for (runID,
// stageName), or nil if none exists.
func (s *JournalStore) LoadCheckpoint(ctx context.Context, runID, stageName string) (*model.Journal, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT journal FROM run_checkpoints WHERE run_id = $1 AND stage_name = $2
	`, runID, stageName)
	return scanCheckpointRow(row, runID, stageName)
}

// LatestCheckpoint fetches the most recently updated checkpoint row for
// runID across all of its stages/substages, or (nil, "", nil) if runID
// has never been checkpointed. This backs --resume: a run that crashed
// mid-substage is continued from exactly the stage/substage its last
// checkpoint named, via manager.Manager.ResumeRun.
func (s *JournalStore) LatestCheckpoint(ctx context.Context, runID string) (*model.Journal, string, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT stage_name, journal FROM run_checkpoints
		WHERE run_id = $1 ORDER BY updated_at DESC LIMIT 1
	`, runID)
	var stageName string
	var data []byte
	if err := row.Scan(&stageName, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("storage: load latest checkpoint: %w", err)
	}
	j := model.NewJournal(runID, stageName)
	if err := json.Unmarshal(data, j); err != nil {
		return nil, "", fmt.Errorf("storage: decode checkpoint: %w", err)
	}
	return j, stageName, nil
}

func scanCheckpointRow(row *sql.Row, runID, stageName string) (*model.Journal, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: load checkpoint: %w", err)
	}
	j := model.NewJournal(runID, stageName)
	if err := json.Unmarshal(data, j); err != nil {
		return nil, fmt.Errorf("storage: decode checkpoint: %w", err)
	}
	return j, nil
}
