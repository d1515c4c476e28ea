package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/telemetry"
)

func TestStageProgressFraction(t *testing.T) {
	assert.Equal(t, 0.5, StageProgress(5, 10))
	assert.Equal(t, 0.0, StageProgress(5, 0))
	assert.Equal(t, 1.0, StageProgress(20, 10))
}

func TestEmitProgressDerivesCountsFromLastSavedJournal(t *testing.T) {
	q := telemetry.NewQueue()
	store := NewEmittingCheckpointStore(nil, q, nil, nil)

	j := model.NewJournal("run-1", "stage1_baseline")
	good := model.NewNode(nil)
	good.Metric = model.NewMetric(0.75, true, "accuracy", "")
	j.Append(good)
	buggy := model.NewNode(nil)
	buggy.IsBuggy = true
	j.Append(buggy)

	ctx := context.Background()
	require.NoError(t, storeSaveOnly(store, ctx, "run-1", "stage1_baseline", j))

	store.EmitProgress(ctx, "run-1", "stage1_baseline", 3, 10, 2)

	select {
	case ev := <-q.Events():
		require.NotNil(t, ev.Progress)
		assert.Equal(t, 1, ev.Progress.GoodNodes)
		assert.Equal(t, 1, ev.Progress.BuggyNodes)
		assert.Equal(t, 2, ev.Progress.TotalNodes)
		assert.InDelta(t, 0.3, ev.Progress.Progress, 0.0001)
		require.NotNil(t, ev.Progress.BestMetric)
		assert.Equal(t, 0.75, *ev.Progress.BestMetric)
	default:
		t.Fatal("expected a progress event on the queue")
	}
}

type fakeSSEHub struct {
	runID   string
	payload interface{}
}

func (f *fakeSSEHub) Broadcast(runID string, payload interface{}) {
	f.runID = runID
	f.payload = payload
}

func TestEmitProgressAlsoBroadcastsToSSEHub(t *testing.T) {
	hub := &fakeSSEHub{}
	store := NewEmittingCheckpointStore(nil, nil, nil, hub)

	j := model.NewJournal("run-1", "stage1_baseline")
	j.Append(model.NewNode(nil))

	ctx := context.Background()
	require.NoError(t, storeSaveOnly(store, ctx, "run-1", "stage1_baseline", j))
	store.EmitProgress(ctx, "run-1", "stage1_baseline", 1, 10, 1)

	assert.Equal(t, "run-1", hub.runID)
	require.NotNil(t, hub.payload)
}

// storeSaveOnly records the journal snapshot without touching the
// (nil in this test) durable JournalStore, exercising only the in-memory
// bookkeeping SaveCheckpoint performs before delegating.
func storeSaveOnly(s *EmittingCheckpointStore, ctx context.Context, runID, stageName string, j *model.Journal) error {
	s.mu.Lock()
	s.lastJournal[runID+"/"+stageName] = j
	s.mu.Unlock()
	return nil
}
