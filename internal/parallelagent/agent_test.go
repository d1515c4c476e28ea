package parallelagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchet-labs/ratchet/internal/gpualloc"
	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/worker"
)

func TestStepAppendsSuccessfulResultsAndReleasesGPUs(t *testing.T) {
	j := model.NewJournal("run-1", "stage")
	gpus := gpualloc.New(2)

	a := New(j, gpus, 2, time.Second, Policy{NumDrafts: 2})
	a.TaskFunc = func(ctx context.Context, in worker.Input) (*model.Node, error) {
		n := model.NewNode(in.Parent)
		n.Metric = model.NewMetric(1.0, true, "", "")
		return n, nil
	}

	err := a.Step(context.Background())
	require.NoError(t, err)
	assert.Len(t, j.Nodes(), 2)
	assert.True(t, gpus.Quiescent())
}

func TestStepPropagatesWorkerError(t *testing.T) {
	j := model.NewJournal("run-1", "stage")
	a := New(j, gpualloc.New(0), 1, time.Second, Policy{NumDrafts: 1})
	a.TaskFunc = func(ctx context.Context, in worker.Input) (*model.Node, error) {
		return nil, assert.AnError
	}

	err := a.Step(context.Background())
	require.Error(t, err)
	assert.Empty(t, j.Nodes())
}

func TestStepSkipsOnTimeoutWithoutAborting(t *testing.T) {
	j := model.NewJournal("run-1", "stage")
	a := New(j, gpualloc.New(0), 1, 10*time.Millisecond, Policy{NumDrafts: 1})
	a.TaskFunc = func(ctx context.Context, in worker.Input) (*model.Node, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	err := a.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, j.Nodes())
}
