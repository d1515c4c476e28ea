package gpualloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	a := New(2)
	before := a.Quiescent()
	require.True(t, before)

	idx, err := a.Acquire("worker_0")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.True(t, a.Quiescent())

	a.Release("worker_0")
	assert.True(t, a.Quiescent())
}

func TestAcquirePicksSmallestIndex(t *testing.T) {
	a := New(3)
	_, _ = a.Acquire("w0")
	idx, err := a.Acquire("w1")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestAcquireExhausted(t *testing.T) {
	a := New(1)
	_, err := a.Acquire("w0")
	require.NoError(t, err)

	_, err = a.Acquire("w1")
	assert.ErrorIs(t, err, ErrNoGPUsAvailable)
}

func TestReleaseUnknownWorkerIsNoop(t *testing.T) {
	a := New(1)
	a.Release("never-acquired")
	assert.True(t, a.Quiescent())
}

func TestClampWorkerCount(t *testing.T) {
	assert.Equal(t, 4, ClampWorkerCount(4, 0), "CPU-only: unclamped, allocator disabled")
	assert.Equal(t, 2, ClampWorkerCount(4, 2))
	assert.Equal(t, 1, ClampWorkerCount(0, 3))
}
