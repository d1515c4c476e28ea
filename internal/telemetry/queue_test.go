package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDropsUnderPressureWithoutBlocking(t *testing.T) {
	q := NewQueue()

	total := QueueMaxSize + 250
	for i := 0; i < total; i++ {
		q.Enqueue(Event{RunID: "run-1", Kind: KindRunLog, Log: &RunLog{Message: "x", Level: LevelInfo}})
	}

	assert.Equal(t, total-QueueMaxSize, q.Dropped())

	drained := 0
	q.Close()
	for range q.Events() {
		drained++
	}
	assert.Equal(t, QueueMaxSize, drained)
}

func TestQueueEnqueueAfterCloseIsNoop(t *testing.T) {
	q := NewQueue()
	q.Close()
	require.NotPanics(t, func() {
		q.Enqueue(Event{RunID: "run-1", Kind: KindRunLog})
	})
	assert.Equal(t, 0, q.Dropped())
}

func TestQueueDrainsEverythingQueuedBeforeClose(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 10; i++ {
		q.Enqueue(Event{RunID: "run-1", Kind: KindRunLog})
	}
	q.Close()

	count := 0
	for range q.Events() {
		count++
	}
	assert.Equal(t, 10, count)
}
