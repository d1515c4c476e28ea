package model

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppendAssignsStep(t *testing.T) {
	j := NewJournal("run-1", "stage_1_baseline_1_first_attempt")
	n0 := NewNode(nil)
	n1 := NewNode(nil)
	j.Append(n0)
	j.Append(n1)

	assert.Equal(t, 0, n0.Step)
	assert.Equal(t, 1, n1.Step)
	for i, n := range j.Nodes() {
		assert.Equal(t, i, n.Step)
	}
}

func TestDerivedViews(t *testing.T) {
	j := NewJournal("run-1", "stage")
	draft := NewNode(nil)
	draft.Metric = NewMetric(1.0, true, "", "")
	j.Append(draft)

	buggy := NewNode(draft)
	buggy.IsBuggy = true
	buggy.Metric = NewWorstMetric()
	j.Append(buggy)

	good := NewNode(draft)
	good.Metric = NewMetric(2.0, true, "", "")
	j.Append(good)

	assert.Len(t, j.DraftNodes(), 1)
	assert.Len(t, j.BuggyNodes(), 1)
	assert.Len(t, j.GoodNodes(), 2)

	// good_nodes and buggy_nodes must never overlap.
	goodIDs := map[string]bool{}
	for _, n := range j.GoodNodes() {
		goodIDs[n.ID] = true
	}
	for _, n := range j.BuggyNodes() {
		assert.False(t, goodIDs[n.ID])
	}
}

func TestGetBestNodeMetricOnly(t *testing.T) {
	j := NewJournal("run-1", "stage")
	low := NewNode(nil)
	low.Metric = NewMetric(1.0, true, "", "")
	j.Append(low)
	high := NewNode(nil)
	high.Metric = NewMetric(5.0, true, "", "")
	j.Append(high)

	best, err := j.GetBestNode(context.Background(), false, true, nil)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, high.ID, best.ID)
}

func TestGetBestNodeAllBuggyReturnsNilWithoutSelectorCall(t *testing.T) {
	j := NewJournal("run-1", "stage")
	buggy := NewNode(nil)
	buggy.IsBuggy = true
	j.Append(buggy)

	called := false
	selector := func(ctx context.Context, candidates []*Node) (string, error) {
		called = true
		return "", nil
	}

	best, err := j.GetBestNode(context.Background(), true, false, selector)
	require.NoError(t, err)
	assert.Nil(t, best)
	assert.False(t, called, "selector must not be invoked when the candidate set is empty")
}

func TestGetBestNodeMemoizesWhileFingerprintUnchanged(t *testing.T) {
	j := NewJournal("run-1", "stage")
	n := NewNode(nil)
	n.Metric = NewMetric(1.0, true, "", "")
	j.Append(n)

	calls := 0
	selector := func(ctx context.Context, candidates []*Node) (string, error) {
		calls++
		return candidates[0].ID, nil
	}

	for i := 0; i < 3; i++ {
		best, err := j.GetBestNode(context.Background(), false, false, selector)
		require.NoError(t, err)
		require.NotNil(t, best)
		assert.Equal(t, n.ID, best.ID)
	}
	assert.Equal(t, 1, calls, "selector should only be invoked once while no fingerprinted field changes")

	// Mutating a fingerprinted field invalidates the cache.
	n.IsBuggy = true
	_, err := j.GetBestNode(context.Background(), false, false, selector)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetBestNodeExcludesSeedsUnlessEmpty(t *testing.T) {
	j := NewJournal("run-1", "stage")
	real := NewNode(nil)
	real.Metric = NewMetric(1.0, true, "", "")
	j.Append(real)
	seed := NewNode(real)
	seed.IsSeedNode = true
	seed.Metric = NewMetric(100.0, true, "", "")
	j.Append(seed)

	best, err := j.GetBestNode(context.Background(), false, true, nil)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, real.ID, best.ID, "seed nodes are excluded from candidates while non-seed candidates exist")
}

func TestJournalJSONRoundTripPreservesStructure(t *testing.T) {
	j := NewJournal("run-1", "stage_1_baseline_1_first_attempt")
	root := NewNode(nil)
	root.Plan = "root"
	j.Append(root)
	child := NewNode(root)
	child.Code = "x = 1"
	j.Append(child)

	data, err := json.Marshal(j)
	require.NoError(t, err)

	var decoded Journal
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, j.RunID, decoded.RunID)
	nodes := decoded.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, root.ID, nodes[0].ID)
	assert.Equal(t, child.ID, nodes[1].ID)

	decodedChild := decoded.GetNodeByID(child.ID)
	require.NotNil(t, decodedChild)
	require.NotNil(t, decodedChild.Parent)
	assert.Equal(t, root.ID, decodedChild.Parent.ID)

	decodedRoot := decoded.GetNodeByID(root.ID)
	require.NotNil(t, decodedRoot)
	assert.Contains(t, decodedRoot.Children, child.ID)
}
