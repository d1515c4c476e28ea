// Package parallelagent drives one substage's worker pool: selecting
// which parent nodes (or new drafts) to dispatch each step, acquiring
// GPUs, submitting Worker Tasks, and reconciling results into the Journal.
package parallelagent

import (
	"math/rand"

	"github.com/ratchet-labs/ratchet/internal/model"
)

// Policy configures the node selection policy's tunables.
type Policy struct {
	NumDrafts      int
	DebugProb      float64
	MaxDebugDepth  int
	ImproveEnabled bool // only stages 1 and 3 run the improve branch
}

// Selection is one slot in a step's dispatch list: Parent nil means
// "produce a new draft".
type Selection struct {
	Parent *model.Node
}

// SelectNodes repeats the draft/debug/improve policy until W selections
// are produced or no more can be, resetting the "processed roots this
// iteration" bookkeeping on every call (it is local to one step).
func SelectNodes(j *model.Journal, policy Policy, w int, rng *rand.Rand, stage4CarryoverParent, stage2CarryoverParent *model.Node) []Selection {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	var out []Selection
	processedRoots := map[string]bool{}

	draftsSoFar := len(j.DraftNodes())
	for draftsSoFar < policy.NumDrafts && len(out) < w {
		out = append(out, Selection{Parent: nil})
		draftsSoFar++
	}

	for len(out) < w {
		if stage4CarryoverParent != nil {
			out = append(out, Selection{Parent: stage4CarryoverParent})
			continue
		}
		if stage2CarryoverParent != nil {
			out = append(out, Selection{Parent: stage2CarryoverParent})
			continue
		}
		if sel, ok := tryDebugBranch(j, policy, rng, processedRoots); ok {
			out = append(out, sel)
			continue
		}
		if policy.ImproveEnabled {
			if sel, ok := tryImproveBranch(j, processedRoots); ok {
				out = append(out, sel)
				continue
			}
		}
		// Neither branch could produce a fresh selection.
		break
	}
	return out
}

func tryDebugBranch(j *model.Journal, policy Policy, rng *rand.Rand, processedRoots map[string]bool) (Selection, bool) {
	if rng.Float64() >= policy.DebugProb {
		return Selection{}, false
	}
	var candidates []*model.Node
	for _, n := range j.BuggyNodes() {
		if n.IsLeaf() && n.DebugDepth() <= policy.MaxDebugDepth {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return Selection{}, false
	}
	pick := candidates[rng.Intn(len(candidates))]
	root := rootOf(pick)
	if processedRoots[root.ID] && !allRootsProcessed(j, processedRoots) {
		return Selection{}, false
	}
	processedRoots[root.ID] = true
	return Selection{Parent: pick}, true
}

func tryImproveBranch(j *model.Journal, processedRoots map[string]bool) (Selection, bool) {
	good := j.GoodNodes()
	if len(good) == 0 {
		return Selection{}, true // append a fresh draft
	}
	ranked := rankByMetricDesc(good)
	for _, n := range ranked {
		root := rootOf(n)
		if processedRoots[root.ID] {
			continue
		}
		processedRoots[root.ID] = true
		return Selection{Parent: n}, true
	}
	return Selection{}, false
}

func rootOf(n *model.Node) *model.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// viableRoots returns the root nodes (drafts) whose leaf set is not
// entirely buggy, i.e. the trees still worth revisiting.
func viableRoots(j *model.Journal) []*model.Node {
	leavesByRoot := map[string][]*model.Node{}
	for _, n := range j.Nodes() {
		if n.IsLeaf() {
			root := rootOf(n)
			leavesByRoot[root.ID] = append(leavesByRoot[root.ID], n)
		}
	}
	var out []*model.Node
	for _, root := range j.DraftNodes() {
		leaves := leavesByRoot[root.ID]
		allBuggy := len(leaves) > 0
		for _, l := range leaves {
			if !l.IsBuggy {
				allBuggy = false
				break
			}
		}
		if !allBuggy {
			out = append(out, root)
		}
	}
	return out
}

// allRootsProcessed reports whether every viable tree has already been
// visited this step, using a count comparison against the viable-roots
// set (not all roots) so a dead, all-buggy-leaf tree never blocks the
// escape hatch that lets selection revisit an already-processed root.
func allRootsProcessed(j *model.Journal, processedRoots map[string]bool) bool {
	return len(processedRoots) >= len(viableRoots(j))
}

func rankByMetricDesc(nodes []*model.Node) []*model.Node {
	out := append([]*model.Node(nil), nodes...)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Metric.LessThan(out[j].Metric) {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}
