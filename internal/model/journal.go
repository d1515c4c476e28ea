package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// NodeSelectorFunc asks an external oracle to pick the best node among
// candidates (the NodeSelection schema in the LLM oracle interface). It is
// only invoked when UseValMetricOnly is false; serialization, visualization
// and other non-interactive callers should always pass useValMetricOnly so
// this never has to run.
type NodeSelectorFunc func(ctx context.Context, candidates []*Node) (selectedID string, err error)

// Journal owns a main-ordered list of Nodes for one substage, plus the
// model/temperature tags used for summaries and best-node selection.
type Journal struct {
	RunID          string
	StageName      string
	SummaryModel   string
	SummaryTemp    float64
	SelectionModel string
	SelectionTemp  float64

	mu    sync.RWMutex
	nodes []*Node
	byID  map[string]*Node

	bestCache          map[string]*bestCacheEntry
}

type bestCacheEntry struct {
	node          *Node
	candidateIDs  []string
}

// NewJournal constructs an empty Journal.
func NewJournal(runID, stageName string) *Journal {
	return &Journal{
		RunID:     runID,
		StageName: stageName,
		byID:      make(map[string]*Node),
		bestCache: make(map[string]*bestCacheEntry),
	}
}

// Append adds n to the journal in insertion order, assigning n.Step to its
// index. Nodes are appended in the order their futures resolve, not in
// submission order — the caller controls ordering by call order.
func (j *Journal) Append(n *Node) {
	j.mu.Lock()
	defer j.mu.Unlock()
	n.Step = len(j.nodes)
	j.nodes = append(j.nodes, n)
	j.byID[n.ID] = n
}

// Nodes returns the insertion-ordered node list. The returned slice is a
// shallow copy; callers must not mutate it.
func (j *Journal) Nodes() []*Node {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]*Node, len(j.nodes))
	copy(out, j.nodes)
	return out
}

// GetNodeByID performs a linear lookup by id.
func (j *Journal) GetNodeByID(id string) *Node {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.byID[id]
}

// DraftNodes returns nodes with no parent.
func (j *Journal) DraftNodes() []*Node {
	return j.filter(func(n *Node) bool { return n.Parent == nil })
}

// BuggyNodes returns nodes with IsBuggy=true.
func (j *Journal) BuggyNodes() []*Node {
	return j.filter(func(n *Node) bool { return n.IsBuggy })
}

// GoodNodes returns nodes that are neither buggy nor buggy-plotted.
func (j *Journal) GoodNodes() []*Node {
	return j.filter(func(n *Node) bool { return !n.IsBuggy && !n.IsBuggyPlots })
}

func (j *Journal) filter(pred func(*Node) bool) []*Node {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*Node
	for _, n := range j.nodes {
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}

// Relink reattaches Parent/Children pointers across every node currently
// in the journal from their ParentID/ChildIDs, for use after a batch JSON
// decode where each Node.UnmarshalJSON only populated scalar fields.
func (j *Journal) Relink() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, n := range j.nodes {
		n.Children = make(map[string]*Node)
	}
	for _, n := range j.nodes {
		if n.ParentID != nil {
			if p, ok := j.byID[*n.ParentID]; ok {
				n.Parent = p
				p.Children[n.ID] = n
			}
		}
	}
}

// fingerprint computes a stable digest of every node's (id, metric value,
// is_buggy, is_buggy_plots, is_seed_node) tuple, plus the selection mode
// and model id. Best-node memoization is invalidated whenever this changes
// — it deliberately ignores fields (plan, code, term_out, ...) that never
// affect which node wins.
func (j *Journal) fingerprint(onlyGood, useValMetricOnly bool) (string, []string) {
	type tuple struct {
		ID            string      `json:"id"`
		MetricValue   interface{} `json:"metric_value"`
		MetricMax     bool        `json:"metric_maximize"`
		MetricWorst   bool        `json:"metric_worst"`
		IsBuggy       bool        `json:"is_buggy"`
		IsBuggyPlots  bool        `json:"is_buggy_plots"`
		IsSeedNode    bool        `json:"is_seed_node"`
	}
	candidates := j.candidateNodesLocked(onlyGood)
	tuples := make([]tuple, 0, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, n := range candidates {
		t := tuple{ID: n.ID, IsBuggy: n.IsBuggy, IsBuggyPlots: n.IsBuggyPlots, IsSeedNode: n.IsSeedNode}
		if n.Metric != nil {
			t.MetricValue = n.Metric.Value
			t.MetricMax = n.Metric.Maximize
			t.MetricWorst = n.Metric.IsWorst()
		}
		tuples = append(tuples, t)
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	payload, _ := json.Marshal(struct {
		Tuples           []tuple `json:"tuples"`
		OnlyGood         bool    `json:"only_good"`
		UseValMetricOnly bool    `json:"use_val_metric_only"`
		SelectionModel   string  `json:"selection_model"`
	}{tuples, onlyGood, useValMetricOnly, j.SelectionModel})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), ids
}

// candidateNodesLocked returns the candidate set for best-node selection:
// all nodes (or only good ones), excluding seed nodes unless doing so
// would empty the set. Caller must hold j.mu.
func (j *Journal) candidateNodesLocked(onlyGood bool) []*Node {
	var base []*Node
	for _, n := range j.nodes {
		if onlyGood && (n.IsBuggy || n.IsBuggyPlots) {
			continue
		}
		base = append(base, n)
	}
	var withoutSeeds []*Node
	for _, n := range base {
		if !n.IsSeedNode {
			withoutSeeds = append(withoutSeeds, n)
		}
	}
	if len(withoutSeeds) > 0 {
		return withoutSeeds
	}
	return base
}

// GetBestNode returns the Journal's current winner: the metric-max node
// when useValMetricOnly is true, or the oracle-selected winner otherwise.
// Results are memoized by a fingerprint of the candidate set; repeated
// calls with no change to any candidate's fingerprinted fields return the
// identical node without recomputation (and, in the oracle path, without
// another LLM call). When all candidates are buggy (onlyGood=true and none
// qualify), returns nil and selector is never invoked.
func (j *Journal) GetBestNode(ctx context.Context, onlyGood, useValMetricOnly bool, selector NodeSelectorFunc) (*Node, error) {
	j.mu.Lock()
	sig, candidateIDs := j.fingerprint(onlyGood, useValMetricOnly)
	if entry, ok := j.bestCache[sig]; ok {
		j.mu.Unlock()
		return entry.node, nil
	}
	candidates := j.candidateNodesLocked(onlyGood)
	j.mu.Unlock()

	if len(candidates) == 0 {
		j.storeBest(sig, candidateIDs, nil)
		return nil, nil
	}

	if useValMetricOnly {
		best := metricBest(candidates)
		j.storeBest(sig, candidateIDs, best)
		return best, nil
	}

	if selector == nil {
		return nil, fmt.Errorf("model: best-node selection requires an oracle selector when use_val_metric_only=false")
	}
	id, err := selector(ctx, candidates)
	if err != nil {
		// Fall back to metric-only selection on oracle failure rather than
		// leaving the stage without a best node.
		best := metricBest(candidates)
		j.storeBest(sig, candidateIDs, best)
		return best, nil
	}
	selected := j.GetNodeByID(id)
	if selected == nil {
		selected = metricBest(candidates)
	}
	j.storeBest(sig, candidateIDs, selected)
	return selected, nil
}

func (j *Journal) storeBest(sig string, candidateIDs []string, node *Node) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.bestCache[sig] = &bestCacheEntry{node: node, candidateIDs: candidateIDs}
}

func metricBest(candidates []*Node) *Node {
	var best *Node
	for _, n := range candidates {
		if best == nil {
			best = n
			continue
		}
		if best.Metric.IsWorst() && !n.Metric.IsWorst() {
			best = n
			continue
		}
		if !n.Metric.IsWorst() && best.Metric.LessThan(n.Metric) {
			best = n
		}
	}
	return best
}

// journalWire is the serialized shape of a Journal: run/stage metadata
// plus the flat node list. Round-tripping through JSON preserves node
// ordering and every Node field; parent/child structure is rebuilt by
// Relink after decode.
type journalWire struct {
	RunID          string  `json:"run_id"`
	StageName      string  `json:"stage_name"`
	SummaryModel   string  `json:"summary_model"`
	SummaryTemp    float64 `json:"summary_temp"`
	SelectionModel string  `json:"selection_model"`
	SelectionTemp  float64 `json:"selection_temp"`
	Nodes          []*Node `json:"nodes"`
}

// MarshalJSON serializes the Journal to its wire shape.
func (j *Journal) MarshalJSON() ([]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	w := journalWire{
		RunID: j.RunID, StageName: j.StageName,
		SummaryModel: j.SummaryModel, SummaryTemp: j.SummaryTemp,
		SelectionModel: j.SelectionModel, SelectionTemp: j.SelectionTemp,
		Nodes: j.nodes,
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a Journal and relinks parent/child structure.
func (j *Journal) UnmarshalJSON(data []byte) error {
	var w journalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	j.RunID, j.StageName = w.RunID, w.StageName
	j.SummaryModel, j.SummaryTemp = w.SummaryModel, w.SummaryTemp
	j.SelectionModel, j.SelectionTemp = w.SelectionModel, w.SelectionTemp
	j.byID = make(map[string]*Node, len(w.Nodes))
	j.bestCache = make(map[string]*bestCacheEntry)
	for i, n := range w.Nodes {
		n.Step = i
		j.byID[n.ID] = n
	}
	j.nodes = w.Nodes
	j.Relink()
	return nil
}
