package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StageName classifies how a Node was produced.
type StageName string

// Node creation modes, distinguished by their generation prompt.
const (
	StageDraft   StageName = "draft"
	StageDebug   StageName = "debug"
	StageImprove StageName = "improve"
)

// StackFrame is one frame of a captured, compacted traceback.
type StackFrame struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Func string `json:"func"`
	Text string `json:"text"`
}

// Node represents one attempt in the solution tree. Nodes are created by a
// worker (draft, debug, improve, tuning, ablation, seed, or
// seed-aggregation), mutated only by the worker that produced them, then
// serialized and handed back to the parent process which re-instantiates
// and appends them to a Journal. After append, a Node is immutable by
// convention — only Journal's memoization caches read it again.
type Node struct {
	// Identity.
	ID    string `json:"id"`
	CTime time.Time `json:"ctime"`

	// Structural fields. Parent/Children are reconstructed from IDs on
	// load (see MarshalJSON/UnmarshalJSON); the in-memory pointers are
	// never part of the wire format, since workers only ever exchange
	// flat dicts, never object graphs, across the process boundary.
	Parent   *Node          `json:"-"`
	ParentID *string        `json:"parent_id"`
	Children map[string]*Node `json:"-"`
	ChildIDs []string       `json:"children"`
	Step     int            `json:"step"`

	// Generation artifacts.
	Plan        string  `json:"plan"`
	Code        string  `json:"code"`
	PlotCode    *string `json:"plot_code,omitempty"`
	PlotPlan    *string `json:"plot_plan,omitempty"`
	OverallPlan string  `json:"overall_plan,omitempty"`

	// Execution artifacts.
	TermOut    []string     `json:"term_out,omitempty"`
	ExecTime   *float64     `json:"exec_time,omitempty"`
	ExcType    *string      `json:"exc_type,omitempty"`
	ExcInfo    map[string]interface{} `json:"exc_info,omitempty"`
	ExcStack   []StackFrame `json:"exc_stack,omitempty"`

	// Plotting execution artifacts (same shape as execution artifacts).
	PlotTermOut  []string     `json:"plot_term_out,omitempty"`
	PlotExecTime *float64     `json:"plot_exec_time,omitempty"`
	PlotExcType  *string      `json:"plot_exc_type,omitempty"`
	PlotExcInfo  map[string]interface{} `json:"plot_exc_info,omitempty"`
	PlotExcStack []StackFrame `json:"plot_exc_stack,omitempty"`

	// Metric-parsing artifacts.
	ParseMetricsPlan string       `json:"parse_metrics_plan,omitempty"`
	ParseMetricsCode string       `json:"parse_metrics_code,omitempty"`
	ParseTermOut     []string     `json:"parse_term_out,omitempty"`
	ParseExcType     *string      `json:"parse_exc_type,omitempty"`
	ParseExcInfo     map[string]interface{} `json:"parse_exc_info,omitempty"`
	ParseExcStack    []StackFrame `json:"parse_exc_stack,omitempty"`

	// Evaluation fields.
	Analysis                  string          `json:"analysis,omitempty"`
	Metric                    *Metric         `json:"metric,omitempty"`
	IsBuggy                   bool            `json:"is_buggy"`
	IsBuggyPlots              bool            `json:"is_buggy_plots"`
	VLMFeedbackSummary        []string        `json:"vlm_feedback_summary,omitempty"`
	PlotAnalyses              []PlotAnalysis  `json:"plot_analyses,omitempty"`
	DatasetsSuccessfullyTested []string       `json:"datasets_successfully_tested,omitempty"`
	ExecTimeFeedback          string          `json:"exec_time_feedback,omitempty"`

	// Plot artifacts.
	Plots     []string `json:"plots,omitempty"`     // relative paths
	PlotPaths []string `json:"plot_paths,omitempty"` // absolute paths

	// Stage tagging.
	AblationName   *string `json:"ablation_name,omitempty"`
	HyperparamName *string `json:"hyperparam_name,omitempty"`
	IsSeedNode     bool    `json:"is_seed_node"`
	IsSeedAggNode  bool    `json:"is_seed_agg_node"`
}

// PlotAnalysis is one VLM-produced analysis for a single plot, keyed by
// the plot's path (per the source's opaque dict-of-analyses shape).
type PlotAnalysis struct {
	PlotPath string `json:"plot_path,omitempty"`
	Analysis string `json:"analysis"`
}

// NewNode constructs a Node with a fresh id and links it to parent (if
// non-nil) by appending it to parent's Children set, mirroring the
// source's __post_init__ auto-link behavior.
func NewNode(parent *Node) *Node {
	n := &Node{
		ID:       uuid.New().String(),
		CTime:    time.Now(),
		Children: make(map[string]*Node),
	}
	if parent != nil {
		n.Parent = parent
		id := parent.ID
		n.ParentID = &id
		parent.Children[n.ID] = n
	}
	return n
}

// StageName classifies the node by how it was produced: draft if it has no
// parent, debug if its parent is buggy, improve otherwise.
func (n *Node) StageNameOf() StageName {
	if n.Parent == nil {
		return StageDraft
	}
	if n.Parent.IsBuggy {
		return StageDebug
	}
	return StageImprove
}

// DebugDepth is 0 if n is not a debug node; otherwise 1 + parent's depth.
func (n *Node) DebugDepth() int {
	if n.StageNameOf() != StageDebug {
		return 0
	}
	if n.Parent == nil {
		return 0
	}
	return n.Parent.DebugDepth() + 1
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// TermOutJoined returns the combined, truncated stdout/stderr text.
func (n *Node) TermOutJoined() string {
	return trimLongString(joinLines(n.TermOut))
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l
	}
	return out
}

// maxTermOutChars bounds the term_out string kept on a Node; the source
// truncates from the middle to preserve both the start and end of output.
const maxTermOutChars = 5000

func trimLongString(s string) string {
	if len(s) <= maxTermOutChars {
		return s
	}
	half := maxTermOutChars / 2
	return s[:half] + "\n...\n" + s[len(s)-half:]
}

// DeepCopyForCarryover returns a copy of n with every field duplicated
// except Parent and Children, which are reset to nil/empty. This is the
// only sanctioned clone path: a default structural clone would re-wire the
// copy into the wrong tree, and carryover explicitly requires a rootless,
// childless node to seed the next stage/substage.
func (n *Node) DeepCopyForCarryover() *Node {
	cp := *n
	cp.Parent = nil
	cp.ParentID = nil
	cp.Children = make(map[string]*Node)
	cp.ChildIDs = nil
	cp.TermOut = append([]string(nil), n.TermOut...)
	cp.ExcStack = append([]StackFrame(nil), n.ExcStack...)
	cp.VLMFeedbackSummary = append([]string(nil), n.VLMFeedbackSummary...)
	cp.PlotAnalyses = append([]PlotAnalysis(nil), n.PlotAnalyses...)
	cp.DatasetsSuccessfullyTested = append([]string(nil), n.DatasetsSuccessfullyTested...)
	cp.Plots = append([]string(nil), n.Plots...)
	cp.PlotPaths = append([]string(nil), n.PlotPaths...)
	if n.Metric != nil {
		m := *n.Metric
		cp.Metric = &m
	}
	return &cp
}

// nodeWire is the JSON wire shape for a Node: identical field set, used so
// MarshalJSON/UnmarshalJSON can populate ChildIDs from the live Children
// map without recursing into full child objects.
type nodeWire Node

// MarshalJSON flattens Children into ChildIDs before encoding, since the
// solution tree's cyclic-looking parent/child graph is never serialized as
// an object graph — only as a flat node list with id references, broken
// and reattached by the owning Journal.
func (n *Node) MarshalJSON() ([]byte, error) {
	w := nodeWire(*n)
	w.ChildIDs = make([]string, 0, len(n.Children))
	for id := range n.Children {
		w.ChildIDs = append(w.ChildIDs, id)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flat wire shape. Parent/Children pointers are
// left nil; the owning Journal relinks them from ParentID/ChildIDs via
// Relink after all nodes in a batch have been decoded.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = Node(w)
	n.Children = make(map[string]*Node)
	return nil
}
