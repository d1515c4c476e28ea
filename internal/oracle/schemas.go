// Package oracle is the client for the external LLM service process: a
// narrow JSON-over-HTTP boundary, analogous in shape (if not wire format)
// to a gRPC stub reaching a sidecar — one free-form query operation and a
// family of structured schemas used at specific call sites.
package oracle

// PlanAndCode is returned by drafting/debugging/improving call sites.
type PlanAndCode struct {
	Plan string `json:"plan"`
	Code string `json:"code"`
}

// Review is returned after executing a node's code.
type Review struct {
	Summary string `json:"summary"`
	IsBug   bool   `json:"is_bug"`
}

// MetricDatum is one dataset's reported values for a metric.
type MetricDatum struct {
	DatasetName string   `json:"dataset_name"`
	FinalValue  *float64 `json:"final_value"`
	BestValue   *float64 `json:"best_value"`
}

// MetricName groups the values reported for a single named metric.
type MetricName struct {
	MetricName    string        `json:"metric_name"`
	LowerIsBetter bool          `json:"lower_is_better"`
	Description   string        `json:"description"`
	Data          []MetricDatum `json:"data"`
}

// MetricParse is the structured result of asking the oracle to extract
// metrics from a node's raw execution output.
type MetricParse struct {
	ValidMetricsReceived bool         `json:"valid_metrics_received"`
	MetricNames          []MetricName `json:"metric_names"`
}

// SubstageGoal is returned when the manager asks the oracle to define the
// next substage within a stage.
type SubstageGoal struct {
	Goals        string `json:"goals"`
	SubStageName string `json:"sub_stage_name"`
}

// StageCompletion is returned when the manager asks whether a stage's
// exit criteria have been met.
type StageCompletion struct {
	IsComplete      bool     `json:"is_complete"`
	Reasoning       string   `json:"reasoning"`
	MissingCriteria []string `json:"missing_criteria"`
}

// NodeSelection is returned by the best-node selector oracle call.
type NodeSelection struct {
	SelectedID string `json:"selected_id"`
	Reasoning  string `json:"reasoning"`
}

// HyperparamIdea names one stage 2 (hyperparameter tuning) change; the
// Parallel Agent picks one for each task it dispatches.
type HyperparamIdea struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AblationIdea names one stage 4 (ablation) change; the Parallel Agent
// picks one for each task it dispatches.
type AblationIdea struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PlotAnalysisEntry is one analyzed plot within a VLMFeedback response.
type PlotAnalysisEntry struct {
	Analysis string  `json:"analysis"`
	PlotPath *string `json:"plot_path,omitempty"`
}

// VLMFeedback is returned when the worker asks a vision-capable model to
// review a node's generated plots.
type VLMFeedback struct {
	ValidPlotsReceived bool                `json:"valid_plots_received"`
	PlotAnalyses       []PlotAnalysisEntry `json:"plot_analyses"`
	// VLMFeedbackSummary holds either a single string or a list of
	// strings depending on how many plots were analyzed; callers should
	// type-switch on the decoded value.
	VLMFeedbackSummary interface{} `json:"vlm_feedback_summary"`
}
