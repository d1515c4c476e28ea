// Package worker implements the Worker Task pipeline: turning a parent
// Node (or none) into a new, fully evaluated child Node by driving the
// LLM oracle and the Interpreter sandbox.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ratchet-labs/ratchet/internal/interpreter"
	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/oracle"
)

// Mode classifies how a task's child Node should be generated.
type Mode string

const (
	ModeSeedEval Mode = "seed_eval"
	ModeDraft    Mode = "draft"
	ModeDebug    Mode = "debug"
	ModeTuning   Mode = "tuning"
	ModeAblation Mode = "ablation"
	ModeImprove  Mode = "improve"
)

// Input describes one unit of dispatch handed to a worker.
type Input struct {
	RunID          string
	StageName      string
	Parent         *model.Node
	SeedEval       bool
	HyperparamIdea *oracle.HyperparamIdea
	AblationIdea   *oracle.AblationIdea
	GPUIndex       *int
	MemorySummary  string
	EnablePlotting bool
	PriorPlotCode  *string
}

// Config bundles the model/temperature and retry knobs a Task is driven
// by; populated from the run's configuration.
type Config struct {
	CodeModel     string
	CodeTemp      float64
	FeedbackModel string
	FeedbackTemp  float64
	VLMModel      string
	VLMTemp       float64

	ExecTimeout time.Duration

	MaxGPUValidationRetries int
	MaxPlotRetries          int
	MaxSelectedPlots        int
}

// DefaultConfig returns the source's documented retry/selection bounds.
func DefaultConfig() Config {
	return Config{
		MaxGPUValidationRetries: 3,
		MaxPlotRetries:          3,
		MaxSelectedPlots:        10,
	}
}

// Task runs one Worker Task pipeline invocation.
type Task struct {
	Oracle         *oracle.Client
	NewInterpreter func(workDir string, timeout time.Duration) *interpreter.Interpreter
	BaseDir        string
	ResultsDir     string
	Config         Config
}

func (t *Task) mode(in Input) Mode {
	switch {
	case in.SeedEval && in.Parent != nil:
		return ModeSeedEval
	case in.Parent == nil:
		return ModeDraft
	case in.Parent.IsBuggy:
		return ModeDebug
	case in.HyperparamIdea != nil:
		return ModeTuning
	case in.AblationIdea != nil:
		return ModeAblation
	default:
		return ModeImprove
	}
}

// Run executes the full pipeline and returns the newly created, evaluated
// Node. Any failure to reach a usable result still yields a Node (marked
// buggy) rather than an error — only workspace creation failures, code
// generation failures (an oracle error, or generated code that never
// references the assigned GPU) and recovered panics are returned as
// errors; an interpreter failure marks the node buggy. The caller
// (parallel agent) is the one that decides whether such an error aborts
// the dispatch.
func (t *Task) Run(ctx context.Context, in Input) (n *model.Node, err error) {
	child := model.NewNode(in.Parent)
	mode := t.mode(in)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker task panicked", "node_id", child.ID, "mode", mode, "panic", r)
			err = fmt.Errorf("worker: task %s panicked: %v", child.ID, r)
		}
	}()

	ws, wsErr := PrepareWorkspace(t.BaseDir, t.ResultsDir, child.ID)
	if wsErr != nil {
		return nil, wsErr
	}

	if err := t.generate(ctx, mode, in, child); err != nil {
		return nil, fmt.Errorf("worker: generate node %s: %w", child.ID, err)
	}

	interp := t.NewInterpreter(ws.WorkingDir, t.Config.ExecTimeout)
	defer interp.Close()

	t.execute(ctx, interp, child)
	t.review(ctx, child)
	t.extractMetrics(ctx, interp, in, child)

	if in.EnablePlotting && !child.IsBuggy {
		t.plotAndAnalyze(ctx, interp, ws, in, child)
	}

	return child, nil
}

func (t *Task) generate(ctx context.Context, mode Mode, in Input, child *model.Node) error {
	if mode == ModeSeedEval {
		child.Code = in.Parent.Code
		child.Plan = in.Parent.Plan
		child.PlotCode = in.Parent.PlotCode
		child.PlotPlan = in.Parent.PlotPlan
		child.IsSeedNode = true
		return nil
	}

	systemPrompt, userPrompt := generationPrompts(mode, in)

	for attempt := 0; attempt < maxInt(1, t.Config.MaxGPUValidationRetries); attempt++ {
		var pc oracle.PlanAndCode
		if err := t.Oracle.QueryStructured(ctx, systemPrompt, userPrompt, t.Config.CodeModel, "plan_and_code", t.Config.CodeTemp, &pc); err != nil {
			return err
		}
		if in.GPUIndex == nil || validatesGPUUsage(pc.Code, *in.GPUIndex) {
			child.Plan = pc.Plan
			child.Code = pc.Code
			return nil
		}
		userPrompt = userPrompt + "\n\n" + gpuFeedbackSnippet(*in.GPUIndex)
		slog.Warn("generated code failed GPU visibility validation, retrying", "node_id", child.ID, "attempt", attempt+1)
	}
	return fmt.Errorf("generated code never referenced assigned GPU index %d after %d attempts", *in.GPUIndex, t.Config.MaxGPUValidationRetries)
}

func (t *Task) execute(ctx context.Context, interp *interpreter.Interpreter, child *model.Node) {
	res, err := interp.Run(ctx, child.Code, true)
	if err != nil {
		slog.Error("interpreter run failed", "node_id", child.ID, "error", err)
		excType := "InterpreterError"
		child.ExcType = &excType
		child.IsBuggy = true
		return
	}
	applyExecResult(child, res)
}

// applyExecResult stores raw output and exception state from an
// Interpreter result onto the execution-artifact fields of a Node.
func applyExecResult(n *model.Node, res interpreter.ExecutionResult) {
	n.TermOut = res.TermOut
	execTime := res.ExecTime.Seconds()
	n.ExecTime = &execTime
	if res.ExcType != "" {
		excType := res.ExcType
		n.ExcType = &excType
		n.ExcInfo = res.ExcInfo
		n.ExcStack = convertFrames(res.ExcStack)
	}
}

func convertFrames(frames []interpreter.Frame) []model.StackFrame {
	out := make([]model.StackFrame, len(frames))
	for i, f := range frames {
		out[i] = model.StackFrame{File: f.File, Line: f.Line, Func: f.Func, Text: f.Text}
	}
	return out
}

func (t *Task) review(ctx context.Context, child *model.Node) {
	var review oracle.Review
	err := t.Oracle.QueryStructured(ctx, reviewSystemPrompt, reviewUserPrompt(child), t.Config.FeedbackModel, "review", t.Config.FeedbackTemp, &review)
	if err != nil {
		slog.Warn("review query failed, node is buggy only if execution raised", "node_id", child.ID, "error", err)
		child.IsBuggy = child.ExcType != nil
		return
	}
	child.Analysis = review.Summary
	child.IsBuggy = review.IsBug || child.ExcType != nil
}

func (t *Task) extractMetrics(ctx context.Context, interp *interpreter.Interpreter, in Input, child *model.Node) {
	if child.IsBuggy {
		child.Metric = model.NewWorstMetric()
		return
	}
	if t.mode(in) == ModeSeedEval {
		child.ParseMetricsPlan = in.Parent.ParseMetricsPlan
		child.ParseMetricsCode = in.Parent.ParseMetricsCode
	} else {
		var pc oracle.PlanAndCode
		if err := t.Oracle.QueryStructured(ctx, metricParsePlanSystemPrompt, metricParseUserPrompt(child), t.Config.CodeModel, "plan_and_code", t.Config.CodeTemp, &pc); err != nil {
			slog.Warn("metric-parse plan generation failed", "node_id", child.ID, "error", err)
			child.Metric = model.NewWorstMetric()
			child.IsBuggy = true
			return
		}
		child.ParseMetricsPlan = pc.Plan
		child.ParseMetricsCode = pc.Code
	}

	res, err := interp.Run(ctx, child.ParseMetricsCode, true)
	if err != nil {
		child.ParseTermOut = []string{err.Error()}
		child.Metric = model.NewWorstMetric()
		child.IsBuggy = true
		return
	}
	child.ParseTermOut = res.TermOut
	if res.ExcType != "" {
		excType := res.ExcType
		child.ParseExcType = &excType
		child.ParseExcInfo = res.ExcInfo
		child.ParseExcStack = convertFrames(res.ExcStack)
		child.Metric = model.NewWorstMetric()
		child.IsBuggy = true
		return
	}

	var parsed oracle.MetricParse
	if err := t.Oracle.QueryStructured(ctx, metricExtractSystemPrompt, strings.Join(res.TermOut, ""), t.Config.FeedbackModel, "metric_parse", t.Config.FeedbackTemp, &parsed); err != nil || !parsed.ValidMetricsReceived {
		child.Metric = model.NewWorstMetric()
		child.IsBuggy = true
		return
	}

	child.Metric = bestMetricFromParse(parsed)
	if child.Metric.IsWorst() {
		child.IsBuggy = true
	}
	child.DatasetsSuccessfullyTested = datasetNames(parsed)
}

func (t *Task) plotAndAnalyze(ctx context.Context, interp *interpreter.Interpreter, ws *Workspace, in Input, child *model.Node) {
	systemPrompt, userPrompt := plotGenerationPrompts(in, child)
	var lastErr error
	for attempt := 0; attempt < maxInt(1, t.Config.MaxPlotRetries); attempt++ {
		var pc oracle.PlanAndCode
		if err := t.Oracle.QueryStructured(ctx, systemPrompt, userPrompt, t.Config.CodeModel, "plan_and_code", t.Config.CodeTemp, &pc); err != nil {
			lastErr = err
			break
		}
		child.PlotPlan = &pc.Plan
		child.PlotCode = &pc.Code

		res, err := interp.Run(ctx, pc.Code, true)
		if err != nil {
			lastErr = err
			break
		}
		child.PlotTermOut = res.TermOut
		if res.ExcType == "" {
			lastErr = nil
			break
		}
		excType := res.ExcType
		child.PlotExcType = &excType
		child.PlotExcInfo = res.ExcInfo
		child.PlotExcStack = convertFrames(res.ExcStack)
		lastErr = fmt.Errorf("plot execution raised %s", res.ExcType)
		userPrompt = userPrompt + "\n\nPrevious attempt failed: " + res.ExcType
	}
	if lastErr != nil {
		slog.Warn("plot generation exhausted retries", "node_id", child.ID, "error", lastErr)
		return
	}

	rel, abs, err := ws.CollectPlots(child.ID)
	if err != nil {
		slog.Warn("collecting plots failed", "node_id", child.ID, "error", err)
		return
	}
	child.Plots = rel
	child.PlotPaths = abs

	selected := rel
	if len(selected) > t.Config.MaxSelectedPlots {
		selected = selected[:t.Config.MaxSelectedPlots]
	}

	var feedback oracle.VLMFeedback
	if err := t.Oracle.QueryStructured(ctx, vlmSystemPrompt, vlmUserPrompt(selected), t.Config.VLMModel, "vlm_feedback", t.Config.VLMTemp, &feedback); err != nil {
		slog.Warn("VLM feedback query failed", "node_id", child.ID, "error", err)
		child.IsBuggyPlots = true
		return
	}
	child.IsBuggyPlots = !feedback.ValidPlotsReceived
	for _, a := range feedback.PlotAnalyses {
		pa := model.PlotAnalysis{Analysis: a.Analysis}
		if a.PlotPath != nil {
			pa.PlotPath = *a.PlotPath
		}
		child.PlotAnalyses = append(child.PlotAnalyses, pa)
	}
	switch v := feedback.VLMFeedbackSummary.(type) {
	case string:
		child.VLMFeedbackSummary = []string{v}
	case []interface{}:
		for _, s := range v {
			if str, ok := s.(string); ok {
				child.VLMFeedbackSummary = append(child.VLMFeedbackSummary, str)
			}
		}
	}
}

func validatesGPUUsage(code string, gpuIndex int) bool {
	hasSetDevice := strings.Contains(code, "set_device(") || strings.Contains(code, "cuda.set_device")
	deviceLiteral := "cuda:" + strconv.Itoa(gpuIndex)
	hasDeviceConstructor := strings.Contains(code, deviceLiteral) || strings.Contains(code, "device("+strconv.Itoa(gpuIndex)+")")
	return hasSetDevice && hasDeviceConstructor
}

func gpuFeedbackSnippet(gpuIndex int) string {
	return fmt.Sprintf("Your code must call torch.cuda.set_device(%d) and construct tensors/models on torch.device(\"cuda:%d\") explicitly.", gpuIndex, gpuIndex)
}

func bestMetricFromParse(p oracle.MetricParse) *model.Metric {
	var best *model.Metric
	for _, mn := range p.MetricNames {
		for _, d := range mn.Data {
			var value *float64
			if d.FinalValue != nil {
				value = d.FinalValue
			} else {
				value = d.BestValue
			}
			if value == nil {
				continue
			}
			m := model.NewMetric(*value, !mn.LowerIsBetter, mn.MetricName, mn.Description)
			best = model.Best(best, m)
		}
	}
	if best == nil {
		return model.NewWorstMetric()
	}
	return best
}

func datasetNames(p oracle.MetricParse) []string {
	seen := map[string]bool{}
	var out []string
	for _, mn := range p.MetricNames {
		for _, d := range mn.Data {
			if d.DatasetName == "" || seen[d.DatasetName] {
				continue
			}
			seen[d.DatasetName] = true
			out = append(out, d.DatasetName)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
