package worker

import (
	"fmt"
	"strings"

	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/oracle"
)

const reviewSystemPrompt = "You are reviewing the output of an experiment script. Summarize what happened and flag whether it is a bug."

const metricParsePlanSystemPrompt = "Write a short script that parses the experiment's saved output and prints its metrics as JSON."

const metricExtractSystemPrompt = "Extract metric_names with per-dataset final/best values from this program output. If nothing resembling a metric is present, set valid_metrics_received to false."

const vlmSystemPrompt = "You are a vision-capable reviewer. Analyze the given plots and summarize what they show."

func generationPrompts(mode Mode, in Input) (systemPrompt, userPrompt string) {
	switch mode {
	case ModeDraft:
		return "Write an initial implementation plan and code for this experiment stage.", in.MemorySummary
	case ModeDebug:
		return "The previous attempt raised an exception. Fix the bug.", debugUserPrompt(in.Parent)
	case ModeTuning:
		return "Apply the named hyperparameter change to the existing code.", tuningUserPrompt(in.Parent, in.HyperparamIdea)
	case ModeAblation:
		return "Apply the named ablation to the existing code.", ablationUserPrompt(in.Parent, in.AblationIdea)
	default: // ModeImprove
		return "Improve the existing code using prior feedback and memory of past attempts.", improveUserPrompt(in.Parent, in.MemorySummary)
	}
}

func debugUserPrompt(parent *model.Node) string {
	var b strings.Builder
	b.WriteString("Previous code:\n")
	b.WriteString(parent.Code)
	b.WriteString("\n\nTerminal output:\n")
	b.WriteString(parent.TermOutJoined())
	if len(parent.VLMFeedbackSummary) > 0 {
		b.WriteString("\n\nVLM feedback:\n")
		b.WriteString(strings.Join(parent.VLMFeedbackSummary, "\n"))
	}
	if parent.ExecTimeFeedback != "" {
		b.WriteString("\n\nExecution time feedback:\n")
		b.WriteString(parent.ExecTimeFeedback)
	}
	return b.String()
}

func tuningUserPrompt(parent *model.Node, idea *oracle.HyperparamIdea) string {
	return fmt.Sprintf("Existing code:\n%s\n\nHyperparameter to try: %s\n%s", parent.Code, idea.Name, idea.Description)
}

func ablationUserPrompt(parent *model.Node, idea *oracle.AblationIdea) string {
	return fmt.Sprintf("Existing code:\n%s\n\nAblation to apply: %s\n%s", parent.Code, idea.Name, idea.Description)
}

func improveUserPrompt(parent *model.Node, memory string) string {
	return fmt.Sprintf("Existing code:\n%s\n\nPrior run memory:\n%s", parent.Code, memory)
}

func reviewUserPrompt(child *model.Node) string {
	var b strings.Builder
	b.WriteString(child.Code)
	b.WriteString("\n\nTerminal output:\n")
	b.WriteString(child.TermOutJoined())
	if child.ExcType != nil {
		b.WriteString("\n\nException: ")
		b.WriteString(*child.ExcType)
	}
	return b.String()
}

func metricParseUserPrompt(child *model.Node) string {
	return fmt.Sprintf("Code:\n%s\n\nOutput:\n%s", child.Code, child.TermOutJoined())
}

func plotGenerationPrompts(in Input, child *model.Node) (systemPrompt, userPrompt string) {
	systemPrompt = "Write a plotting script for this experiment's saved results."
	var b strings.Builder
	b.WriteString(child.Code)
	if in.PriorPlotCode != nil {
		b.WriteString("\n\nPrior stage's plotting code (adapt rather than rewrite from scratch):\n")
		b.WriteString(*in.PriorPlotCode)
	}
	return systemPrompt, b.String()
}

func vlmUserPrompt(plots []string) string {
	return "Plots to analyze:\n" + strings.Join(plots, "\n")
}
