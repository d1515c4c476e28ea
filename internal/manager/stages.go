// Package manager drives a run through the four main stages in order:
// baseline, hyperparameter tuning, creative exploration, ablation. Each
// stage is a small state machine of substages, each substage owning its
// own Journal and Parallel Agent.
package manager

import (
	"strconv"
	"strings"

	"github.com/ratchet-labs/ratchet/internal/parallelagent"
)

// StageClass describes one main stage's identity and selection policy.
// The four instances below are the only stages a run ever goes through,
// always in this order.
type StageClass struct {
	MainStageNumber int
	Slug            string
	DefaultGoals    string
	NumDrafts       int
	ImproveEnabled  bool
	EnablePlotting  bool
}

var (
	Stage1Baseline = StageClass{
		MainStageNumber: 1,
		Slug:            "baseline",
		DefaultGoals:    "Produce a working baseline implementation that runs end to end and reports a metric.",
		NumDrafts:       1,
		ImproveEnabled:  true,
	}
	Stage2HyperparamTuning = StageClass{
		MainStageNumber: 2,
		Slug:            "hyperparam_tuning",
		DefaultGoals:    "Explore hyperparameter choices to improve on the baseline metric.",
	}
	Stage3CreativeExploration = StageClass{
		MainStageNumber: 3,
		Slug:            "creative_exploration",
		DefaultGoals:    "Explore alternative modeling approaches and visualize results.",
		ImproveEnabled:  true,
		EnablePlotting:  true,
	}
	Stage4Ablation = StageClass{
		MainStageNumber: 4,
		Slug:            "ablation",
		DefaultGoals:    "Run ablations against the best creative-exploration result.",
		EnablePlotting:  true,
	}
)

// Stages is the fixed order a run progresses through.
var Stages = []StageClass{Stage1Baseline, Stage2HyperparamTuning, Stage3CreativeExploration, Stage4Ablation}

// NextStage returns the stage following cur, or false after stage 4.
func NextStage(cur StageClass) (StageClass, bool) {
	for i, s := range Stages {
		if s.Slug == cur.Slug {
			if i+1 < len(Stages) {
				return Stages[i+1], true
			}
			return StageClass{}, false
		}
	}
	return StageClass{}, false
}

// stageByNumber looks up the fixed StageClass instance for a main stage
// number (1..4).
func stageByNumber(n int) (StageClass, bool) {
	for _, s := range Stages {
		if s.MainStageNumber == n {
			return s, true
		}
	}
	return StageClass{}, false
}

// ParseStageName reverses model.NewStageMeta's
// "stage_{number}_{slug}_{substage_number}_{substage_name}" format,
// looking up the slug's owning StageClass by main stage number so a
// slug containing underscores (e.g. "hyperparam_tuning") doesn't
// confuse the split. Used by Manager.ResumeRun to reconstruct which
// stage/substage a loaded checkpoint belongs to.
func ParseStageName(name string) (mainStage, substageNumber int, substageName string, ok bool) {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 || parts[0] != "stage" {
		return 0, 0, "", false
	}
	mainStage, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, "", false
	}
	stage, found := stageByNumber(mainStage)
	if !found {
		return 0, 0, "", false
	}
	prefix := stage.Slug + "_"
	if !strings.HasPrefix(parts[2], prefix) {
		return 0, 0, "", false
	}
	rest := strings.SplitN(strings.TrimPrefix(parts[2], prefix), "_", 2)
	if len(rest) != 2 {
		return 0, 0, "", false
	}
	substageNumber, err = strconv.Atoi(rest[0])
	if err != nil {
		return 0, 0, "", false
	}
	return mainStage, substageNumber, rest[1], true
}

// Policy converts a stage class's selection knobs into the parallel
// agent's Policy, folding in run-wide tunables not fixed per-stage.
func (s StageClass) Policy(debugProb float64, maxDebugDepth, numDraftsOverride int) parallelagent.Policy {
	numDrafts := s.NumDrafts
	if numDraftsOverride >= 0 {
		numDrafts = numDraftsOverride
	}
	return parallelagent.Policy{
		NumDrafts:      numDrafts,
		DebugProb:      debugProb,
		MaxDebugDepth:  maxDebugDepth,
		ImproveEnabled: s.ImproveEnabled,
	}
}
