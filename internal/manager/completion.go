package manager

import (
	"context"
	"fmt"

	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/oracle"
)

// CompletionChecker evaluates substage/stage completion by asking the
// feedback LLM, memoized per (best-node id, metric value, goals) so a
// stable state never re-triggers a query.
type CompletionChecker struct {
	Oracle        *oracle.Client
	FeedbackModel string
	FeedbackTemp  float64

	cache map[string]oracle.StageCompletion
}

// NewCompletionChecker constructs a checker with an empty memoization cache.
func NewCompletionChecker(o *oracle.Client, feedbackModel string, feedbackTemp float64) *CompletionChecker {
	return &CompletionChecker{Oracle: o, FeedbackModel: feedbackModel, FeedbackTemp: feedbackTemp, cache: map[string]oracle.StageCompletion{}}
}

func memoKey(best *model.Node, goals string) string {
	if best == nil {
		return "no-best|" + goals
	}
	metricKey := "no-metric"
	if best.Metric != nil {
		metricKey = fmt.Sprintf("%v", best.Metric.Value)
	}
	return best.ID + "|" + metricKey + "|" + goals
}

// CheckSubstage asks whether the given substage's goals have been met by
// the current best node. A nil best node is never complete.
func (c *CompletionChecker) CheckSubstage(ctx context.Context, best *model.Node, goals string) (oracle.StageCompletion, error) {
	if best == nil {
		return oracle.StageCompletion{IsComplete: false, Reasoning: "no evaluated node yet"}, nil
	}
	key := "substage|" + memoKey(best, goals)
	if cached, ok := c.cache[key]; ok {
		return cached, nil
	}
	var out oracle.StageCompletion
	prompt := fmt.Sprintf("Goals:\n%s\n\nBest node analysis:\n%s\nMetric: %v\n", goals, best.Analysis, metricValue(best))
	if err := c.Oracle.QueryStructured(ctx, substageCompletionSystemPrompt, prompt, c.FeedbackModel, "stage_completion", c.FeedbackTemp, &out); err != nil {
		return oracle.StageCompletion{}, err
	}
	c.cache[key] = out
	return out, nil
}

// CheckStage1Main is complete as soon as at least one good node exists.
func CheckStage1Main(j *model.Journal) bool {
	return len(j.GoodNodes()) >= 1
}

// CheckStage2Main asks the feedback LLM whether training dynamics are
// stable over at least 2 tested datasets; with fewer than 2 it reports
// not complete without a query. It does not consult the substage
// predicate.
func (c *CompletionChecker) CheckStage2Main(ctx context.Context, best *model.Node, goals string) (oracle.StageCompletion, error) {
	if best == nil || len(best.DatasetsSuccessfullyTested) < 2 {
		return oracle.StageCompletion{IsComplete: false, Reasoning: "fewer than 2 datasets tested"}, nil
	}
	key := "stage2main|" + memoKey(best, goals)
	if cached, ok := c.cache[key]; ok {
		return cached, nil
	}
	var out oracle.StageCompletion
	prompt := fmt.Sprintf("Goals:\n%s\nDatasets tested: %v\nMetric: %v\n", goals, best.DatasetsSuccessfullyTested, metricValue(best))
	if err := c.Oracle.QueryStructured(ctx, stage2MainCompletionSystemPrompt, prompt, c.FeedbackModel, "stage_completion", c.FeedbackTemp, &out); err != nil {
		return oracle.StageCompletion{}, err
	}
	c.cache[key] = out
	return out, nil
}

// CheckStage3Main never completes early; from the halfway point of
// max_iterations on, it attaches exec-time feedback to the most recent
// node when that node's execution time is under half the configured
// timeout. Earlier nodes' execution times are not examined.
func CheckStage3Main(j *model.Journal, iteration, maxIterations int, execTimeout float64) {
	if iteration < maxIterations/2 {
		return
	}
	nodes := j.Nodes()
	if len(nodes) == 0 {
		return
	}
	last := nodes[len(nodes)-1]
	if last.ExecTime != nil && *last.ExecTime < execTimeout/2 {
		last.ExecTimeFeedback = "Execution time has consistently stayed well under the timeout; consider a more ambitious approach."
	}
}

// CheckStage4Main never completes early; stage 4 always runs to
// max_iterations.
func CheckStage4Main() bool { return false }

func metricValue(n *model.Node) interface{} {
	if n.Metric == nil {
		return nil
	}
	return n.Metric.Value
}

const substageCompletionSystemPrompt = "Given the substage goals and the current best result, decide whether the substage's goals have been met."
const stage2MainCompletionSystemPrompt = "Decide whether training dynamics are stable across the tested datasets and the stage's goals are met."
