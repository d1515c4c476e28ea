package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ratchet-labs/ratchet/internal/gpualloc"
	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/oracle"
	"github.com/ratchet-labs/ratchet/internal/parallelagent"
	"github.com/ratchet-labs/ratchet/internal/worker"
)

// ErrStage1NoGoodNode is returned when stage 1 exhausts max_iterations
// without ever producing a non-buggy node; the source treats this as a
// fatal run error rather than silently advancing.
var ErrStage1NoGoodNode = errors.New("manager: stage 1 reached max_iterations with no good node")

// CheckpointStore persists a Journal snapshot and emits a progress event
// after every Parallel Agent step. Implemented by internal/storage.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, runID, stageName string, j *model.Journal) error
	EmitProgress(ctx context.Context, runID, stageName string, iteration, maxIter, nodeCount int)
}

// RunConfig bundles the run-wide tunables the manager needs beyond each
// stage's fixed identity.
type RunConfig struct {
	RunID             string
	NumWorkers        int
	DispatchTimeout   time.Duration
	DebugProb         float64
	MaxDebugDepth     int
	MaxIterationsFor  func(stage StageClass) int
	NumSeeds          int
	CodeModel         string
	FeedbackModel     string
	FeedbackTemp      float64
	ExecTimeoutSecs   float64
}

// Manager drives a run through all four stages, one substage at a time.
type Manager struct {
	Config     RunConfig
	Oracle     *oracle.Client
	GPUs       *gpualloc.Allocator
	TaskFunc   func(ctx context.Context, in worker.Input) (*model.Node, error)
	Checkpoint CheckpointStore
	Completion *CompletionChecker

	journals map[string]*model.Journal
}

// New constructs a Manager ready to run stage 1 from scratch.
func New(cfg RunConfig, o *oracle.Client, gpus *gpualloc.Allocator, taskFunc func(ctx context.Context, in worker.Input) (*model.Node, error), checkpoint CheckpointStore) *Manager {
	return &Manager{
		Config:     cfg,
		Oracle:     o,
		GPUs:       gpus,
		TaskFunc:   taskFunc,
		Checkpoint: checkpoint,
		Completion: NewCompletionChecker(o, cfg.FeedbackModel, cfg.FeedbackTemp),
		journals:   map[string]*model.Journal{},
	}
}

// substage tracks one live (Journal, StageMeta, Agent) triple.
type substage struct {
	meta    model.StageMeta
	journal *model.Journal
	agent   *parallelagent.Agent
	stage   StageClass
}

// Run drives the full stage 1→2→3→4 progression to completion or error.
func (m *Manager) Run(ctx context.Context) error {
	stage := Stage1Baseline
	ss, err := m.newSubstage(ctx, stage, 0, "first_attempt", stage.DefaultGoals, nil, nil, nil)
	if err != nil {
		return err
	}
	return m.driveStages(ctx, ss)
}

// ResumeRun continues a run from a previously checkpointed substage
// journal (as returned by storage.JournalStore.LatestCheckpoint), picking
// up the stage/substage state machine at exactly the stage/substage the
// checkpoint names instead of restarting stage 1 from scratch. This is
// the --resume path from spec.md §6.2.
//
// The stage-2/stage-4 carryover parent from the previously finished main
// stage is not itself part of a single substage's checkpoint, so a run
// resumed mid stage-2/stage-4 continues without it until that stage
// completes and hands a fresh carryover to the next one.
func (m *Manager) ResumeRun(ctx context.Context, stageName string, journal *model.Journal) error {
	mainStage, substageNumber, substageName, ok := ParseStageName(stageName)
	if !ok {
		return fmt.Errorf("manager: cannot parse checkpointed stage name %q", stageName)
	}
	stage, found := stageByNumber(mainStage)
	if !found {
		return fmt.Errorf("manager: unknown main stage %d in checkpoint %q", mainStage, stageName)
	}

	numDraftsOverride := 0
	if stage.MainStageNumber == 1 && substageNumber == 0 {
		numDraftsOverride = stage.NumDrafts
	}
	meta := model.NewStageMeta(stage.MainStageNumber, stage.Slug, substageNumber, substageName, stage.DefaultGoals, m.Config.MaxIterationsFor(stage), numDraftsOverride)
	m.journals[meta.Name] = journal

	policy := stage.Policy(m.Config.DebugProb, m.Config.MaxDebugDepth, numDraftsOverride)
	workers := gpualloc.ClampWorkerCount(m.Config.NumWorkers, m.GPUs.Count())
	agent := parallelagent.New(journal, m.GPUs, workers, m.Config.DispatchTimeout, policy)
	agent.TaskFunc = m.TaskFunc

	return m.driveStages(ctx, substage{meta: meta, journal: journal, agent: agent, stage: stage})
}

// driveStages runs ss's main stage to completion, then advances through
// every following main stage exactly as Run does, carrying the best node
// forward at each boundary.
func (m *Manager) driveStages(ctx context.Context, ss substage) error {
	for {
		done, err := m.runStage(ctx, &ss)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		next, ok := NextStage(ss.stage)
		if !ok {
			return nil // terminated after stage 4
		}
		best, _ := m.journals[ss.meta.Name].GetBestNode(ctx, true, true, nil)
		carryover := carryoverNode(best)

		var stage4Carry, stage2Carry *model.Node
		switch next.MainStageNumber {
		case 2:
			stage2Carry = carryover
		case 4:
			stage4Carry = carryover
		}
		ss, err = m.newSubstage(ctx, next, 0, "first_attempt", next.DefaultGoals, carryover, stage4Carry, stage2Carry)
		if err != nil {
			return err
		}
	}
}

func carryoverNode(best *model.Node) *model.Node {
	if best == nil {
		return nil
	}
	return best.DeepCopyForCarryover()
}

func (m *Manager) newSubstage(ctx context.Context, stage StageClass, substageNumber int, name, goals string, seed, stage4Carry, stage2Carry *model.Node) (substage, error) {
	numDraftsOverride := 0
	if stage.MainStageNumber == 1 && substageNumber == 0 {
		numDraftsOverride = stage.NumDrafts
	}
	meta := model.NewStageMeta(stage.MainStageNumber, stage.Slug, substageNumber, name, goals, m.Config.MaxIterationsFor(stage), numDraftsOverride)
	j := model.NewJournal(m.Config.RunID, meta.Name)
	if seed != nil {
		j.Append(seed)
	}
	m.journals[meta.Name] = j

	policy := stage.Policy(m.Config.DebugProb, m.Config.MaxDebugDepth, numDraftsOverride)

	workers := gpualloc.ClampWorkerCount(m.Config.NumWorkers, m.GPUs.Count())
	agent := parallelagent.New(j, m.GPUs, workers, m.Config.DispatchTimeout, policy)
	agent.TaskFunc = m.TaskFunc
	agent.Stage4CarryoverParent = stage4Carry
	agent.Stage2CarryoverParent = stage2Carry

	return substage{meta: meta, journal: j, agent: agent, stage: stage}, nil
}

// runStage runs substages of one main stage until the stage completes,
// returning true once it has; every non-error return is true. Whether a
// following main stage exists is decided by the caller via NextStage.
func (m *Manager) runStage(ctx context.Context, ss *substage) (bool, error) {
	maxIter := ss.meta.MaxIterations
	for iteration := 1; iteration <= maxIter; iteration++ {
		if err := ss.agent.Step(ctx); err != nil {
			return false, fmt.Errorf("stage %s iteration %d: %w", ss.meta.Name, iteration, err)
		}

		if m.Checkpoint != nil {
			if err := m.Checkpoint.SaveCheckpoint(ctx, m.Config.RunID, ss.meta.Name, ss.journal); err != nil {
				slog.Warn("checkpoint failed", "stage", ss.meta.Name, "error", err)
			}
			m.Checkpoint.EmitProgress(ctx, m.Config.RunID, ss.meta.Name, iteration, maxIter, len(ss.journal.Nodes()))
		}

		stageComplete, err := m.checkMainStageComplete(ctx, ss, iteration, maxIter)
		if err != nil {
			return false, err
		}
		if stageComplete {
			best, _ := ss.journal.GetBestNode(ctx, true, true, nil)
			if best != nil && m.Config.NumSeeds > 0 {
				if err := runMultiSeedEval(ctx, ss.journal, m.TaskFunc, m.Oracle, m.Config.CodeModel, best, m.Config.NumSeeds); err != nil {
					slog.Warn("multi-seed evaluation failed", "stage", ss.meta.Name, "error", err)
				}
			}
			return true, nil
		}

		completion, err := m.Completion.CheckSubstage(ctx, mustBest(ctx, ss.journal), ss.meta.Goals)
		if err != nil {
			slog.Warn("substage completion check failed", "stage", ss.meta.Name, "error", err)
			continue
		}
		if completion.IsComplete {
			goal, err := m.nextSubstageGoals(ctx, ss)
			if err != nil {
				goal = oracle.SubstageGoal{Goals: ss.stage.DefaultGoals, SubStageName: "first_attempt"}
			}
			next, nerr := m.newSubstage(ctx, ss.stage, ss.meta.SubstageNumber+1, goal.SubStageName, goal.Goals, nil, ss.agent.Stage4CarryoverParent, ss.agent.Stage2CarryoverParent)
			if nerr != nil {
				return false, nerr
			}
			*ss = next
		}
	}

	if ss.stage.MainStageNumber == 1 && len(ss.journal.GoodNodes()) == 0 {
		return false, ErrStage1NoGoodNode
	}
	// max_iterations reached: treat the stage as complete regardless of
	// the predicate, matching "complete on max_iterations" in every stage.
	best, _ := ss.journal.GetBestNode(ctx, true, true, nil)
	if best != nil && m.Config.NumSeeds > 0 {
		if err := runMultiSeedEval(ctx, ss.journal, m.TaskFunc, m.Oracle, m.Config.CodeModel, best, m.Config.NumSeeds); err != nil {
			slog.Warn("multi-seed evaluation failed", "stage", ss.meta.Name, "error", err)
		}
	}
	return true, nil
}

func mustBest(ctx context.Context, j *model.Journal) *model.Node {
	best, _ := j.GetBestNode(ctx, true, true, nil)
	return best
}

// checkMainStageComplete evaluates only the stage-specific predicate.
// Reaching max_iterations without the predicate firing is handled by
// runStage's natural loop exit, since stage 1 treats that case as an
// error rather than an ordinary completion.
func (m *Manager) checkMainStageComplete(ctx context.Context, ss *substage, iteration, maxIter int) (bool, error) {
	switch ss.stage.MainStageNumber {
	case 1:
		return CheckStage1Main(ss.journal), nil
	case 2:
		out, err := m.Completion.CheckStage2Main(ctx, mustBest(ctx, ss.journal), ss.meta.Goals)
		if err != nil {
			return false, nil
		}
		return out.IsComplete, nil
	case 3:
		CheckStage3Main(ss.journal, iteration, maxIter, m.Config.ExecTimeoutSecs)
		return false, nil
	case 4:
		return CheckStage4Main(), nil
	}
	return false, nil
}

func (m *Manager) nextSubstageGoals(ctx context.Context, ss *substage) (oracle.SubstageGoal, error) {
	best := mustBest(ctx, ss.journal)
	prompt := fmt.Sprintf("Current substage goals:\n%s\n\nBest node analysis:\n%s\n", ss.meta.Goals, analysisOf(best))
	var out oracle.SubstageGoal
	err := m.Oracle.QueryStructured(ctx, nextSubstageSystemPrompt, prompt, m.Config.FeedbackModel, "substage_goal", m.Config.FeedbackTemp, &out)
	return out, err
}

func analysisOf(n *model.Node) string {
	if n == nil {
		return "none yet"
	}
	return n.Analysis
}

const nextSubstageSystemPrompt = "Propose new goals and a short name for the next substage, given what has been learned so far."

func runMultiSeedEval(ctx context.Context, j *model.Journal, taskFunc func(ctx context.Context, in worker.Input) (*model.Node, error), o *oracle.Client, codeModel string, best *model.Node, numSeeds int) error {
	return parallelagent.RunMultiSeedEval(ctx, j, taskFunc, o, codeModel, best, numSeeds)
}
