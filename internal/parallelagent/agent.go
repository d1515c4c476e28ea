package parallelagent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ratchet-labs/ratchet/internal/gpualloc"
	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/oracle"
	"github.com/ratchet-labs/ratchet/internal/worker"
)

// IdeaPicker computes the next hyperparameter/ablation idea to try, given
// the set of names already attempted, deduplicating across workers by
// running once on the main process rather than per-worker.
type IdeaPicker func(ctx context.Context, tried map[string]bool) (name, description string, err error)

// Agent owns one substage's bounded worker pool and drives one step at a
// time, dispatching selections to Worker Tasks and reconciling their
// results into the bound Journal.
type Agent struct {
	Journal  *model.Journal
	GPUs     *gpualloc.Allocator
	Workers  int
	Timeout  time.Duration
	Policy   Policy
	TaskFunc func(ctx context.Context, in worker.Input) (*model.Node, error)

	Stage4CarryoverParent *model.Node
	Stage2CarryoverParent *model.Node
	HyperparamPicker      IdeaPicker
	AblationPicker        IdeaPicker

	rng        *rand.Rand
	triedHyper map[string]bool
	triedAbl   map[string]bool
	mu         sync.Mutex
}

// New constructs an Agent. Workers is clamped to the available GPU count
// by the caller (see gpualloc.ClampWorkerCount) before being passed in.
func New(j *model.Journal, gpus *gpualloc.Allocator, workers int, timeout time.Duration, policy Policy) *Agent {
	return &Agent{
		Journal:    j,
		GPUs:       gpus,
		Workers:    workers,
		Timeout:    timeout,
		Policy:     policy,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		triedHyper: map[string]bool{},
		triedAbl:   map[string]bool{},
	}
}

// Step runs one iteration: select up to Workers parents, dispatch a
// Worker Task per selection, and append every successful result to the
// Journal. A worker exception aborts the step and is returned to the
// caller (the Agent Manager), matching the source's "a worker exception
// aborts the iteration" contract.
func (a *Agent) Step(ctx context.Context) error {
	selections := SelectNodes(a.Journal, a.Policy, a.Workers, a.rng, a.Stage4CarryoverParent, a.Stage2CarryoverParent)
	if len(selections) == 0 {
		return nil
	}

	results := make([]dispatchResult, len(selections))

	var wg sync.WaitGroup
	for i, sel := range selections {
		wg.Add(1)
		go func(i int, sel Selection) {
			defer wg.Done()
			results[i] = a.dispatch(ctx, i, sel)
		}(i, sel)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return r.err
		}
		if r.skip || r.node == nil {
			continue
		}
		a.Journal.Append(r.node)
		a.recordTried(r.node)
	}
	return nil
}

type dispatchResult struct {
	node *model.Node
	err  error
	skip bool
}

func (a *Agent) dispatch(ctx context.Context, i int, sel Selection) dispatchResult {
	workerID := fmt.Sprintf("worker_%d", i)

	var gpuIndex *int
	if a.GPUs != nil && a.GPUs.Count() > 0 {
		idx, err := a.GPUs.Acquire(workerID)
		if err == nil {
			gpuIndex = &idx
			defer a.GPUs.Release(workerID)
		}
	}

	in := worker.Input{Parent: sel.Parent, GPUIndex: gpuIndex}
	if sel.Parent != nil && !sel.Parent.IsBuggy {
		a.mu.Lock()
		if a.HyperparamPicker != nil {
			if name, desc, err := a.HyperparamPicker(ctx, a.triedHyper); err == nil && name != "" {
				in.HyperparamIdea = &oracle.HyperparamIdea{Name: name, Description: desc}
			}
		}
		if a.AblationPicker != nil {
			if name, desc, err := a.AblationPicker(ctx, a.triedAbl); err == nil && name != "" {
				in.AblationIdea = &oracle.AblationIdea{Name: name, Description: desc}
			}
		}
		a.mu.Unlock()
	}

	runCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	node, err := a.TaskFunc(runCtx, in)
	if runCtx.Err() != nil {
		slog.Warn("worker task timed out, skipping", "worker_id", workerID)
		return dispatchResult{skip: true}
	}
	if err != nil {
		return dispatchResult{err: fmt.Errorf("worker %s: %w", workerID, err)}
	}
	return dispatchResult{node: node}
}

func (a *Agent) recordTried(n *model.Node) {
	if n.IsBuggy {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if n.HyperparamName != nil {
		a.triedHyper[*n.HyperparamName] = true
	}
	if n.AblationName != nil {
		a.triedAbl[*n.AblationName] = true
	}
}
