package parallelagent

import (
	"context"
	"fmt"
	"sync"

	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/oracle"
	"github.com/ratchet-labs/ratchet/internal/worker"
)

// RunMultiSeedEval clones bestNode's code num times with a deterministic
// seed preamble prepended, runs each through the standard worker
// pipeline, appends the results as children of bestNode with
// is_seed_node=true, then produces a single aggregation node whose
// plotting code is synthesized by the oracle from the seed runs' plot
// scripts and data paths.
func RunMultiSeedEval(ctx context.Context, j *model.Journal, taskFunc func(ctx context.Context, in worker.Input) (*model.Node, error), oracleClient *oracle.Client, codeModel string, bestNode *model.Node, numSeeds int) error {
	seedNodes := make([]*model.Node, numSeeds)
	var wg sync.WaitGroup
	errs := make([]error, numSeeds)

	for seed := 0; seed < numSeeds; seed++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			clone := *bestNode
			clone.Code = seedPreamble(seed) + "\n" + bestNode.Code
			in := worker.Input{Parent: &clone, SeedEval: true}
			n, err := taskFunc(ctx, in)
			if err != nil {
				errs[seed] = fmt.Errorf("seed %d: %w", seed, err)
				return
			}
			n.Parent = bestNode
			id := bestNode.ID
			n.ParentID = &id
			n.IsSeedNode = true
			seedNodes[seed] = n
		}(seed)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	for _, n := range seedNodes {
		j.Append(n)
	}

	agg, err := buildAggregationNode(ctx, taskFunc, oracleClient, codeModel, bestNode, seedNodes)
	if err != nil {
		return fmt.Errorf("seed aggregation: %w", err)
	}
	j.Append(agg)
	return nil
}

func seedPreamble(seed int) string {
	return fmt.Sprintf("import random, numpy as np\nrandom.seed(%d)\nnp.random.seed(%d)\ntry:\n    import torch\n    torch.manual_seed(%d)\nexcept ImportError:\n    pass\n", seed, seed, seed)
}

func buildAggregationNode(ctx context.Context, taskFunc func(ctx context.Context, in worker.Input) (*model.Node, error), oracleClient *oracle.Client, codeModel string, bestNode *model.Node, seedNodes []*model.Node) (*model.Node, error) {
	var pc oracle.PlanAndCode
	prompt := aggregationPrompt(seedNodes)
	if err := oracleClient.QueryStructured(ctx, aggregationSystemPrompt, prompt, codeModel, "plan_and_code", 0.2, &pc); err != nil {
		return nil, err
	}

	clone := *bestNode
	clone.Code = pc.Code
	clone.Plan = pc.Plan
	in := worker.Input{Parent: &clone, SeedEval: true}
	n, err := taskFunc(ctx, in)
	if err != nil {
		return nil, err
	}
	n.Parent = bestNode
	id := bestNode.ID
	n.ParentID = &id
	n.IsSeedAggNode = true
	n.IsBuggy = false
	return n, nil
}

const aggregationSystemPrompt = "Write a plotting script that aggregates the results of several seeded runs of the same experiment into a single summary plot."

func aggregationPrompt(seedNodes []*model.Node) string {
	out := "Seed runs:\n"
	for i, n := range seedNodes {
		out += fmt.Sprintf("seed %d plot code:\n%s\nplot paths: %v\n\n", i, derefStr(n.PlotCode), n.PlotPaths)
	}
	return out
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
