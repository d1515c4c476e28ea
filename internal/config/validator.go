package config

import "fmt"

// Validate checks required fields and value ranges. Returns the first
// violation found, wrapped as a ValidationError against ErrValidationFailed.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return wrap(NewValidationError("data_dir", ErrMissingRequiredField))
	}
	if c.DescFile == "" {
		return wrap(NewValidationError("desc_file", ErrMissingRequiredField))
	}
	if c.Agent.NumWorkers < 1 {
		return wrap(NewValidationError("agent.num_workers", fmt.Errorf("%w: must be >= 1", ErrInvalidValue)))
	}
	if c.Agent.Search.NumDrafts < 1 {
		return wrap(NewValidationError("agent.search.num_drafts", fmt.Errorf("%w: must be >= 1", ErrInvalidValue)))
	}
	if c.Agent.Search.DebugProb < 0 || c.Agent.Search.DebugProb > 1 {
		return wrap(NewValidationError("agent.search.debug_prob", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue)))
	}
	if c.Agent.Search.MaxDebugDepth < 0 {
		return wrap(NewValidationError("agent.search.max_debug_depth", fmt.Errorf("%w: must be >= 0", ErrInvalidValue)))
	}
	for name, n := range map[string]int{
		"agent.stages.stage1_max_iters": c.Agent.Stages.Stage1MaxIters,
		"agent.stages.stage2_max_iters": c.Agent.Stages.Stage2MaxIters,
		"agent.stages.stage3_max_iters": c.Agent.Stages.Stage3MaxIters,
		"agent.stages.stage4_max_iters": c.Agent.Stages.Stage4MaxIters,
	} {
		if n < 1 {
			return wrap(NewValidationError(name, fmt.Errorf("%w: must be >= 1", ErrInvalidValue)))
		}
	}
	if c.Agent.MultiSeedEval.NumSeeds < 0 {
		return wrap(NewValidationError("agent.multi_seed_eval.num_seeds", fmt.Errorf("%w: must be >= 0", ErrInvalidValue)))
	}
	if c.Exec.TimeoutSeconds <= 0 {
		return wrap(NewValidationError("exec.timeout", fmt.Errorf("%w: must be > 0", ErrInvalidValue)))
	}
	if c.Exec.AgentFileName == "" {
		return wrap(NewValidationError("exec.agent_file_name", ErrMissingRequiredField))
	}
	return nil
}

func wrap(ve *ValidationError) error {
	return fmt.Errorf("%w: %v", ErrValidationFailed, ve)
}
