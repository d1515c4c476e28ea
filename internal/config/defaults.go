package config

// Defaults returns the baseline Config merged under whatever the user's
// YAML supplies — every user-set field wins, every zero-valued field
// falls back to these.
func Defaults() Config {
	return Config{
		LogDir:       "logs",
		WorkspaceDir: "workspaces",
		ExpName:      "run",
		Exec: ExecConfig{
			TimeoutSeconds: 3600,
			AgentFileName:  "runfile.py",
		},
		Agent: AgentConfig{
			NumWorkers: 4,
			Search: SearchConfig{
				NumDrafts:     5,
				DebugProb:     0.5,
				MaxDebugDepth: 3,
			},
			Stages: StagesConfig{
				Stage1MaxIters: 20,
				Stage2MaxIters: 10,
				Stage3MaxIters: 10,
				Stage4MaxIters: 6,
			},
			MultiSeedEval: MultiSeedEvalConfig{NumSeeds: 0},
			Code:          LLMRoleConfig{Model: "gpt-4o", Temp: 0.5},
			Feedback:      LLMRoleConfig{Model: "gpt-4o-mini", Temp: 0.3},
			VLMFeedback:   LLMRoleConfig{Model: "gpt-4o-mini", Temp: 0.3},
		},
		Experiment: ExperimentConfig{NumSynDatasets: 1},
		Report:     LLMRoleConfig{Model: "gpt-4o", Temp: 0.3},
		LogLevel:   "info",
	}
}
