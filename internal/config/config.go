// Package config loads the run's YAML configuration file: input/output
// paths, the search policy, per-stage iteration caps, the three LLM
// roles, and the telemetry sinks — the recognized option table from the
// CLI's single configuration surface.
package config

// Config is the full configuration for one run.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	DescFile     string `yaml:"desc_file"`
	LogDir       string `yaml:"log_dir"`
	WorkspaceDir string `yaml:"workspace_dir"`
	ExpName      string `yaml:"exp_name"`

	Exec       ExecConfig       `yaml:"exec"`
	Agent      AgentConfig      `yaml:"agent"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Report     LLMRoleConfig    `yaml:"report"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	LogLevel string `yaml:"log_level"`
}

// ExecConfig controls the Interpreter's child-process execution.
type ExecConfig struct {
	TimeoutSeconds float64 `yaml:"timeout"`
	AgentFileName  string  `yaml:"agent_file_name"`
}

// AgentConfig controls the Agent Manager and Parallel Agent.
type AgentConfig struct {
	NumWorkers      int                 `yaml:"num_workers"`
	Search          SearchConfig        `yaml:"search"`
	Stages          StagesConfig        `yaml:"stages"`
	MultiSeedEval   MultiSeedEvalConfig `yaml:"multi_seed_eval"`
	Code            LLMRoleConfig       `yaml:"code"`
	Feedback        LLMRoleConfig       `yaml:"feedback"`
	VLMFeedback     LLMRoleConfig       `yaml:"vlm_feedback"`
	KFoldValidation int                 `yaml:"k_fold_validation"`
}

// SearchConfig is the node selection policy.
type SearchConfig struct {
	NumDrafts     int     `yaml:"num_drafts"`
	DebugProb     float64 `yaml:"debug_prob"`
	MaxDebugDepth int     `yaml:"max_debug_depth"`
}

// StagesConfig caps iterations per main stage.
type StagesConfig struct {
	Stage1MaxIters int `yaml:"stage1_max_iters"`
	Stage2MaxIters int `yaml:"stage2_max_iters"`
	Stage3MaxIters int `yaml:"stage3_max_iters"`
	Stage4MaxIters int `yaml:"stage4_max_iters"`
}

// MultiSeedEvalConfig controls the seeds-per-evaluation count.
type MultiSeedEvalConfig struct {
	NumSeeds int `yaml:"num_seeds"`
}

// LLMRoleConfig names a model and temperature for one oracle role (code,
// feedback, vlm_feedback, or report generation).
type LLMRoleConfig struct {
	Model string  `yaml:"model"`
	Temp  float64 `yaml:"temp"`
}

// ExperimentConfig carries hints passed straight into code-generation
// prompts rather than interpreted by Go code.
type ExperimentConfig struct {
	NumSynDatasets int `yaml:"num_syn_datasets"`
}

// TelemetryConfig configures the telemetry pipeline's sinks.
type TelemetryConfig struct {
	DatabaseURL  string `yaml:"database_url"`
	WebhookURL   string `yaml:"webhook_url"`
	WebhookToken string `yaml:"webhook_token"`
	RunID        string `yaml:"run_id"`
}
