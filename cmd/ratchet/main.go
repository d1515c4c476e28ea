// ratchet runs the tree-search experiment orchestrator: a control-plane
// HTTP server in front of the Agent Manager, the four-stage best-first
// search over LLM-generated, sandboxed experiment code.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ratchet-labs/ratchet/internal/api"
	"github.com/ratchet-labs/ratchet/internal/config"
	"github.com/ratchet-labs/ratchet/internal/gpualloc"
	"github.com/ratchet-labs/ratchet/internal/interpreter"
	"github.com/ratchet-labs/ratchet/internal/manager"
	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/oracle"
	"github.com/ratchet-labs/ratchet/internal/storage"
	"github.com/ratchet-labs/ratchet/internal/telemetry"
	"github.com/ratchet-labs/ratchet/internal/worker"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("RATCHET_CONFIG_DIR", "./deploy/config"), "directory containing .env")
	addr := flag.String("addr", getEnv("RATCHET_HTTP_ADDR", ":8090"), "control-plane HTTP listen address")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	slog.SetLogLoggerLevel(parseLevel(getEnv("RATCHET_LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *storage.DB
	if dsn := os.Getenv("RATCHET_DB_DSN_OVERRIDE"); dsn == "" {
		dbCfg, err := storage.LoadConfigFromEnv()
		if err != nil {
			log.Fatalf("failed to load database config: %v", err)
		}
		db, err = storage.Open(ctx, dbCfg)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()
		slog.Info("connected to postgres, migrations applied")
	}

	launcher := &runLauncher{
		oracleBaseURL: getEnv("RATCHET_ORACLE_URL", "http://localhost:9009"),
		pythonExe:     getEnv("RATCHET_PYTHON_EXE", "python3"),
		db:            db,
		gpuCount:      gpualloc.ProbeCount(ctx),
	}

	server := api.NewServer(launcher)
	launcher.hub = server.Hub()

	slog.Info("ratchet control plane listening", "addr", *addr)
	if err := server.Run(ctx, *addr); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runLauncher implements api.Launcher, composing one Manager (and its
// Oracle client, GPU allocator, telemetry pipeline, and checkpoint store)
// per run.
type runLauncher struct {
	oracleBaseURL string
	pythonExe     string
	db            *storage.DB
	gpuCount      int
	hub           interface {
		Broadcast(runID string, payload interface{})
	}
}

func (l *runLauncher) Launch(ctx context.Context, runID string, cfg config.Config, resumeFrom string, onDone func(err error)) {
	go func() {
		err := l.run(ctx, runID, cfg, resumeFrom)
		onDone(err)
	}()
}

func (l *runLauncher) run(ctx context.Context, runID string, cfg config.Config, resumeFrom string) error {
	runnerPath, err := materializeRunner(cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("materialize runner: %w", err)
	}

	oracleClient := oracle.NewClient(l.oracleBaseURL, &http.Client{Timeout: oracle.DefaultTimeout})
	gpus := gpualloc.New(l.gpuCount)

	queue := telemetry.NewQueue()
	dashboard := telemetry.NewDashboard()
	webhook := telemetry.NewWebhookClient(cfg.Telemetry.WebhookURL, cfg.Telemetry.WebhookToken)
	notifier := telemetry.NewSlackNotifier(os.Getenv("RATCHET_SLACK_TOKEN"), os.Getenv("RATCHET_SLACK_CHANNEL"))

	var journalStore *storage.JournalStore
	var checkpoint manager.CheckpointStore
	var writer *telemetry.Writer
	if l.db != nil {
		journalStore = storage.NewJournalStore(l.db)
		checkpoint = storage.NewEmittingCheckpointStore(journalStore, queue, dashboard, l.hub)
		dbSink := storage.NewTelemetryStore(l.db)
		writer = telemetry.NewWriter(queue, dbSink, webhook, notifier, runID)
		go writer.Run(ctx)
	}

	taskFunc := func(ctx context.Context, in worker.Input) (*model.Node, error) {
		task := &worker.Task{
			Oracle: oracleClient,
			NewInterpreter: func(workDir string, timeout time.Duration) *interpreter.Interpreter {
				return interpreter.New(interpreter.Config{
					Command:        interpreter.DefaultCommand(l.pythonExe, runnerPath),
					WorkDir:        workDir,
					Timeout:        timeout,
					StartupTimeout: 30 * time.Second,
					AgentFileName:  cfg.Exec.AgentFileName,
				})
			},
			BaseDir:    filepath.Join(cfg.WorkspaceDir, runID),
			ResultsDir: filepath.Join(cfg.LogDir, runID, "experiment_results"),
			Config: worker.Config{
				CodeModel: cfg.Agent.Code.Model, CodeTemp: cfg.Agent.Code.Temp,
				FeedbackModel: cfg.Agent.Feedback.Model, FeedbackTemp: cfg.Agent.Feedback.Temp,
				VLMModel: cfg.Agent.VLMFeedback.Model, VLMTemp: cfg.Agent.VLMFeedback.Temp,
				ExecTimeout:             time.Duration(cfg.Exec.TimeoutSeconds * float64(time.Second)),
				MaxGPUValidationRetries: worker.DefaultConfig().MaxGPUValidationRetries,
				MaxPlotRetries:          worker.DefaultConfig().MaxPlotRetries,
				MaxSelectedPlots:        worker.DefaultConfig().MaxSelectedPlots,
			},
		}
		return task.Run(ctx, in)
	}

	maxIters := map[int]int{
		1: cfg.Agent.Stages.Stage1MaxIters,
		2: cfg.Agent.Stages.Stage2MaxIters,
		3: cfg.Agent.Stages.Stage3MaxIters,
		4: cfg.Agent.Stages.Stage4MaxIters,
	}

	runCfg := manager.RunConfig{
		RunID:           runID,
		NumWorkers:      cfg.Agent.NumWorkers,
		DispatchTimeout: time.Duration(cfg.Exec.TimeoutSeconds*2) * time.Second,
		DebugProb:       cfg.Agent.Search.DebugProb,
		MaxDebugDepth:   cfg.Agent.Search.MaxDebugDepth,
		MaxIterationsFor: func(stage manager.StageClass) int {
			return maxIters[stage.MainStageNumber]
		},
		NumSeeds:        cfg.Agent.MultiSeedEval.NumSeeds,
		CodeModel:       cfg.Agent.Code.Model,
		FeedbackModel:   cfg.Agent.Feedback.Model,
		FeedbackTemp:    cfg.Agent.Feedback.Temp,
		ExecTimeoutSecs: cfg.Exec.TimeoutSeconds,
	}

	mgr := manager.New(runCfg, oracleClient, gpus, taskFunc, checkpoint)

	var runErr error
	if resumeFrom != "" {
		if journalStore == nil {
			return fmt.Errorf("resume requested for run %s but no database is configured", resumeFrom)
		}
		journal, stageName, err := journalStore.LatestCheckpoint(ctx, resumeFrom)
		if err != nil {
			return fmt.Errorf("load checkpoint for resume: %w", err)
		}
		if journal == nil {
			return fmt.Errorf("no checkpoint found for run %s, cannot resume", resumeFrom)
		}
		slog.Info("resuming run from checkpoint", "run_id", resumeFrom, "stage", stageName, "nodes", len(journal.Nodes()))
		runErr = mgr.ResumeRun(ctx, stageName, journal)
	} else {
		runErr = mgr.Run(ctx)
	}

	if writer != nil {
		writer.Shutdown(context.Background(), runErr == nil, shutdownMessage(runErr))
	}
	return runErr
}

func shutdownMessage(err error) string {
	if err == nil {
		return "run completed"
	}
	return err.Error()
}

func materializeRunner(workspaceDir string) (string, error) {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(workspaceDir, "runner.py")
	if err := os.WriteFile(path, interpreter.RunnerScript(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
