package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchet-labs/ratchet/internal/interpreter"
	"github.com/ratchet-labs/ratchet/internal/model"
	"github.com/ratchet-labs/ratchet/internal/oracle"
)

// scriptedOracleServer answers QueryStructured calls with canned responses
// keyed by schema name, in the order scheduled. It lets tests drive an
// entire worker pipeline without a real LLM.
func scriptedOracleServer(t *testing.T, responses map[string][]string) *httptest.Server {
	t.Helper()
	counts := map[string]int{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req oracle.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		list := responses[req.Schema]
		idx := counts[req.Schema]
		if idx >= len(list) {
			idx = len(list) - 1
		}
		counts[req.Schema]++
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "data: {\"type\":\"done\",\"data\":%s}\n\n", list[idx])
	}))
}

func newShellInterpreter(workDir string, timeout time.Duration, script string) *interpreter.Interpreter {
	path := filepath.Join(workDir, "child.sh")
	_ = os.WriteFile(path, []byte(script), 0o755)
	return interpreter.New(interpreter.Config{
		Command: []string{"/bin/sh", path},
		WorkDir: workDir,
		Timeout: timeout,
	})
}

const alwaysCleanChild = `#!/bin/sh
while true; do
  echo '{"type":"ready"}'
  while IFS= read -r l; do
    if [ "$l" = "###RATCHET-SUBMIT-END###" ]; then break; fi
  done
  echo '{"type":"output","text":"accuracy: 0.91\n"}'
  echo '{"type":"finished"}'
done
`

func TestDraftTaskProducesGoodNode(t *testing.T) {
	srv := scriptedOracleServer(t, map[string][]string{
		"plan_and_code": {
			`{"plan":"draft plan","code":"print(1)"}`,
			`{"plan":"parse plan","code":"print(2)"}`,
		},
		"review":       {`{"summary":"ok","is_bug":false}`},
		"metric_parse": {`{"valid_metrics_received":true,"metric_names":[{"metric_name":"accuracy","lower_is_better":false,"description":"","data":[{"dataset_name":"val","final_value":0.91,"best_value":0.91}]}]}`},
	})
	defer srv.Close()

	tsk := &Task{
		Oracle: oracle.NewClient(srv.URL, nil),
		NewInterpreter: func(workDir string, timeout time.Duration) *interpreter.Interpreter {
			return newShellInterpreter(workDir, timeout, alwaysCleanChild)
		},
		BaseDir:    t.TempDir(),
		ResultsDir: t.TempDir(),
		Config:     DefaultConfig(),
	}
	tsk.Config.ExecTimeout = 5 * time.Second
	tsk.Config.CodeModel = "gpt"
	tsk.Config.FeedbackModel = "gpt"

	n, err := tsk.Run(context.Background(), Input{RunID: "run-1", StageName: "stage_1"})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.False(t, n.IsBuggy)
	require.NotNil(t, n.Metric)
	assert.Equal(t, model.StageDraft, n.StageNameOf())
}

func TestSeedEvalClonesParentCode(t *testing.T) {
	srv := scriptedOracleServer(t, map[string][]string{
		"review":       {`{"summary":"ok","is_bug":false}`},
		"metric_parse": {`{"valid_metrics_received":true,"metric_names":[]}`},
	})
	defer srv.Close()

	parent := model.NewNode(nil)
	parent.Code = "print('parent')"
	parent.ParseMetricsCode = "print('parse')"

	tsk := &Task{
		Oracle: oracle.NewClient(srv.URL, nil),
		NewInterpreter: func(workDir string, timeout time.Duration) *interpreter.Interpreter {
			return newShellInterpreter(workDir, timeout, alwaysCleanChild)
		},
		BaseDir:    t.TempDir(),
		ResultsDir: t.TempDir(),
		Config:     DefaultConfig(),
	}
	tsk.Config.ExecTimeout = 5 * time.Second

	n, err := tsk.Run(context.Background(), Input{Parent: parent, SeedEval: true})
	require.NoError(t, err)
	assert.Equal(t, parent.Code, n.Code)
	assert.True(t, n.IsSeedNode)
}

func TestGPUValidationRetriesThenFails(t *testing.T) {
	srv := scriptedOracleServer(t, map[string][]string{
		"plan_and_code": {`{"plan":"p","code":"print('no gpu call')"}`},
	})
	defer srv.Close()

	idx := 0
	tsk := &Task{
		Oracle: oracle.NewClient(srv.URL, nil),
		NewInterpreter: func(workDir string, timeout time.Duration) *interpreter.Interpreter {
			return newShellInterpreter(workDir, timeout, alwaysCleanChild)
		},
		BaseDir:    t.TempDir(),
		ResultsDir: t.TempDir(),
		Config:     DefaultConfig(),
	}
	tsk.Config.MaxGPUValidationRetries = 2

	_, err := tsk.Run(context.Background(), Input{GPUIndex: &idx})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GPU index")
}

func TestMetricParseWithAllNullValuesMarksNodeBuggy(t *testing.T) {
	srv := scriptedOracleServer(t, map[string][]string{
		"plan_and_code": {
			`{"plan":"draft plan","code":"print(1)"}`,
			`{"plan":"parse plan","code":"print(2)"}`,
		},
		"review": {`{"summary":"ok","is_bug":false}`},
		"metric_parse": {`{"valid_metrics_received":true,"metric_names":[` +
			`{"metric_name":"accuracy","lower_is_better":false,"description":"","data":[{"dataset_name":"val","final_value":null,"best_value":null}]}]}`},
	})
	defer srv.Close()

	tsk := &Task{
		Oracle: oracle.NewClient(srv.URL, nil),
		NewInterpreter: func(workDir string, timeout time.Duration) *interpreter.Interpreter {
			return newShellInterpreter(workDir, timeout, alwaysCleanChild)
		},
		BaseDir:    t.TempDir(),
		ResultsDir: t.TempDir(),
		Config:     DefaultConfig(),
	}
	tsk.Config.ExecTimeout = 5 * time.Second
	tsk.Config.CodeModel = "gpt"
	tsk.Config.FeedbackModel = "gpt"

	n, err := tsk.Run(context.Background(), Input{RunID: "run-1", StageName: "stage_1"})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.IsBuggy, "a sentinel-worst metric must always mark the node buggy")
	require.NotNil(t, n.Metric)
	assert.True(t, n.Metric.IsWorst())
}

func TestValidatesGPUUsage(t *testing.T) {
	good := "torch.cuda.set_device(1)\nmodel.to(torch.device(\"cuda:1\"))"
	assert.True(t, validatesGPUUsage(good, 1))
	assert.False(t, validatesGPUUsage("print('cpu only')", 0))
}
