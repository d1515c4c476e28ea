package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFillsDefaultsForUnsetFields(t *testing.T) {
	path := writeConfig(t, `
data_dir: /data
desc_file: /data/desc.json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, 4, cfg.Agent.NumWorkers) // from Defaults()
	assert.Equal(t, 20, cfg.Agent.Stages.Stage1MaxIters)
}

func TestLoadPreservesExplicitOverrides(t *testing.T) {
	path := writeConfig(t, `
data_dir: /data
desc_file: /data/desc.json
agent:
  num_workers: 8
  stages:
    stage1_max_iters: 99
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Agent.NumWorkers)
	assert.Equal(t, 99, cfg.Agent.Stages.Stage1MaxIters)
	// Untouched sibling stage fields still take their default.
	assert.Equal(t, 10, cfg.Agent.Stages.Stage2MaxIters)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("RATCHET_TEST_TOKEN", "tok-abc")
	path := writeConfig(t, `
data_dir: /data
desc_file: /data/desc.json
telemetry:
  webhook_token: ${RATCHET_TEST_TOKEN}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", cfg.Telemetry.WebhookToken)
}

func TestLoadMissingFileReturnsConfigNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
	var le *LoadError
	require.ErrorAs(t, err, &le)
}

func TestLoadInvalidYAMLReturnsWrappedError(t *testing.T) {
	path := writeConfig(t, "data_dir: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsConfigFailingValidation(t *testing.T) {
	path := writeConfig(t, `log_level: debug`)
	_, err := Load(path)
	require.Error(t, err)
}
