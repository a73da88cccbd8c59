package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsInvalidWithoutModel(t *testing.T) {
	cfg := DefaultConfig()
	err := Validate(&cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "primary_model", verr.Section)
}

func TestValidateRequiresSandboxWorkerPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sandbox.WorkerPath = ""
	cfg.Primary = ModelTargetConfig{Model: "gpt-test", BaseURL: "http://localhost:9000"}
	err := Validate(&cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sandbox", verr.Section)
}

func TestValidateRejectsZeroBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Primary = ModelTargetConfig{Model: "gpt-test", BaseURL: "http://localhost:9000"}
	cfg.Budget.MaxIterations = 0
	err := Validate(&cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "budget", verr.Section)
}

func TestInitializeLoadsAndMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rlm.yaml")
	yamlBody := `
runtime:
  max_depth: 3
sandbox:
  worker_path: /usr/local/bin/rlm-sandbox-worker
budget:
  max_iterations: 10
  max_llm_calls: 25
primary_model:
  model: gpt-test
  base_url: http://localhost:9000
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Runtime.MaxDepth)
	assert.Equal(t, "/usr/local/bin/rlm-sandbox-worker", cfg.Sandbox.WorkerPath)
	assert.Equal(t, 10, cfg.Budget.MaxIterations)
	assert.Equal(t, 25, cfg.Budget.MaxLLMCalls)
	assert.Equal(t, "gpt-test", cfg.Primary.Model)
	// unset fields fall back to DefaultConfig()'s values
	assert.Equal(t, DefaultRetryConfig(), cfg.Retry)
	assert.Equal(t, 8000, cfg.Runtime.MaxExecutionOutputChars)
}

func TestInitializeMissingFileReturnsLoadError(t *testing.T) {
	_, err := Initialize(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, lerr.Err, ErrConfigNotFound)
}

func TestInitializeInvalidYAMLReturnsLoadError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime: [this is not a mapping"), 0o644))

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, lerr.Err, ErrInvalidYAML)
}

func TestExpandEnvExpandsVariables(t *testing.T) {
	t.Setenv("RLM_TEST_MODEL", "expanded-model")
	out := ExpandEnv([]byte("model: ${RLM_TEST_MODEL}"))
	assert.Equal(t, "model: expanded-model", string(out))
}
