package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", stdout)
}

func TestRunTextOutput(t *testing.T) {
	stdout, _, err := executeCLI(t, "run", "Write", "a", "sample.")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[rag_worker] Mock response to:")
	assert.Contains(t, stdout, "=== Final Response ===")
}

func TestRunQuietOutput(t *testing.T) {
	stdout, _, err := executeCLI(t, "run", "-q", "Write a sample.")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "=== Final Response ===")
	assert.Contains(t, stdout, "Mock response to:")
}

func TestRunJSONOutput(t *testing.T) {
	stdout, _, err := executeCLI(t, "run", "--output", "json", "Write a sample.")
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(stdout)))

	var out struct {
		RunID  string           `json:"run_id"`
		Answer string           `json:"answer"`
		Sample string           `json:"sample"`
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.NotEmpty(t, out.RunID)
	assert.Contains(t, out.Answer, "Mock response to:")
	assert.Contains(t, out.Answer, "This code sample is great! No notes.")
	require.NotEmpty(t, out.Sample)
	assert.Contains(t, out.Answer, out.Sample)
	assert.NotEmpty(t, out.Events)
}

func TestRunYAMLOutputRouter(t *testing.T) {
	stdout, _, err := executeCLI(t, "run", "--topology", "router", "-o", "yaml", "Write a sample.")
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &out))
	assert.Contains(t, out, "answer")
	assert.Contains(t, out, "events")
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing query", args: []string{"run"}, want: "requires at least 1 arg"},
		{name: "bad output", args: []string{"run", "-o", "xml", "q"}, want: "unknown output format"},
		{name: "bad topology", args: []string{"run", "--topology", "mesh", "q"}, want: "topology"},
		{name: "blank query", args: []string{"run", " "}, want: "query must not be empty"},
		{name: "missing config", args: []string{"run", "-c", "does-not-exist.yaml", "q"}, want: "failed to read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCLI(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codepipe.toml")

	stdout, _, err := executeCLI(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "CodeGenerator")

	stdout, _, err = executeCLI(t, "config", "show", "-c", path, "--format", "json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, "mock:generation", "environment overrides the file")
}

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	t.Setenv("CODEPIPE_MODELS_GROUNDING", "mock:grounding")
	t.Setenv("CODEPIPE_MODELS_GENERATION", "mock:generation")
	t.Setenv("CODEPIPE_MODELS_EVALUATION", "mock:evaluation")
	t.Setenv("CODEPIPE_MODELS_ROUTER", "mock:router")
	t.Setenv("CODEPIPE_LOGGING_BACKEND", "none")
	t.Setenv("CODEPIPE_METRICS_ENABLED", "true")

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}
