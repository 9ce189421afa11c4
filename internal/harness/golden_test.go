package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/huntflow/internal/engine"
)

func TestSnapshot_Canonical(t *testing.T) {
	result := NewResult()
	result.Trace = []engine.Trace{
		{Seq: 1, Command: "get", Output: "procs", EntityType: "process", Count: 2},
		{Seq: 2, Command: "apply", Inputs: []string{"procs"}, Count: 2, Warnings: []string{"w"}},
	}

	data, err := Snapshot("snap", result)
	require.NoError(t, err)

	assert.Equal(t,
		`{"scenario_name":"snap","trace":[`+
			`{"command":"get","count":2,"output":"procs","seq":1,"type":"process"},`+
			`{"command":"apply","count":2,"inputs":["procs"],"seq":2,"warnings":["w"]}]}`,
		string(data))
}

func TestSnapshot_Error(t *testing.T) {
	result := NewResult()
	result.Error = &ErrorInfo{Code: "SYNTAX_ERROR", Message: "SYNTAX_ERROR: boom (at 1:1)"}

	data, err := Snapshot("snap", result)
	require.NoError(t, err)

	// The message is left out so wording changes do not churn golden files.
	assert.Equal(t, `{"error":{"code":"SYNTAX_ERROR"},"scenario_name":"snap","trace":[]}`, string(data))
}

func TestSnapshot_Stable(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/child_processes.yaml")
	require.NoError(t, err)

	var snapshots []string
	for i := 0; i < 3; i++ {
		result, err := Run(t.Context(), s)
		require.NoError(t, err)
		data, err := Snapshot(s.Name, result)
		require.NoError(t, err)
		snapshots = append(snapshots, string(data))
	}
	assert.Equal(t, snapshots[0], snapshots[1])
	assert.Equal(t, snapshots[1], snapshots[2])
}

func TestRunWithGolden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, s.Name, "scenario name must match its file name")

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}
