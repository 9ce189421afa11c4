package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrintsNormalizedStatements(t *testing.T) {
	stdout, _, err := executeCLI(t, "GET process FROM host-1 WHERE pid = 4\nDISP\n", "parse")
	require.NoError(t, err)

	var prog struct {
		Statements []struct {
			Command string         `json:"command"`
			Output  string         `json:"output"`
			Text    string         `json:"text"`
			Pos     map[string]int `json:"pos"`
		} `json:"statements"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &prog))
	require.Len(t, prog.Statements, 2)
	assert.Equal(t, "get", prog.Statements[0].Command)
	assert.Equal(t, "_", prog.Statements[0].Output, "implicit output is the default variable")
	assert.Equal(t, "disp", prog.Statements[1].Command)
	assert.Equal(t, 2, prog.Statements[1].Pos["line"])
}

func TestParseJSONFormat(t *testing.T) {
	stdout, _, err := executeCLI(t, "DISP procs_never_used_here\n", "--format", "json", "parse")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SEMANTIC_ERROR", resp.Error.Code)
}

func TestParseUsesConfiguredDefaultVariable(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "huntflow.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("session:\n  default_variable: last\n"), 0o644))

	stdout, _, err := executeCLI(t, "GET process FROM host-1 WHERE pid = 4\n", "--config", cfgPath, "parse")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"output": "last"`)
}

func TestCheckValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hunt.hf")
	require.NoError(t, os.WriteFile(path, []byte(newProcesses), 0o644))

	stdout, _, err := executeCLI(t, "", "check", path)
	require.NoError(t, err)
	assert.Equal(t, "ok: 2 statements\n", stdout)
}

func TestCheckValidJSON(t *testing.T) {
	stdout, _, err := executeCLI(t, newProcesses, "--format", "json", "check")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"valid":true,"statements":2}}`, stdout)
}

func TestCheckDoesNotContactDatasources(t *testing.T) {
	stdout, _, err := executeCLI(t, "procs = GET process FROM nowhere WHERE pid > 0\n", "check")
	require.NoError(t, err)
	assert.Equal(t, "ok: 1 statement\n", stdout)
}

func TestCheckInvalid(t *testing.T) {
	stdout, _, err := executeCLI(t, "x = SORT procs BY pid\n", "check")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "Error [SEMANTIC_ERROR]: statement 1 (sort)")
}
