package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/huntflow/internal/engine"
	"github.com/roach88/huntflow/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string         `json:"scenario_name"`
	Trace        []engine.Trace `json:"trace"`
	Error        *ErrorInfo     `json:"error,omitempty"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, tr := range s.Trace {
		entry := map[string]any{
			"seq":     tr.Seq,
			"command": tr.Command,
			"count":   tr.Count,
		}
		if tr.Output != "" {
			entry["output"] = tr.Output
		}
		if len(tr.Inputs) > 0 {
			entry["inputs"] = stringList(tr.Inputs)
		}
		if tr.EntityType != "" {
			entry["type"] = tr.EntityType
		}
		if len(tr.Warnings) > 0 {
			entry["warnings"] = stringList(tr.Warnings)
		}
		traceList[i] = entry
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.Error != nil {
		errMap := map[string]any{"code": s.Error.Code}
		if s.Error.Statement > 0 {
			errMap["statement"] = s.Error.Statement
			errMap["command"] = s.Error.Command
		}
		result["error"] = errMap
	}
	return result
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Snapshot returns the canonical JSON trace of result.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Error:        result.Error,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
