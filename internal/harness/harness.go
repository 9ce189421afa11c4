package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/huntflow/internal/connector"
	"github.com/roach88/huntflow/internal/engine"
	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/syntax"
	"github.com/roach88/huntflow/internal/testutil"
)

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh session over a private in-memory store.
// A huntflow failure is part of the result, not an error; Run returns an
// error only when the scenario itself cannot be set up.
//
// Execution flow:
// 1. Load the datasource fixtures into a mem:// connector
// 2. Execute the huntflow with a fixed clock and sequential ids
// 3. Capture the trace, displays and final variables
// 4. Check expect_error and evaluate the assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	now, err := scenario.Clock()
	if err != nil {
		return nil, err
	}

	// Suppress logs in tests
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	connectors, err := fixtureConnectors(scenario, logger)
	if err != nil {
		return nil, err
	}

	out := &engine.Recorder{}
	session, err := engine.NewSession(
		engine.WithConnectors(connectors),
		engine.WithOutput(out),
		engine.WithLogger(logger),
		engine.WithClock(testutil.NewFixedClock(now)),
		engine.WithIDGenerator(engine.NewSequenceGenerator("id-")),
		engine.WithBaseDir(scenario.BaseDir),
		engine.WithDefaultDatasource(scenario.DefaultDatasource),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close(context.WithoutCancel(ctx))

	result := NewResult()
	traces, execErr := session.Execute(ctx, scenario.Huntflow)
	result.Trace = append(result.Trace, traces...)
	result.Displays = out.Displays

	if execErr != nil {
		var e *engine.Error
		if !errors.As(execErr, &e) {
			return nil, fmt.Errorf("failed to execute huntflow: %w", execErr)
		}
		result.Error = &ErrorInfo{
			Code:      string(e.Code),
			Statement: e.Statement,
			Command:   e.Command,
			Message:   e.Error(),
		}
	}

	if err := captureVariables(ctx, session, result); err != nil {
		return nil, err
	}

	if msg := checkExpectedError(scenario.ExpectError, result.Error); msg != "" {
		result.AddError(msg)
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// fixtureConnectors serves every scenario datasource from one Memory
// connector. Names are registered as aliases of their mem:// locator.
func fixtureConnectors(scenario *Scenario, logger *slog.Logger) (*connector.Registry, error) {
	mem := connector.NewMemory()
	names := make([]string, 0, len(scenario.Datasources))
	for name := range scenario.Datasources {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		types := scenario.Datasources[name]
		entityTypes := make([]string, 0, len(types))
		for t := range types {
			entityTypes = append(entityTypes, t)
		}
		slices.Sort(entityTypes)
		for _, entityType := range entityTypes {
			rows, err := convertRows(types[entityType])
			if err != nil {
				return nil, fmt.Errorf("datasources.%s.%s: %w", name, entityType, err)
			}
			mem.Add(name, entityType, rows...)
		}
	}

	reg := connector.NewRegistry(logger)
	reg.Register("mem", mem)
	reg.Register("file", connector.File{BaseDir: scenario.BaseDir})
	for _, name := range names {
		if !strings.Contains(name, "://") {
			reg.Alias(name, "mem://"+name)
		}
	}
	return reg, nil
}

func captureVariables(ctx context.Context, session *engine.Session, result *Result) error {
	for _, name := range session.Variables() {
		v, ok := session.Variable(name)
		if !ok {
			continue
		}
		rows, err := session.Store().Rows(ctx, v.RowSet)
		if err != nil {
			return fmt.Errorf("failed to read variable %s: %w", name, err)
		}
		result.Variables[name] = VariableState{EntityType: v.EntityType, Rows: rows}
	}
	return nil
}

// checkExpectedError returns a failure message when the huntflow outcome
// does not match expect, or "" when it does.
func checkExpectedError(expect *ExpectError, got *ErrorInfo) string {
	switch {
	case expect == nil && got == nil:
		return ""
	case expect == nil:
		return fmt.Sprintf("unexpected huntflow error: %s", got.Message)
	case got == nil:
		return fmt.Sprintf("expected %s error, huntflow succeeded", expect.Code)
	}

	if got.Code != expect.Code {
		return fmt.Sprintf("expected %s error, got %s", expect.Code, got.Message)
	}
	if expect.Statement > 0 && got.Statement != expect.Statement {
		return fmt.Sprintf("expected error at statement %d, got statement %d: %s",
			expect.Statement, got.Statement, got.Message)
	}
	if expect.Contains != "" && !strings.Contains(got.Message, expect.Contains) {
		return fmt.Sprintf("expected error containing %q, got %s", expect.Contains, got.Message)
	}
	return ""
}

// convertRows converts YAML fixture rows to IR objects. Unquoted YAML
// timestamps are written in the entity timestamp layout.
func convertRows(rows []map[string]any) ([]ir.IRObject, error) {
	out := make([]ir.IRObject, len(rows))
	for i, row := range rows {
		v, err := ir.FromAny(normalizeYAML(row))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		obj, ok := v.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("row %d: not an object", i)
		}
		out[i] = obj
	}
	return out, nil
}

func normalizeYAML(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(syntax.TimestampLayout)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeYAML(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeYAML(elem)
		}
		return out
	default:
		return v
	}
}
