package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/huntflow/internal/engine"
	"github.com/roach88/huntflow/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string         // Assertion type for categorization
	Expected string         // Human-readable expected outcome
	Actual   string         // Human-readable actual outcome
	Trace    []engine.Trace // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, tr := range e.Trace {
		if tr.Output != "" {
			fmt.Fprintf(&buf, "  [%d] %s = %s %v (%d rows)\n", tr.Seq, tr.Output, tr.Command, tr.Inputs, tr.Count)
		} else {
			fmt.Fprintf(&buf, "  [%d] %s %v\n", tr.Seq, tr.Command, tr.Inputs)
		}
	}
	return buf.String()
}

func lookupVariable(result *Result, a Assertion) (VariableState, error) {
	v, ok := result.Variables[a.Variable]
	if !ok {
		return VariableState{}, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("variable %s to be bound", a.Variable),
			Actual:   fmt.Sprintf("not bound (bound: %s)", strings.Join(boundNames(result), ", ")),
			Trace:    result.Trace,
		}
	}
	return v, nil
}

func boundNames(result *Result) []string {
	names := make([]string, 0, len(result.Variables))
	for name := range result.Variables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// assertVariableCount checks the number of rows a variable holds.
func assertVariableCount(result *Result, a Assertion) error {
	v, err := lookupVariable(result, a)
	if err != nil {
		return err
	}
	if len(v.Rows) != a.Count {
		return &AssertionError{
			Type:     AssertVariableCount,
			Expected: fmt.Sprintf("%s has %d rows", a.Variable, a.Count),
			Actual:   fmt.Sprintf("%d rows", len(v.Rows)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertVariableType checks the entity type of a variable.
func assertVariableType(result *Result, a Assertion) error {
	v, err := lookupVariable(result, a)
	if err != nil {
		return err
	}
	if v.EntityType != a.EntityType {
		return &AssertionError{
			Type:     AssertVariableType,
			Expected: fmt.Sprintf("%s has type %s", a.Variable, a.EntityType),
			Actual:   fmt.Sprintf("type %s", v.EntityType),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertVariableAbsent checks that a variable was never bound.
func assertVariableAbsent(result *Result, a Assertion) error {
	if _, ok := result.Variables[a.Variable]; ok {
		return &AssertionError{
			Type:     AssertVariableAbsent,
			Expected: fmt.Sprintf("variable %s not bound", a.Variable),
			Actual:   "bound",
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertVariableRows checks the rows of a variable in order.
func assertVariableRows(result *Result, a Assertion) error {
	v, err := lookupVariable(result, a)
	if err != nil {
		return err
	}
	return matchRows(AssertVariableRows, a.Variable, v.Rows, a.Rows, result.Trace)
}

// assertDisplayRows checks the rows shown by the a.Display-th DISP.
func assertDisplayRows(result *Result, a Assertion) error {
	if a.Display > len(result.Displays) {
		return &AssertionError{
			Type:     AssertDisplayRows,
			Expected: fmt.Sprintf("at least %d displays", a.Display),
			Actual:   fmt.Sprintf("%d displays", len(result.Displays)),
			Trace:    result.Trace,
		}
	}
	d := result.Displays[a.Display-1]
	return matchRows(AssertDisplayRows, fmt.Sprintf("display %d", a.Display), d.Rows, a.Rows, result.Trace)
}

// assertVariableEquals checks that two variables hold the same rows in the
// same order, compared by canonical digest.
func assertVariableEquals(result *Result, a Assertion) error {
	v, err := lookupVariable(result, a)
	if err != nil {
		return err
	}
	other, err := lookupVariable(result, Assertion{Type: a.Type, Variable: a.Other})
	if err != nil {
		return err
	}
	want, err := ir.RowsDigest(other.Rows)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", a.Type, a.Other, err)
	}
	got, err := ir.RowsDigest(v.Rows)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", a.Type, a.Variable, err)
	}
	if got != want || v.EntityType != other.EntityType {
		return &AssertionError{
			Type:     AssertVariableEquals,
			Expected: fmt.Sprintf("%s equals %s (%s %s)", a.Variable, a.Other, other.EntityType, formatRows(other.Rows)),
			Actual:   fmt.Sprintf("%s %s", v.EntityType, formatRows(v.Rows)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// matchRows requires one actual row per expected row, each carrying the
// expected attributes (subset semantics).
func matchRows(kind, what string, actual []ir.IRObject, expected []map[string]any, trace []engine.Trace) error {
	if len(actual) != len(expected) {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%s has %d rows", what, len(expected)),
			Actual:   fmt.Sprintf("%d rows: %s", len(actual), formatRows(actual)),
			Trace:    trace,
		}
	}
	for i, want := range expected {
		for attr, wantValue := range want {
			expectedValue, err := ir.FromAny(normalizeYAML(wantValue))
			if err != nil {
				return fmt.Errorf("%s: row %d: attribute %s: %w", kind, i, attr, err)
			}
			got, ok := actual[i][attr]
			if !ok {
				got = ir.IRNull{}
			}
			if !ir.Equal(got, expectedValue) {
				return &AssertionError{
					Type:     kind,
					Expected: fmt.Sprintf("%s row %d has %s = %s", what, i, attr, formatValue(expectedValue)),
					Actual:   fmt.Sprintf("%s = %s", attr, formatValue(got)),
					Trace:    trace,
				}
			}
		}
	}
	return nil
}

func formatValue(v ir.IRValue) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func formatRows(rows []ir.IRObject) string {
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = formatValue(row)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// assertTraceOrder checks that commands appear in the specified order.
// Commands don't need to be consecutive (intervening statements are allowed).
func assertTraceOrder(trace []engine.Trace, a Assertion) error {
	next := 0
	for _, tr := range trace {
		if next < len(a.Commands) && strings.EqualFold(tr.Command, a.Commands[next]) {
			next++
		}
	}
	if next < len(a.Commands) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("commands in order: %v", a.Commands),
			Actual:   fmt.Sprintf("%s not found after %v", a.Commands[next], a.Commands[:next]),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks that a command executed exactly a.Count times.
func assertTraceCount(trace []engine.Trace, a Assertion) error {
	count := 0
	for _, tr := range trace {
		if strings.EqualFold(tr.Command, a.Command) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s executed %d times", a.Command, a.Count),
			Actual:   fmt.Sprintf("executed %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertVariableCount:
			err = assertVariableCount(result, assertion)
		case AssertVariableType:
			err = assertVariableType(result, assertion)
		case AssertVariableRows:
			err = assertVariableRows(result, assertion)
		case AssertVariableAbsent:
			err = assertVariableAbsent(result, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertDisplayRows:
			err = assertDisplayRows(result, assertion)
		case AssertVariableEquals:
			err = assertVariableEquals(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
