package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/huntflow/internal/engine"
	"github.com/roach88/huntflow/internal/testutil"
)

// Scenario defines a huntflow conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the RFC 3339 instant the session clock is stopped at. If empty,
	// testutil.DefaultNow is used.
	Now string `yaml:"now,omitempty"`

	// Datasources maps a datasource name to its rows, keyed by entity type.
	Datasources map[string]map[string][]map[string]any `yaml:"datasources,omitempty"`

	// DefaultDatasource serves GET without FROM before any datasource has
	// been used.
	DefaultDatasource string `yaml:"default_datasource,omitempty"`

	// Huntflow is the program under test.
	Huntflow string `yaml:"huntflow"`

	// ExpectError, if set, requires the huntflow to fail this way.
	ExpectError *ExpectError `yaml:"expect_error,omitempty"`

	// Assertions validate the final variables, trace and displays.
	Assertions []Assertion `yaml:"assertions"`

	// BaseDir resolves relative LOAD, SAVE and file:// paths. LoadScenario
	// sets it to the directory of the scenario file.
	BaseDir string `yaml:"-"`
}

// ExpectError describes the expected failure of a huntflow.
type ExpectError struct {
	// Code is the engine error code, e.g. "SEMANTIC_ERROR".
	Code string `yaml:"code"`

	// Statement is the expected 1-based failing statement; 0 matches any.
	Statement int `yaml:"statement,omitempty"`

	// Contains must be a substring of the error message.
	Contains string `yaml:"contains,omitempty"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Variable is the variable under test (variable_* assertions).
	Variable string `yaml:"variable,omitempty"`

	// Count is the expected row count (variable_count) or number of
	// executions (trace_count).
	Count int `yaml:"count,omitempty"`

	// EntityType is the expected entity type (variable_type).
	EntityType string `yaml:"entity_type,omitempty"`

	// Rows are the expected rows (variable_rows, display_rows). Each
	// expected row is a subset match.
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Command is the command kind (trace_count), e.g. "get".
	Command string `yaml:"command,omitempty"`

	// Commands is the expected command order (trace_order).
	Commands []string `yaml:"commands,omitempty"`

	// Display is the 1-based index of the DISP under test (display_rows).
	Display int `yaml:"display,omitempty"`

	// Other is the variable compared against Variable (variable_equals).
	Other string `yaml:"other,omitempty"`
}

// Assertion type constants.
const (
	AssertVariableCount  = "variable_count"
	AssertVariableType   = "variable_type"
	AssertVariableRows   = "variable_rows"
	AssertVariableAbsent = "variable_absent"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertDisplayRows    = "display_rows"
	AssertVariableEquals = "variable_equals"
)

var knownErrorCodes = map[string]bool{
	string(engine.ErrCodeSyntax):     true,
	string(engine.ErrCodeSemantic):   true,
	string(engine.ErrCodePattern):    true,
	string(engine.ErrCodeDataSource): true,
	string(engine.ErrCodeAnalytics):  true,
	string(engine.ErrCodeIO):         true,
	string(engine.ErrCodeValidation): true,
	string(engine.ErrCodeTimeout):    true,
	string(engine.ErrCodeStore):      true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.BaseDir = filepath.Dir(path)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Clock returns the instant the scenario clock is stopped at.
func (s *Scenario) Clock() (time.Time, error) {
	if s.Now == "" {
		return testutil.DefaultNow, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.Now)
	if err != nil {
		return time.Time{}, fmt.Errorf("now: %q is not an RFC 3339 timestamp", s.Now)
	}
	return t.UTC(), nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Huntflow == "" {
		return fmt.Errorf("huntflow is required")
	}
	if len(s.Assertions) == 0 && s.ExpectError == nil {
		return fmt.Errorf("assertions list or expect_error is required")
	}
	if _, err := s.Clock(); err != nil {
		return err
	}

	for name, types := range s.Datasources {
		if name == "" {
			return fmt.Errorf("datasources: empty datasource name")
		}
		for entityType := range types {
			if entityType == "" {
				return fmt.Errorf("datasources.%s: empty entity type", name)
			}
		}
	}

	if e := s.ExpectError; e != nil {
		if !knownErrorCodes[e.Code] {
			return fmt.Errorf("expect_error: unknown error code %q", e.Code)
		}
		if e.Statement < 0 {
			return fmt.Errorf("expect_error: statement must be non-negative")
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertVariableCount, AssertVariableType, AssertVariableRows, AssertVariableAbsent:
		if a.Variable == "" {
			return fmt.Errorf("assertions[%d]: variable is required for %s", index, a.Type)
		}
		if a.Type == AssertVariableCount && a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for variable_count", index)
		}
		if a.Type == AssertVariableType && a.EntityType == "" {
			return fmt.Errorf("assertions[%d]: entity_type is required for variable_type", index)
		}
	case AssertTraceOrder:
		if len(a.Commands) == 0 {
			return fmt.Errorf("assertions[%d]: commands list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertDisplayRows:
		if a.Display < 1 {
			return fmt.Errorf("assertions[%d]: display must be 1 or greater for display_rows", index)
		}
	case AssertVariableEquals:
		if a.Variable == "" || a.Other == "" {
			return fmt.Errorf("assertions[%d]: variable and other are required for variable_equals", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
