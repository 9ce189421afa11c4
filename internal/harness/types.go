package harness

import (
	"github.com/roach88/huntflow/internal/engine"
	"github.com/roach88/huntflow/internal/ir"
)

// VariableState is a variable as it stood when the huntflow finished.
type VariableState struct {
	EntityType string        `json:"type"`
	Rows       []ir.IRObject `json:"rows"`
}

// ErrorInfo describes the failure of a huntflow.
type ErrorInfo struct {
	Code      string `json:"code"`
	Statement int    `json:"statement,omitempty"`
	Command   string `json:"command,omitempty"`
	Message   string `json:"message"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace holds one entry per completed statement, in order.
	Trace []engine.Trace `json:"trace"`

	// Displays holds the output of every DISP, in order.
	Displays []engine.Display `json:"displays,omitempty"`

	// Variables holds the final rows of every bound variable.
	Variables map[string]VariableState `json:"variables,omitempty"`

	// Error is the huntflow failure, if any.
	Error *ErrorInfo `json:"error,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []engine.Trace{},
		Variables: make(map[string]VariableState),
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
