package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/huntflow/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Huntflow failure or failed scenarios
	ExitCommandError = 2 // Command error (bad flags, unreadable files, invalid configuration)
)

// Error codes reported for failures outside the huntflow itself.
const (
	ErrCodeConfig  = "CONFIG_ERROR"
	ErrCodeInput   = "INPUT_ERROR"
	ErrCodeGeneric = "ERROR"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error has been written by an
	// OutputFormatter, so main does not print it again.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// WasReported reports whether err has already been written to the user.
func WasReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
	Color     bool // colorize source snippets in text output
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // engine error code or CONFIG_ERROR, INPUT_ERROR
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// ErrorDetails locates a huntflow failure.
type ErrorDetails struct {
	Statement int      `json:"statement,omitempty"`
	Command   string   `json:"command,omitempty"`
	Line      int      `json:"line,omitempty"`
	Col       int      `json:"col,omitempty"`
	Variables []string `json:"variables,omitempty"`
	Hint      string   `json:"hint,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %+v\n", details)
	}
	return nil
}

// HuntflowError reports a failed huntflow and returns the ExitError the
// command should return. In text format the offending source line of
// source is shown under the message. Errors that are not engine errors are
// command errors.
func (f *OutputFormatter) HuntflowError(err error, source string) error {
	var e *engine.Error
	if !errors.As(err, &e) {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		exitErr := WrapExitError(ExitCommandError, "huntflow could not run", err)
		exitErr.Reported = true
		return exitErr
	}

	message := e.Message
	if e.Hint != "" {
		message += "; " + e.Hint
	}
	details := &ErrorDetails{
		Statement: e.Statement,
		Command:   e.Command,
		Line:      e.Pos.Line,
		Col:       e.Pos.Col,
		Variables: e.Variables,
		Hint:      e.Hint,
	}
	if f.Format == "json" {
		_ = f.Error(string(e.Code), message, details)
	} else {
		header := message
		if e.Statement > 0 {
			header = fmt.Sprintf("statement %d (%s): %s", e.Statement, e.Command, message)
		}
		_ = f.Error(string(e.Code), header, details)
		if snippet := sourceSnippet(source, e.Pos, e.Message, f.Color); snippet != "" {
			fmt.Fprint(f.Writer, snippet)
		}
	}

	exitErr := WrapExitError(ExitFailure, "huntflow failed", err)
	exitErr.Reported = true
	return exitErr
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
