package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/huntflow/internal/analytics"
	"github.com/roach88/huntflow/internal/connector"
	"github.com/roach88/huntflow/internal/fileio"
	"github.com/roach88/huntflow/internal/pattern"
	"github.com/roach88/huntflow/internal/syntax"
)

// Error is a failed huntflow: the statement that failed, the category of the
// failure and the underlying cause.
//
// Categories:
//   - SYNTAX_ERROR: the huntflow does not parse; nothing was executed
//   - SEMANTIC_ERROR: undefined variable, unknown attribute or relation,
//     incompatible entity types
//   - PATTERN_ERROR: a WHERE clause has an operator/value mismatch or an
//     unknown entity-type qualifier
//   - DATASOURCE_ERROR: a connector could not serve GET or FIND
//   - ANALYTICS_ERROR: an APPLY runner failed
//   - IO_ERROR: LOAD or SAVE could not read or write its file
//   - VALIDATION_ERROR: literals or loaded rows are malformed
//   - TIMEOUT: the statement exceeded its deadline or was cancelled
//   - STORE_ERROR: the session store or another internal component failed
//
// Variables bound by earlier statements are left intact when a statement
// fails.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Statement is the 1-based index of the failing statement, 0 when the
	// whole program was rejected.
	Statement int

	// Command is the kind of the failing command.
	Command string

	// Variables names the variables the statement read or bound.
	Variables []string

	// Pos locates the failure in the huntflow source.
	Pos syntax.Pos

	// Hint suggests a correction, e.g. `did you mean "procs"?`.
	Hint string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes huntflow errors.
type ErrorCode string

const (
	ErrCodeSyntax     ErrorCode = "SYNTAX_ERROR"
	ErrCodeSemantic   ErrorCode = "SEMANTIC_ERROR"
	ErrCodePattern    ErrorCode = "PATTERN_ERROR"
	ErrCodeDataSource ErrorCode = "DATASOURCE_ERROR"
	ErrCodeAnalytics  ErrorCode = "ANALYTICS_ERROR"
	ErrCodeIO         ErrorCode = "IO_ERROR"
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeTimeout    ErrorCode = "TIMEOUT"
	ErrCodeStore      ErrorCode = "STORE_ERROR"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Statement > 0 {
		msg = fmt.Sprintf("%s (statement %d at %s, %s)", msg, e.Statement, e.Pos, e.Command)
	} else if e.Pos.Line > 0 {
		msg = fmt.Sprintf("%s (at %s)", msg, e.Pos)
	}
	if e.Hint != "" {
		msg += "; " + e.Hint
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsSyntaxError reports whether err is a huntflow parse failure.
func IsSyntaxError(err error) bool { return hasCode(err, ErrCodeSyntax) }

// IsSemanticError reports whether err is a semantic failure. Pattern errors
// count as semantic errors.
func IsSemanticError(err error) bool {
	return hasCode(err, ErrCodeSemantic) || hasCode(err, ErrCodePattern)
}

// IsPatternError reports whether err is a WHERE clause failure.
func IsPatternError(err error) bool { return hasCode(err, ErrCodePattern) }

// IsDataSourceError reports whether err is a connector failure.
func IsDataSourceError(err error) bool { return hasCode(err, ErrCodeDataSource) }

// IsAnalyticsError reports whether err is an APPLY failure.
func IsAnalyticsError(err error) bool { return hasCode(err, ErrCodeAnalytics) }

// IsIOError reports whether err is a LOAD/SAVE failure.
func IsIOError(err error) bool { return hasCode(err, ErrCodeIO) }

// IsValidationError reports whether err is a malformed literal or row.
func IsValidationError(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsTimeoutError reports whether err is a statement deadline overrun.
func IsTimeoutError(err error) bool { return hasCode(err, ErrCodeTimeout) }

// IsStoreError reports whether err is a store or internal failure.
func IsStoreError(err error) bool { return hasCode(err, ErrCodeStore) }

func semanticError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeSemantic, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// classify turns a collaborator failure into an *Error. Errors that already
// are *Error pass through; anything unrecognized is a STORE_ERROR.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var (
		synErr *syntax.SyntaxError
		semErr *syntax.SemanticError
		patErr *pattern.PatternError
		dsErr  *connector.DataSourceError
		anErr  *analytics.AnalyticsError
		ioErr  *fileio.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: ErrCodeTimeout, Message: "statement timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Code: ErrCodeTimeout, Message: "statement cancelled", Err: err}
	case errors.As(err, &synErr):
		return &Error{Code: ErrCodeSyntax, Message: synErr.Message, Pos: synErr.Pos, Err: err}
	case errors.As(err, &semErr):
		e := &Error{Code: ErrCodeSemantic, Message: semErr.Message, Pos: semErr.Pos, Hint: semErr.Hint, Err: err}
		if semErr.Variable != "" {
			e.Variables = []string{semErr.Variable}
		}
		return e
	case errors.As(err, &patErr):
		return &Error{Code: ErrCodePattern, Message: err.Error(), Pos: patErr.Pos, Err: err}
	case errors.As(err, &dsErr):
		return &Error{
			Code:    ErrCodeDataSource,
			Message: fmt.Sprintf("datasource %q: fetch %s: %v", dsErr.Datasource, dsErr.EntityType, dsErr.Err),
			Hint:    dsErr.Hint,
			Err:     err,
		}
	case errors.As(err, &anErr):
		return &Error{
			Code:    ErrCodeAnalytics,
			Message: fmt.Sprintf("analytics %q: %v", anErr.Locator, anErr.Err),
			Hint:    anErr.Hint,
			Err:     err,
		}
	case errors.As(err, &ioErr):
		return &Error{Code: ErrCodeIO, Message: ioErr.Error(), Err: err}
	}
	return &Error{Code: ErrCodeStore, Message: err.Error(), Err: err}
}
