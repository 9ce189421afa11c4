package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/huntflow/internal/analytics"
	"github.com/roach88/huntflow/internal/connector"
	"github.com/roach88/huntflow/internal/fileio"
	"github.com/roach88/huntflow/internal/pattern"
	"github.com/roach88/huntflow/internal/syntax"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "statement",
			err: &Error{
				Code:      ErrCodeSemantic,
				Message:   `variable "procs" (process) has no attribute "pi"`,
				Statement: 2,
				Command:   "sort",
				Pos:       syntax.Pos{Line: 3, Col: 1},
				Hint:      `did you mean "pid"?`,
			},
			want: `SEMANTIC_ERROR: variable "procs" (process) has no attribute "pi" (statement 2 at 3:1, sort); did you mean "pid"?`,
		},
		{
			name: "program",
			err:  &Error{Code: ErrCodeSyntax, Message: "unexpected end of input", Pos: syntax.Pos{Line: 1, Col: 9}},
			want: "SYNTAX_ERROR: unexpected end of input (at 1:9)",
		},
		{
			name: "bare",
			err:  &Error{Code: ErrCodeTimeout, Message: "statement timed out"},
			want: "TIMEOUT: statement timed out",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestClassify(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		code ErrorCode
		is   func(error) bool
	}{
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), ErrCodeTimeout, IsTimeoutError},
		{"cancelled", context.Canceled, ErrCodeTimeout, IsTimeoutError},
		{"syntax", &syntax.SyntaxError{Message: "bad"}, ErrCodeSyntax, IsSyntaxError},
		{"semantic", &syntax.SemanticError{Message: "undefined", Variable: "x"}, ErrCodeSemantic, IsSemanticError},
		{"pattern", fmt.Errorf("resolve x: %w", &pattern.PatternError{Message: "bad op"}), ErrCodePattern, IsPatternError},
		{"datasource", &connector.DataSourceError{Datasource: "ds1", EntityType: "process", Err: cause}, ErrCodeDataSource, IsDataSourceError},
		{"analytics", &analytics.AnalyticsError{Locator: "builtin://x", Err: cause}, ErrCodeAnalytics, IsAnalyticsError},
		{"io", &fileio.Error{Op: "load", Path: "x.json", Err: cause}, ErrCodeIO, IsIOError},
		{"other", cause, ErrCodeStore, IsStoreError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := classify(tt.err)
			assert.Equal(t, tt.code, e.Code)
			assert.True(t, tt.is(e))
			assert.ErrorIs(t, e, tt.err)
		})
	}
}

func TestClassifyKeepsHintsOutOfMessage(t *testing.T) {
	e := classify(&connector.DataSourceError{
		Datasource: "host1",
		EntityType: "process",
		Hint:       `did you mean "host-1"?`,
		Err:        connector.ErrUnknownDatasource,
	})

	assert.Equal(t, `did you mean "host-1"?`, e.Hint)
	assert.NotContains(t, e.Message, "did you mean")
	assert.Equal(t, 1, strings.Count(e.Error(), "did you mean"))
}

func TestStoreFailureKeepsStatementContext(t *testing.T) {
	f := newFixture(t)
	f.run(t, `a = GET process FROM host-1 WHERE pid > 0`)
	require.NoError(t, f.s.Store().Close())

	_, err := f.s.Execute(context.Background(), "b = a WHERE pid = 4")

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrCodeStore, e.Code)
	assert.True(t, IsStoreError(err))
	assert.False(t, IsSemanticError(err))
	assert.Equal(t, 1, e.Statement)
	assert.Equal(t, "assign", e.Command)
	assert.Equal(t, []string{"a", "b"}, e.Variables)
	assert.Equal(t, 1, e.Pos.Line)
}

func TestClassifyPassesThrough(t *testing.T) {
	orig := validationError("bad row")
	assert.Same(t, orig, classify(fmt.Errorf("wrapped: %w", orig)))
}

func TestPatternErrorsAreSemantic(t *testing.T) {
	e := &Error{Code: ErrCodePattern}
	assert.True(t, IsSemanticError(e))
	assert.True(t, IsPatternError(e))
	assert.False(t, IsPatternError(&Error{Code: ErrCodeSemantic}))
}

func TestErrorPredicatesOnForeignErrors(t *testing.T) {
	err := errors.New("plain")
	for _, is := range []func(error) bool{
		IsSyntaxError, IsSemanticError, IsPatternError, IsDataSourceError,
		IsAnalyticsError, IsIOError, IsValidationError, IsTimeoutError, IsStoreError,
	} {
		assert.False(t, is(err))
	}
}

func TestSemanticClassifyCarriesVariable(t *testing.T) {
	e := classify(&syntax.SemanticError{Message: "undefined", Variable: "procs", Hint: `did you mean "proc"?`})
	require.Equal(t, []string{"procs"}, e.Variables)
	assert.Equal(t, `did you mean "proc"?`, e.Hint)
}
