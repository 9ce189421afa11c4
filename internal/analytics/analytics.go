// Package analytics runs APPLY: external computations that consume the rows
// of one or more variables and hand back rows to rebind.
//
// Locators select a runner by scheme: "builtin://tag" (or just "tag") runs a
// builtin analytic in process; "exec:///opt/hunt/score" runs an external
// program speaking JSON over stdin and stdout.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/suggest"
)

// Input is one variable handed to an analytic.
type Input struct {
	Name       string        `json:"name"`
	EntityType string        `json:"type"`
	Rows       []ir.IRObject `json:"rows"`
}

// Output is one variable an analytic hands back. An output named after an
// input replaces it; any other name binds a new variable.
type Output struct {
	Name       string        `json:"name"`
	EntityType string        `json:"type"`
	Rows       []ir.IRObject `json:"rows"`
}

// Result is what an analytic returns. Warnings are non-fatal.
type Result struct {
	Outputs  []Output `json:"outputs"`
	Warnings []string `json:"warnings,omitempty"`
}

// Request is one APPLY invocation.
type Request struct {
	Locator string
	Inputs  []Input
	Args    ir.IRObject
}

// Runner executes analytics of one scheme.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// ErrUnknownAnalytics is wrapped when no runner serves a locator.
var ErrUnknownAnalytics = errors.New("unknown analytics")

// AnalyticsError is a failed APPLY.
type AnalyticsError struct {
	Locator string
	Hint    string
	Err     error
}

func (e *AnalyticsError) Error() string {
	msg := fmt.Sprintf("analytics %q: %v", e.Locator, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *AnalyticsError) Unwrap() error {
	return e.Err
}

// Registry dispatches locators to runners and bounds each run by a timeout.
type Registry struct {
	runners map[string]Runner
	timeout time.Duration
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTimeout bounds every run. Zero means no bound.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithLogger sets the logger for invocations and warnings.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns a registry with the builtin runner installed under
// the "builtin" scheme.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		runners: map[string]Runner{"builtin": NewBuiltins()},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs runner for scheme, replacing any existing one.
func (r *Registry) Register(scheme string, runner Runner) {
	r.runners[strings.ToLower(scheme)] = runner
}

// Schemes returns the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	schemes := make([]string, 0, len(r.runners))
	for s := range r.runners {
		schemes = append(schemes, s)
	}
	slices.Sort(schemes)
	return schemes
}

// Apply runs req and returns its result. Every failure is an
// *AnalyticsError; deadline overruns wrap context.DeadlineExceeded.
func (r *Registry) Apply(ctx context.Context, req Request) (Result, error) {
	scheme := "builtin"
	if s, _, ok := strings.Cut(req.Locator, "://"); ok {
		scheme = strings.ToLower(s)
	}
	runner, ok := r.runners[scheme]
	if !ok {
		return Result{}, &AnalyticsError{
			Locator: req.Locator,
			Hint:    suggest.Hint(scheme, r.Schemes()),
			Err:     fmt.Errorf("%w: no runner for scheme %q", ErrUnknownAnalytics, scheme),
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Info("applying analytics", "locator", req.Locator, "inputs", len(req.Inputs))
	res, err := runner.Run(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		var aerr *AnalyticsError
		if errors.As(err, &aerr) {
			return Result{}, err
		}
		return Result{}, &AnalyticsError{Locator: req.Locator, Err: err}
	}

	for _, w := range res.Warnings {
		r.logger.Warn("analytics warning", "locator", req.Locator, "warning", w)
	}
	return res, nil
}
