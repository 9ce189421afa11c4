package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/huntflow/internal/analytics"
	"github.com/roach88/huntflow/internal/connector"
	"github.com/roach88/huntflow/internal/stix"
	"github.com/roach88/huntflow/internal/store"
	"github.com/roach88/huntflow/internal/suggest"
	"github.com/roach88/huntflow/internal/syntax"
)

// Variable is a named handle to a row set.
type Variable struct {
	Name       string
	EntityType string
	RowSet     store.RowSet

	// Provenance is the kind of the command that bound the variable.
	Provenance string

	// Datasources are the datasources the rows came from, carried through
	// derived variables so FIND can query the same sources.
	Datasources []string
}

// Session is the state of one huntflow execution: the variables bound so
// far, the store holding their rows and the collaborators statements call.
//
// CRITICAL: Statements execute strictly in order. Execute must not be called
// concurrently on one session; independent sessions share nothing mutable.
type Session struct {
	id        string
	store     *store.Store
	ownsStore bool

	vars  map[string]Variable
	order []string // names in first-binding order

	defaults    syntax.Defaults
	connectors  *connector.Registry
	analytics   *analytics.Registry
	clock       Clock
	ids         IDGenerator
	logger      *slog.Logger
	output      Output
	timeout     time.Duration
	tsAttrs     []string
	baseDir     string
	defaultDS   string
	lastDS      []string
	seq         sequence
	closed      bool
}

// Option configures a Session.
type Option func(*Session)

// WithStore executes against s. The session drops its row sets on Close but
// leaves s open. Without a store the session opens a private in-memory one.
func WithStore(s *store.Store) Option {
	return func(sess *Session) {
		sess.store = s
	}
}

// WithConnectors sets the datasource registry used by GET and FIND.
func WithConnectors(r *connector.Registry) Option {
	return func(s *Session) {
		s.connectors = r
	}
}

// WithAnalytics sets the analytics registry used by APPLY.
func WithAnalytics(r *analytics.Registry) Option {
	return func(s *Session) {
		s.analytics = r
	}
}

// WithClock sets the source of "now" for relative timespans.
func WithClock(c Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithIDGenerator sets the generator for the session id and entity ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Session) {
		s.ids = g
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithOutput sets where DISP and INFO render. The default is a Recorder.
func WithOutput(o Output) Option {
	return func(s *Session) {
		s.output = o
	}
}

// WithStatementTimeout bounds every statement. Zero means no bound.
func WithStatementTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.timeout = d
	}
}

// WithDefaults sets the default variable name and sort order.
func WithDefaults(d syntax.Defaults) Option {
	return func(s *Session) {
		s.defaults = d
	}
}

// WithTimestampAttributes sets the attributes normalized on ingest and used
// for timespans and TIMESTAMPED, in precedence order.
func WithTimestampAttributes(attrs ...string) Option {
	return func(s *Session) {
		s.tsAttrs = slices.Clone(attrs)
	}
}

// WithBaseDir resolves relative LOAD and SAVE paths against dir.
func WithBaseDir(dir string) Option {
	return func(s *Session) {
		s.baseDir = dir
	}
}

// WithDefaultDatasource is used by GET without FROM before any datasource
// has been used in the session.
func WithDefaultDatasource(locator string) Option {
	return func(s *Session) {
		s.defaultDS = locator
	}
}

// NewSession creates a session. The session id comes from the id generator.
func NewSession(opts ...Option) (*Session, error) {
	s := &Session{
		vars:     make(map[string]Variable),
		defaults: syntax.StandardDefaults(),
		clock:    SystemClock{},
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
		tsAttrs:  slices.Clone(stix.DefaultTimestampAttributes),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		st, err := store.Open("")
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		s.store = st
		s.ownsStore = true
	}
	if s.connectors == nil {
		s.connectors = connector.NewRegistry(s.logger)
	}
	if s.analytics == nil {
		s.analytics = analytics.NewRegistry(analytics.WithLogger(s.logger))
	}
	if s.output == nil {
		s.output = &Recorder{}
	}
	s.id = s.ids.Generate()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// DefaultVariable returns the name bound by commands without `VAR =`.
func (s *Session) DefaultVariable() string {
	return s.defaults.Variable
}

// Variable returns the variable bound to name.
func (s *Session) Variable(name string) (Variable, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Variables returns the bound variable names in first-binding order.
func (s *Session) Variables() []string {
	return slices.Clone(s.order)
}

// Store returns the store holding the session's rows.
func (s *Session) Store() *store.Store {
	return s.store
}

// lookup returns the variable bound to name or a SemanticError with a hint.
func (s *Session) lookup(name string) (Variable, error) {
	if v, ok := s.vars[name]; ok {
		return v, nil
	}
	e := semanticError("variable %q is not defined", name)
	e.Variables = []string{name}
	e.Hint = suggest.Hint(name, s.order)
	return Variable{}, e
}

// bind replaces any previous binding of v.Name. Rows of the old row set stay
// in the store until the session closes.
func (s *Session) bind(ctx context.Context, v Variable) {
	prev, rebound := s.vars[v.Name]
	if !rebound {
		s.order = append(s.order, v.Name)
	}
	s.vars[v.Name] = v
	if rebound && prev.RowSet.ID != v.RowSet.ID && !s.holds(prev.RowSet.ID) {
		// The replaced rows are unreachable now. A failed drop only delays
		// their removal to Close.
		if err := s.store.Drop(ctx, prev.RowSet); err != nil {
			s.logger.Warn("dropping replaced row set failed", "variable", v.Name, "rowset", prev.RowSet.ID, "error", err)
		}
	}
}

// holds reports whether any variable is bound to row set id.
func (s *Session) holds(id string) bool {
	for _, v := range s.vars {
		if v.RowSet.ID == id {
			return true
		}
	}
	return false
}

// Close drops every row set of the session and closes a private store.
// Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.store.DropSession(ctx, s.id); err != nil {
		s.logger.Error("session teardown failed", "session", s.id, "error", err)
		errs = append(errs, err)
	}
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.vars = make(map[string]Variable)
	s.order = nil
	return errors.Join(errs...)
}

// Run executes source in a fresh session and closes it. Displays and infos
// go to the Output given in opts.
func Run(ctx context.Context, source string, opts ...Option) ([]Trace, error) {
	s, err := NewSession(opts...)
	if err != nil {
		return nil, err
	}
	traces, err := s.Execute(ctx, source)
	if cerr := s.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
		err = cerr
	}
	return traces, err
}
