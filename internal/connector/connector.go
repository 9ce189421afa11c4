// Package connector fetches raw entities from telemetry datasources for GET.
//
// A datasource is named by a locator: either a configured alias ("host-1")
// or a URI whose scheme selects the Connector ("file://logs/procs.json",
// "mem://fixture"). Connectors may return a superset of the requested rows;
// the caller applies the pattern and timespan in the store so every
// connector filters with identical semantics.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/pattern"
	"github.com/roach88/huntflow/internal/suggest"
)

// Query is one GET request to a datasource.
type Query struct {
	EntityType string
	Where      pattern.Predicate

	// Start and Stop bound the request when HasSpan is set. Relative spans
	// are resolved by the caller at evaluation time.
	HasSpan     bool
	Start, Stop time.Time

	Limit *int
}

// Connector fetches entities of one datasource scheme. uri is the fully
// resolved locator, including the scheme.
type Connector interface {
	Fetch(ctx context.Context, uri string, q Query) ([]ir.IRObject, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, uri string, q Query) ([]ir.IRObject, error)

func (f ConnectorFunc) Fetch(ctx context.Context, uri string, q Query) ([]ir.IRObject, error) {
	return f(ctx, uri, q)
}

// ErrUnknownDatasource is wrapped by DataSourceError when a locator names no
// alias and no registered scheme, or a connector does not know the source.
var ErrUnknownDatasource = errors.New("unknown datasource")

// DataSourceError is a failed fetch from a datasource.
type DataSourceError struct {
	Datasource string
	EntityType string
	// Hint is an optional "did you mean" suggestion.
	Hint string
	Err  error
}

func (e *DataSourceError) Error() string {
	msg := fmt.Sprintf("datasource %q: fetch %s: %v", e.Datasource, e.EntityType, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}

// Registry resolves locators to connectors.
type Registry struct {
	schemes map[string]Connector
	aliases map[string]string
	logger  *slog.Logger
}

// NewRegistry returns an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		schemes: make(map[string]Connector),
		aliases: make(map[string]string),
		logger:  logger,
	}
}

// Register installs c for locators with the given scheme ("file", "mem").
func (r *Registry) Register(scheme string, c Connector) {
	r.schemes[strings.ToLower(scheme)] = c
}

// Alias makes name resolve to uri.
func (r *Registry) Alias(name, uri string) {
	r.aliases[name] = uri
}

// Names returns the configured aliases in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.aliases))
	for name := range r.aliases {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NormalizeURI lower-cases the scheme of uri, leaving the rest untouched.
// A uri without "://" is returned as is.
func NormalizeURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	return strings.ToLower(scheme) + "://" + rest
}

// Resolve returns the URI, with its scheme lower-cased, and the connector
// for locator.
func (r *Registry) Resolve(locator string) (string, Connector, error) {
	uri := locator
	if aliased, ok := r.aliases[locator]; ok {
		uri = aliased
	}
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok {
		return "", nil, ErrUnknownDatasource
	}
	c, ok := r.schemes[strings.ToLower(scheme)]
	if !ok {
		return "", nil, fmt.Errorf("%w: no connector for scheme %q", ErrUnknownDatasource, scheme)
	}
	return NormalizeURI(uri), c, nil
}

// Fetch resolves locator and fetches q from it. Every failure is a
// *DataSourceError.
func (r *Registry) Fetch(ctx context.Context, locator string, q Query) ([]ir.IRObject, error) {
	uri, c, err := r.Resolve(locator)
	if err != nil {
		return nil, &DataSourceError{
			Datasource: locator,
			EntityType: q.EntityType,
			Hint:       suggest.Hint(locator, r.Names()),
			Err:        err,
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, &DataSourceError{Datasource: locator, EntityType: q.EntityType, Err: err}
	}

	start := time.Now()
	rows, err := c.Fetch(ctx, uri, q)
	if err != nil {
		var dserr *DataSourceError
		if errors.As(err, &dserr) {
			return nil, err
		}
		return nil, &DataSourceError{Datasource: locator, EntityType: q.EntityType, Err: err}
	}

	r.logger.Info("fetched entities",
		"datasource", locator,
		"type", q.EntityType,
		"rows", len(rows),
		"duration", time.Since(start))
	return rows, nil
}

// OfType keeps rows whose "type" attribute equals entityType. Rows without a
// type attribute are kept; a source holding one entity type need not tag
// its rows.
func OfType(rows []ir.IRObject, entityType string) []ir.IRObject {
	out := make([]ir.IRObject, 0, len(rows))
	for _, row := range rows {
		t, ok := row["type"].(ir.IRString)
		if ok && string(t) != entityType {
			continue
		}
		out = append(out, row)
	}
	return out
}
