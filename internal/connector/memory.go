package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/huntflow/internal/ir"
)

// Memory serves fixture entities held in process: "mem://<name>". It is
// safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	sources map[string]map[string][]ir.IRObject // name -> entity type -> rows
	calls   []Call
}

// Call records one fetch served by Memory.
type Call struct {
	Name  string
	Query Query
}

// NewMemory returns an empty in-memory connector.
func NewMemory() *Memory {
	return &Memory{sources: make(map[string]map[string][]ir.IRObject)}
}

// Add appends rows of entityType to the named source, creating it if needed.
func (m *Memory) Add(name, entityType string, rows ...ir.IRObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[name]
	if !ok {
		src = make(map[string][]ir.IRObject)
		m.sources[name] = src
	}
	src[entityType] = append(src[entityType], rows...)
}

// Calls returns the fetches served so far, in order.
func (m *Memory) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Call(nil), m.calls...)
}

func (m *Memory) Fetch(ctx context.Context, uri string, q Query) ([]ir.IRObject, error) {
	name := strings.TrimPrefix(uri, "mem://")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Name: name, Query: q})

	src, ok := m.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: no fixture %q", ErrUnknownDatasource, name)
	}
	rows := src[q.EntityType]
	out := make([]ir.IRObject, len(rows))
	copy(out, rows)
	return out, nil
}
