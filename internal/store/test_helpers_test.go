package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/huntflow/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// materialize stores rows for session "test" and fails the test on error.
func materialize(t *testing.T, s *Store, entityType string, rows ...ir.IRObject) RowSet {
	t.Helper()
	rs, err := s.Materialize(context.Background(), "test", entityType, rows, "NEW")
	if err != nil {
		t.Fatalf("Materialize() failed: %v", err)
	}
	return rs
}

// readRows reads every row of rs and fails the test on error.
func readRows(t *testing.T, s *Store, rs RowSet) []ir.IRObject {
	t.Helper()
	rows, err := s.Rows(context.Background(), rs)
	if err != nil {
		t.Fatalf("Rows() failed: %v", err)
	}
	return rows
}

// column extracts attr from every row.
func column(rows []ir.IRObject, attr string) []ir.IRValue {
	out := make([]ir.IRValue, len(rows))
	for i, row := range rows {
		out[i] = row[attr]
	}
	return out
}

func proc(pid int64, name string) ir.IRObject {
	return ir.IRObject{
		"id":   ir.IRString("process--" + name),
		"pid":  ir.IRInt(pid),
		"name": ir.IRString(name),
	}
}
