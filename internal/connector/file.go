package connector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/huntflow/internal/fileio"
	"github.com/roach88/huntflow/internal/ir"
)

// File serves entities from local files: "file://<path>". A path naming a
// directory reads "<dir>/<entity-type>.<ext>" for the first extension with
// a codec that exists. Relative paths resolve against BaseDir.
type File struct {
	BaseDir string

	// Formats forces the codec for a file URI whose extension does not
	// name one, e.g. "file://logs/procs.log" -> jsonl.
	Formats map[string]fileio.Format
}

// dirExtensions are tried in order when a file locator names a directory.
var dirExtensions = []string{".json", ".jsonl", ".ndjson", ".csv", ".yaml", ".yml", ".cbor"}

func (f File) Fetch(ctx context.Context, uri string, q Query) ([]ir.IRObject, error) {
	path := strings.TrimPrefix(uri, "file://")
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrUnknownDatasource)
	}
	if !filepath.IsAbs(path) && f.BaseDir != "" {
		path = filepath.Join(f.BaseDir, path)
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrUnknownDatasource, path)
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return f.fetchDir(path, q)
	}

	load := fileio.Load
	if format, ok := f.Formats[uri]; ok {
		load = func(path string) ([]ir.IRObject, error) { return fileio.LoadAs(path, format) }
	}
	rows, err := load(path)
	if err != nil {
		return nil, err
	}
	return OfType(rows, q.EntityType), nil
}

func (f File) fetchDir(dir string, q Query) ([]ir.IRObject, error) {
	for _, ext := range dirExtensions {
		path := filepath.Join(dir, q.EntityType+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		rows, err := fileio.Load(path)
		if err != nil {
			return nil, err
		}
		return OfType(rows, q.EntityType), nil
	}
	// A directory without a file for the type has no such entities.
	return []ir.IRObject{}, nil
}
