// Package fileio reads and writes entity rows for LOAD and SAVE. The format
// is selected by file extension:
//
//	.json           one array of objects (or a single object)
//	.jsonl, .ndjson one object per line
//	.csv            a header row of attribute names, then one row per entity
//	.yaml, .yml     a sequence of mappings (or a single mapping)
//	.cbor           a CBOR array of maps, canonically encoded
//
// CSV is lossy: every cell is text, so on read cells that look like numbers
// or booleans become numbers or booleans, empty cells become NULL, and
// cells holding a JSON list or object are decoded as such.
package fileio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/huntflow/internal/ir"
)

// Format names a supported file encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
	FormatYAML  Format = "yaml"
	FormatCBOR  Format = "cbor"
)

var extensions = map[string]Format{
	".json":   FormatJSON,
	".jsonl":  FormatJSONL,
	".ndjson": FormatJSONL,
	".csv":    FormatCSV,
	".yaml":   FormatYAML,
	".yml":    FormatYAML,
	".cbor":   FormatCBOR,
}

// ErrUnknownFormat is returned for a path whose extension has no codec.
var ErrUnknownFormat = errors.New("unknown file format")

// Error is an I/O failure on a specific file.
type Error struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FormatFor selects the format for path by its extension, case-insensitively.
func FormatFor(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
}

// ParseFormat accepts a format name or a file extension.
func ParseFormat(name string) (Format, error) {
	name = strings.ToLower(name)
	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}
	if f, ok := extensions[name]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Load reads rows from path. Errors are *Error.
func Load(path string) ([]ir.IRObject, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, &Error{Op: "load", Path: path, Err: err}
	}
	return LoadAs(path, format)
}

// LoadAs reads rows from path in format, whatever its extension.
func LoadAs(path string, format Format) ([]ir.IRObject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Op: "load", Path: path, Err: err}
	}
	rows, err := Decode(bytes.NewReader(data), format)
	if err != nil {
		return nil, &Error{Op: "load", Path: path, Err: err}
	}
	return rows, nil
}

// Save writes rows to path, replacing any existing file. columns fixes the
// attribute order for formats that have one (CSV). Errors are *Error.
func Save(path string, rows []ir.IRObject, columns []string) error {
	format, err := FormatFor(path)
	if err != nil {
		return &Error{Op: "save", Path: path, Err: err}
	}

	var buf bytes.Buffer
	if err := Encode(&buf, format, rows, columns); err != nil {
		return &Error{Op: "save", Path: path, Err: err}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return &Error{Op: "save", Path: path, Err: err}
	}
	return nil
}

// Decode reads rows in format from r.
func Decode(r io.Reader, format Format) ([]ir.IRObject, error) {
	switch format {
	case FormatJSON:
		return decodeJSON(r)
	case FormatJSONL:
		return decodeJSONL(r)
	case FormatCSV:
		return decodeCSV(r)
	case FormatYAML:
		return decodeYAML(r)
	case FormatCBOR:
		return decodeCBOR(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Encode writes rows in format to w.
func Encode(w io.Writer, format Format, rows []ir.IRObject, columns []string) error {
	if columns == nil {
		columns = ir.Columns(rows)
	}
	switch format {
	case FormatJSON:
		return encodeJSON(w, rows)
	case FormatJSONL:
		return encodeJSONL(w, rows)
	case FormatCSV:
		return encodeCSV(w, rows, columns)
	case FormatYAML:
		return encodeYAML(w, rows)
	case FormatCBOR:
		return encodeCBOR(w, rows)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// toRows converts a decoded document to rows: a list of objects, or one
// object.
func toRows(doc any) ([]ir.IRObject, error) {
	v, err := ir.FromAny(doc)
	if err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case ir.IRObject:
		return []ir.IRObject{val}, nil
	case ir.IRArray:
		rows := make([]ir.IRObject, len(val))
		for i, elem := range val {
			obj, ok := elem.(ir.IRObject)
			if !ok {
				return nil, fmt.Errorf("entry %d is a %s, want an object", i, ir.TypeName(elem))
			}
			rows[i] = obj
		}
		return rows, nil
	case ir.IRNull:
		return []ir.IRObject{}, nil
	}
	return nil, fmt.Errorf("document is a %s, want a list of objects", ir.TypeName(v))
}
