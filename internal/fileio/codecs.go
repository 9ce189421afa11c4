package fileio

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/roach88/huntflow/internal/ir"
)

func decodeJSON(r io.Reader) ([]ir.IRObject, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return []ir.IRObject{}, nil
		}
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return toRows(doc)
}

func decodeJSONL(r io.Reader) ([]ir.IRObject, error) {
	rows := []ir.IRObject{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		v, err := ir.UnmarshalIRValue(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		obj, ok := v.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("line %d: %s is not an object", line, ir.TypeName(v))
		}
		rows = append(rows, obj)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return rows, nil
}

func encodeJSON(w io.Writer, rows []ir.IRObject) error {
	arr := make(ir.IRArray, len(rows))
	for i, row := range rows {
		arr[i] = row
	}
	data, err := ir.MarshalIRValue(arr)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("indent json: %w", err)
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}

func encodeJSONL(w io.Writer, rows []ir.IRObject) error {
	for i, row := range rows {
		data, err := ir.MarshalIRValue(row)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func decodeCSV(r io.Reader) ([]ir.IRObject, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	rows := []ir.IRObject{}
	if len(records) == 0 {
		return rows, nil
	}
	header := records[0]
	// csv.Reader rejects records whose field count differs from the header.
	for _, rec := range records[1:] {
		row := make(ir.IRObject, len(header))
		for j, name := range header {
			row[name] = parseCell(rec[j])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseCell recovers a typed value from CSV text.
func parseCell(cell string) ir.IRValue {
	switch cell {
	case "":
		return ir.IRNull{}
	case "true":
		return ir.IRBool(true)
	case "false":
		return ir.IRBool(false)
	}
	if c := cell[0]; c == '[' || c == '{' {
		if v, err := ir.UnmarshalIRValue([]byte(cell)); err == nil {
			return v
		}
	}
	if looksNumeric(cell) {
		if v, err := ir.ParseNumber(cell); err == nil {
			return v
		}
	}
	return ir.IRString(cell)
}

// looksNumeric rejects forms ParseFloat accepts that are not plain decimal
// numbers, such as "Inf", "0x1p-2" and "1_000".
func looksNumeric(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" || s[0] < '0' || s[0] > '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && c != '.' && c != 'e' && c != 'E' && c != '+' && c != '-' {
			return false
		}
	}
	return true
}

func encodeCSV(w io.Writer, rows []ir.IRObject, columns []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	rec := make([]string, len(columns))
	for _, row := range rows {
		for j, name := range columns {
			rec[j] = ir.Text(row[name])
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func decodeYAML(r io.Reader) ([]ir.IRObject, error) {
	var doc any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return []ir.IRObject{}, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return toRows(doc)
}

func encodeYAML(w io.Writer, rows []ir.IRObject) error {
	docs := make([]any, len(rows))
	for i, row := range rows {
		docs[i] = ir.ToAny(row)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(docs); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func decodeCBOR(r io.Reader) ([]ir.IRObject, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []ir.IRObject{}, nil
	}
	var doc any
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode cbor: %w", err)
	}
	return toRows(doc)
}

func encodeCBOR(w io.Writer, rows []ir.IRObject) error {
	// Canonical encoding keeps output byte-stable across runs.
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return fmt.Errorf("create cbor encoder: %w", err)
	}
	docs := make([]any, len(rows))
	for i, row := range rows {
		docs[i] = ir.ToAny(row)
	}
	data, err := encMode.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encode cbor: %w", err)
	}
	_, err = w.Write(data)
	return err
}
