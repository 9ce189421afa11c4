package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/stix"
	"github.com/roach88/huntflow/internal/syntax"
)

// timestampLayouts are accepted for timestamp attributes on ingest, in the
// order they are tried.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ingest prepares rows entering the session from NEW, LOAD, GET and APPLY.
// Every row gets "type" set to entityType and an "id" of the form
// "<type>--<id>" when it has none. Timestamp attributes are rewritten to
// syntax.TimestampLayout in UTC so comparisons and bins work on text.
//
// The input rows are not modified.
func (s *Session) ingest(entityType string, rows []ir.IRObject) ([]ir.IRObject, error) {
	out := make([]ir.IRObject, len(rows))
	for i, row := range rows {
		r := make(ir.IRObject, len(row)+2)
		for k, v := range row {
			r[k] = v
		}
		r["type"] = ir.IRString(entityType)
		if id, ok := r[stix.IDAttr]; !ok || ir.IsNull(id) {
			r[stix.IDAttr] = ir.IRString(entityType + "--" + s.ids.Generate())
		}
		for _, attr := range s.tsAttrs {
			v, ok := r[attr]
			if !ok || ir.IsNull(v) {
				continue
			}
			ts, err := normalizeTimestamp(v)
			if err != nil {
				return nil, validationError("%s row %d: attribute %q: %v", entityType, i+1, attr, err)
			}
			r[attr] = ts
		}
		out[i] = r
	}
	return out, nil
}

// normalizeTimestamp accepts ISO-8601 text or Unix epoch seconds.
func normalizeTimestamp(v ir.IRValue) (ir.IRValue, error) {
	switch t := v.(type) {
	case ir.IRString:
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, string(t)); err == nil {
				return ir.IRString(parsed.UTC().Format(syntax.TimestampLayout)), nil
			}
		}
		return nil, fmt.Errorf("%q is not a timestamp", string(t))
	case ir.IRInt:
		return ir.IRString(time.Unix(int64(t), 0).UTC().Format(syntax.TimestampLayout)), nil
	case ir.IRFloat:
		sec, frac := math.Modf(float64(t))
		return ir.IRString(time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(syntax.TimestampLayout)), nil
	}
	return nil, fmt.Errorf("%s is not a timestamp", ir.TypeName(v))
}

// inferType returns the entity type shared by every row's "type" attribute.
func inferType(rows []ir.IRObject, what string) (string, error) {
	var typ string
	for _, row := range rows {
		t, ok := row["type"].(ir.IRString)
		if !ok || t == "" {
			return "", validationError("cannot infer the entity type of %s: a row has no type attribute; use AS <type>", what)
		}
		if typ != "" && string(t) != typ {
			return "", validationError("cannot infer the entity type of %s: rows have types %q and %q; use AS <type>", what, typ, t)
		}
		typ = string(t)
	}
	if typ == "" {
		return "", validationError("cannot infer the entity type of %s: no rows; use AS <type>", what)
	}
	return typ, nil
}
