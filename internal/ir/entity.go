package ir

import "strings"

// AttrSeparator joins nested object keys into one flat attribute name.
const AttrSeparator = "."

// Flatten turns nested objects into dotted attribute names:
// {"hashes": {"MD5": "x"}} becomes {"hashes.MD5": "x"}.
// Arrays are kept whole; they are multi-valued attributes.
func Flatten(obj IRObject) IRObject {
	out := make(IRObject, len(obj))
	flattenInto(out, "", obj)
	return out
}

func flattenInto(out IRObject, prefix string, obj IRObject) {
	for k, v := range obj {
		name := k
		if prefix != "" {
			name = prefix + AttrSeparator + k
		}
		if nested, ok := v.(IRObject); ok && len(nested) > 0 {
			flattenInto(out, name, nested)
			continue
		}
		if v == nil {
			v = IRNull{}
		}
		out[name] = v
	}
}

// AttrName joins attribute path segments into a column name.
func AttrName(segments []string) string {
	return strings.Join(segments, AttrSeparator)
}

// Columns returns the union of keys over rows in first-seen order. Keys new
// to a row are appended in canonical key order, so the result does not depend
// on map iteration.
func Columns(rows []IRObject) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for _, k := range row.SortedKeys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// NullFill returns copies of rows where every column in cols is present,
// missing ones set to IRNull.
func NullFill(rows []IRObject, cols []string) []IRObject {
	out := make([]IRObject, len(rows))
	for i, row := range rows {
		filled := make(IRObject, len(cols))
		for _, c := range cols {
			v, ok := row[c]
			if !ok || v == nil {
				v = IRNull{}
			}
			filled[c] = v
		}
		out[i] = filled
	}
	return out
}

// Project returns a copy of row restricted to cols.
func Project(row IRObject, cols []string) IRObject {
	out := make(IRObject, len(cols))
	for _, c := range cols {
		if v, ok := row[c]; ok {
			out[c] = v
		} else {
			out[c] = IRNull{}
		}
	}
	return out
}
