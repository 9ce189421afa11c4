package store

import (
	"fmt"

	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/querysql"
)

// inferColumns picks a column kind per attribute. A column holding any list
// or object is JSON; a column whose non-null values are all booleans is bool;
// everything else is scalar.
func inferColumns(rows []ir.IRObject, names []string) []querysql.Column {
	cols := make([]querysql.Column, len(names))
	for i, name := range names {
		sawBool, sawOther, sawJSON := false, false, false
		for _, row := range rows {
			switch row[name].(type) {
			case nil, ir.IRNull:
			case ir.IRBool:
				sawBool = true
			case ir.IRArray, ir.IRObject:
				sawJSON = true
			default:
				sawOther = true
			}
		}
		kind := querysql.KindScalar
		switch {
		case sawJSON:
			kind = querysql.KindJSON
		case sawBool && !sawOther:
			kind = querysql.KindBool
		}
		cols[i] = querysql.Column{Name: name, Kind: kind}
	}
	return cols
}

// encodeValue converts v to the SQLite value stored in a column of kind.
// JSON columns store every non-null value as canonical JSON text so
// json_each sees scalars as one-element sets.
func encodeValue(v ir.IRValue, kind querysql.Kind) (any, error) {
	if ir.IsNull(v) {
		return nil, nil
	}
	if kind == querysql.KindJSON {
		data, err := ir.MarshalCanonical(v)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return string(data), nil
	}
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRFloat:
		return float64(val), nil
	case ir.IRBool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, fmt.Errorf("cannot store %s in a %s column", ir.TypeName(v), kind)
}

// decodeValue converts a scanned SQLite value back to IR.
func decodeValue(raw any, kind querysql.Kind) (ir.IRValue, error) {
	if raw == nil {
		return ir.IRNull{}, nil
	}
	switch kind {
	case querysql.KindBool:
		switch val := raw.(type) {
		case int64:
			return ir.IRBool(val != 0), nil
		case float64:
			return ir.IRBool(val != 0), nil
		}
	case querysql.KindJSON:
		var data []byte
		switch val := raw.(type) {
		case string:
			data = []byte(val)
		case []byte:
			data = val
		default:
			return decodeScalar(raw)
		}
		v, err := ir.UnmarshalIRValue(data)
		if err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return v, nil
	}
	return decodeScalar(raw)
}

func decodeScalar(raw any) (ir.IRValue, error) {
	switch val := raw.(type) {
	case nil:
		return ir.IRNull{}, nil
	case int64:
		return ir.IRInt(val), nil
	case float64:
		return ir.IRFloat(val), nil
	case string:
		return ir.IRString(val), nil
	case []byte:
		return ir.IRString(string(val)), nil
	case bool:
		return ir.IRBool(val), nil
	}
	return nil, fmt.Errorf("unexpected column value of type %T", raw)
}
