package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/pattern"
)

// SQLCompiler lowers pattern predicates to parameterized SQLite boolean
// expressions over the columns of one Table.
//
// CRITICAL: All values are parameterized (never interpolated).
// CRITICAL: A negated comparison is NOT COALESCE(positive, 0), so a
// comparison and its negation partition every row set, NULLs included.
type SQLCompiler struct {
	table Table
	alias string
}

// NewSQLCompiler creates a compiler for predicates over t.
func NewSQLCompiler(t Table) *SQLCompiler {
	return &SQLCompiler{table: t}
}

// WithAlias returns a compiler whose column references are qualified by
// alias, for use inside joins and correlated subqueries.
func (c *SQLCompiler) WithAlias(alias string) *SQLCompiler {
	return &SQLCompiler{table: c.table, alias: alias}
}

// Compile converts a predicate to a SQL expression and its parameters.
// A nil predicate compiles to "1" (always true).
//
// Attributes missing from the table compile as NULL: a row set without a
// column behaves as if every row had the attribute unset.
func (c *SQLCompiler) Compile(p pattern.Predicate) (string, []any, error) {
	if p == nil {
		return "1", nil, nil
	}

	switch pred := p.(type) {
	case pattern.And:
		return c.compileBinary(pred.Left, "AND", pred.Right)
	case pattern.Or:
		return c.compileBinary(pred.Left, "OR", pred.Right)
	case pattern.NullTest:
		col, _ := c.column(pred.Attr.Name)
		if pred.Negated {
			return col + " IS NOT NULL", nil, nil
		}
		return col + " IS NULL", nil, nil
	case pattern.Compare:
		return c.compileCompare(pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileBinary(left pattern.Predicate, op string, right pattern.Predicate) (string, []any, error) {
	lsql, lparams, err := c.Compile(left)
	if err != nil {
		return "", nil, err
	}
	rsql, rparams, err := c.Compile(right)
	if err != nil {
		return "", nil, err
	}
	return "(" + lsql + " " + op + " " + rsql + ")", append(lparams, rparams...), nil
}

// column returns the qualified column reference and its kind, or "NULL" when
// the table has no such column.
func (c *SQLCompiler) column(name string) (string, Kind) {
	col, ok := c.table.Column(name)
	if !ok {
		return "NULL", KindScalar
	}
	if c.alias != "" {
		return QuoteIdent(c.alias) + "." + QuoteIdent(col.Name), col.Kind
	}
	return QuoteIdent(col.Name), col.Kind
}

func (c *SQLCompiler) compileCompare(cmp pattern.Compare) (string, []any, error) {
	col, kind := c.column(cmp.Attr.Name)

	var sql string
	var params []any
	var err error
	switch {
	case cmp.Op == pattern.IsSubset || cmp.Op == pattern.IsSuperset:
		sql, params, err = compileSetRelation(col, kind, cmp.Op, cmp.List)
	case cmp.Attr.AnyElement && kind == KindJSON:
		var cond string
		cond, params, err = compileScalarOp(elemValue, cmp)
		sql = fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) AS %s WHERE %s)", col, QuoteIdent(elemAlias), cond)
	default:
		// A scalar column under [*] is a one-element list.
		sql, params, err = compileScalarOp(col, cmp)
	}
	if err != nil {
		return "", nil, err
	}

	if cmp.Negated {
		return "NOT COALESCE(" + sql + ", 0)", params, nil
	}
	return sql, params, nil
}

const elemAlias = "__e"

var elemValue = QuoteIdent(elemAlias) + ".value"

func compileScalarOp(expr string, cmp pattern.Compare) (string, []any, error) {
	switch cmp.Op {
	case pattern.Eq, pattern.Ne, pattern.Gt, pattern.Lt, pattern.Ge, pattern.Le:
		param, err := irValueToParam(cmp.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s %s ?", expr, cmp.Op), []any{param}, nil
	case pattern.Like:
		param, err := irValueToParam(cmp.Value)
		if err != nil {
			return "", nil, err
		}
		return expr + " LIKE ?", []any{param}, nil
	case pattern.Matches:
		param, err := irValueToParam(cmp.Value)
		if err != nil {
			return "", nil, err
		}
		// X REGEXP Y calls regexp(Y, X); the function is registered by the store.
		return expr + " REGEXP ?", []any{param}, nil
	case pattern.In:
		return inList(expr, cmp.List)
	default:
		return "", nil, fmt.Errorf("unsupported operator: %s", cmp.Op)
	}
}

// compileSetRelation compares a multi-valued column with a literal list.
// A scalar column is a one-element list.
func compileSetRelation(col string, kind Kind, op pattern.Op, list []ir.IRValue) (string, []any, error) {
	distinct := distinctValues(list)

	if kind != KindJSON {
		if op == pattern.IsSubset {
			return inList(col, distinct)
		}
		switch len(distinct) {
		case 0:
			return col + " IS NOT NULL", nil, nil
		case 1:
			param, err := irValueToParam(distinct[0])
			if err != nil {
				return "", nil, err
			}
			return col + " = ?", []any{param}, nil
		default:
			return "0", nil, nil
		}
	}

	member, params, err := inList(elemValue, distinct)
	if err != nil {
		return "", nil, err
	}
	each := fmt.Sprintf("json_each(%s) AS %s", col, QuoteIdent(elemAlias))
	if op == pattern.IsSubset {
		return fmt.Sprintf("(%s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s WHERE NOT COALESCE(%s, 0)))",
			col, each, member), params, nil
	}
	if len(distinct) == 0 {
		return col + " IS NOT NULL", nil, nil
	}
	return fmt.Sprintf("(%s IS NOT NULL AND (SELECT COUNT(DISTINCT %s) FROM %s WHERE %s) = %d)",
		col, elemValue, each, member, len(distinct)), params, nil
}

// inList compiles `expr IN (...)`. An empty list matches nothing.
func inList(expr string, list []ir.IRValue) (string, []any, error) {
	if len(list) == 0 {
		return "0", nil, nil
	}
	params := make([]any, len(list))
	for i, v := range list {
		param, err := irValueToParam(v)
		if err != nil {
			return "", nil, err
		}
		params[i] = param
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(list)), ", ")
	return expr + " IN (" + placeholders + ")", params, nil
}

func distinctValues(list []ir.IRValue) []ir.IRValue {
	var out []ir.IRValue
	for _, v := range list {
		dup := false
		for _, seen := range out {
			if ir.Equal(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

// irValueToParam converts an ir.IRValue to a Go native type for a SQL
// parameter. Bools are stored as 0/1; arrays and objects as JSON text.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return nil, nil
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
	case ir.IRArray, ir.IRObject:
		data, err := ir.MarshalCanonical(val)
		if err != nil {
			return nil, fmt.Errorf("encode %s parameter: %w", ir.TypeName(v), err)
		}
		return string(data), nil
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
