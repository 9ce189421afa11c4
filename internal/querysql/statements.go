package querysql

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/huntflow/internal/pattern"
	"github.com/roach88/huntflow/internal/stix"
)

// SortKey orders by one attribute.
type SortKey struct {
	Attr string
	Desc bool
}

// SelectSpec is the transform pipeline of an expression: filter, then
// project, then sort, then window. Sort keys may name any source column,
// projected or not.
type SelectSpec struct {
	Where  pattern.Predicate
	Attrs  []string
	Sort   []SortKey
	Limit  *int
	Offset *int
}

// Select returns a query over src applying spec, and the output columns.
//
// MANDATORY: Output is ordered by the sort keys, then by source row order,
// using COLLATE BINARY for deterministic text ordering.
func Select(src Table, spec SelectSpec) (string, []any, []Column, error) {
	out := src.Columns
	if spec.Attrs != nil {
		out = make([]Column, 0, len(spec.Attrs))
		for _, name := range spec.Attrs {
			col, ok := src.Column(name)
			if !ok {
				return "", nil, nil, fmt.Errorf("unknown attribute %q", name)
			}
			out = append(out, col)
		}
	}

	order := make([]string, 0, len(spec.Sort)+1)
	for _, key := range spec.Sort {
		if _, ok := src.Column(key.Attr); !ok {
			return "", nil, nil, fmt.Errorf("unknown sort attribute %q", key.Attr)
		}
		dir := "ASC"
		if key.Desc {
			dir = "DESC"
		}
		order = append(order, QuoteIdent(key.Attr)+" COLLATE BINARY "+dir)
	}
	order = append(order, QuoteIdent(SeqColumn)+" ASC")
	orderBy := strings.Join(order, ", ")

	where, whereArgs, err := NewSQLCompiler(src).Compile(spec.Where)
	if err != nil {
		return "", nil, nil, fmt.Errorf("compile filter: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT ROW_NUMBER() OVER (ORDER BY %s) AS %s", orderBy, QuoteIdent(SeqColumn))
	for _, col := range out {
		b.WriteString(", ")
		b.WriteString(QuoteIdent(col.Name))
	}
	fmt.Fprintf(&b, " FROM %s WHERE %s ORDER BY %s", src.source(), where, orderBy)

	args := append(append([]any{}, src.args...), whereArgs...)
	if spec.Limit != nil || spec.Offset != nil {
		limit, offset := -1, 0
		if spec.Limit != nil {
			limit = *spec.Limit
		}
		if spec.Offset != nil {
			offset = *spec.Offset
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, offset)
	}

	return b.String(), args, out, nil
}

// TimestampColumn is added by the TIMESTAMPED transform.
const TimestampColumn = "first_observed"

// Timestamped derives a source where every row carries TimestampColumn: its
// own value if set, else the first non-null of tsAttrs. Rows left without a
// timestamp are dropped.
func Timestamped(src Table, tsAttrs []string) (Table, error) {
	var sources []string
	for _, name := range append([]string{TimestampColumn}, tsAttrs...) {
		if _, ok := src.Column(name); ok && !slices.Contains(sources, name) {
			sources = append(sources, name)
		}
	}
	if len(sources) == 0 {
		return Table{}, fmt.Errorf("%s has no timestamp attributes", src.Name)
	}

	quoted := make([]string, len(sources))
	for i, name := range sources {
		quoted[i] = QuoteIdent(name)
	}
	ts := "COALESCE(" + strings.Join(quoted, ", ") + ")"
	if len(quoted) == 1 {
		ts = quoted[0]
	}

	var cols []Column
	var b strings.Builder
	fmt.Fprintf(&b, "(SELECT %s", QuoteIdent(SeqColumn))
	for _, col := range src.Columns {
		if col.Name == TimestampColumn {
			continue
		}
		cols = append(cols, col)
		b.WriteString(", ")
		b.WriteString(QuoteIdent(col.Name))
	}
	cols = append(cols, Column{Name: TimestampColumn, Kind: KindScalar})
	fmt.Fprintf(&b, ", %s AS %s FROM %s WHERE %s IS NOT NULL)", ts, QuoteIdent(TimestampColumn), src.source(), ts)

	return Table{Name: src.Name, Columns: cols, from: b.String(), args: src.args}, nil
}

// Bin buckets a grouping key. Time bins truncate timestamps to multiples of
// Size seconds since the Unix epoch; numeric bins truncate integers to
// multiples of Size.
type Bin struct {
	Size int64
	Time bool
}

// GroupKey is one GROUP BY key.
type GroupKey struct {
	Attr  string
	Bin   *Bin
	Alias string
}

// Aggregation is one aggregate column. Attr "*" with COUNT counts rows.
type Aggregation struct {
	Func  string
	Attr  string
	Alias string
}

// fragment is SQL text with the parameters it binds, in textual order.
type fragment struct {
	sql  string
	args []any
}

// Aggregate returns a GROUP BY query over src. Groups are ordered by their
// keys.
func Aggregate(src Table, keys []GroupKey, aggs []Aggregation) (string, []any, []Column, error) {
	if len(keys) == 0 {
		return "", nil, nil, fmt.Errorf("group requires at least one key")
	}

	var out []Column
	keyExprs := make([]fragment, 0, len(keys))
	for _, key := range keys {
		col, ok := src.Column(key.Attr)
		if !ok {
			return "", nil, nil, fmt.Errorf("unknown group attribute %q", key.Attr)
		}
		expr := fragment{sql: QuoteIdent(col.Name)}
		kind := col.Kind
		if key.Bin != nil {
			if key.Bin.Size <= 0 {
				return "", nil, nil, fmt.Errorf("bin size must be positive, got %d", key.Bin.Size)
			}
			kind = KindScalar
			if key.Bin.Time {
				expr = fragment{
					sql:  fmt.Sprintf("strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', (unixepoch(%s) / ?) * ?, 'unixepoch')", QuoteIdent(col.Name)),
					args: []any{key.Bin.Size, key.Bin.Size},
				}
			} else {
				expr = fragment{
					sql:  fmt.Sprintf("((CAST(%s AS INTEGER) / ?) * ?)", QuoteIdent(col.Name)),
					args: []any{key.Bin.Size, key.Bin.Size},
				}
			}
		}
		keyExprs = append(keyExprs, expr)
		out = append(out, Column{Name: key.Alias, Kind: kind})
	}

	aggExprs := make([]string, 0, len(aggs))
	for _, agg := range aggs {
		sql, kind, err := aggregateExpr(src, agg)
		if err != nil {
			return "", nil, nil, err
		}
		aggExprs = append(aggExprs, sql)
		out = append(out, Column{Name: agg.Alias, Kind: kind})
	}

	var args []any
	order := make([]string, len(keyExprs))
	for i, k := range keyExprs {
		order[i] = k.sql + " COLLATE BINARY ASC"
	}
	orderBy := strings.Join(order, ", ")

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT ROW_NUMBER() OVER (ORDER BY %s) AS %s", orderBy, QuoteIdent(SeqColumn))
	for _, k := range keyExprs {
		args = append(args, k.args...)
	}
	for i, k := range keyExprs {
		fmt.Fprintf(&b, ", %s AS %s", k.sql, QuoteIdent(keys[i].Alias))
		args = append(args, k.args...)
	}
	for i, sql := range aggExprs {
		fmt.Fprintf(&b, ", %s AS %s", sql, QuoteIdent(aggs[i].Alias))
	}
	fmt.Fprintf(&b, " FROM %s", src.source())
	args = append(args, src.args...)

	group := make([]string, len(keyExprs))
	for i, k := range keyExprs {
		group[i] = k.sql
		args = append(args, k.args...)
	}
	fmt.Fprintf(&b, " GROUP BY %s ORDER BY %s", strings.Join(group, ", "), orderBy)
	for _, k := range keyExprs {
		args = append(args, k.args...)
	}

	return b.String(), args, out, nil
}

func aggregateExpr(src Table, agg Aggregation) (string, Kind, error) {
	if agg.Attr == "*" {
		if agg.Func != "COUNT" {
			return "", 0, fmt.Errorf("%s(*) is not supported", agg.Func)
		}
		return "COUNT(*)", KindScalar, nil
	}
	col, ok := src.Column(agg.Attr)
	if !ok {
		return "", 0, fmt.Errorf("unknown aggregate attribute %q", agg.Attr)
	}
	q := QuoteIdent(col.Name)
	switch agg.Func {
	case "MIN", "MAX":
		return agg.Func + "(" + q + ")", col.Kind, nil
	case "SUM", "AVG", "COUNT":
		return agg.Func + "(" + q + ")", KindScalar, nil
	case "NUNIQUE":
		return "COUNT(DISTINCT " + q + ")", KindScalar, nil
	}
	return "", 0, fmt.Errorf("unknown aggregate function %q", agg.Func)
}

// KeyPair is one equi-join condition.
type KeyPair struct {
	Left, Right string
}

// Join returns an inner join of left and right. The output carries every
// left column, then right columns not already present; rows are ordered by
// left row order, then right row order.
func Join(left, right Table, pairs []KeyPair) (string, []any, []Column, error) {
	if len(pairs) == 0 {
		return "", nil, nil, fmt.Errorf("join requires at least one key pair")
	}
	l, r := QuoteIdent("l"), QuoteIdent("r")

	on := make([]string, len(pairs))
	for i, p := range pairs {
		if _, ok := left.Column(p.Left); !ok {
			return "", nil, nil, fmt.Errorf("unknown join attribute %q on %s", p.Left, left.Name)
		}
		if _, ok := right.Column(p.Right); !ok {
			return "", nil, nil, fmt.Errorf("unknown join attribute %q on %s", p.Right, right.Name)
		}
		on[i] = fmt.Sprintf("%s.%s = %s.%s", l, QuoteIdent(p.Left), r, QuoteIdent(p.Right))
	}

	var out []Column
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT ROW_NUMBER() OVER (ORDER BY %s.%s, %s.%s) AS %s",
		l, QuoteIdent(SeqColumn), r, QuoteIdent(SeqColumn), QuoteIdent(SeqColumn))
	for _, col := range left.Columns {
		fmt.Fprintf(&b, ", %s.%s AS %s", l, QuoteIdent(col.Name), QuoteIdent(col.Name))
		out = append(out, col)
	}
	for _, col := range right.Columns {
		if _, dup := left.Column(col.Name); dup {
			continue
		}
		fmt.Fprintf(&b, ", %s.%s AS %s", r, QuoteIdent(col.Name), QuoteIdent(col.Name))
		out = append(out, col)
	}
	fmt.Fprintf(&b, " FROM %s AS %s JOIN %s AS %s ON %s ORDER BY %s.%s, %s.%s",
		left.source(), l, right.source(), r, strings.Join(on, " AND "),
		l, QuoteIdent(SeqColumn), r, QuoteIdent(SeqColumn))

	args := append(append([]any{}, left.args...), right.args...)
	return b.String(), args, out, nil
}

// Union returns the set union of tables: duplicate rows collapse to their
// first occurrence, in table order then row order. Columns are the union of
// the inputs' columns; a column missing from a table is NULL there.
func Union(tables []Table) (string, []any, []Column, error) {
	inner, args, cols, err := unionAll(tables)
	if err != nil {
		return "", nil, nil, err
	}
	ord := QuoteIdent("__ord")

	if len(cols) == 0 {
		return fmt.Sprintf("SELECT ROW_NUMBER() OVER (ORDER BY %s) AS %s FROM (%s) ORDER BY %s",
			ord, QuoteIdent(SeqColumn), inner, ord), args, cols, nil
	}

	list := quotedNames(cols)
	return fmt.Sprintf("SELECT ROW_NUMBER() OVER (ORDER BY MIN(%s)) AS %s, %s FROM (%s) GROUP BY %s ORDER BY MIN(%s)",
		ord, QuoteIdent(SeqColumn), list, inner, list, ord), args, cols, nil
}

// UnionBy is Union with rows collapsing on key alone: the first row carrying
// a key value wins, whatever its other columns hold. Rows with a NULL key are
// all kept.
func UnionBy(tables []Table, key string) (string, []any, []Column, error) {
	inner, args, cols, err := unionAll(tables)
	if err != nil {
		return "", nil, nil, err
	}
	if !slices.ContainsFunc(cols, func(c Column) bool { return c.Name == key }) {
		return "", nil, nil, fmt.Errorf("union key %q is not an attribute of any row set", key)
	}
	ord, rank, k := QuoteIdent("__ord"), QuoteIdent("__rank"), QuoteIdent(key)

	ranked := fmt.Sprintf("SELECT *, ROW_NUMBER() OVER (PARTITION BY CASE WHEN %s IS NULL THEN %s END, %s ORDER BY %s) AS %s FROM (%s)",
		k, ord, k, ord, rank, inner)
	return fmt.Sprintf("SELECT ROW_NUMBER() OVER (ORDER BY %s) AS %s, %s FROM (%s) WHERE %s = 1 ORDER BY %s",
		ord, QuoteIdent(SeqColumn), quotedNames(cols), ranked, rank, ord), args, cols, nil
}

// unionAll concatenates tables over their merged columns, tagging each row
// with an "__ord" that sorts by table then row.
func unionAll(tables []Table) (string, []any, []Column, error) {
	if len(tables) == 0 {
		return "", nil, nil, fmt.Errorf("union requires at least one row set")
	}

	cols := unionColumns(tables)
	ord := QuoteIdent("__ord")

	var args []any
	parts := make([]string, len(tables))
	for i, t := range tables {
		var b strings.Builder
		fmt.Fprintf(&b, "SELECT (%d * 4294967296 + %s) AS %s", i, QuoteIdent(SeqColumn), ord)
		for _, col := range cols {
			b.WriteString(", ")
			b.WriteString(convertColumn(t, col))
			b.WriteString(" AS ")
			b.WriteString(QuoteIdent(col.Name))
		}
		fmt.Fprintf(&b, " FROM %s", t.source())
		parts[i] = b.String()
		args = append(args, t.args...)
	}
	return strings.Join(parts, " UNION ALL "), args, cols, nil
}

func quotedNames(cols []Column) string {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = QuoteIdent(col.Name)
	}
	return strings.Join(names, ", ")
}

// unionColumns merges column lists in first-seen order. A column that is
// JSON anywhere becomes JSON; mixed bool and scalar becomes scalar.
func unionColumns(tables []Table) []Column {
	var cols []Column
	index := make(map[string]int)
	for _, t := range tables {
		for _, col := range t.Columns {
			i, seen := index[col.Name]
			if !seen {
				index[col.Name] = len(cols)
				cols = append(cols, col)
				continue
			}
			cols[i].Kind = mergeKinds(cols[i].Kind, col.Kind)
		}
	}
	return cols
}

func mergeKinds(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a == KindJSON || b == KindJSON:
		return KindJSON
	default:
		return KindScalar
	}
}

// convertColumn renders t's value for the merged column want.
func convertColumn(t Table, want Column) string {
	have, ok := t.Column(want.Name)
	if !ok {
		return "NULL"
	}
	q := QuoteIdent(have.Name)
	if want.Kind != KindJSON || have.Kind == KindJSON {
		return q
	}
	if have.Kind == KindBool {
		return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL WHEN %s THEN 'true' ELSE 'false' END", q, q)
	}
	return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE json_quote(%s) END", q, q)
}

// Related returns the rows of result connected to some row of input by one
// of links, optionally filtered by where and capped by limit.
func Related(result, input Table, links []stix.Link, where pattern.Predicate, limit *int) (string, []any, []Column, error) {
	r, i := "r", "i"
	var conds []string
	for _, link := range links {
		holder, target := result, input
		holderAlias, targetAlias := r, i
		if !link.OnResult {
			holder, target = input, result
			holderAlias, targetAlias = i, r
		}
		ref, ok := holder.Column(link.Attr)
		if !ok {
			continue
		}
		if _, ok := target.Column(stix.IDAttr); !ok {
			continue
		}
		refCol := QuoteIdent(holderAlias) + "." + QuoteIdent(ref.Name)
		idCol := QuoteIdent(targetAlias) + "." + QuoteIdent(stix.IDAttr)
		if link.Multi() && ref.Kind == KindJSON {
			conds = append(conds, fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) AS %s WHERE %s = %s)",
				refCol, QuoteIdent(elemAlias), elemValue, idCol))
		} else {
			conds = append(conds, refCol+" = "+idCol)
		}
	}
	related := "0"
	if len(conds) > 0 {
		related = fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s WHERE %s)",
			input.source(), QuoteIdent(i), strings.Join(conds, " OR "))
	}

	filter, filterArgs, err := NewSQLCompiler(result).WithAlias(r).Compile(where)
	if err != nil {
		return "", nil, nil, fmt.Errorf("compile filter: %w", err)
	}

	seq := QuoteIdent(r) + "." + QuoteIdent(SeqColumn)
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT ROW_NUMBER() OVER (ORDER BY %s) AS %s", seq, QuoteIdent(SeqColumn))
	for _, col := range result.Columns {
		fmt.Fprintf(&b, ", %s.%s AS %s", QuoteIdent(r), QuoteIdent(col.Name), QuoteIdent(col.Name))
	}
	fmt.Fprintf(&b, " FROM %s AS %s WHERE %s AND %s ORDER BY %s", result.source(), QuoteIdent(r), related, filter, seq)

	args := append([]any{}, result.args...)
	if len(conds) > 0 {
		args = append(args, input.args...)
	}
	args = append(args, filterArgs...)
	if limit != nil {
		b.WriteString(" LIMIT ?")
		args = append(args, *limit)
	}
	return b.String(), args, result.Columns, nil
}

// Values returns a query for the distinct non-null values of attr in t, in
// order of first appearance. Elements of JSON list columns are expanded.
func Values(t Table, attr string) (string, []any, error) {
	col, ok := t.Column(attr)
	if !ok {
		return "", nil, fmt.Errorf("unknown attribute %q", attr)
	}
	q := QuoteIdent(col.Name)
	if col.Kind == KindJSON {
		return fmt.Sprintf("SELECT %s FROM %s AS %s, json_each(%s.%s) AS %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY MIN(%s.%s), MIN(%s.%s)",
			elemValue, t.source(), QuoteIdent("t"), QuoteIdent("t"), q, QuoteIdent(elemAlias),
			elemValue, elemValue, QuoteIdent("t"), QuoteIdent(SeqColumn), QuoteIdent(elemAlias), QuoteIdent("id")), t.args, nil
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY MIN(%s)",
		q, t.source(), q, q, QuoteIdent(SeqColumn)), t.args, nil
}

// Rows returns a query reading every row of t in row order.
func Rows(t Table) (string, []any) {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s ASC", columnList(t.Columns), t.source(), QuoteIdent(SeqColumn)), t.args
}

// Counts returns a query for the row count followed by the non-null count of
// every column.
func Counts(t Table) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*)")
	for _, col := range t.Columns {
		fmt.Fprintf(&b, ", COUNT(%s)", QuoteIdent(col.Name))
	}
	fmt.Fprintf(&b, " FROM %s", t.source())
	return b.String(), t.args
}
