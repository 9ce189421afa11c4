// Package querysql lowers pattern predicates and row-set operations to
// parameterized SQLite SQL.
//
// Every row set is one table: a `__seq` INTEGER column giving row order,
// followed by one untyped column per attribute. Statement builders return
// SELECTs that produce a fresh `__seq` so their output can be inserted
// directly into a new row-set table.
package querysql

import (
	"fmt"
	"strings"
)

// SeqColumn holds row order within a row-set table.
const SeqColumn = "__seq"

// Kind is how an attribute column encodes its values.
type Kind int

const (
	// KindScalar columns hold SQLite integers, reals and text.
	KindScalar Kind = iota
	// KindBool columns hold 0/1 and decode as booleans.
	KindBool
	// KindJSON columns hold canonical JSON text for lists and objects.
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	default:
		return "scalar"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "scalar":
		return KindScalar, nil
	case "bool":
		return KindBool, nil
	case "json":
		return KindJSON, nil
	}
	return 0, fmt.Errorf("unknown column kind %q", s)
}

// Column is one attribute column of a row set.
type Column struct {
	Name string
	Kind Kind
}

// Table describes a row set as a SQL source.
type Table struct {
	Name    string
	Columns []Column

	// from replaces the quoted table name with a derived subquery.
	from string
	args []any
}

// Column looks up an attribute column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the attribute names in column order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t Table) source() string {
	if t.from != "" {
		return t.from
	}
	return QuoteIdent(t.Name)
}

// QuoteIdent quotes a SQL identifier. Attribute names may contain dots,
// dashes and quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTable returns DDL for a row-set table with the given columns.
func CreateTable(name string, cols []Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (%s INTEGER NOT NULL", QuoteIdent(name), QuoteIdent(SeqColumn))
	for _, c := range cols {
		b.WriteString(", ")
		b.WriteString(QuoteIdent(c.Name))
	}
	b.WriteString(")")
	return b.String()
}

// DropTable returns DDL removing a row-set table.
func DropTable(name string) string {
	return "DROP TABLE IF EXISTS " + QuoteIdent(name)
}

// Insert returns a single-row INSERT with a placeholder for __seq followed
// by one placeholder per column.
func Insert(name string, cols []Column) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(name), columnList(cols), placeholders(len(cols)+1))
}

// InsertSelect wraps a builder's SELECT so its output fills table name.
func InsertSelect(name string, cols []Column, query string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) %s", QuoteIdent(name), columnList(cols), query)
}

// columnList is the quoted __seq column followed by cols.
func columnList(cols []Column) string {
	parts := make([]string, 0, len(cols)+1)
	parts = append(parts, QuoteIdent(SeqColumn))
	for _, c := range cols {
		parts = append(parts, QuoteIdent(c.Name))
	}
	return strings.Join(parts, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
