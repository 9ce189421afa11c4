package pattern

import (
	"strings"

	"github.com/roach88/huntflow/internal/ir"
)

// Predicate is a compiled filter over the rows of one entity row set.
//
// This is a sealed interface - only types in this package implement it.
// Backends (see internal/querysql) switch over the concrete types
// exhaustively.
//
// Predicate types:
//   - And, Or: binary combinators, evaluated left to right
//   - Compare: attribute op value(s)
//   - NullTest: attribute IS [NOT] NULL
type Predicate interface {
	String() string
	predicateNode() // Marker method - seals interface to this package
}

// Op is a resolved comparison operator.
type Op string

const (
	Eq         Op = "="
	Ne         Op = "!="
	Gt         Op = ">"
	Lt         Op = "<"
	Ge         Op = ">="
	Le         Op = "<="
	In         Op = "IN"
	Like       Op = "LIKE"
	Matches    Op = "MATCHES"
	IsSubset   Op = "ISSUBSET"
	IsSuperset Op = "ISSUPERSET"
)

// TakesList reports whether the operator compares against a value list.
func (o Op) TakesList() bool {
	return o == In || o == IsSubset || o == IsSuperset
}

// IsKeyword reports whether the operator is spelled as a word. Only keyword
// operators may be negated.
func (o Op) IsKeyword() bool {
	switch o {
	case In, Like, Matches, IsSubset, IsSuperset:
		return true
	}
	return false
}

// Attr is a resolved attribute column.
type Attr struct {
	// Name is the flattened column name (dotted for nested attributes).
	Name string

	// AnyElement marks `attr[*]`: the column holds a list and the comparison
	// holds when any element satisfies it.
	AnyElement bool
}

func (a Attr) String() string {
	if a.AnyElement {
		return a.Name + "[*]"
	}
	return a.Name
}

// And holds when both sides hold.
type And struct {
	Left, Right Predicate
}

// Or holds when either side holds.
type Or struct {
	Left, Right Predicate
}

// Compare tests an attribute against a scalar Value or, for list
// operators, against List.
//
// A negated Compare holds exactly on the rows where the positive form does
// not, including rows where the attribute is NULL.
type Compare struct {
	Attr    Attr
	Op      Op
	Negated bool
	Value   ir.IRValue
	List    []ir.IRValue
}

// NullTest is `attr IS NULL`, or `attr IS NOT NULL` when Negated.
type NullTest struct {
	Attr    Attr
	Negated bool
}

func (And) predicateNode()      {}
func (Or) predicateNode()       {}
func (Compare) predicateNode()  {}
func (NullTest) predicateNode() {}

func (p And) String() string { return "(" + p.Left.String() + " AND " + p.Right.String() + ")" }
func (p Or) String() string  { return "(" + p.Left.String() + " OR " + p.Right.String() + ")" }

func (p Compare) String() string {
	var b strings.Builder
	b.WriteString(p.Attr.String())
	b.WriteByte(' ')
	if p.Negated {
		b.WriteString("NOT ")
	}
	b.WriteString(string(p.Op))
	b.WriteByte(' ')
	if p.Op.TakesList() {
		parts := make([]string, len(p.List))
		for i, v := range p.List {
			parts[i] = literal(v)
		}
		b.WriteString("(" + strings.Join(parts, ", ") + ")")
	} else {
		b.WriteString(literal(p.Value))
	}
	return b.String()
}

func (p NullTest) String() string {
	if p.Negated {
		return p.Attr.String() + " IS NOT NULL"
	}
	return p.Attr.String() + " IS NULL"
}

func literal(v ir.IRValue) string {
	if s, ok := v.(ir.IRString); ok {
		return "'" + strings.ReplaceAll(string(s), "'", `\'`) + "'"
	}
	if ir.IsNull(v) {
		return "NULL"
	}
	return ir.Text(v)
}

// Attributes returns the distinct attribute names p reads, in first-use
// order.
func Attributes(p Predicate) []string {
	var names []string
	seen := make(map[string]bool)
	var visit func(Predicate)
	visit = func(p Predicate) {
		var name string
		switch n := p.(type) {
		case nil:
			return
		case And:
			visit(n.Left)
			visit(n.Right)
			return
		case Or:
			visit(n.Left)
			visit(n.Right)
			return
		case Compare:
			name = n.Attr.Name
		case NullTest:
			name = n.Attr.Name
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	visit(p)
	return names
}
