package syntax

import (
	"encoding/json"
	"strings"

	"github.com/roach88/huntflow/internal/ir"
)

// Pattern is a boolean filter expression: BoolExpr, Comparison or NullTest.
type Pattern interface {
	Position() Pos
	String() string
	pattern()
}

// BoolOp combines two patterns.
type BoolOp string

const (
	OpAnd BoolOp = "AND"
	OpOr  BoolOp = "OR"
)

// BoolExpr is a binary AND/OR node. Chains are left-associative.
type BoolExpr struct {
	Pos   Pos
	Op    BoolOp
	Left  Pattern
	Right Pattern
}

// Comparison is a leaf `path op value`. Op is one of = != > < >= <= or a
// keyword operator (IN, LIKE, MATCHES, ISSUBSET, ISSUPERSET), which may be
// negated. `==` is normalized to `=` by the parser.
type Comparison struct {
	Pos     Pos
	Path    AttrPath
	Op      string
	Negated bool
	Value   Value
}

// NullTest is `path IS [NOT] NULL`.
type NullTest struct {
	Pos     Pos
	Path    AttrPath
	Negated bool
}

func (p *BoolExpr) Position() Pos   { return p.Pos }
func (p *Comparison) Position() Pos { return p.Pos }
func (p *NullTest) Position() Pos   { return p.Pos }

func (*BoolExpr) pattern()   {}
func (*Comparison) pattern() {}
func (*NullTest) pattern()   {}

func (p *BoolExpr) String() string {
	return "(" + p.Left.String() + " " + string(p.Op) + " " + p.Right.String() + ")"
}

func (p *Comparison) String() string {
	op := p.Op
	if p.Negated {
		op = "NOT " + op
	}
	return p.Path.String() + " " + op + " " + p.Value.String()
}

func (p *NullTest) String() string {
	if p.Negated {
		return p.Path.String() + " IS NOT NULL"
	}
	return p.Path.String() + " IS NULL"
}

func (p *BoolExpr) MarshalJSON() ([]byte, error)   { return json.Marshal(p.String()) }
func (p *Comparison) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }
func (p *NullTest) MarshalJSON() ([]byte, error)   { return json.Marshal(p.String()) }

// AttrPath is an attribute reference with an optional entity-type qualifier.
// Segments are unquoted; `[*]` sets AnyElement.
type AttrPath struct {
	EntityType string
	Segments   []string
	AnyElement bool
}

// Name is the flat attribute (column) name.
func (a AttrPath) Name() string {
	return ir.AttrName(a.Segments)
}

func (a AttrPath) String() string {
	var b strings.Builder
	if a.EntityType != "" {
		b.WriteString(a.EntityType)
		b.WriteByte(':')
	}
	for i, seg := range a.Segments {
		if i > 0 {
			b.WriteByte('.')
		}
		if isBareSegment(seg) {
			b.WriteString(seg)
		} else {
			b.WriteByte('\'')
			b.WriteString(strings.ReplaceAll(seg, "'", `\'`))
			b.WriteByte('\'')
		}
	}
	if a.AnyElement {
		b.WriteString("[*]")
	}
	return b.String()
}

func isBareSegment(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isPathChar(s[i]) {
			return false
		}
	}
	return true
}

// Value is the right-hand side of a comparison or an APPLY argument.
type Value interface {
	String() string
	value()
}

// Literal is a scalar constant.
type Literal struct {
	Value ir.IRValue
}

// List is a parenthesized or bracketed list of values.
type List struct {
	Items []Value
}

// Reference is `variable.attr`: the values of attr across a bound variable.
type Reference struct {
	Variable string
	Attr     string
}

// Bare is an unquoted token. Normalize turns every Bare into a Literal or a
// Reference.
type Bare struct {
	Text string
}

func (Literal) value()   {}
func (List) value()      {}
func (Reference) value() {}
func (Bare) value()      {}

func (l Literal) String() string {
	if s, ok := l.Value.(ir.IRString); ok {
		return "'" + strings.ReplaceAll(string(s), "'", `\'`) + "'"
	}
	if ir.IsNull(l.Value) {
		return "NULL"
	}
	return ir.Text(l.Value)
}

func (l List) String() string {
	parts := make([]string, len(l.Items))
	for i, item := range l.Items {
		parts[i] = item.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (r Reference) String() string { return r.Variable + "." + r.Attr }
func (b Bare) String() string      { return b.Text }

func (l Literal) MarshalJSON() ([]byte, error)   { return ir.MarshalIRValue(l.Value) }
func (l List) MarshalJSON() ([]byte, error)      { return json.Marshal(l.Items) }
func (r Reference) MarshalJSON() ([]byte, error) { return json.Marshal("$" + r.String()) }
func (b Bare) MarshalJSON() ([]byte, error)      { return json.Marshal(b.Text) }

// Walk calls fn for every leaf of p in left-to-right order.
func Walk(p Pattern, fn func(Pattern)) {
	switch n := p.(type) {
	case nil:
	case *BoolExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	default:
		fn(n)
	}
}
