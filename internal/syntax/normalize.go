package syntax

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/suggest"
)

// DefaultVariable is bound by result-producing commands without `VAR =` and
// read by commands that omit their input variable.
const DefaultVariable = "_"

// Defaults are the session-level values Normalize fills in.
type Defaults struct {
	Variable  string
	SortOrder SortOrder
}

// StandardDefaults returns the defaults used when no configuration is given.
func StandardDefaults() Defaults {
	return Defaults{Variable: DefaultVariable, SortOrder: Ascending}
}

// Normalize rewrites prog in place into executable form:
//   - omitted input variables and output bindings become the default variable
//   - omitted sort orders become the default order
//   - bare values become literals, or references when they name a bound
//     variable (`x.pid`)
//
// Every variable read must be bound by an earlier statement; otherwise a
// *SemanticError is returned. bound lists variables that exist before the
// first statement.
func Normalize(prog *Program, d Defaults, bound ...string) error {
	if d.Variable == "" {
		d.Variable = DefaultVariable
	}
	if d.SortOrder == "" {
		d.SortOrder = Ascending
	}

	n := &normalizer{defaults: d, defined: make(map[string]bool)}
	for _, name := range bound {
		n.define(name)
	}
	for _, stmt := range prog.Statements {
		if err := n.statement(stmt); err != nil {
			return err
		}
	}
	return nil
}

type normalizer struct {
	defaults Defaults
	defined  map[string]bool
	order    []string
}

func (n *normalizer) define(name string) {
	if !n.defined[name] {
		n.defined[name] = true
		n.order = append(n.order, name)
	}
}

func (n *normalizer) input(name *string) {
	if *name == "" {
		*name = n.defaults.Variable
	}
}

func (n *normalizer) sortOrder(o *SortOrder) {
	if *o == "" {
		*o = n.defaults.SortOrder
	}
}

func (n *normalizer) statement(stmt *Statement) error {
	switch c := stmt.Command.(type) {
	case *Assign:
		n.expression(&c.Expr)
	case *Disp:
		n.expression(&c.Expr)
	case *Find:
		n.input(&c.Input)
	case *Group:
		n.input(&c.Input)
	case *Sort:
		n.input(&c.Input)
		n.sortOrder(&c.Order)
	case *Info:
		n.input(&c.Input)
	case *Save:
		n.input(&c.Input)
	}

	for _, name := range stmt.Command.Inputs() {
		if !n.defined[name] {
			return &SemanticError{
				Pos:      stmt.Pos,
				Message:  fmt.Sprintf("variable %q is not defined", name),
				Variable: name,
				Hint:     suggest.Hint(name, n.order),
			}
		}
	}

	// Values resolve against variables bound before this statement.
	switch c := stmt.Command.(type) {
	case *Assign:
		c.Expr.Where = n.pattern(c.Expr.Where)
	case *Disp:
		c.Expr.Where = n.pattern(c.Expr.Where)
	case *Find:
		c.Where = n.pattern(c.Where)
	case *Get:
		c.Where = n.pattern(c.Where)
	case *Apply:
		for i := range c.Args {
			c.Args[i].Value = n.value(c.Args[i].Value)
		}
	}

	if stmt.Command.Kind().ProducesResult() {
		if stmt.Output == "" {
			stmt.Output = n.defaults.Variable
		}
		n.define(stmt.Output)
	}
	return nil
}

func (n *normalizer) expression(e *Expression) {
	n.input(&e.Input)
	if e.Sort != nil {
		n.sortOrder(&e.Sort.Order)
	}
}

func (n *normalizer) pattern(p Pattern) Pattern {
	switch node := p.(type) {
	case *BoolExpr:
		node.Left = n.pattern(node.Left)
		node.Right = n.pattern(node.Right)
	case *Comparison:
		node.Value = n.value(node.Value)
	}
	return p
}

func (n *normalizer) value(v Value) Value {
	switch val := v.(type) {
	case Bare:
		return n.bare(val.Text)
	case List:
		items := slices.Clone(val.Items)
		for i, item := range items {
			items[i] = n.value(item)
		}
		return List{Items: items}
	}
	return v
}

func (n *normalizer) bare(text string) Value {
	if name, attr, ok := strings.Cut(text, "."); ok && attr != "" && n.defined[name] {
		return Reference{Variable: name, Attr: attr}
	}
	switch strings.ToUpper(text) {
	case "TRUE":
		return Literal{Value: ir.IRBool(true)}
	case "FALSE":
		return Literal{Value: ir.IRBool(false)}
	case "NULL":
		return Literal{Value: ir.IRNull{}}
	}
	return Literal{Value: ir.IRString(text)}
}
