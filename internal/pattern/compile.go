package pattern

import (
	"context"
	"fmt"
	"regexp"

	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/stix"
	"github.com/roach88/huntflow/internal/syntax"
)

// PatternError is a WHERE clause that parses but cannot be compiled: an
// operator given the wrong value shape, or an attribute path whose entity
// type qualifier is unknown or does not match the subject.
type PatternError struct {
	Pos     syntax.Pos
	Leaf    string
	Message string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("pattern error at %s: %s in `%s`", e.Pos, e.Message, e.Leaf)
}

// Resolver supplies the values a `variable.attr` reference stands for: the
// distinct non-null values of attr over the variable's rows.
type Resolver interface {
	ResolveReference(ctx context.Context, variable, attr string) ([]ir.IRValue, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, variable, attr string) ([]ir.IRValue, error)

func (f ResolverFunc) ResolveReference(ctx context.Context, variable, attr string) ([]ir.IRValue, error) {
	return f(ctx, variable, attr)
}

// Compile lowers a normalized syntax pattern to a Predicate over rows of
// entityType. entityType may be empty when the subject type is not known
// yet; qualifiers are then only checked against the catalog.
//
// A nil pattern compiles to a nil Predicate (no filter). References are
// resolved through r at compile time, so the predicate sees the referenced
// variable as it is when the statement runs.
func Compile(ctx context.Context, p syntax.Pattern, entityType string, r Resolver) (Predicate, error) {
	if p == nil {
		return nil, nil
	}
	c := &compiler{ctx: ctx, entityType: entityType, resolver: r}
	return c.compile(p)
}

type compiler struct {
	ctx        context.Context
	entityType string
	resolver   Resolver
}

func (c *compiler) compile(p syntax.Pattern) (Predicate, error) {
	switch n := p.(type) {
	case *syntax.BoolExpr:
		left, err := c.compile(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.compile(n.Right)
		if err != nil {
			return nil, err
		}
		if n.Op == syntax.OpAnd {
			return And{Left: left, Right: right}, nil
		}
		return Or{Left: left, Right: right}, nil
	case *syntax.NullTest:
		attr, err := c.attr(n, n.Path)
		if err != nil {
			return nil, err
		}
		return NullTest{Attr: attr, Negated: n.Negated}, nil
	case *syntax.Comparison:
		return c.comparison(n)
	default:
		return nil, fmt.Errorf("unsupported pattern node: %T", p)
	}
}

func (c *compiler) fail(leaf syntax.Pattern, format string, args ...any) error {
	return &PatternError{Pos: leaf.Position(), Leaf: leaf.String(), Message: fmt.Sprintf(format, args...)}
}

func (c *compiler) attr(leaf syntax.Pattern, path syntax.AttrPath) (Attr, error) {
	if q := path.EntityType; q != "" {
		if !stix.IsEntityType(q) {
			return Attr{}, c.fail(leaf, "unknown entity type %q", q)
		}
		if c.entityType != "" && q != c.entityType {
			return Attr{}, c.fail(leaf, "entity type %q does not match %q", q, c.entityType)
		}
	}
	return Attr{Name: path.Name(), AnyElement: path.AnyElement}, nil
}

func (c *compiler) comparison(n *syntax.Comparison) (Predicate, error) {
	attr, err := c.attr(n, n.Path)
	if err != nil {
		return nil, err
	}
	op := Op(n.Op)
	if n.Negated && !op.IsKeyword() {
		return nil, c.fail(n, "operator %s cannot be negated", op)
	}
	if attr.AnyElement && (op == IsSubset || op == IsSuperset) {
		return nil, c.fail(n, "%s compares whole lists and does not take [*]", op)
	}

	if ref, ok := n.Value.(syntax.Reference); ok {
		return c.reference(n, attr, op, ref)
	}

	if op.TakesList() {
		list, ok := n.Value.(syntax.List)
		if !ok {
			return nil, c.fail(n, "%s requires a list value", op)
		}
		values, err := c.list(n, list)
		if err != nil {
			return nil, err
		}
		return Compare{Attr: attr, Op: op, Negated: n.Negated, List: values}, nil
	}

	lit, ok := n.Value.(syntax.Literal)
	if !ok {
		return nil, c.fail(n, "%s requires a single value", op)
	}
	if !ir.IsScalar(lit.Value) {
		return nil, c.fail(n, "%s requires a scalar value", op)
	}
	if ir.IsNull(lit.Value) {
		switch op {
		case Eq:
			return NullTest{Attr: attr}, nil
		case Ne:
			return NullTest{Attr: attr, Negated: true}, nil
		}
		return nil, c.fail(n, "NULL can only be compared with = or !=")
	}
	if op == Like || op == Matches {
		str, ok := lit.Value.(ir.IRString)
		if !ok {
			return nil, c.fail(n, "%s requires a string value", op)
		}
		if op == Matches {
			if _, err := regexp.Compile(string(str)); err != nil {
				return nil, c.fail(n, "invalid regular expression: %v", err)
			}
		}
	}
	return Compare{Attr: attr, Op: op, Negated: n.Negated, Value: lit.Value}, nil
}

// reference turns `attr = var.x` into membership in the values of x.
func (c *compiler) reference(n *syntax.Comparison, attr Attr, op Op, ref syntax.Reference) (Predicate, error) {
	negated := n.Negated
	switch op {
	case Eq, In:
	case Ne:
		negated = true
	default:
		return nil, c.fail(n, "reference %s needs =, != or IN", ref)
	}
	values, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}
	return Compare{Attr: attr, Op: In, Negated: negated, List: values}, nil
}

func (c *compiler) list(n *syntax.Comparison, list syntax.List) ([]ir.IRValue, error) {
	values := make([]ir.IRValue, 0, len(list.Items))
	for _, item := range list.Items {
		switch v := item.(type) {
		case syntax.Literal:
			if !ir.IsScalar(v.Value) {
				return nil, c.fail(n, "list items must be scalars")
			}
			values = append(values, v.Value)
		case syntax.Reference:
			resolved, err := c.resolve(v)
			if err != nil {
				return nil, err
			}
			values = append(values, resolved...)
		case syntax.List:
			return nil, c.fail(n, "lists cannot be nested")
		default:
			return nil, c.fail(n, "unresolved value %s", item)
		}
	}
	return values, nil
}

func (c *compiler) resolve(ref syntax.Reference) ([]ir.IRValue, error) {
	if c.resolver == nil {
		return nil, fmt.Errorf("reference %s: no variables available", ref)
	}
	values, err := c.resolver.ResolveReference(c.ctx, ref.Variable, ref.Attr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return values, nil
}
