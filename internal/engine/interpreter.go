package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/huntflow/internal/analytics"
	"github.com/roach88/huntflow/internal/connector"
	"github.com/roach88/huntflow/internal/fileio"
	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/pattern"
	"github.com/roach88/huntflow/internal/querysql"
	"github.com/roach88/huntflow/internal/stix"
	"github.com/roach88/huntflow/internal/store"
	"github.com/roach88/huntflow/internal/suggest"
	"github.com/roach88/huntflow/internal/syntax"
)

// Execute parses source and runs its statements in order.
//
// A syntax error or a reference to an undefined variable rejects the whole
// program before anything runs. Otherwise execution stops at the first
// failing statement; variables bound by earlier statements stay bound. The
// returned traces cover the statements that completed.
//
// Variables bound by an earlier Execute call on the same session are
// visible. Outputs of APPLY that name new variables are bound at run time,
// so only later Execute calls can refer to them.
func (s *Session) Execute(ctx context.Context, source string) ([]Trace, error) {
	if s.closed {
		return nil, errors.New("session is closed")
	}

	prog, err := Compile(source, s.defaults, s.order...)
	if err != nil {
		return nil, err
	}

	traces := make([]Trace, 0, len(prog.Statements))
	for i, stmt := range prog.Statements {
		tr, err := s.execute(ctx, stmt)
		if err != nil {
			e := classify(err)
			e.Statement = i + 1
			e.Command = stmt.Command.Kind().String()
			if e.Pos.Line == 0 {
				e.Pos = stmt.Pos
			}
			if len(e.Variables) == 0 {
				e.Variables = statementVariables(stmt)
			}
			return traces, e
		}
		traces = append(traces, tr)
	}
	return traces, nil
}

// Compile parses and normalizes source without executing it. bound names
// the variables already defined by earlier programs. Every failure is an
// *Error whose Statement locates the offending statement, if any.
func Compile(source string, d syntax.Defaults, bound ...string) (*syntax.Program, error) {
	prog, err := syntax.Parse(source)
	if err != nil {
		return nil, classify(err)
	}
	if err := syntax.Normalize(prog, d, bound...); err != nil {
		e := classify(err)
		for i, stmt := range prog.Statements {
			if stmt.Pos == e.Pos {
				e.Statement = i + 1
				e.Command = stmt.Command.Kind().String()
			}
		}
		return nil, e
	}
	return prog, nil
}

func statementVariables(stmt *syntax.Statement) []string {
	vars := slices.Clone(stmt.Command.Inputs())
	if stmt.Output != "" && !slices.Contains(vars, stmt.Output) {
		vars = append(vars, stmt.Output)
	}
	return vars
}

// execute runs one statement under the statement timeout.
func (s *Session) execute(ctx context.Context, stmt *syntax.Statement) (Trace, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return Trace{}, err
	}

	seq := s.seq.next()
	id, err := ir.StatementID(stmt.Text, seq)
	if err != nil {
		return Trace{}, err
	}
	kind := stmt.Command.Kind()
	in := &interpreter{
		s:    s,
		ctx:  ctx,
		stmt: stmt,
		trace: Trace{
			ID:      id,
			Seq:     seq,
			Command: kind.String(),
			Output:  stmt.Output,
			Inputs:  stmt.Command.Inputs(),
		},
	}
	s.logger.Debug("executing statement",
		"id", id,
		"seq", in.trace.Seq,
		"command", in.trace.Command,
		"output", stmt.Output)

	if err := stmt.Command.Accept(in); err != nil {
		return Trace{}, err
	}
	return in.trace, nil
}

// interpreter executes a single statement. It implements syntax.Visitor,
// one method per command kind, and pattern.Resolver for `var.attr` values.
type interpreter struct {
	s     *Session
	ctx   context.Context
	stmt  *syntax.Statement
	trace Trace
}

var (
	_ syntax.Visitor   = (*interpreter)(nil)
	_ pattern.Resolver = (*interpreter)(nil)
)

func (in *interpreter) provenance() string {
	return strings.ToUpper(in.stmt.Command.Kind().String())
}

// result binds rs to the statement's output variable.
func (in *interpreter) result(rs store.RowSet, datasources []string) {
	in.s.bind(in.ctx, Variable{
		Name:        in.stmt.Output,
		EntityType:  rs.EntityType,
		RowSet:      rs,
		Provenance:  in.provenance(),
		Datasources: datasources,
	})
	in.trace.EntityType = rs.EntityType
	in.trace.Count = rs.Count
}

// empty reports whether v has no rows and no schema. Attribute checks are
// skipped for such variables: every attribute is simply unset.
func empty(v Variable) bool {
	return v.RowSet.Count == 0 && len(v.RowSet.Columns) == 0
}

// checkAttrs fails unless v has every attribute in attrs.
func (in *interpreter) checkAttrs(v Variable, attrs []string, extra ...string) error {
	if empty(v) {
		return nil
	}
	for _, attr := range attrs {
		if v.RowSet.HasAttribute(attr) || slices.Contains(extra, attr) {
			continue
		}
		e := semanticError("variable %q (%s) has no attribute %q", v.Name, v.EntityType, attr)
		e.Variables = []string{v.Name}
		e.Hint = suggest.Hint(attr, append(v.RowSet.Attributes(), extra...))
		return e
	}
	return nil
}

func (in *interpreter) compile(p syntax.Pattern, entityType string) (pattern.Predicate, error) {
	return pattern.Compile(in.ctx, p, entityType, in)
}

// ResolveReference returns the values of attr in variable for `var.attr`.
func (in *interpreter) ResolveReference(ctx context.Context, variable, attr string) ([]ir.IRValue, error) {
	v, err := in.s.lookup(variable)
	if err != nil {
		return nil, err
	}
	if empty(v) {
		return nil, nil
	}
	if err := in.checkAttrs(v, []string{attr}); err != nil {
		return nil, err
	}
	return in.s.store.Values(ctx, v.RowSet, attr)
}

func (in *interpreter) path(p string) string {
	if filepath.IsAbs(p) || in.s.baseDir == "" {
		return p
	}
	return filepath.Join(in.s.baseDir, p)
}

// span is a resolved timespan.
type span struct {
	start, stop time.Time
}

func (in *interpreter) resolveSpan(ts syntax.Timespan) *span {
	if ts == nil {
		return nil
	}
	start, stop := ts.Resolve(in.s.clock.Now())
	return &span{start: start.UTC(), stop: stop.UTC()}
}

func (sp *span) query(q *connector.Query) {
	if sp == nil {
		return
	}
	q.HasSpan = true
	q.Start, q.Stop = sp.start, sp.stop
}

// spanPredicate keeps rows whose first set timestamp attribute lies within
// sp, both ends inclusive. ok is false when rs has no timestamp attribute.
func (in *interpreter) spanPredicate(rs store.RowSet, sp *span) (p pattern.Predicate, ok bool) {
	start := ir.IRString(sp.start.Format(syntax.TimestampLayout))
	stop := ir.IRString(sp.stop.Format(syntax.TimestampLayout))

	var unset pattern.Predicate // earlier timestamp attributes are all NULL
	for _, attr := range in.s.tsAttrs {
		if !rs.HasAttribute(attr) {
			continue
		}
		a := pattern.Attr{Name: attr}
		var within pattern.Predicate = pattern.And{
			Left:  pattern.Compare{Attr: a, Op: pattern.Ge, Value: start},
			Right: pattern.Compare{Attr: a, Op: pattern.Le, Value: stop},
		}
		if unset != nil {
			within = pattern.And{Left: unset, Right: within}
		}
		if p == nil {
			p = within
		} else {
			p = pattern.Or{Left: p, Right: within}
		}
		isNull := pattern.NullTest{Attr: a}
		if unset == nil {
			unset = isNull
		} else {
			unset = pattern.And{Left: unset, Right: isNull}
		}
	}
	return p, p != nil
}

// filter applies where, the timespan and the limit to rs.
func (in *interpreter) filter(rs store.RowSet, where pattern.Predicate, sp *span, limit *int) (store.RowSet, error) {
	if len(rs.Columns) == 0 || (where == nil && sp == nil && limit == nil) {
		return rs, nil
	}
	if sp != nil {
		p, ok := in.spanPredicate(rs, sp)
		if !ok {
			// Rows without timestamps are outside every timespan.
			zero := 0
			limit = &zero
		} else if where == nil {
			where = p
		} else {
			where = pattern.And{Left: where, Right: p}
		}
	}
	sel := store.Selection{SelectSpec: querysql.SelectSpec{Where: where, Limit: limit}}
	return in.s.store.Select(in.ctx, rs, sel, in.provenance())
}

// fetch gets and materializes entityType from each datasource in turn.
func (in *interpreter) fetch(datasources []string, q connector.Query) ([]store.RowSet, error) {
	sets := make([]store.RowSet, 0, len(datasources))
	for _, ds := range datasources {
		rows, err := in.s.connectors.Fetch(in.ctx, ds, q)
		if err != nil {
			return nil, err
		}
		rows, err = in.s.ingest(q.EntityType, rows)
		if err != nil {
			return nil, err
		}
		rs, err := in.s.store.Materialize(in.ctx, in.s.id, q.EntityType, rows, in.provenance())
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}
	return sets, nil
}

func (in *interpreter) union(sets []store.RowSet) (store.RowSet, error) {
	if len(sets) == 1 {
		return sets[0], nil
	}
	return in.s.store.Union(in.ctx, sets, in.provenance())
}

func (in *interpreter) materialize(entityType string, rows []ir.IRObject) (store.RowSet, error) {
	rows, err := in.s.ingest(entityType, rows)
	if err != nil {
		return store.RowSet{}, err
	}
	return in.s.store.Materialize(in.ctx, in.s.id, entityType, rows, in.provenance())
}

// eval runs the expression pipeline: transform, filter, project, sort,
// window. It returns the source variable alongside the result.
func (in *interpreter) eval(expr syntax.Expression) (store.RowSet, Variable, error) {
	src, err := in.s.lookup(expr.Input)
	if err != nil {
		return store.RowSet{}, Variable{}, err
	}
	if expr.IsIdentity() || empty(src) {
		return src.RowSet, src, nil
	}

	where, err := in.compile(expr.Where, src.EntityType)
	if err != nil {
		return store.RowSet{}, Variable{}, err
	}

	var extra []string
	timestamped := expr.Transform == syntax.TransformTimestamped
	if timestamped {
		extra = append(extra, querysql.TimestampColumn)
	}
	attrs := append(pattern.Attributes(where), expr.Attrs...)
	if expr.Sort != nil {
		attrs = append(attrs, expr.Sort.Attr)
	}
	if err := in.checkAttrs(src, attrs, extra...); err != nil {
		return store.RowSet{}, Variable{}, err
	}

	sel := store.Selection{
		SelectSpec: querysql.SelectSpec{
			Where:  where,
			Attrs:  expr.Attrs,
			Limit:  expr.Limit,
			Offset: expr.Offset,
		},
		Timestamped:    timestamped,
		TimestampAttrs: in.s.tsAttrs,
	}
	if expr.Sort != nil {
		sel.Sort = []querysql.SortKey{{Attr: expr.Sort.Attr, Desc: expr.Sort.Order == syntax.Descending}}
	}
	rs, err := in.s.store.Select(in.ctx, src.RowSet, sel, in.provenance())
	if err != nil {
		return store.RowSet{}, Variable{}, err
	}
	return rs, src, nil
}

func (in *interpreter) VisitAssign(c *syntax.Assign) error {
	rs, src, err := in.eval(c.Expr)
	if err != nil {
		return err
	}
	in.result(rs, src.Datasources)
	return nil
}

func (in *interpreter) VisitDisp(c *syntax.Disp) error {
	rs, _, err := in.eval(c.Expr)
	if err != nil {
		return err
	}
	rows, err := in.s.store.Rows(in.ctx, rs)
	if err != nil {
		return err
	}
	in.trace.EntityType = rs.EntityType
	in.trace.Count = int64(len(rows))
	return in.s.output.Display(Display{
		Statement:  in.trace.Seq,
		Text:       in.stmt.Text,
		EntityType: rs.EntityType,
		Attributes: rs.Attributes(),
		Rows:       rows,
	})
}

func (in *interpreter) VisitGet(c *syntax.Get) error {
	datasources := c.Datasources
	if len(datasources) == 0 {
		datasources = in.s.lastDS
	}
	if len(datasources) == 0 && in.s.defaultDS != "" {
		datasources = []string{in.s.defaultDS}
	}
	if len(datasources) == 0 {
		return &Error{
			Code:    ErrCodeDataSource,
			Message: fmt.Sprintf("GET %s has no FROM and no datasource has been used or configured", c.EntityType),
		}
	}

	where, err := in.compile(c.Where, c.EntityType)
	if err != nil {
		return err
	}
	sp := in.resolveSpan(c.Span)
	q := connector.Query{EntityType: c.EntityType, Where: where, Limit: c.Limit}
	sp.query(&q)

	sets, err := in.fetch(datasources, q)
	if err != nil {
		return err
	}
	all, err := in.union(sets)
	if err != nil {
		return err
	}
	rs, err := in.filter(all, where, sp, c.Limit)
	if err != nil {
		return err
	}

	in.s.lastDS = slices.Clone(datasources)
	in.result(rs, slices.Clone(datasources))
	return nil
}

func (in *interpreter) VisitFind(c *syntax.Find) error {
	input, err := in.s.lookup(c.Input)
	if err != nil {
		return err
	}
	links, err := stix.Links(c.EntityType, c.Relation, input.EntityType, c.Reversed)
	if err != nil {
		e := semanticError("%v", err)
		e.Variables = []string{input.Name}
		if !stix.IsRelation(c.Relation) {
			e.Hint = suggest.Hint(c.Relation, stix.Relations())
		}
		return e
	}

	where, err := in.compile(c.Where, c.EntityType)
	if err != nil {
		return err
	}
	sp := in.resolveSpan(c.Span)

	// Candidates are the entities of the result type from the datasources
	// the input came from, plus every such entity already in the session.
	var pool []store.RowSet
	if len(input.Datasources) > 0 {
		q := connector.Query{EntityType: c.EntityType, Where: where}
		sp.query(&q)
		fetched, err := in.fetch(input.Datasources, q)
		if err != nil {
			return err
		}
		pool = append(pool, fetched...)
	}
	seen := make(map[string]bool)
	for _, name := range in.s.order {
		v := in.s.vars[name]
		if v.EntityType != c.EntityType || seen[v.RowSet.ID] || !v.RowSet.HasAttribute(stix.IDAttr) {
			continue
		}
		seen[v.RowSet.ID] = true
		pool = append(pool, v.RowSet)
	}

	if len(pool) == 0 {
		rs, err := in.s.store.Materialize(in.ctx, in.s.id, c.EntityType, nil, in.provenance())
		if err != nil {
			return err
		}
		in.result(rs, input.Datasources)
		return nil
	}

	// An entity fetched again, or held by several variables, is one
	// candidate: the pool collapses on id, first occurrence winning.
	candidates := pool[0]
	if len(pool) > 1 {
		if !slices.ContainsFunc(pool, func(rs store.RowSet) bool { return rs.HasAttribute(stix.IDAttr) }) {
			candidates, err = in.union(pool)
		} else {
			candidates, err = in.s.store.UnionBy(in.ctx, pool, stix.IDAttr, in.provenance())
		}
		if err != nil {
			return err
		}
	}
	if candidates, err = in.filter(candidates, nil, sp, nil); err != nil {
		return err
	}
	rs, err := in.s.store.Related(in.ctx, candidates, input.RowSet, links, where, c.Limit, in.provenance())
	if err != nil {
		return err
	}
	in.result(rs, input.Datasources)
	return nil
}

func (in *interpreter) VisitGroup(c *syntax.Group) error {
	v, err := in.s.lookup(c.Input)
	if err != nil {
		return err
	}
	aggs := c.Aggs
	if len(aggs) == 0 {
		aggs = []syntax.Aggregation{syntax.DefaultAggregation()}
	}

	var attrs []string
	keys := make([]querysql.GroupKey, len(c.Keys))
	for i, k := range c.Keys {
		attrs = append(attrs, k.Attr)
		keys[i] = querysql.GroupKey{Attr: k.Attr, Alias: k.Alias()}
		if k.Bin == nil {
			continue
		}
		if k.Bin.N <= 0 {
			return semanticError("BIN(%s) bucket size must be positive, got %d", k.Attr, k.Bin.N)
		}
		if k.Bin.Unit == syntax.UnitNone {
			keys[i].Bin = &querysql.Bin{Size: int64(k.Bin.N)}
		} else {
			seconds := int64(k.Bin.Unit.Duration() / time.Second)
			keys[i].Bin = &querysql.Bin{Size: int64(k.Bin.N) * seconds, Time: true}
		}
	}
	qaggs := make([]querysql.Aggregation, len(aggs))
	for i, a := range aggs {
		if a.Attr != "*" {
			attrs = append(attrs, a.Attr)
		}
		qaggs[i] = querysql.Aggregation{Func: string(a.Func), Attr: a.Attr, Alias: a.Alias}
	}
	if err := in.checkAttrs(v, attrs); err != nil {
		return err
	}

	if empty(v) {
		rs, err := in.s.store.Materialize(in.ctx, in.s.id, v.EntityType, nil, in.provenance())
		if err != nil {
			return err
		}
		in.result(rs, v.Datasources)
		return nil
	}
	rs, err := in.s.store.Aggregate(in.ctx, v.RowSet, keys, qaggs, in.provenance())
	if err != nil {
		return err
	}
	in.result(rs, v.Datasources)
	return nil
}

func (in *interpreter) VisitJoin(c *syntax.Join) error {
	left, err := in.s.lookup(c.Left)
	if err != nil {
		return err
	}
	right, err := in.s.lookup(c.Right)
	if err != nil {
		return err
	}
	if empty(left) || empty(right) {
		rs, err := in.s.store.Materialize(in.ctx, in.s.id, left.EntityType, nil, in.provenance())
		if err != nil {
			return err
		}
		in.result(rs, left.Datasources)
		return nil
	}

	pair := querysql.KeyPair{Left: c.LeftAttr, Right: c.RightAttr}
	if pair.Left == "" {
		key, err := defaultJoinKey(left, right)
		if err != nil {
			return err
		}
		pair = querysql.KeyPair{Left: key, Right: key}
	}
	if err := in.checkAttrs(left, []string{pair.Left}); err != nil {
		return err
	}
	if err := in.checkAttrs(right, []string{pair.Right}); err != nil {
		return err
	}
	lc, _ := left.RowSet.Table().Column(pair.Left)
	rc, _ := right.RowSet.Table().Column(pair.Right)
	if (lc.Kind == querysql.KindJSON) != (rc.Kind == querysql.KindJSON) {
		return semanticError("cannot join %s.%s (%s) with %s.%s (%s)",
			left.Name, pair.Left, lc.Kind, right.Name, pair.Right, rc.Kind)
	}

	rs, err := in.s.store.Join(in.ctx, left.RowSet, right.RowSet, []querysql.KeyPair{pair}, in.provenance())
	if err != nil {
		return err
	}
	in.result(rs, left.Datasources)
	return nil
}

// defaultJoinKey is "id" when both sides have it, else the first identity
// attribute of the left entity type that both sides have.
func defaultJoinKey(left, right Variable) (string, error) {
	candidates := append([]string{stix.IDAttr}, stix.IdentityAttributes(left.EntityType)...)
	for _, attr := range candidates {
		if left.RowSet.HasAttribute(attr) && right.RowSet.HasAttribute(attr) {
			return attr, nil
		}
	}
	e := semanticError("no default join key for %s (%s) and %s (%s); name one with BY", left.Name, left.EntityType, right.Name, right.EntityType)
	e.Variables = []string{left.Name, right.Name}
	return "", e
}

func (in *interpreter) VisitLoad(c *syntax.Load) error {
	path := in.path(c.Path)
	rows, err := fileio.Load(path)
	if err != nil {
		return err
	}
	typ := c.EntityType
	if typ == "" {
		if typ, err = inferType(rows, path); err != nil {
			return err
		}
	}
	rs, err := in.materialize(typ, rows)
	if err != nil {
		return err
	}
	in.result(rs, nil)
	return nil
}

func (in *interpreter) VisitMerge(c *syntax.Merge) error {
	sets := make([]store.RowSet, 0, len(c.Sources))
	var first Variable
	var datasources []string
	for i, name := range c.Sources {
		v, err := in.s.lookup(name)
		if err != nil {
			return err
		}
		if i == 0 {
			first = v
		} else if v.EntityType != first.EntityType {
			e := semanticError("cannot merge %s (%s) with %s (%s)", first.Name, first.EntityType, v.Name, v.EntityType)
			e.Variables = []string{first.Name, v.Name}
			return e
		}
		sets = append(sets, v.RowSet)
		for _, ds := range v.Datasources {
			if !slices.Contains(datasources, ds) {
				datasources = append(datasources, ds)
			}
		}
	}
	rs, err := in.s.store.Union(in.ctx, sets, in.provenance())
	if err != nil {
		return err
	}
	in.result(rs, datasources)
	return nil
}

func (in *interpreter) VisitNew(c *syntax.New) error {
	rows, typ, err := newRows(c)
	if err != nil {
		return err
	}
	rs, err := in.materialize(typ, rows)
	if err != nil {
		return err
	}
	in.result(rs, nil)
	return nil
}

// newRows turns NEW entries into rows. Scalar entries become the default
// attribute of the entity type; object entries are rows as given.
func newRows(c *syntax.New) ([]ir.IRObject, string, error) {
	rows := make([]ir.IRObject, 0, len(c.Entries))
	scalars := 0
	for i, entry := range c.Entries {
		switch v := entry.(type) {
		case ir.IRObject:
			rows = append(rows, v)
		case ir.IRArray:
			return nil, "", validationError("NEW entry %d is a list; entries must be objects or scalars", i+1)
		case ir.IRNull:
			return nil, "", validationError("NEW entry %d is null", i+1)
		default:
			if c.EntityType == "" {
				return nil, "", validationError("NEW with scalar entries needs an entity type")
			}
			rows = append(rows, ir.IRObject{stix.DefaultAttribute(c.EntityType): v})
			scalars++
		}
	}
	if scalars > 0 && scalars < len(rows) {
		return nil, "", validationError("NEW entries mix scalars and objects")
	}

	typ := c.EntityType
	if typ == "" {
		var err error
		if typ, err = inferType(rows, "NEW entries"); err != nil {
			return nil, "", err
		}
	}
	return rows, typ, nil
}

func (in *interpreter) VisitSort(c *syntax.Sort) error {
	v, err := in.s.lookup(c.Input)
	if err != nil {
		return err
	}
	if err := in.checkAttrs(v, []string{c.Attr}); err != nil {
		return err
	}
	if empty(v) {
		in.result(v.RowSet, v.Datasources)
		return nil
	}
	sel := store.Selection{SelectSpec: querysql.SelectSpec{
		Sort: []querysql.SortKey{{Attr: c.Attr, Desc: c.Order == syntax.Descending}},
	}}
	rs, err := in.s.store.Select(in.ctx, v.RowSet, sel, in.provenance())
	if err != nil {
		return err
	}
	in.result(rs, v.Datasources)
	return nil
}

func (in *interpreter) VisitApply(c *syntax.Apply) error {
	inputs := make([]analytics.Input, 0, len(c.Variables))
	for _, name := range c.Variables {
		v, err := in.s.lookup(name)
		if err != nil {
			return err
		}
		rows, err := in.s.store.Rows(in.ctx, v.RowSet)
		if err != nil {
			return err
		}
		inputs = append(inputs, analytics.Input{Name: name, EntityType: v.EntityType, Rows: rows})
	}

	args := make(ir.IRObject, len(c.Args))
	for _, arg := range c.Args {
		val, err := in.argValue(arg.Value)
		if err != nil {
			return err
		}
		args[arg.Name] = val
	}

	res, err := in.s.analytics.Apply(in.ctx, analytics.Request{Locator: c.Locator, Inputs: inputs, Args: args})
	if err != nil {
		return err
	}

	// Materialize every output before binding any, so a bad output leaves
	// the session unchanged.
	bound := make([]Variable, 0, len(res.Outputs))
	for _, out := range res.Outputs {
		prev, hadPrev := in.s.vars[out.Name]
		typ := out.EntityType
		if typ == "" && hadPrev {
			typ = prev.EntityType
		}
		if typ == "" {
			return validationError("analytics %q returned %q without an entity type", c.Locator, out.Name)
		}
		rs, err := in.materialize(typ, out.Rows)
		if err != nil {
			return err
		}
		bound = append(bound, Variable{
			Name:        out.Name,
			EntityType:  typ,
			RowSet:      rs,
			Provenance:  in.provenance(),
			Datasources: prev.Datasources,
		})
	}
	for _, v := range bound {
		in.s.bind(in.ctx, v)
		in.trace.Count += v.RowSet.Count
	}
	in.trace.Warnings = res.Warnings
	return nil
}

// argValue evaluates an APPLY argument.
func (in *interpreter) argValue(v syntax.Value) (ir.IRValue, error) {
	switch val := v.(type) {
	case syntax.Literal:
		return val.Value, nil
	case syntax.List:
		items := make(ir.IRArray, 0, len(val.Items))
		for _, item := range val.Items {
			iv, err := in.argValue(item)
			if err != nil {
				return nil, err
			}
			items = append(items, iv)
		}
		return items, nil
	case syntax.Reference:
		values, err := in.ResolveReference(in.ctx, val.Variable, val.Attr)
		if err != nil {
			return nil, err
		}
		return ir.IRArray(values), nil
	case syntax.Bare:
		return ir.IRString(val.Text), nil
	}
	return nil, semanticError("unsupported argument value %T", v)
}

func (in *interpreter) VisitInfo(c *syntax.Info) error {
	v, err := in.s.lookup(c.Input)
	if err != nil {
		return err
	}
	desc, err := in.s.store.Describe(in.ctx, v.RowSet)
	if err != nil {
		return err
	}
	in.trace.EntityType = v.EntityType
	in.trace.Count = desc.Count
	return in.s.output.Info(VariableInfo{
		Statement:   in.trace.Seq,
		Variable:    v.Name,
		EntityType:  v.EntityType,
		Count:       desc.Count,
		Attributes:  desc.Attributes,
		Provenance:  v.Provenance,
		Datasources: v.Datasources,
	})
}

func (in *interpreter) VisitSave(c *syntax.Save) error {
	v, err := in.s.lookup(c.Input)
	if err != nil {
		return err
	}
	rows, err := in.s.store.Rows(in.ctx, v.RowSet)
	if err != nil {
		return err
	}
	if err := fileio.Save(in.path(c.Path), rows, v.RowSet.Attributes()); err != nil {
		return err
	}
	in.trace.EntityType = v.EntityType
	in.trace.Count = int64(len(rows))
	return nil
}
