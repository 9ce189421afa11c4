package syntax

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/huntflow/internal/ir"
)

// keywords cannot be used as variable names: the commands, plus the clauses
// that may directly follow or replace a variable reference in an expression.
// Every other word (BY, TO, LAST, DESC, relation names, time units) is
// matched by position and stays available.
var keywords = map[string]bool{
	"GET": true, "FIND": true, "GROUP": true, "JOIN": true, "LOAD": true,
	"NEW": true, "SORT": true, "APPLY": true, "DISP": true, "INFO": true,
	"SAVE": true, "TIMESTAMPED": true,
	"WHERE": true, "ATTR": true, "LIMIT": true, "OFFSET": true,
}

// keywordOps are comparison operators spelled as words. All may be negated.
var keywordOps = map[string]bool{
	"IN": true, "LIKE": true, "MATCHES": true, "ISSUBSET": true, "ISSUPERSET": true,
}

// IsKeyword reports whether word is reserved, case-insensitively.
func IsKeyword(word string) bool {
	return keywords[strings.ToUpper(word)]
}

type parser struct {
	s       *scanner
	tok     token
	lastEnd int
}

// Parse turns huntflow source into a Program. Keywords are case-insensitive.
// The returned error is a *SyntaxError.
func Parse(source string) (prog *Program, err error) {
	p := &parser{s: newScanner(norm.NFC.String(source))}

	defer func() {
		if r := recover(); r != nil {
			serr, ok := r.(*SyntaxError)
			if !ok {
				panic(r)
			}
			prog, err = nil, serr
		}
	}()

	p.advanceTok()
	prog = &Program{}
	for p.tok.kind != tokEOF {
		prog.Statements = append(prog.Statements, p.parseStatement())
	}
	return prog, nil
}

func (p *parser) fail(pos Pos, format string, args ...any) {
	panic(&SyntaxError{Pos: pos, Message: fmt.Sprintf(format, args...)})
}

func (p *parser) check(err error) {
	if err != nil {
		panic(err)
	}
}

func (p *parser) advanceTok() {
	tok, err := p.s.next()
	p.check(err)
	p.tok = tok
}

// next consumes the current token.
func (p *parser) next() {
	p.lastEnd = p.tok.pos.Offset + len(p.tok.text)
	p.advanceTok()
}

// peek returns the token after the current one without consuming anything.
func (p *parser) peek() token {
	mark := p.s.here()
	tok, err := p.s.next()
	p.s.reset(mark)
	if err != nil {
		return token{kind: tokIllegal}
	}
	return tok
}

// rewind positions the scanner at the start of the current token so a
// context-specific terminal can be scanned in its place.
func (p *parser) rewind() {
	p.s.reset(p.tok.pos)
}

// resume reloads the current token after a context-specific scan.
func (p *parser) resume() {
	p.lastEnd = p.s.pos
	p.advanceTok()
}

// isKw reports whether the current token is word used as a keyword. A word
// followed by '=' names the target of the next assignment instead.
func (p *parser) isKw(word string) bool {
	return p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, word) && p.peek().kind != tokEq
}

func (p *parser) acceptKw(word string) bool {
	if p.isKw(word) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expectKw(word string) {
	if !p.acceptKw(word) {
		p.fail(p.tok.pos, "expected %s, found %s", word, p.tok.describe())
	}
}

func (p *parser) expect(kind tokenKind) token {
	tok := p.tok
	if tok.kind != kind {
		p.fail(tok.pos, "expected %s, found %s", kind, tok.describe())
	}
	p.next()
	return tok
}

func (p *parser) isVarName() bool {
	return p.tok.kind == tokIdent && !IsKeyword(p.tok.text)
}

func (p *parser) parseVarName() string {
	if !p.isVarName() {
		p.fail(p.tok.pos, "expected variable name, found %s", p.tok.describe())
	}
	name := p.tok.text
	p.next()
	return name
}

// optionalVar consumes a variable name if one is present. An identifier
// followed by '=' starts the next statement and is left alone.
func (p *parser) optionalVar() string {
	if p.isVarName() && p.peek().kind != tokEq {
		return p.parseVarName()
	}
	return ""
}

// varBefore consumes a variable name only when the mandatory keyword follows
// it, so "SAVE TO x" and "SAVE to TO x" both parse.
func (p *parser) varBefore(keyword string) string {
	if p.isVarName() && p.peek().kind == tokIdent && strings.EqualFold(p.peek().text, keyword) {
		return p.parseVarName()
	}
	return ""
}

// atTimespan reports whether START or LAST begins a time window here.
func (p *parser) atTimespan() bool {
	return (p.isKw("START") || p.isKw("LAST")) && p.peek().kind == tokNumber
}

func (p *parser) parseStatement() *Statement {
	start := p.tok.pos
	stmt := &Statement{Pos: start}

	if p.tok.kind == tokIdent && p.peek().kind == tokEq {
		if IsKeyword(p.tok.text) {
			p.fail(start, "%q is a reserved keyword and cannot be used as a variable name", p.tok.text)
		}
		stmt.Output = p.tok.text
		p.next()
		p.next()
		stmt.Command = p.parseAssignment()
	} else {
		stmt.Command = p.parseCommand()
	}

	stmt.Text = strings.TrimSpace(p.s.source[start.Offset:p.lastEnd])
	return stmt
}

func (p *parser) parseCommand() Command {
	if p.tok.kind != tokIdent {
		p.fail(p.tok.pos, "expected a command or assignment, found %s", p.tok.describe())
	}
	switch strings.ToUpper(p.tok.text) {
	case "APPLY":
		return p.parseApply()
	case "DISP":
		p.next()
		return &Disp{Expr: p.parseExpression(false)}
	case "INFO":
		p.next()
		return &Info{Input: p.optionalVar()}
	case "SAVE":
		return p.parseSave()
	}
	if cmd := p.parseResultCommand(); cmd != nil {
		return cmd
	}
	p.fail(p.tok.pos, "expected a command or assignment, found %s", p.tok.describe())
	return nil
}

// parseResultCommand parses a command that binds a result, or returns nil if
// the current token does not start one.
func (p *parser) parseResultCommand() Command {
	switch strings.ToUpper(p.tok.text) {
	case "GET":
		return p.parseGet()
	case "FIND":
		return p.parseFind()
	case "GROUP":
		return p.parseGroup()
	case "JOIN":
		return p.parseJoin()
	case "LOAD":
		return p.parseLoad()
	case "NEW":
		return p.parseNew()
	case "SORT":
		return p.parseSort()
	}
	return nil
}

func (p *parser) parseAssignment() Command {
	if p.tok.kind != tokIdent {
		p.fail(p.tok.pos, "expected expression or command, found %s", p.tok.describe())
	}
	if !IsKeyword(p.tok.text) {
		if p.peek().kind == tokPlus {
			return p.parseMerge()
		}
		return &Assign{Expr: p.parseExpression(true)}
	}
	if p.isKw("TIMESTAMPED") {
		return &Assign{Expr: p.parseExpression(true)}
	}
	if cmd := p.parseResultCommand(); cmd != nil {
		return cmd
	}
	switch strings.ToUpper(p.tok.text) {
	case "APPLY", "DISP", "INFO", "SAVE":
		p.fail(p.tok.pos, "%s does not produce a result and cannot be assigned", strings.ToUpper(p.tok.text))
	}
	p.fail(p.tok.pos, "expected expression or command, found %s", p.tok.describe())
	return nil
}

func (p *parser) parseMerge() *Merge {
	m := &Merge{Sources: []string{p.parseVarName()}}
	for p.tok.kind == tokPlus {
		p.next()
		m.Sources = append(m.Sources, p.parseVarName())
	}
	return m
}

// parseExpression parses [TIMESTAMPED(]var[)] followed by the clause
// pipeline. With requireInput false the variable may be omitted.
func (p *parser) parseExpression(requireInput bool) Expression {
	var expr Expression
	switch {
	case p.isKw("TIMESTAMPED"):
		p.next()
		p.expect(tokLParen)
		expr.Input = p.parseVarName()
		p.expect(tokRParen)
		expr.Transform = TransformTimestamped
	case requireInput:
		expr.Input = p.parseVarName()
	default:
		expr.Input = p.optionalVar()
	}

	if p.acceptKw("WHERE") {
		expr.Where = p.parsePattern()
	}
	if p.acceptKw("ATTR") {
		expr.Attrs = p.parseAttrList()
	}
	if p.isKw("SORT") && strings.EqualFold(p.peek().text, "BY") {
		p.next()
		p.next()
		expr.Sort = &SortSpec{Attr: p.parseAttrName()}
		expr.Sort.Order = p.parseOrder()
	}
	if p.acceptKw("LIMIT") {
		n := p.parseCount("LIMIT")
		expr.Limit = &n
	}
	if p.acceptKw("OFFSET") {
		n := p.parseCount("OFFSET")
		expr.Offset = &n
	}
	return expr
}

func (p *parser) parseOrder() SortOrder {
	switch {
	case p.acceptKw("ASC"):
		return Ascending
	case p.acceptKw("DESC"):
		return Descending
	}
	return ""
}

func (p *parser) parseInt(what string) int {
	tok := p.tok
	if tok.kind != tokNumber {
		p.fail(tok.pos, "%s expects an integer, found %s", what, tok.describe())
	}
	n, err := strconv.Atoi(tok.text)
	if err != nil {
		p.fail(tok.pos, "%s expects an integer, found %s", what, tok.describe())
	}
	p.next()
	return n
}

func (p *parser) parseCount(what string) int {
	pos := p.tok.pos
	n := p.parseInt(what)
	if n < 0 {
		p.fail(pos, "%s must not be negative", what)
	}
	return n
}

func (p *parser) parseOptionalLimit() *int {
	if p.acceptKw("LIMIT") {
		n := p.parseCount("LIMIT")
		return &n
	}
	return nil
}

func (p *parser) parseEntityType() string {
	p.rewind()
	etype, err := p.s.scanEntityType()
	p.check(err)
	p.resume()
	return strings.ToLower(etype)
}

func (p *parser) parseLocator(what string) string {
	p.rewind()
	loc, err := p.s.scanLocator(what)
	p.check(err)
	p.resume()
	return loc
}

// parseAttrName parses an unqualified attribute used by ATTR, SORT, GROUP and
// JOIN.
func (p *parser) parseAttrName() string {
	pos := p.tok.pos
	p.rewind()
	path, err := p.s.scanAttrPath(false)
	p.check(err)
	p.resume()
	if path.AnyElement {
		p.fail(pos, "[*] is only allowed in WHERE comparisons")
	}
	return path.Name()
}

func (p *parser) parseAttrList() []string {
	attrs := []string{p.parseAttrName()}
	for p.tok.kind == tokComma {
		p.next()
		attrs = append(attrs, p.parseAttrName())
	}
	return attrs
}

func (p *parser) parseGet() *Get {
	p.expectKw("GET")
	get := &Get{EntityType: p.parseEntityType()}
	if p.acceptKw("FROM") {
		pos := p.tok.pos
		for _, ds := range strings.Split(p.parseLocator("datasource"), ",") {
			ds = strings.TrimSpace(ds)
			if ds == "" {
				p.fail(pos, "empty datasource in FROM list")
			}
			get.Datasources = append(get.Datasources, ds)
		}
	}
	if !p.acceptKw("WHERE") {
		p.fail(p.tok.pos, "GET requires a WHERE clause, found %s", p.tok.describe())
	}
	get.Where = p.parsePattern()
	get.Span = p.parseTimespan()
	get.Limit = p.parseOptionalLimit()
	return get
}

func (p *parser) parseFind() *Find {
	p.expectKw("FIND")
	find := &Find{EntityType: p.parseEntityType()}
	if p.tok.kind != tokIdent || IsKeyword(p.tok.text) {
		p.fail(p.tok.pos, "expected relation, found %s", p.tok.describe())
	}
	find.Relation = strings.ToLower(p.tok.text)
	p.next()
	find.Reversed = p.acceptKw("BY")
	if !p.atTimespan() {
		find.Input = p.optionalVar()
	}
	if p.acceptKw("WHERE") {
		find.Where = p.parsePattern()
	}
	find.Span = p.parseTimespan()
	find.Limit = p.parseOptionalLimit()
	return find
}

func (p *parser) parseGroup() *Group {
	p.expectKw("GROUP")
	group := &Group{Input: p.varBefore("BY")}
	p.expectKw("BY")
	group.Keys = append(group.Keys, p.parseGroupKey())
	for p.tok.kind == tokComma {
		p.next()
		group.Keys = append(group.Keys, p.parseGroupKey())
	}
	if p.acceptKw("WITH") {
		group.Aggs = append(group.Aggs, p.parseAggregation())
		for p.tok.kind == tokComma {
			p.next()
			group.Aggs = append(group.Aggs, p.parseAggregation())
		}
	}
	return group
}

func (p *parser) parseGroupKey() GroupKey {
	if !p.isKw("BIN") || p.peek().kind != tokLParen {
		return GroupKey{Attr: p.parseAttrName()}
	}
	p.next()
	p.expect(tokLParen)
	key := GroupKey{Attr: p.parseAttrName(), Bin: &Bin{}}
	p.expect(tokComma)
	key.Bin.N = p.parseInt("BIN")
	if p.tok.kind == tokComma {
		p.next()
		unit, ok := parseTimeUnit(p.tok.text)
		if p.tok.kind != tokIdent || !ok {
			p.fail(p.tok.pos, "expected time unit (DAY, HOUR, MINUTE, SECOND), found %s", p.tok.describe())
		}
		key.Bin.Unit = unit
		p.next()
	}
	p.expect(tokRParen)
	return key
}

func (p *parser) parseAggregation() Aggregation {
	fn, ok := aggFuncs[strings.ToUpper(p.tok.text)]
	if p.tok.kind != tokIdent || !ok {
		p.fail(p.tok.pos, "expected aggregate function (MIN, MAX, SUM, AVG, COUNT, NUNIQUE), found %s", p.tok.describe())
	}
	p.next()
	p.expect(tokLParen)

	agg := Aggregation{Func: fn}
	if fn == AggCount && p.tok.kind == tokIllegal && p.tok.text == "*" {
		p.next()
		agg.Attr = "*"
	} else {
		agg.Attr = p.parseAttrName()
	}
	p.expect(tokRParen)

	if p.acceptKw("AS") {
		agg.Alias = p.parseVarName()
	} else if agg.Attr == "*" {
		agg.Alias = "count"
	} else {
		agg.Alias = strings.ToLower(string(fn)) + "_" + agg.Attr
	}
	return agg
}

func (p *parser) parseJoin() *Join {
	p.expectKw("JOIN")
	join := &Join{Left: p.parseVarName()}
	p.expect(tokComma)
	join.Right = p.parseVarName()
	if p.acceptKw("BY") {
		join.LeftAttr = p.parseAttrName()
		p.expect(tokComma)
		join.RightAttr = p.parseAttrName()
	}
	return join
}

func (p *parser) parseLoad() *Load {
	p.expectKw("LOAD")
	load := &Load{Path: p.parseLocator("path")}
	if p.acceptKw("AS") {
		load.EntityType = p.parseEntityType()
	}
	return load
}

func (p *parser) parseNew() *New {
	p.expectKw("NEW")
	n := &New{}
	if p.tok.kind != tokLBracket {
		n.EntityType = p.parseEntityType()
	}
	pos := p.tok.pos
	if p.tok.kind != tokLBracket {
		p.fail(pos, "NEW expects a JSON array literal, found %s", p.tok.describe())
	}
	p.rewind()
	raw, err := p.s.scanJSON()
	p.check(err)
	p.resume()

	list, ok := raw.([]any)
	if !ok {
		p.fail(pos, "NEW expects a JSON array literal")
	}
	for _, elem := range list {
		v, err := ir.FromAny(elem)
		if err != nil {
			p.fail(pos, "malformed literal: %v", err)
		}
		n.Entries = append(n.Entries, v)
	}
	return n
}

func (p *parser) parseSort() *Sort {
	p.expectKw("SORT")
	// A bare SORT BY is the sort clause of the preceding expression, so the
	// command always names its variable.
	sort := &Sort{Input: p.varBefore("BY")}
	if sort.Input == "" {
		p.fail(p.tok.pos, "SORT expects a variable name before BY, found %s", p.tok.describe())
	}
	p.expectKw("BY")
	sort.Attr = p.parseAttrName()
	sort.Order = p.parseOrder()
	return sort
}

func (p *parser) parseApply() *Apply {
	p.expectKw("APPLY")
	apply := &Apply{Locator: p.parseLocator("analytics locator")}
	p.expectKw("ON")
	apply.Variables = append(apply.Variables, p.parseVarName())
	for p.tok.kind == tokComma {
		p.next()
		apply.Variables = append(apply.Variables, p.parseVarName())
	}
	if p.acceptKw("WITH") {
		apply.Args = append(apply.Args, p.parseArg())
		for p.tok.kind == tokComma {
			p.next()
			apply.Args = append(apply.Args, p.parseArg())
		}
	}
	return apply
}

func (p *parser) parseArg() Arg {
	if p.tok.kind != tokIdent {
		p.fail(p.tok.pos, "expected argument name, found %s", p.tok.describe())
	}
	arg := Arg{Name: p.tok.text}
	p.next()
	p.expect(tokEq)
	arg.Value = p.parseValue()
	return arg
}

func (p *parser) parseSave() *Save {
	p.expectKw("SAVE")
	save := &Save{Input: p.varBefore("TO")}
	p.expectKw("TO")
	save.Path = p.parseLocator("path")
	return save
}

func (p *parser) parseTimespan() Timespan {
	switch {
	case p.isKw("START"):
		pos := p.tok.pos
		p.next()
		start := p.parseTimestamp()
		p.expectKw("STOP")
		stop := p.parseTimestamp()
		if start.After(stop) {
			p.fail(pos, "START %s is after STOP %s", start.Format(TimestampLayout), stop.Format(TimestampLayout))
		}
		return AbsoluteSpan{Start: start, Stop: stop}
	case p.isKw("LAST"):
		p.next()
		pos := p.tok.pos
		n := p.parseInt("LAST")
		if n <= 0 {
			p.fail(pos, "LAST expects a positive count")
		}
		unit, ok := parseTimeUnit(p.tok.text)
		if p.tok.kind != tokIdent || !ok {
			p.fail(p.tok.pos, "expected time unit (DAYS, HOURS, MINUTES, SECONDS), found %s", p.tok.describe())
		}
		p.next()
		return RelativeSpan{N: n, Unit: unit}
	}
	return nil
}

func (p *parser) parseTimestamp() time.Time {
	p.rewind()
	text, pos, err := p.s.scanTimestamp()
	p.check(err)
	p.resume()
	ts, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		p.fail(pos, "invalid timestamp %q: expected ISO-8601 such as 2021-01-01T00:00:00Z", text)
	}
	return ts.UTC()
}

// Patterns: OR binds looser than AND; both are left-associative.

func (p *parser) parsePattern() Pattern {
	return p.parseOr()
}

func (p *parser) parseOr() Pattern {
	left := p.parseAnd()
	for p.isKw("OR") {
		p.next()
		right := p.parseAnd()
		left = &BoolExpr{Pos: left.Position(), Op: OpOr, Left: left, Right: right}
	}
	return left
}

func (p *parser) parseAnd() Pattern {
	left := p.parsePrimary()
	for p.isKw("AND") {
		p.next()
		right := p.parsePrimary()
		left = &BoolExpr{Pos: left.Position(), Op: OpAnd, Left: left, Right: right}
	}
	return left
}

func (p *parser) parsePrimary() Pattern {
	switch p.tok.kind {
	case tokLParen:
		p.next()
		inner := p.parseOr()
		p.expect(tokRParen)
		return inner
	case tokLBracket:
		// STIX-style [type:attr = value] brackets group like parentheses.
		p.next()
		inner := p.parseOr()
		p.expect(tokRBracket)
		return inner
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() Pattern {
	pos := p.tok.pos
	if p.tok.kind == tokEOF {
		p.fail(pos, "expected comparison, found end of input")
	}
	p.rewind()
	path, err := p.s.scanAttrPath(true)
	p.check(err)
	p.resume()

	var op string
	negated := false
	switch p.tok.kind {
	case tokEq, tokEqEq:
		op = "="
	case tokBangEq:
		op = "!="
	case tokGt, tokLt, tokGtEq, tokLtEq:
		op = p.tok.text
	case tokIdent:
		if p.acceptKw("IS") {
			neg := p.acceptKw("NOT")
			p.expectKw("NULL")
			return &NullTest{Pos: pos, Path: path, Negated: neg}
		}
		negated = p.acceptKw("NOT")
		word := strings.ToUpper(p.tok.text)
		if p.tok.kind != tokIdent || !keywordOps[word] {
			p.fail(p.tok.pos, "expected comparison operator, found %s", p.tok.describe())
		}
		op = word
		p.next()
		return &Comparison{Pos: pos, Path: path, Op: op, Negated: negated, Value: p.parseValue()}
	default:
		p.fail(p.tok.pos, "expected comparison operator, found %s", p.tok.describe())
	}
	p.next()
	return &Comparison{Pos: pos, Path: path, Op: op, Value: p.parseValue()}
}

func (p *parser) parseValue() Value {
	switch p.tok.kind {
	case tokLParen, tokLBracket:
		closing := tokRParen
		if p.tok.kind == tokLBracket {
			closing = tokRBracket
		}
		p.next()
		var list List
		if p.tok.kind != closing {
			list.Items = append(list.Items, p.parseScalar())
			for p.tok.kind == tokComma {
				p.next()
				list.Items = append(list.Items, p.parseScalar())
			}
		}
		p.expect(closing)
		return list
	}
	return p.parseScalar()
}

func (p *parser) parseScalar() Value {
	switch p.tok.kind {
	case tokString:
		v := Literal{Value: ir.IRString(p.tok.value)}
		p.next()
		return v
	case tokNumber, tokIdent, tokIllegal:
		p.rewind()
		text, err := p.s.scanBare()
		p.check(err)
		p.resume()
		if looksNumeric(text) {
			if num, err := ir.ParseNumber(text); err == nil {
				return Literal{Value: num}
			}
		}
		return Bare{Text: text}
	}
	p.fail(p.tok.pos, "expected value, found %s", p.tok.describe())
	return nil
}

func looksNumeric(text string) bool {
	if strings.HasPrefix(text, "-") {
		text = text[1:]
	}
	return text != "" && isDigit(text[0])
}
