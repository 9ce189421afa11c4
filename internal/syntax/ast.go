package syntax

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/huntflow/internal/ir"
)

// Pos is a location in huntflow source. Line and Col are 1-based.
type Pos struct {
	Offset int `json:"offset"`
	Line   int `json:"line"`
	Col    int `json:"col"`
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Program is a parsed huntflow: statements in source order.
type Program struct {
	Statements []*Statement `json:"statements"`
}

// Statement is one command with its optional output binding.
// Output is empty for side-effecting commands. After Normalize every
// result-producing command has a non-empty Output.
type Statement struct {
	Pos     Pos
	Text    string
	Output  string
	Command Command
}

// MarshalJSON renders the statement with its command kind inline.
func (s *Statement) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Pos     Pos     `json:"pos"`
		Text    string  `json:"text"`
		Kind    string  `json:"command"`
		Output  string  `json:"output,omitempty"`
		Command Command `json:"args"`
	}{s.Pos, s.Text, s.Command.Kind().String(), s.Output, s.Command})
}

// CommandKind enumerates the closed set of command forms.
type CommandKind int

const (
	KindAssign CommandKind = iota
	KindFind
	KindGet
	KindGroup
	KindJoin
	KindLoad
	KindMerge
	KindNew
	KindSort
	KindApply
	KindDisp
	KindInfo
	KindSave
)

var kindNames = [...]string{
	KindAssign: "assign",
	KindFind:   "find",
	KindGet:    "get",
	KindGroup:  "group",
	KindJoin:   "join",
	KindLoad:   "load",
	KindMerge:  "merge",
	KindNew:    "new",
	KindSort:   "sort",
	KindApply:  "apply",
	KindDisp:   "disp",
	KindInfo:   "info",
	KindSave:   "save",
}

func (k CommandKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "CommandKind(" + strconv.Itoa(int(k)) + ")"
}

// ProducesResult reports whether commands of this kind bind a variable.
func (k CommandKind) ProducesResult() bool {
	switch k {
	case KindApply, KindDisp, KindInfo, KindSave:
		return false
	default:
		return true
	}
}

// Command is a sealed union over the thirteen command forms.
type Command interface {
	Kind() CommandKind
	// Inputs returns the names of the variables the command reads.
	Inputs() []string
	Accept(v Visitor) error
	command()
}

// Visitor has one method per command kind. An implementation that misses a
// kind does not satisfy the interface, so dispatch stays exhaustive.
type Visitor interface {
	VisitAssign(*Assign) error
	VisitFind(*Find) error
	VisitGet(*Get) error
	VisitGroup(*Group) error
	VisitJoin(*Join) error
	VisitLoad(*Load) error
	VisitMerge(*Merge) error
	VisitNew(*New) error
	VisitSort(*Sort) error
	VisitApply(*Apply) error
	VisitDisp(*Disp) error
	VisitInfo(*Info) error
	VisitSave(*Save) error
}

// SortOrder is ASC or DESC. The empty order means "use the session default".
type SortOrder string

const (
	Ascending  SortOrder = "ASC"
	Descending SortOrder = "DESC"
)

// SortSpec orders rows by a single attribute.
type SortSpec struct {
	Attr  string    `json:"attr"`
	Order SortOrder `json:"order"`
}

// Expression is a variable reference with an optional transform and the
// fixed clause pipeline WHERE, ATTR, SORT BY, LIMIT, OFFSET.
type Expression struct {
	Input     string    `json:"input"`
	Transform string    `json:"transform,omitempty"`
	Where     Pattern   `json:"where,omitempty"`
	Attrs     []string  `json:"attrs,omitempty"`
	Sort      *SortSpec `json:"sort,omitempty"`
	Limit     *int      `json:"limit,omitempty"`
	Offset    *int      `json:"offset,omitempty"`
}

// IsIdentity reports whether the expression copies its input unchanged.
func (e *Expression) IsIdentity() bool {
	return e.Transform == "" && e.Where == nil && len(e.Attrs) == 0 &&
		e.Sort == nil && e.Limit == nil && e.Offset == nil
}

// TransformTimestamped keeps only rows with a timestamp and adds first_observed.
const TransformTimestamped = "TIMESTAMPED"

type Assign struct {
	Expr Expression `json:"expr"`
}

type Disp struct {
	Expr Expression `json:"expr"`
}

type Find struct {
	EntityType string   `json:"type"`
	Relation   string   `json:"relation"`
	Reversed   bool     `json:"reversed"`
	Input      string   `json:"input"`
	Where      Pattern  `json:"where,omitempty"`
	Span       Timespan `json:"timespan,omitempty"`
	Limit      *int     `json:"limit,omitempty"`
}

type Get struct {
	EntityType string `json:"type"`
	// Datasources is empty when FROM is omitted.
	Datasources []string `json:"datasources,omitempty"`
	Where       Pattern  `json:"where"`
	Span        Timespan `json:"timespan,omitempty"`
	Limit       *int     `json:"limit,omitempty"`
}

type Group struct {
	Input string        `json:"input"`
	Keys  []GroupKey    `json:"keys"`
	Aggs  []Aggregation `json:"aggregations,omitempty"`
}

// Join relates two variables. LeftAttr and RightAttr are both empty when the
// default join key applies.
type Join struct {
	Left      string `json:"left"`
	Right     string `json:"right"`
	LeftAttr  string `json:"left_attr,omitempty"`
	RightAttr string `json:"right_attr,omitempty"`
}

type Load struct {
	Path       string `json:"path"`
	EntityType string `json:"type,omitempty"`
}

type Merge struct {
	Sources []string `json:"inputs"`
}

// New constructs entities from an inline literal. Entries are either all
// scalars or all objects.
type New struct {
	EntityType string       `json:"type,omitempty"`
	Entries    []ir.IRValue `json:"entries"`
}

type Sort struct {
	Input string    `json:"input"`
	Attr  string    `json:"attr"`
	Order SortOrder `json:"order"`
}

// Arg is a key=value argument to an analytics invocation.
type Arg struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

type Apply struct {
	Locator   string   `json:"locator"`
	Variables []string `json:"inputs"`
	Args      []Arg    `json:"args,omitempty"`
}

type Info struct {
	Input string `json:"input"`
}

type Save struct {
	Input string `json:"input"`
	Path  string `json:"path"`
}

func (*Assign) Kind() CommandKind { return KindAssign }
func (*Find) Kind() CommandKind   { return KindFind }
func (*Get) Kind() CommandKind    { return KindGet }
func (*Group) Kind() CommandKind  { return KindGroup }
func (*Join) Kind() CommandKind   { return KindJoin }
func (*Load) Kind() CommandKind   { return KindLoad }
func (*Merge) Kind() CommandKind  { return KindMerge }
func (*New) Kind() CommandKind    { return KindNew }
func (*Sort) Kind() CommandKind   { return KindSort }
func (*Apply) Kind() CommandKind  { return KindApply }
func (*Disp) Kind() CommandKind   { return KindDisp }
func (*Info) Kind() CommandKind   { return KindInfo }
func (*Save) Kind() CommandKind   { return KindSave }

func (c *Assign) Inputs() []string { return []string{c.Expr.Input} }
func (c *Find) Inputs() []string   { return []string{c.Input} }
func (*Get) Inputs() []string      { return nil }
func (c *Group) Inputs() []string  { return []string{c.Input} }
func (c *Join) Inputs() []string   { return []string{c.Left, c.Right} }
func (*Load) Inputs() []string     { return nil }
func (c *Merge) Inputs() []string  { return c.Sources }
func (*New) Inputs() []string      { return nil }
func (c *Sort) Inputs() []string   { return []string{c.Input} }
func (c *Apply) Inputs() []string  { return c.Variables }
func (c *Disp) Inputs() []string   { return []string{c.Expr.Input} }
func (c *Info) Inputs() []string   { return []string{c.Input} }
func (c *Save) Inputs() []string   { return []string{c.Input} }

func (c *Assign) Accept(v Visitor) error { return v.VisitAssign(c) }
func (c *Find) Accept(v Visitor) error   { return v.VisitFind(c) }
func (c *Get) Accept(v Visitor) error    { return v.VisitGet(c) }
func (c *Group) Accept(v Visitor) error  { return v.VisitGroup(c) }
func (c *Join) Accept(v Visitor) error   { return v.VisitJoin(c) }
func (c *Load) Accept(v Visitor) error   { return v.VisitLoad(c) }
func (c *Merge) Accept(v Visitor) error  { return v.VisitMerge(c) }
func (c *New) Accept(v Visitor) error    { return v.VisitNew(c) }
func (c *Sort) Accept(v Visitor) error   { return v.VisitSort(c) }
func (c *Apply) Accept(v Visitor) error  { return v.VisitApply(c) }
func (c *Disp) Accept(v Visitor) error   { return v.VisitDisp(c) }
func (c *Info) Accept(v Visitor) error   { return v.VisitInfo(c) }
func (c *Save) Accept(v Visitor) error   { return v.VisitSave(c) }

func (*Assign) command() {}
func (*Find) command()   {}
func (*Get) command()    {}
func (*Group) command()  {}
func (*Join) command()   {}
func (*Load) command()   {}
func (*Merge) command()  {}
func (*New) command()    {}
func (*Sort) command()   {}
func (*Apply) command()  {}
func (*Disp) command()   {}
func (*Info) command()   {}
func (*Save) command()   {}

// TimeUnit is the unit of a relative timespan or time bucket.
type TimeUnit int

const (
	UnitNone TimeUnit = iota
	UnitSecond
	UnitMinute
	UnitHour
	UnitDay
)

var unitNames = map[TimeUnit]string{
	UnitSecond: "SECOND",
	UnitMinute: "MINUTE",
	UnitHour:   "HOUR",
	UnitDay:    "DAY",
}

func (u TimeUnit) String() string {
	return unitNames[u]
}

// Duration returns the length of one unit.
func (u TimeUnit) Duration() time.Duration {
	switch u {
	case UnitSecond:
		return time.Second
	case UnitMinute:
		return time.Minute
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// parseTimeUnit accepts singular and plural unit keywords.
func parseTimeUnit(word string) (TimeUnit, bool) {
	w := strings.TrimSuffix(strings.ToUpper(word), "S")
	for u, name := range unitNames {
		if name == w {
			return u, true
		}
	}
	return UnitNone, false
}

// Timespan is either an AbsoluteSpan or a RelativeSpan.
type Timespan interface {
	// Resolve returns the concrete [start, stop] window for the given now.
	Resolve(now time.Time) (start, stop time.Time)
	timespan()
}

// TimestampLayout is the ISO-8601 UTC form used for all normalized timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

type AbsoluteSpan struct {
	Start time.Time
	Stop  time.Time
}

func (s AbsoluteSpan) Resolve(time.Time) (time.Time, time.Time) { return s.Start, s.Stop }
func (AbsoluteSpan) timespan()                                 {}

func (s AbsoluteSpan) String() string {
	return "START " + s.Start.UTC().Format(TimestampLayout) + " STOP " + s.Stop.UTC().Format(TimestampLayout)
}

func (s AbsoluteSpan) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// RelativeSpan is "the last N units" and resolves against evaluation time.
type RelativeSpan struct {
	N    int
	Unit TimeUnit
}

func (s RelativeSpan) Resolve(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	return now.Add(-time.Duration(s.N) * s.Unit.Duration()), now
}

func (RelativeSpan) timespan() {}

func (s RelativeSpan) String() string {
	return fmt.Sprintf("LAST %d %sS", s.N, s.Unit)
}

func (s RelativeSpan) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// Bin buckets an attribute. With a time unit the attribute is a timestamp
// and buckets are N units wide aligned to the Unix epoch; without one the
// attribute is numeric and buckets are N wide aligned to zero.
type Bin struct {
	N    int      `json:"n"`
	Unit TimeUnit `json:"-"`
}

// GroupKey is either a plain attribute or a binned attribute.
type GroupKey struct {
	Attr string `json:"attr"`
	Bin  *Bin   `json:"bin,omitempty"`
}

// Alias is the output column name of the key.
func (k GroupKey) Alias() string {
	if k.Bin != nil {
		return k.Attr + "_bin"
	}
	return k.Attr
}

// AggFunc is one of the supported aggregate functions.
type AggFunc string

const (
	AggMin     AggFunc = "MIN"
	AggMax     AggFunc = "MAX"
	AggSum     AggFunc = "SUM"
	AggAvg     AggFunc = "AVG"
	AggCount   AggFunc = "COUNT"
	AggNUnique AggFunc = "NUNIQUE"
)

var aggFuncs = map[string]AggFunc{
	"MIN": AggMin, "MAX": AggMax, "SUM": AggSum, "AVG": AggAvg,
	"COUNT": AggCount, "NUNIQUE": AggNUnique,
}

type Aggregation struct {
	Func  AggFunc `json:"func"`
	Attr  string  `json:"attr"`
	Alias string  `json:"alias"`
}

// DefaultAggregation is the row count computed when GROUP has no WITH list.
func DefaultAggregation() Aggregation {
	return Aggregation{Func: AggCount, Attr: "*", Alias: "count"}
}
