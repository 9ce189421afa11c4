package syntax

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/huntflow/internal/ir"
)

var ignorePos = cmpopts.IgnoreTypes(Pos{})

func intPtr(n int) *int { return &n }

func mustParse(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := Parse(src)
	require.NoError(t, err)
	return prog
}

func parseOne(t *testing.T, src string) *Statement {
	t.Helper()
	prog := mustParse(t, src)
	require.Len(t, prog.Statements, 1)
	return prog.Statements[0]
}

func TestParseLanguageSurface(t *testing.T) {
	src := `
x = GET process FROM host-1 WHERE name = 'svchost.exe' START 2021-01-01T00:00:00Z STOP 2021-01-02T00:00:00Z
y = FIND process CREATED x
z = GROUP y BY dst_port WITH COUNT(pid) AS cnt
j = JOIN x, y BY pid, ppid
DISP x WHERE name LIKE 'svc%' ATTR name,pid SORT BY pid DESC LIMIT 10
NEW file [{"name": "a.exe"}, {"name": "b.exe"}]
SAVE x TO "x.csv"
`
	prog := mustParse(t, src)
	require.Len(t, prog.Statements, 7)

	want := []Command{
		&Get{
			EntityType:  "process",
			Datasources: []string{"host-1"},
			Where: &Comparison{
				Path:  AttrPath{Segments: []string{"name"}},
				Op:    "=",
				Value: Literal{Value: ir.IRString("svchost.exe")},
			},
			Span: AbsoluteSpan{
				Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
				Stop:  time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC),
			},
		},
		&Find{EntityType: "process", Relation: "created", Input: "x"},
		&Group{
			Input: "y",
			Keys:  []GroupKey{{Attr: "dst_port"}},
			Aggs:  []Aggregation{{Func: AggCount, Attr: "pid", Alias: "cnt"}},
		},
		&Join{Left: "x", Right: "y", LeftAttr: "pid", RightAttr: "ppid"},
		&Disp{Expr: Expression{
			Input: "x",
			Where: &Comparison{
				Path:  AttrPath{Segments: []string{"name"}},
				Op:    "LIKE",
				Value: Literal{Value: ir.IRString("svc%")},
			},
			Attrs: []string{"name", "pid"},
			Sort:  &SortSpec{Attr: "pid", Order: Descending},
			Limit: intPtr(10),
		}},
		&New{EntityType: "file", Entries: []ir.IRValue{
			ir.IRObject{"name": ir.IRString("a.exe")},
			ir.IRObject{"name": ir.IRString("b.exe")},
		}},
		&Save{Input: "x", Path: "x.csv"},
	}

	for i, stmt := range prog.Statements {
		if diff := cmp.Diff(want[i], stmt.Command, ignorePos); diff != "" {
			t.Errorf("statement %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	assert.Equal(t, []string{"x", "y", "z", "j", "", "", ""}, outputs(prog))
	assert.Equal(t, "y = FIND process CREATED x", prog.Statements[1].Text)
	assert.Equal(t, 3, prog.Statements[1].Pos.Line)
}

func outputs(prog *Program) []string {
	out := make([]string, len(prog.Statements))
	for i, s := range prog.Statements {
		out[i] = s.Output
	}
	return out
}

func TestParseCaseInsensitiveKeywords(t *testing.T) {
	lower := parseOne(t, `x = get Process from ds where name = 'a' last 1 hour limit 5`)
	upper := parseOne(t, `x = GET process FROM ds WHERE name = 'a' LAST 1 HOUR LIMIT 5`)

	if diff := cmp.Diff(upper.Command, lower.Command, ignorePos); diff != "" {
		t.Errorf("case-insensitive parse mismatch (-upper +lower):\n%s", diff)
	}
}

func TestParsePatternPrecedence(t *testing.T) {
	tests := []struct {
		where string
		want  string
	}{
		{"a = 1 AND b = 2 OR c = 3", "((a = 1 AND b = 2) OR c = 3)"},
		{"a = 1 OR b = 2 AND c = 3", "(a = 1 OR (b = 2 AND c = 3))"},
		{"(a = 1 OR b = 2) AND c = 3", "((a = 1 OR b = 2) AND c = 3)"},
		{"a = 1 AND b = 2 AND c = 3", "((a = 1 AND b = 2) AND c = 3)"},
		{"[process:name = 'x' AND pid = 4]", "(process:name = 'x' AND pid = 4)"},
		{"pid NOT IN (1, 2)", "pid NOT IN (1, 2)"},
		{"pid == 7", "pid = 7"},
		{"name NOT LIKE '%.exe'", "name NOT LIKE '%.exe'"},
		{"ppid IS NOT NULL OR ppid IS NULL", "(ppid IS NOT NULL OR ppid IS NULL)"},
		{"x_ref.value >= 10.5", "x_ref.value >= 10.5"},
		{"dst_ref.value = 10.0.0.1", "dst_ref.value = 10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.where, func(t *testing.T) {
			stmt := parseOne(t, "y = x WHERE "+tt.where)
			assign, ok := stmt.Command.(*Assign)
			require.True(t, ok)
			assert.Equal(t, tt.want, assign.Expr.Where.String())
		})
	}
}

func TestParseAttributePaths(t *testing.T) {
	stmt := parseOne(t, `y = x WHERE file:hashes.'SHA-256' = 'abc' AND extensions."windows-pebinary-ext".imphash != 'x' AND args[*] MATCHES '^-enc\d+'`)
	assign := stmt.Command.(*Assign)

	var leaves []*Comparison
	Walk(assign.Expr.Where, func(p Pattern) { leaves = append(leaves, p.(*Comparison)) })
	require.Len(t, leaves, 3)

	assert.Equal(t, AttrPath{EntityType: "file", Segments: []string{"hashes", "SHA-256"}}, leaves[0].Path)
	assert.Equal(t, "hashes.SHA-256", leaves[0].Path.Name())
	assert.Equal(t, []string{"extensions", "windows-pebinary-ext", "imphash"}, leaves[1].Path.Segments)
	assert.True(t, leaves[2].Path.AnyElement)
	assert.Equal(t, Literal{Value: ir.IRString(`^-enc\d+`)}, leaves[2].Value, "unknown escapes are kept")
}

func TestParseTimestampStyles(t *testing.T) {
	want := AbsoluteSpan{
		Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		Stop:  time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	styles := []string{
		`START 2021-01-01T00:00:00Z STOP 2021-01-02T00:00:00Z`,
		`START t'2021-01-01T00:00:00Z' STOP t'2021-01-02T00:00:00Z'`,
		`START '2021-01-01T00:00:00Z' STOP '2021-01-02T00:00:00Z'`,
		`START "2021-01-01T00:00:00.000Z" STOP "2021-01-02T00:00:00.000Z"`,
	}

	for _, span := range styles {
		t.Run(span, func(t *testing.T) {
			stmt := parseOne(t, "x = GET process FROM ds WHERE pid = 1 "+span)
			get := stmt.Command.(*Get)
			got, ok := get.Span.(AbsoluteSpan)
			require.True(t, ok)
			assert.True(t, want.Start.Equal(got.Start))
			assert.True(t, want.Stop.Equal(got.Stop))
		})
	}
}

func TestParseRelativeTimespanResolvesLate(t *testing.T) {
	stmt := parseOne(t, `GET file FROM ds1 WHERE name = 'evil.exe' LAST 7 DAYS`)
	get := stmt.Command.(*Get)
	require.Equal(t, RelativeSpan{N: 7, Unit: UnitDay}, get.Span)

	now := time.Date(2022, 3, 10, 12, 0, 0, 0, time.UTC)
	start, stop := get.Span.Resolve(now)
	assert.Equal(t, now.Add(-7*24*time.Hour), start)
	assert.Equal(t, now, stop)
}

func TestParseGroupBinAndDefaults(t *testing.T) {
	stmt := parseOne(t, `g = GROUP BY BIN(first_observed, 5, MINUTES), name WITH COUNT(*), max(pid), NUNIQUE(ppid) AS np`)
	group := stmt.Command.(*Group)

	assert.Equal(t, "", group.Input)
	assert.Equal(t, []GroupKey{
		{Attr: "first_observed", Bin: &Bin{N: 5, Unit: UnitMinute}},
		{Attr: "name"},
	}, group.Keys)
	assert.Equal(t, "first_observed_bin", group.Keys[0].Alias())
	assert.Equal(t, []Aggregation{
		{Func: AggCount, Attr: "*", Alias: "count"},
		{Func: AggMax, Attr: "pid", Alias: "max_pid"},
		{Func: AggNUnique, Attr: "ppid", Alias: "np"},
	}, group.Aggs)
}

func TestParseFindReversedAndOptions(t *testing.T) {
	stmt := parseOne(t, `p = FIND process CREATED BY conns WHERE name = 'cmd.exe' LAST 2 HOURS LIMIT 3`)
	find := stmt.Command.(*Find)

	assert.Equal(t, "created", find.Relation)
	assert.True(t, find.Reversed)
	assert.Equal(t, "conns", find.Input)
	assert.Equal(t, RelativeSpan{N: 2, Unit: UnitHour}, find.Span)
	assert.Equal(t, intPtr(3), find.Limit)
}

func TestParseMergeTimestampedAndApply(t *testing.T) {
	prog := mustParse(t, `
m = a + b + c
t = TIMESTAMPED(m) WHERE pid > 4 LIMIT 2 OFFSET 1
APPLY python://clusterer ON m, t WITH n=3, tags=('a', 'b'), mode=fast
INFO t
DISP TIMESTAMPED(t)
`)
	require.Len(t, prog.Statements, 5)

	assert.Equal(t, &Merge{Sources: []string{"a", "b", "c"}}, prog.Statements[0].Command)

	ts := prog.Statements[1].Command.(*Assign)
	assert.Equal(t, TransformTimestamped, ts.Expr.Transform)
	assert.Equal(t, intPtr(2), ts.Expr.Limit)
	assert.Equal(t, intPtr(1), ts.Expr.Offset)

	apply := prog.Statements[2].Command.(*Apply)
	assert.Equal(t, "python://clusterer", apply.Locator)
	assert.Equal(t, []string{"m", "t"}, apply.Variables)
	assert.Equal(t, []Arg{
		{Name: "n", Value: Literal{Value: ir.IRInt(3)}},
		{Name: "tags", Value: List{Items: []Value{Literal{Value: ir.IRString("a")}, Literal{Value: ir.IRString("b")}}}},
		{Name: "mode", Value: Bare{Text: "fast"}},
	}, apply.Args)

	assert.Equal(t, &Info{Input: "t"}, prog.Statements[3].Command)
	assert.Equal(t, TransformTimestamped, prog.Statements[4].Command.(*Disp).Expr.Transform)
}

func TestParseNewLiterals(t *testing.T) {
	prog := mustParse(t, `# seed entities
ips = NEW ipv4-addr ["10.0.0.1", "10.0.0.2"] # trailing comment
procs = NEW [
  {"type": "process", "name": "a.exe", "pid": 4},
  {"type": "process", "name": "b.exe", "ratio": 0.5, "ppid": null}
]
DISP procs`)
	require.Len(t, prog.Statements, 3)

	ips := prog.Statements[0].Command.(*New)
	assert.Equal(t, "ipv4-addr", ips.EntityType)
	assert.Equal(t, []ir.IRValue{ir.IRString("10.0.0.1"), ir.IRString("10.0.0.2")}, ips.Entries)
	assert.Equal(t, `ips = NEW ipv4-addr ["10.0.0.1", "10.0.0.2"]`, prog.Statements[0].Text)

	procs := prog.Statements[1].Command.(*New)
	assert.Empty(t, procs.EntityType)
	require.Len(t, procs.Entries, 2)
	assert.Equal(t, ir.IRObject{
		"type": ir.IRString("process"), "name": ir.IRString("b.exe"),
		"ratio": ir.IRFloat(0.5), "ppid": ir.IRNull{},
	}, procs.Entries[1])

	assert.Equal(t, 7, prog.Statements[2].Pos.Line)
}

func TestParseLoadSortSave(t *testing.T) {
	prog := mustParse(t, `
l = LOAD '/tmp/my procs.csv' AS process
s = SORT l BY pid
SORT s BY name DESC
SAVE TO out.json
`)
	assert.Equal(t, &Load{Path: "/tmp/my procs.csv", EntityType: "process"}, prog.Statements[0].Command)
	assert.Equal(t, &Sort{Input: "l", Attr: "pid"}, prog.Statements[1].Command)
	assert.Equal(t, &Sort{Input: "s", Attr: "name", Order: Descending}, prog.Statements[2].Command)
	assert.Equal(t, &Save{Path: "out.json"}, prog.Statements[3].Command)
}

func TestParseTrailingSortClause(t *testing.T) {
	prog := mustParse(t, "GET process FROM host-1 WHERE pid > 0\nx = _ WHERE pid > 100\nSORT BY pid DESC\nSORT _ BY pid")
	require.Len(t, prog.Statements, 3)

	x := prog.Statements[1].Command.(*Assign)
	assert.Equal(t, &SortSpec{Attr: "pid", Order: Descending}, x.Expr.Sort)
	assert.Equal(t, "x = _ WHERE pid > 100\nSORT BY pid DESC", prog.Statements[1].Text)
	assert.Equal(t, &Sort{Input: "_", Attr: "pid"}, prog.Statements[2].Command)
}

func TestParseContextWordsAsVariables(t *testing.T) {
	prog := mustParse(t, `
last = GET process FROM host-1 WHERE pid > 0 LAST 2 HOURS
desc = SORT last BY pid DESC
by = FIND file created BY desc LAST 5 MINUTES
to = by WHERE name = 'a' LIMIT 3
in = GROUP to BY name
on = last + desc
asc = NEW process ["a.exe"]
SAVE to TO out.json
INFO last
DISP desc LIMIT 2
APPLY python://score ON in, on
`)
	require.Len(t, prog.Statements, 11)

	outputs := []string{}
	for _, stmt := range prog.Statements[:7] {
		outputs = append(outputs, stmt.Output)
	}
	assert.Equal(t, []string{"last", "desc", "by", "to", "in", "on", "asc"}, outputs)

	assert.Equal(t, RelativeSpan{N: 2, Unit: UnitHour}, prog.Statements[0].Command.(*Get).Span)
	assert.Equal(t, &Sort{Input: "last", Attr: "pid", Order: Descending}, prog.Statements[1].Command)

	find := prog.Statements[2].Command.(*Find)
	assert.True(t, find.Reversed)
	assert.Equal(t, "desc", find.Input)
	assert.Equal(t, RelativeSpan{N: 5, Unit: UnitMinute}, find.Span)

	assert.Equal(t, "by", prog.Statements[3].Command.(*Assign).Expr.Input)
	assert.Equal(t, "to", prog.Statements[4].Command.(*Group).Input)
	assert.Equal(t, []string{"last", "desc"}, prog.Statements[5].Command.(*Merge).Sources)
	assert.Equal(t, &Save{Input: "to", Path: "out.json"}, prog.Statements[7].Command)
	assert.Equal(t, &Info{Input: "last"}, prog.Statements[8].Command)
	assert.Equal(t, "desc", prog.Statements[9].Command.(*Disp).Expr.Input)
	assert.Equal(t, []string{"in", "on"}, prog.Statements[10].Command.(*Apply).Variables)
}

func TestParseOmittedVariableBeforeClause(t *testing.T) {
	prog := mustParse(t, "GROUP BY name\nSAVE TO out.csv\nx = FIND file created BY LAST 1 DAYS")
	assert.Empty(t, prog.Statements[0].Command.(*Group).Input)
	assert.Empty(t, prog.Statements[1].Command.(*Save).Input)
	find := prog.Statements[2].Command.(*Find)
	assert.Empty(t, find.Input)
	assert.Equal(t, RelativeSpan{N: 1, Unit: UnitDay}, find.Span)
}

func TestIsKeyword(t *testing.T) {
	for _, word := range []string{"get", "FIND", "Sort", "timestamped", "where", "limit"} {
		assert.True(t, IsKeyword(word), word)
	}
	for _, word := range []string{"last", "desc", "asc", "to", "on", "in", "by", "start", "and"} {
		assert.False(t, IsKeyword(word), word)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		message string
	}{
		{"unbalanced parentheses", `y = x WHERE (a = 1 OR b = 2`, "expected ')'"},
		{"extra closing", `y = x WHERE a = 1)`, "expected a command"},
		{"unterminated string", `y = x WHERE name = 'abc`, "unterminated string"},
		{"GET without WHERE", `x = GET process FROM ds`, "requires a WHERE"},
		{"keyword as variable", `where = x`, "reserved keyword"},
		{"command as variable", `get = x`, "reserved keyword"},
		{"sort without variable", `SORT BY pid`, "SORT expects a variable name"},
		{"assign side effect", `y = DISP x`, "does not produce a result"},
		{"start after stop", `x = GET process WHERE pid = 1 START 2021-01-02T00:00:00Z STOP 2021-01-01T00:00:00Z`, "is after STOP"},
		{"bad timestamp", `x = GET process WHERE pid = 1 START 2021-13-01T00:00:00Z STOP 2021-01-01T00:00:00Z`, "invalid timestamp"},
		{"missing operator", `y = x WHERE name 'a'`, "expected comparison operator"},
		{"bad aggregate", `g = GROUP x BY a WITH MEDIAN(b)`, "expected aggregate function"},
		{"bad bin unit", `g = GROUP x BY BIN(ts, 5, WEEK)`, "expected time unit"},
		{"new without literal", `NEW process`, "JSON array"},
		{"new malformed json", `NEW process [{"a": }]`, "malformed literal"},
		{"new object literal", `NEW process {"a": 1}`, "JSON array"},
		{"negative limit", `DISP x LIMIT -1`, "must not be negative"},
		{"stray token", `DISP x ) `, "expected a command"},
		{"missing relation", `y = FIND process`, "expected relation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			require.Error(t, err)

			var serr *SyntaxError
			require.True(t, errors.As(err, &serr), "expected *SyntaxError, got %T", err)
			assert.Contains(t, serr.Message, tt.message)
			assert.Positive(t, serr.Pos.Line)
		})
	}
}

func TestSyntaxErrorPosition(t *testing.T) {
	_, err := Parse("x = NEW process [\"a\"]\ny = x WHERE name = \n")
	var serr *SyntaxError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 3, serr.Pos.Line)
	assert.Contains(t, serr.Error(), "syntax error at 3:1")
}
