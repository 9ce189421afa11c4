package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/huntflow/internal/connector"
	"github.com/roach88/huntflow/internal/ir"
)

func TestGetFiltersAndBinds(t *testing.T) {
	f := newFixture(t)

	traces := f.run(t, `procs = GET process FROM host-1 WHERE name = 'svchost.exe'`)

	require.Len(t, traces, 1)
	assert.Equal(t, "get", traces[0].Command)
	assert.Equal(t, "procs", traces[0].Output)
	assert.Equal(t, "process", traces[0].EntityType)
	assert.Equal(t, int64(2), traces[0].Count)

	rows := f.rows(t, "procs")
	assert.Equal(t, ints(100, 300), column(rows, "pid"))

	v, ok := f.s.Variable("procs")
	require.True(t, ok)
	assert.Equal(t, "GET", v.Provenance)
	assert.Equal(t, []string{"host-1"}, v.Datasources)
}

func TestGetWithoutOutputBindsDefaultVariable(t *testing.T) {
	f := newFixture(t)

	f.run(t, `GET process FROM host-1 WHERE pid = 4`)

	rows := f.rows(t, "_")
	assert.Equal(t, strs("System"), column(rows, "name"))
}

func TestGetRelativeSpanResolvesAtEvaluation(t *testing.T) {
	f := newFixture(t)
	const flow = `recent = GET process FROM host-1 WHERE pid > 0 LAST 1 DAYS`

	f.run(t, flow)
	assert.Equal(t, ints(100, 200, 300), column(f.rows(t, "recent"), "pid"))

	calls := f.mem.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Query.HasSpan)
	assert.Equal(t, testNow.Add(-24*time.Hour), calls[0].Query.Start)
	assert.Equal(t, testNow, calls[0].Query.Stop)

	// A week later nothing in the fixture is recent.
	f.clock.Advance(7 * 24 * time.Hour)
	f.run(t, flow)
	assert.Empty(t, f.rows(t, "recent"))

	calls = f.mem.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, testNow.Add(6*24*time.Hour), calls[1].Query.Start)
}

func TestGetAbsoluteSpanIsInclusive(t *testing.T) {
	f := newFixture(t)

	f.run(t, `w = GET process FROM host-1 WHERE pid > 0 START 2021-01-07T10:01:00Z STOP 2021-01-07T10:07:00Z`)

	assert.Equal(t, ints(200, 300), column(f.rows(t, "w"), "pid"))
}

func TestGetUnknownDatasource(t *testing.T) {
	f := newFixture(t)

	_, err := f.s.Execute(context.Background(), `x = GET process FROM ds1 WHERE pid = 1`)

	require.Error(t, err)
	assert.True(t, IsDataSourceError(err), "got %v", err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 1, e.Statement)
	assert.Equal(t, "get", e.Command)
	_, bound := f.s.Variable("x")
	assert.False(t, bound)
}

func TestGetDatasourceDefaults(t *testing.T) {
	t.Run("last used", func(t *testing.T) {
		f := newFixture(t)
		f.run(t, `
a = GET process FROM host-1 WHERE pid = 4
b = GET network-traffic WHERE dst_port = 443
`)
		assert.Equal(t, ints(443), column(f.rows(t, "b"), "dst_port"))
		v, _ := f.s.Variable("b")
		assert.Equal(t, []string{"host-1"}, v.Datasources)
	})

	t.Run("configured", func(t *testing.T) {
		f := newFixture(t, WithDefaultDatasource("host-1"))
		f.run(t, `a = GET process WHERE pid = 4`)
		assert.Len(t, f.rows(t, "a"), 1)
	})

	t.Run("none", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.s.Execute(context.Background(), `a = GET process WHERE pid = 4`)
		require.Error(t, err)
		assert.True(t, IsDataSourceError(err))
	})
}

func TestGetDatasourceListIsUnioned(t *testing.T) {
	f := newFixture(t)
	f.mem.Add("host2", "process", ir.IRObject{
		"id":   ir.IRString("process--9"),
		"pid":  ir.IRInt(900),
		"name": ir.IRString("svchost.exe"),
	})

	f.run(t, `p = GET process FROM host-1,mem://host2 WHERE name = 'svchost.exe'`)

	assert.Equal(t, ints(100, 300, 900), column(f.rows(t, "p"), "pid"))
	v, _ := f.s.Variable("p")
	assert.Equal(t, []string{"host-1", "mem://host2"}, v.Datasources)
}

func TestGetLimit(t *testing.T) {
	f := newFixture(t)

	f.run(t, `p = GET process FROM host-1 WHERE pid > 0 LIMIT 2`)

	assert.Equal(t, ints(4, 100), column(f.rows(t, "p"), "pid"))
}

func TestFind(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
parents = procs WHERE pid = 100
kids = FIND process CREATED BY parents
creator = FIND process CREATED kids
svc = procs WHERE name = 'svchost.exe'
conns = FIND network-traffic CREATED BY svc
bins = FIND file LOADED BY svc
`)

	assert.Equal(t, ints(200, 300), column(f.rows(t, "kids"), "pid"))
	assert.Equal(t, ints(100), column(f.rows(t, "creator"), "pid"))
	assert.Equal(t, ints(443), column(f.rows(t, "conns"), "dst_port"))
	assert.Equal(t, strs("evil.exe"), column(f.rows(t, "bins"), "name"))

	v, _ := f.s.Variable("kids")
	assert.Equal(t, "FIND", v.Provenance)
	assert.Equal(t, []string{"host-1"}, v.Datasources)
}

func TestFindWhereAndLimit(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
parents = GET process FROM host-1 WHERE pid = 100
shells = FIND process CREATED BY parents WHERE name = 'cmd.exe'
first = FIND process CREATED BY parents LIMIT 1
`)

	assert.Equal(t, ints(200), column(f.rows(t, "shells"), "pid"))
	assert.Len(t, f.rows(t, "first"), 1)
}

func TestFindOverSessionEntities(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
all = NEW [{"type": "process", "id": "process--a", "pid": 1}, {"type": "process", "id": "process--b", "pid": 2, "parent_ref": "process--a"}]
root = all WHERE pid = 1
kids = FIND process CREATED BY root
`)

	assert.Equal(t, ints(2), column(f.rows(t, "kids"), "pid"))
}

func TestFindCollapsesCandidatesOnID(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
stamped = TIMESTAMPED(procs)
tagged = NEW [{"type": "process", "id": "process--3", "pid": 200, "note": "seen"}]
kids = FIND process CREATED BY procs
`)

	kids := f.rows(t, "kids")
	assert.Equal(t, ints(100, 200, 300), column(kids, "pid"))
	assert.Equal(t, strs("process--2", "process--3", "process--4"), column(kids, "id"))
	for _, row := range kids {
		assert.Equal(t, ir.IRNull{}, row["note"], "the fetched row wins over later session copies")
	}
}

func TestFindErrors(t *testing.T) {
	f := newFixture(t)
	f.run(t, `procs = GET process FROM host-1 WHERE pid > 0`)

	_, err := f.s.Execute(context.Background(), `x = FIND process CREATE BY procs`)
	require.Error(t, err)
	assert.True(t, IsSemanticError(err), "got %v", err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Hint, `did you mean "created"?`)

	_, err = f.s.Execute(context.Background(), `x = FIND file CREATED procs`)
	require.Error(t, err)
	assert.True(t, IsSemanticError(err), "got %v", err)
}

func TestGroup(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
byname = GROUP procs BY name WITH COUNT(*) AS cnt, MAX(pid)
counted = GROUP procs BY name
`)

	rows := f.rows(t, "byname")
	assert.Equal(t, strs("System", "cmd.exe", "svchost.exe"), column(rows, "name"))
	assert.Equal(t, ints(1, 1, 2), column(rows, "cnt"))
	assert.Equal(t, ints(4, 200, 300), column(rows, "max_pid"))

	assert.Equal(t, ints(1, 1, 2), column(f.rows(t, "counted"), "count"))
}

func TestGroupTimeBinsIgnoreArrivalOrder(t *testing.T) {
	const flow = `
procs = GET process FROM host-1 WHERE pid > 0
b = GROUP procs BY BIN(created, 5, MINUTE)
`
	f := newFixture(t)
	f.run(t, flow)

	// Same rows, reversed.
	g := newFixture(t)
	g.mem = connector.NewMemory()
	rows := fixtureProcesses()
	for i := len(rows) - 1; i >= 0; i-- {
		g.mem.Add("host1", "process", rows[i])
	}
	g.reg.Register("mem", g.mem)
	g.run(t, flow)

	want := f.rows(t, "b")
	assert.Equal(t, want, g.rows(t, "b"))
	assert.Equal(t, ints(1, 2, 1), column(want, "count"))
}

func TestGroupRejectsEmptyBin(t *testing.T) {
	f := newFixture(t)
	f.run(t, `procs = GET process FROM host-1 WHERE pid > 0`)

	_, err := f.s.Execute(context.Background(), `b = GROUP procs BY BIN(pid, 0)`)

	require.Error(t, err)
	assert.True(t, IsSemanticError(err), "got %v", err)
}

func TestJoin(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
svc = procs WHERE name = 'svchost.exe'
same = JOIN procs, svc
kids = JOIN procs, svc BY ppid, pid
`)

	// Default key is id: each svchost matches itself.
	assert.Equal(t, ints(100, 300), column(f.rows(t, "same"), "pid"))
	// Children of a svchost: cmd and svchost(300), both under 100.
	assert.Equal(t, ints(200, 300), column(f.rows(t, "kids"), "pid"))
}

func TestJoinWithoutCommonKey(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
g = GROUP procs BY name
`)

	_, err := f.s.Execute(context.Background(), `x = JOIN procs, g`)
	require.NoError(t, err, "groups keep the name identity attribute")

	f.run(t, `h = GROUP procs BY ppid`)
	_, err = f.s.Execute(context.Background(), `y = JOIN procs, h`)
	require.Error(t, err)
	assert.True(t, IsSemanticError(err), "got %v", err)
	assert.Contains(t, err.Error(), "BY")
}

func TestLoadAndSave(t *testing.T) {
	for _, ext := range []string{"json", "jsonl", "csv", "yaml", "cbor"} {
		t.Run(ext, func(t *testing.T) {
			f := newFixture(t, WithBaseDir(t.TempDir()))
			f.run(t, `
procs = GET process FROM host-1 WHERE name = 'svchost.exe'
SAVE procs TO out.`+ext+`
back = LOAD out.`+ext+` AS process
`)
			assert.Equal(t, column(f.rows(t, "procs"), "name"), column(f.rows(t, "back"), "name"))
			v, _ := f.s.Variable("back")
			assert.Equal(t, "LOAD", v.Provenance)
			assert.Equal(t, "process", v.EntityType)
		})
	}
}

func TestLoadInfersType(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "typed.json"),
		[]byte(`[{"type": "file", "name": "a.exe"}, {"type": "file", "name": "b.exe"}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "untyped.json"),
		[]byte(`[{"name": "a.exe"}]`), 0o644))
	f := newFixture(t, WithBaseDir(dir))

	f.run(t, `files = LOAD typed.json`)
	v, _ := f.s.Variable("files")
	assert.Equal(t, "file", v.EntityType)
	assert.Equal(t, strs("a.exe", "b.exe"), column(f.rows(t, "files"), "name"))

	_, err := f.s.Execute(context.Background(), `x = LOAD untyped.json`)
	require.Error(t, err)
	assert.True(t, IsValidationError(err), "got %v", err)

	_, err = f.s.Execute(context.Background(), `x = LOAD missing.json AS file`)
	require.Error(t, err)
	assert.True(t, IsIOError(err), "got %v", err)
}

func TestMerge(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
a = GET process FROM host-1 WHERE pid < 200
b = GET process FROM host-1 WHERE pid >= 100
m = a + b
`)

	assert.Equal(t, ints(4, 100, 200, 300), column(f.rows(t, "m"), "pid"))
	v, _ := f.s.Variable("m")
	assert.Equal(t, "MERGE", v.Provenance)

	f.run(t, `n = GET network-traffic FROM host-1 WHERE dst_port = 443`)
	_, err := f.s.Execute(context.Background(), `x = a + n`)
	require.Error(t, err)
	assert.True(t, IsSemanticError(err), "got %v", err)
}

func TestNew(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
names = NEW process ["cmd.exe", "explorer.exe"]
objs = NEW [{"type": "process", "pid": 1, "name": "a"}, {"type": "process", "pid": 2}]
`)

	rows := f.rows(t, "names")
	assert.Equal(t, strs("cmd.exe", "explorer.exe"), column(rows, "name"))
	assert.Equal(t, strs("process--id-2", "process--id-3"), column(rows, "id"))

	objs := f.rows(t, "objs")
	assert.Equal(t, ints(1, 2), column(objs, "pid"))
	assert.Equal(t, []ir.IRValue{ir.IRString("a"), ir.IRNull{}}, column(objs, "name"))
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		flow string
	}{
		{"scalars without type", `x = NEW ["a", "b"]`},
		{"mixed entries", `x = NEW process ["a", {"name": "b"}]`},
		{"list entry", `x = NEW process [["a"]]`},
		{"null entry", `x = NEW process [null]`},
		{"mixed types", `x = NEW [{"type": "process"}, {"type": "file"}]`},
		{"bad timestamp", `x = NEW process [{"name": "a", "created": "yesterday"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.s.Execute(context.Background(), tt.flow)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestSort(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
desc = SORT procs BY pid DESC
asc = SORT desc BY pid
`)

	assert.Equal(t, ints(300, 200, 100, 4), column(f.rows(t, "desc"), "pid"))
	assert.Equal(t, ints(4, 100, 200, 300), column(f.rows(t, "asc"), "pid"))

	_, err := f.s.Execute(context.Background(), `x = SORT procs BY pi`)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrCodeSemantic, e.Code)
	assert.Contains(t, e.Hint, "pid")
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	traces := f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
APPLY builtin://tag ON procs WITH value = 'suspicious'
`)

	require.Len(t, traces, 2)
	assert.Equal(t, int64(4), traces[1].Count)
	rows := f.rows(t, "procs")
	assert.Equal(t, strs("suspicious", "suspicious", "suspicious", "suspicious"), column(rows, "tag"))
	v, _ := f.s.Variable("procs")
	assert.Equal(t, "APPLY", v.Provenance)
	assert.Equal(t, "process", v.EntityType)
}

func TestApplyWarningsAndErrors(t *testing.T) {
	f := newFixture(t)
	f.run(t, `procs = GET process FROM host-1 WHERE pid > 0`)

	traces := f.run(t, `APPLY builtin://dedup ON procs WITH attrs = ['name', 'ppid']`)
	require.Len(t, traces, 1)
	require.NotEmpty(t, traces[0].Warnings)
	assert.Contains(t, traces[0].Warnings[0], "ppid")

	_, err := f.s.Execute(context.Background(), `APPLY docker://x ON procs`)
	require.Error(t, err)
	assert.True(t, IsAnalyticsError(err), "got %v", err)

	_, err = f.s.Execute(context.Background(), `APPLY builtin://tag ON procs WITH colour = 'red'`)
	require.Error(t, err)
	assert.True(t, IsAnalyticsError(err), "got %v", err)
}

func TestDisp(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
DISP procs WHERE ppid = 100 ATTR pid, name SORT BY pid DESC LIMIT 1
DISP procs ATTR name SORT BY pid DESC
`)

	require.Len(t, f.out.Displays, 2)
	d := f.out.Displays[0]
	assert.Equal(t, "process", d.EntityType)
	assert.Equal(t, []string{"pid", "name"}, d.Attributes)
	assert.Equal(t, []ir.IRObject{{"pid": ir.IRInt(300), "name": ir.IRString("svchost.exe")}}, d.Rows)

	// Sorting on an attribute that is not projected.
	assert.Equal(t, strs("svchost.exe", "cmd.exe", "svchost.exe", "System"), column(f.out.Displays[1].Rows, "name"))
}

func TestDispChainingMatchesSingleExpression(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
a = procs WHERE name = 'svchost.exe'
b = a ATTR pid, name
DISP b
DISP procs WHERE name = 'svchost.exe' ATTR pid, name
`)

	require.Len(t, f.out.Displays, 2)
	assert.Equal(t, f.out.Displays[1].Rows, f.out.Displays[0].Rows)
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE ppid = 100
INFO procs
`)

	require.Len(t, f.out.Infos, 1)
	info := f.out.Infos[0]
	assert.Equal(t, "procs", info.Variable)
	assert.Equal(t, "process", info.EntityType)
	assert.Equal(t, int64(2), info.Count)
	assert.Equal(t, "GET", info.Provenance)
	assert.Equal(t, []string{"host-1"}, info.Datasources)

	names := make([]string, len(info.Attributes))
	for i, a := range info.Attributes {
		names[i] = a.Name
	}
	assert.Contains(t, names, "pid")
	assert.Contains(t, names, "command_line")
}

func TestIdentityExpressionSharesRows(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
alias = procs
`)

	assert.Equal(t, f.rows(t, "procs"), f.rows(t, "alias"))
	a, _ := f.s.Variable("procs")
	b, _ := f.s.Variable("alias")
	assert.Equal(t, a.RowSet.ID, b.RowSet.ID)
}

func TestNegationPartitionsRows(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = NEW [{"type": "process", "pid": 1}, {"type": "process", "pid": 2}, {"type": "process", "name": "nopid"}]
yes = procs WHERE pid IN (1)
no = procs WHERE pid NOT IN (1)
`)

	yes := len(f.rows(t, "yes"))
	no := len(f.rows(t, "no"))
	assert.Equal(t, 1, yes)
	assert.Equal(t, 2, no, "a row without pid is on the negated side")
	assert.Equal(t, 3, yes+no)
}

func TestPatternPrecedence(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
implicit = procs WHERE name = 'System' AND pid = 100 OR pid = 200
explicit = procs WHERE name = 'System' AND (pid = 100 OR pid = 200)
`)

	assert.Equal(t, ints(200), column(f.rows(t, "implicit"), "pid"))
	assert.Empty(t, f.rows(t, "explicit"))
}

func TestReferenceValues(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = GET process FROM host-1 WHERE pid > 0
parents = procs WHERE name = 'svchost.exe'
kids = procs WHERE ppid = parents.pid
`)

	assert.Equal(t, ints(200, 300), column(f.rows(t, "kids"), "pid"))
}

func TestTimestampedDropsRowsWithoutTimestamp(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
procs = NEW [{"type": "process", "pid": 1, "created": "2021-01-01T00:00:00Z"}, {"type": "process", "pid": 2}]
ts = TIMESTAMPED(procs)
`)

	rows := f.rows(t, "ts")
	require.Len(t, rows, 1)
	assert.Equal(t, ir.IRInt(1), rows[0]["pid"])
	assert.Equal(t, ir.IRString("2021-01-01T00:00:00.000Z"), rows[0]["first_observed"])
}

func TestIngestNormalizesTimestamps(t *testing.T) {
	f := newFixture(t)
	f.run(t, `p = NEW [{"type": "process", "pid": 1, "created": 1609459200}, {"type": "process", "pid": 2, "created": "2021-01-01 00:00:01"}]`)

	assert.Equal(t, strs("2021-01-01T00:00:00.000Z", "2021-01-01T00:00:01.000Z"), column(f.rows(t, "p"), "created"))
}
