package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/huntflow/internal/connector"
	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/testutil"
)

// testNow is the fixed "now" of every fixture session.
var testNow = time.Date(2021, 1, 8, 0, 0, 0, 0, time.UTC)

type fixture struct {
	s     *Session
	out   *Recorder
	mem   *connector.Memory
	reg   *connector.Registry
	clock *testutil.FixedClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture returns a session whose "host-1" datasource serves a small
// process tree: System(4) -> svchost(100) -> {cmd(200), svchost(300)}.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	mem := connector.NewMemory()
	mem.Add("host1", "process", fixtureProcesses()...)
	mem.Add("host1", "network-traffic", ir.IRObject{
		"id":       ir.IRString("network-traffic--1"),
		"dst_port": ir.IRInt(443),
		"src_port": ir.IRInt(50000),
	})
	mem.Add("host1", "file", ir.IRObject{
		"id":      ir.IRString("file--1"),
		"name":    ir.IRString("evil.exe"),
		"created": ir.IRString("2021-01-05T00:00:00Z"),
	})

	reg := connector.NewRegistry(discardLogger())
	reg.Register("mem", mem)
	reg.Alias("host-1", "mem://host1")

	f := &fixture{
		out:   &Recorder{},
		mem:   mem,
		reg:   reg,
		clock: testutil.NewFixedClock(testNow),
	}
	base := []Option{
		WithConnectors(reg),
		WithOutput(f.out),
		WithLogger(discardLogger()),
		WithClock(f.clock),
		WithIDGenerator(NewSequenceGenerator("id-")),
	}
	s, err := NewSession(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	f.s = s
	return f
}

func fixtureProcesses() []ir.IRObject {
	return []ir.IRObject{
		{
			"id":      ir.IRString("process--1"),
			"pid":     ir.IRInt(4),
			"name":    ir.IRString("System"),
			"created": ir.IRString("2021-01-01T00:00:00Z"),
		},
		{
			"id":                     ir.IRString("process--2"),
			"pid":                    ir.IRInt(100),
			"ppid":                   ir.IRInt(4),
			"name":                   ir.IRString("svchost.exe"),
			"parent_ref":             ir.IRString("process--1"),
			"created":                ir.IRString("2021-01-07T10:00:00Z"),
			"opened_connection_refs": ir.IRArray{ir.IRString("network-traffic--1")},
		},
		{
			"id":           ir.IRString("process--3"),
			"pid":          ir.IRInt(200),
			"ppid":         ir.IRInt(100),
			"name":         ir.IRString("cmd.exe"),
			"parent_ref":   ir.IRString("process--2"),
			"created":      ir.IRString("2021-01-07T10:02:00Z"),
			"command_line": ir.IRString("cmd.exe /c whoami"),
		},
		{
			"id":         ir.IRString("process--4"),
			"pid":        ir.IRInt(300),
			"ppid":       ir.IRInt(100),
			"name":       ir.IRString("svchost.exe"),
			"parent_ref": ir.IRString("process--2"),
			"created":    ir.IRString("2021-01-07T10:07:00Z"),
			"binary_ref": ir.IRString("file--1"),
		},
	}
}

func (f *fixture) run(t *testing.T, source string) []Trace {
	t.Helper()
	traces, err := f.s.Execute(context.Background(), source)
	require.NoError(t, err)
	return traces
}

func (f *fixture) rows(t *testing.T, name string) []ir.IRObject {
	t.Helper()
	v, ok := f.s.Variable(name)
	require.True(t, ok, "variable %q is not bound", name)
	rows, err := f.s.Store().Rows(context.Background(), v.RowSet)
	require.NoError(t, err)
	return rows
}

// column returns attr of every row, in row order.
func column(rows []ir.IRObject, attr string) []ir.IRValue {
	out := make([]ir.IRValue, len(rows))
	for i, row := range rows {
		out[i] = row[attr]
	}
	return out
}

func ints(values ...int64) []ir.IRValue {
	out := make([]ir.IRValue, len(values))
	for i, v := range values {
		out[i] = ir.IRInt(v)
	}
	return out
}

func strs(values ...string) []ir.IRValue {
	out := make([]ir.IRValue, len(values))
	for i, v := range values {
		out[i] = ir.IRString(v)
	}
	return out
}
