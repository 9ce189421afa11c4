// Package harness runs huntflow conformance scenarios.
//
// A scenario is a YAML file holding a huntflow, the datasource fixtures it
// reads and the assertions its outcome must satisfy:
//
//	name: child_processes
//	description: FIND created walks parent_ref
//	now: "2021-01-08T00:00:00Z"
//	datasources:
//	  host-1:
//	    process:
//	      - {id: process--1, pid: 4, name: System}
//	      - {id: process--2, pid: 100, name: svchost.exe, parent_ref: process--1}
//	huntflow: |
//	  roots = GET process FROM host-1 WHERE pid = 4
//	  kids = FIND process CREATED BY roots
//	assertions:
//	  - type: variable_count
//	    variable: kids
//	    count: 1
//
// Every scenario runs in a fresh session with an in-memory store, a fixed
// clock stopped at now and sequential ids ("id-1", "id-2", ...), so the
// same scenario always produces the same trace. Each datasource is served
// by the mem:// connector and is also reachable by its bare name.
//
// # Assertions
//
//   - variable_count: the variable holds exactly count rows
//   - variable_type: the variable has entity_type
//   - variable_rows: the variable holds exactly len(rows) rows, each a
//     superset of the expected row at the same position
//   - variable_absent: the variable is not bound
//   - trace_order: the commands executed in this relative order
//   - trace_count: the command executed exactly count times
//   - display_rows: the display-th DISP (1-based) showed these rows
//
// A scenario whose huntflow must fail sets expect_error. Assertions still
// run against the variables bound before the failing statement.
//
// # Golden traces
//
// RunWithGolden compares the trace of a scenario with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
