// Package store provides the SQLite-backed Store Adapter that holds every
// row set a huntflow session produces.
//
// A row set is an immutable table of entity rows plus a catalog entry:
//   - rowsets: one row per row set (session, entity type, table, count)
//   - rowset_columns: the attribute columns of each row set and how their
//     values are encoded (scalar, bool or json)
//
// Operations never modify a row set in place. Select, Aggregate, Join, Union
// and Related each create a new table filled by one INSERT ... SELECT built in
// internal/querysql, inside one transaction with its catalog entry.
//
// # Critical Patterns
//
// Deterministic Row Order
//   - Every row-set table carries a __seq column assigned by the producing
//     statement; reads always ORDER BY __seq
//   - Text ordering uses COLLATE BINARY
//
// Parameterized SQL
//   - Values are always bound as parameters, never interpolated
//   - Identifiers are quoted with querysql.QuoteIdent
//
// Session Teardown
//   - DropSession removes every table a session created and its catalog rows
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - REGEXP: registered on every connection for the MATCHES operator
package store
