// Package engine implements the huntflow interpreter.
//
// A Session holds the variables of one huntflow execution. Each variable is
// a typed handle to a row set in the store; commands never change rows in
// place, they derive new row sets and rebind names.
//
// ARCHITECTURE:
//
// Execution Flow:
// 1. Execute parses the source (syntax.Parse) and normalizes it against the
// variables already bound (syntax.Normalize)
// 2. Statements run one at a time; the interpreter dispatches each command
// through syntax.Visitor, one handler per command kind
// 3. Handlers call the store for every row operation, the connector
// registry for GET and FIND, the analytics registry for APPLY and fileio
// for LOAD and SAVE
// 4. A handler binds its result only after every collaborator call has
// succeeded
//
// Close drops the session's row sets from the store.
//
// CRITICAL PATTERNS:
//
// Sequential Execution:
// Statement i+1 observes every binding of statement i. There is no
// reordering, no concurrency within a session and no retry.
//
// Fail-Stop:
// The first failing statement ends the huntflow with an *Error. Variables
// bound before it stay bound and inspectable.
//
// Evaluation-Time Windows:
// Relative timespans resolve against the session Clock when the statement
// runs, so a huntflow parsed once and run later queries the later window.
package engine
