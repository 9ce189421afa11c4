// Package pattern compiles huntflow WHERE clauses into a backend-agnostic
// predicate tree.
//
// ARCHITECTURE:
//
// The predicate IR sits between the parser and the store backend:
//
//	[WHERE syntax] → [pattern.Compile] → [Predicate] → [querysql / connector]
//
// Compilation resolves everything a backend should not have to know about:
//
//   - `==` is `=`; `attr = NULL` and `attr != NULL` become NullTest
//   - `attr = var.x` and `attr IN (var.x, ...)` become IN over the values of
//     x in the referenced variable at the moment the statement runs
//   - entity type qualifiers (`process:name`) are checked against the
//     catalog and the subject's type, then dropped
//   - operator/value arity is checked: IN, ISSUBSET and ISSUPERSET take
//     lists, every other operator takes one scalar
//
// SEALED INTERFACES:
//
// Predicate is sealed with a marker method, so backends can switch over
// And, Or, Compare and NullTest exhaustively.
//
// NEGATION:
//
// A negated keyword comparison (`NOT IN`, `NOT LIKE`, ...) holds on exactly
// the rows where its positive form does not, NULL attributes included.
// Backends must preserve this; see querysql for the SQL form.
package pattern
