// Package ir provides the value representation shared by every huntflow
// package: attribute values, entity rows, canonical JSON and content hashes.
//
// ir imports nothing internal. Values are a sealed tagged union so literals
// from source, rows fetched from a datasource and rows read back from the
// store all flow through the same seven variants.
package ir
