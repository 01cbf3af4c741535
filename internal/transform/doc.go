// Package transform maps groups onto provider entitlements and back.
//
// Rules are compiled once at registration (CompileRule) and evaluated from
// a cached, read-mostly rule set per (tenant, provider) pair. Malformed
// patterns are rejected at compile time, never at evaluation time.
//
// Structure:
//
//	compile.go - rule compilation and predicate evaluation
//	engine.go  - forward transformation and multi-match resolution
//	reverse.go - algebraic inversion with explicit ambiguity marking
package transform
