// Package invariants exposes a compile-time switch for debug-only checks.
//
// Build with -tags invariants (or -race) to enable capacity assertions on
// every bitmap Set/Get and the block map consistency check after a union.
// Optimized builds skip these checks; callers are then responsible for
// respecting the capacity they declared at construction.
package invariants
