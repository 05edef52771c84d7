//go:build invariants || race

package invariants

// Enabled is true if we were built with the "invariants" or "race" build tags.
//
// Enabled should be used to gate checks that are too expensive for the hot
// path of an optimized build, such as verifying that a key lies within the
// declared capacity of a bitmap.
const Enabled = true
