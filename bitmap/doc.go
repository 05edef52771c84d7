// Package bitmap provides the bit storage backing a sparsebloom filter.
//
// Three implementations satisfy the [Bitmap] capability:
//
// [Dense] allocates one 64-bit word per 64 keys up front. Reads and writes are
// O(1) and never allocate.
//
// [Compressed] stores only the non-zero words, located through a second
// bitmap over blocks (the block map) and a popcount rank query. Memory grows
// with the number of populated blocks rather than with capacity, which makes
// it well suited to lightly loaded bloom filters. [Compress] converts a Dense
// bitmap in a single pass, and [Compressed.Or] merges two compressed bitmaps
// without decompressing either.
//
// [Bytes] has the same layout as Dense but keeps its words in a little-endian
// byte slice, so the storage can be persisted and mounted again with
// [FromBytes] without copying.
//
// # Capacity checks
//
// Every bitmap is constructed for keys 0..=maxKey and never resized. Checking
// keys against maxKey on every Set and Get is only done when built with the
// invariants build tag (or -race):
//
//	go test -tags invariants ./...
//
// Without it, keys past the allocated storage still panic through Go's slice
// bounds checks, but keys only slightly above maxKey (inside the last word)
// are accepted silently. This keeps the hot path free of the extra compare.
//
// # Thread Safety
//
// None of the bitmaps are safe for concurrent use with a writer. Concurrent
// readers are fine.
package bitmap
