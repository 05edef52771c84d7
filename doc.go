// Package sparsebloom provides a bloom filter over a sparse, compressed
// bitmap.
//
// A bloom filter is a space-efficient probabilistic data structure that tests
// whether an element is a member of a set. False positive matches are possible,
// but false negatives are not: if the filter says an element is not present,
// it definitely is not.
//
// # Architecture
//
// Each value is hashed to a 64-bit fingerprint by a caller supplied [Hasher].
// The fingerprint is split into k chunks of [FilterSize] bytes, and each chunk
// is used directly as the index of a bit. Insert sets all k bits; Contains
// checks them.
//
// The bits live in a [bitmap.Bitmap]. The default, [bitmap.Compressed], only
// stores the 64-bit blocks that have at least one bit set, located through a
// second bitmap over blocks and a popcount rank query. A filter with few
// entries therefore costs a few hundred bytes no matter how large its key
// space is, and grows towards the dense size as it fills up. This makes it
// practical to keep very large numbers of small filters in memory, or to ship
// them over the network.
//
// # Implementations
//
// The bitmap type is a type parameter of [Filter]:
//
// [New] and [NewWithSize] return filters over a [bitmap.Compressed], the
// smallest representation. Inserting into a compressed bitmap may shift its
// storage, so it is the slowest to build.
//
// [NewDense] allocates the full key space up front. It is the fastest to build
// and query; [Compress] converts a populated dense filter into a compressed
// one in a single pass.
//
// [NewBytes] uses a dense layout stored in a byte slice, which can be written
// out and mounted again with [bitmap.FromBytes] and [NewWithBitmap] without
// copying.
//
// # Choosing Parameters
//
// The caller chooses the hash function and the [FilterSize]. The default,
// [KeyBytes2], sets 4 bits per value in a 65536 bit key space:
//
//	f := sparsebloom.New(sparsebloom.HashString)
//	f.Insert("hello")
//
// Larger sizes trade memory for a slower growing false positive rate. See
// [FilterSize] for the footprint of each, and [EstimateFalsePositiveRate] to
// compare them for an expected number of entries.
//
// # Merging
//
// Filters with the same size and hash function can be merged with
// [Filter.Union]. Compressed filters are merged without decompressing either
// side.
//
// # Thread Safety
//
// [Filter] is NOT thread-safe. Concurrent readers are fine, but any writer
// (Insert, Union, Clear, ShrinkToFit) requires external synchronization.
// [Filter.Clone] returns an independent copy that shares no storage.
//
// # Performance Tips
//
//   - Build large filters with [NewDense] and [Compress] them once populated
//   - Call [Filter.ShrinkToFit] on filters that will no longer change
//   - Use [HashString] for string keys to avoid converting them to []byte
//   - Build with GOAMD64=v2 or higher to enable hardware POPCNT for the rank
//     queries of the compressed bitmap
package sparsebloom
