package bitmap

import (
	"github.com/cockroachdb/errors"

	"github.com/jcalabro/sparsebloom/internal/invariants"
)

// WordBits is the number of keys stored in a single block (one uint64 word).
const WordBits = 64

// Bitmap is the bit storage capability consumed by a bloom filter.
//
// B is the concrete implementation type, so that Or can return the same type
// as its receiver without a type assertion. *Dense, *Compressed and *Bytes all
// satisfy Bitmap over themselves:
//
//	var _ Bitmap[*Compressed] = (*Compressed)(nil)
//
// For any sequence of Set calls, Get(key) returns the value passed to the
// most recent Set(key, _), or false if the key was never set.
type Bitmap[B any] interface {
	// Set sets the bit indexed by key to value.
	Set(key uint64, value bool)

	// Get returns true if the bit indexed by key was previously set to true.
	Get(key uint64) bool

	// ByteSize returns the memory footprint of the bitmap in bytes.
	ByteSize() int

	// Or returns a new bitmap holding the bitwise OR of the receiver and
	// other. Neither input is modified. Both must share the same capacity.
	Or(other B) B

	// MaxKey returns the largest key the bitmap was constructed to hold.
	MaxKey() uint64

	// Clear resets every bit to false.
	Clear()

	// Clone returns an independent copy that shares no storage with the
	// receiver.
	Clone() B
}

var (
	_ Bitmap[*Dense]      = (*Dense)(nil)
	_ Bitmap[*Compressed] = (*Compressed)(nil)
	_ Bitmap[*Bytes]      = (*Bytes)(nil)
)

// blockIndex returns the index of the word holding key.
func blockIndex(key uint64) uint64 {
	return key / WordBits
}

// bitMask returns the mask selecting key within its word.
func bitMask(key uint64) uint64 {
	return 1 << (key % WordBits)
}

// numBlocks returns the number of words needed to hold keys 0..=maxKey.
func numBlocks(maxKey uint64) uint64 {
	return blockIndex(maxKey) + 1
}

// checkKey panics if key exceeds maxKey. It compiles to nothing unless the
// invariants build tag is set.
func checkKey(key, maxKey uint64) {
	if invariants.Enabled && key > maxKey {
		panic(errors.AssertionFailedf("bitmap: key %d > %d max", key, maxKey))
	}
}
