package bitmap

import (
	"math/bits"

	"github.com/cockroachdb/errors"
)

// Dense is a plain, heap-allocated, O(1) indexed bitmap.
//
// All words are allocated up front, so Dense requires O(maxKey) space but
// never allocates on Set. It is the fastest write path, and the source format
// for building a Compressed bitmap with Compress.
type Dense struct {
	words  []uint64
	maxKey uint64
}

// NewDense creates a Dense bitmap able to hold keys 0..=maxKey.
func NewDense(maxKey uint64) *Dense {
	return &Dense{
		words:  make([]uint64, numBlocks(maxKey)),
		maxKey: maxKey,
	}
}

// Set sets the bit for key to value.
func (d *Dense) Set(key uint64, value bool) {
	checkKey(key, d.maxKey)

	if value {
		d.words[blockIndex(key)] |= bitMask(key)
	} else {
		d.words[blockIndex(key)] &^= bitMask(key)
	}
}

// Get reports whether the bit for key is set.
func (d *Dense) Get(key uint64) bool {
	checkKey(key, d.maxKey)
	return d.words[blockIndex(key)]&bitMask(key) != 0
}

// ByteSize returns the size of the word array in bytes.
func (d *Dense) ByteSize() int {
	return len(d.words) * 8
}

// Or returns the union of d and other.
//
// Or panics if other was not constructed with the same capacity.
func (d *Dense) Or(other *Dense) *Dense {
	if len(d.words) != len(other.words) {
		panic(errors.AssertionFailedf("bitmap: Or of dense bitmaps with %d and %d words", len(d.words), len(other.words)))
	}

	words := make([]uint64, len(d.words))
	for i := range words {
		words[i] = d.words[i] | other.words[i]
	}

	return &Dense{words: words, maxKey: d.maxKey}
}

// MaxKey returns the largest key d can hold.
func (d *Dense) MaxKey() uint64 {
	return d.maxKey
}

// Clear resets every bit to false.
func (d *Dense) Clear() {
	clear(d.words)
}

// Clone returns a deep copy of d.
func (d *Dense) Clone() *Dense {
	words := make([]uint64, len(d.words))
	copy(words, d.words)
	return &Dense{words: words, maxKey: d.maxKey}
}

// Count returns the number of set bits.
func (d *Dense) Count() uint64 {
	var n uint64
	for _, w := range d.words {
		n += uint64(bits.OnesCount64(w))
	}
	return n
}

// Equal reports whether d and other have the same capacity and bits.
func (d *Dense) Equal(other *Dense) bool {
	if d.maxKey != other.maxKey || len(d.words) != len(other.words) {
		return false
	}
	for i := range d.words {
		if d.words[i] != other.words[i] {
			return false
		}
	}
	return true
}
