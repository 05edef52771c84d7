package bitmap

import (
	"math/bits"
	"slices"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/jcalabro/sparsebloom/internal/invariants"
)

// Compressed is a sparse, 2-level bitmap with a low memory footprint,
// optimised for reads.
//
// The logical bitmap is split into blocks of 64 bits. A second, dense bitmap
// (the block map) marks which blocks have been allocated, and only allocated
// blocks are stored, back to back and in block order:
//
//	Logical:    | 0 | 0 | 0 | 0 | 1 | 0 | 0 | 1 | 0 | 0 | 0 | 0 |
//	              \  block 0  /   \  block 1  /   \  block 2  /
//
//	Block map:  | 0 | 1 | 0 |
//	                  |
//	Words:          | 1 | 0 | 0 | 1 |
//
// The physical position of an allocated block is its rank in the block map:
// the number of set block map bits before it. Blocks are allocated lazily on
// the first Set(key, true) that touches them, which shifts every later word
// one slot to the right. Setting bits within an already allocated block never
// shifts.
//
// Inserting large numbers of values into a Compressed bitmap can be slow; for
// higher write throughput populate a Dense bitmap and convert it with
// Compress.
type Compressed struct {
	// blockMap has bit i set iff block i is present in words. Bit 0 is the LSB
	// of blockMap[0].
	blockMap []uint64
	words    []uint64

	maxKey uint64
}

// NewCompressed creates an empty Compressed bitmap able to hold keys
// 0..=maxKey. Only the block map is allocated.
func NewCompressed(maxKey uint64) *Compressed {
	return &Compressed{
		blockMap: make([]uint64, blockMapLen(maxKey)),
		maxKey:   maxKey,
	}
}

// blockMapLen returns the number of block map words needed to mark every
// block of a bitmap holding keys 0..=maxKey.
func blockMapLen(maxKey uint64) uint64 {
	return (numBlocks(maxKey) + WordBits - 1) / WordBits
}

// rank returns the number of allocated blocks before the block identified by
// the block map word mapIdx and bit mapMask. This is the index of that block
// in c.words.
func (c *Compressed) rank(mapIdx, mapMask uint64) int {
	var offset int
	for _, w := range c.blockMap[:mapIdx] {
		offset += bits.OnesCount64(w)
	}

	// Mask out the block map bits at and above the target block.
	return offset + bits.OnesCount64(c.blockMap[mapIdx]&(mapMask-1))
}

// Set sets the bit for key to value.
//
// If built with the invariants tag, Set panics when key > MaxKey. Otherwise
// keys only slightly above MaxKey (within the last block map word) are not
// detected.
func (c *Compressed) Set(key uint64, value bool) {
	checkKey(key, c.maxKey)

	block := blockIndex(key)
	mapIdx := blockIndex(block)
	mapMask := bitMask(block)

	if c.blockMap[mapIdx]&mapMask == 0 {
		// Unallocated blocks already read as all-false.
		if !value {
			return
		}

		offset := c.rank(mapIdx, mapMask)
		if offset == len(c.words) {
			c.words = append(c.words, bitMask(key))
		} else {
			// Grow by one (reusing spare capacity), shift the tail right and
			// write the new block into the gap.
			c.words = append(c.words, 0)
			copy(c.words[offset+1:], c.words[offset:])
			c.words[offset] = bitMask(key)
		}
		c.blockMap[mapIdx] |= mapMask
		return
	}

	offset := c.rank(mapIdx, mapMask)
	if value {
		c.words[offset] |= bitMask(key)
	} else {
		// The block keeps its slot even if this clears its last bit.
		c.words[offset] &^= bitMask(key)
	}
}

// Get reports whether the bit for key is set. Keys in unallocated blocks
// return false without touching the block storage.
func (c *Compressed) Get(key uint64) bool {
	checkKey(key, c.maxKey)

	block := blockIndex(key)
	mapIdx := blockIndex(block)
	mapMask := bitMask(block)

	if c.blockMap[mapIdx]&mapMask == 0 {
		return false
	}

	return c.words[c.rank(mapIdx, mapMask)]&bitMask(key) != 0
}

// ByteSize returns the allocated size of c in bytes, including spare slice
// capacity.
func (c *Compressed) ByteSize() int {
	return cap(c.blockMap)*8 + cap(c.words)*8 + int(unsafe.Sizeof(*c))
}

// MaxKey returns the largest key c can hold.
func (c *Compressed) MaxKey() uint64 {
	return c.maxKey
}

// BlockCount returns the number of allocated blocks.
func (c *Compressed) BlockCount() int {
	return len(c.words)
}

// Count returns the number of set bits.
func (c *Compressed) Count() uint64 {
	var n uint64
	for _, w := range c.words {
		n += uint64(bits.OnesCount64(w))
	}
	return n
}

// Clear removes every element from the bitmap. The allocated capacity is
// retained so the bitmap can be refilled without reallocating.
func (c *Compressed) Clear() {
	clear(c.blockMap)
	c.words = c.words[:0]
}

// ShrinkToFit releases spare capacity held by the block map and block
// storage. Use it to minimise the footprint of a populated, read-only bitmap.
func (c *Compressed) ShrinkToFit() {
	if cap(c.words) > len(c.words) {
		words := make([]uint64, len(c.words))
		copy(words, c.words)
		c.words = words
	}
	if cap(c.blockMap) > len(c.blockMap) {
		blockMap := make([]uint64, len(c.blockMap))
		copy(blockMap, c.blockMap)
		c.blockMap = blockMap
	}
}

// Compact drops allocated blocks whose bits have all been cleared by
// Set(key, false) and returns the number of blocks released. Query results
// are unchanged.
func (c *Compressed) Compact() int {
	var (
		removed  int
		physical int
		kept     = c.words[:0]
	)
	for i, w := range c.blockMap {
		for w != 0 {
			bit := uint64(1) << bits.TrailingZeros64(w)
			w &^= bit

			word := c.words[physical]
			physical++
			if word == 0 {
				c.blockMap[i] &^= bit
				removed++
				continue
			}
			kept = append(kept, word)
		}
	}
	c.words = kept
	return removed
}

// Clone returns a deep copy of c.
func (c *Compressed) Clone() *Compressed {
	return &Compressed{
		blockMap: slices.Clone(c.blockMap),
		words:    slices.Clone(c.words),
		maxKey:   c.maxKey,
	}
}

// Equal reports whether c and other have an identical block map and block
// storage. Two bitmaps answering every Get identically may still differ if
// one of them retains cleared blocks.
func (c *Compressed) Equal(other *Compressed) bool {
	return c.maxKey == other.maxKey &&
		slices.Equal(c.blockMap, other.blockMap) &&
		slices.Equal(c.words, other.words)
}

// Or returns the union of c and other without decompressing either.
//
// Both block maps are walked in lockstep. For every logical block present on
// either side, the corresponding word (or the OR of both words) is emitted in
// block order, which is exactly the compacted storage of the result.
//
// Or panics if other was not constructed with the same capacity.
func (c *Compressed) Or(other *Compressed) *Compressed {
	if len(c.blockMap) != len(other.blockMap) {
		panic(errors.AssertionFailedf("bitmap: Or of compressed bitmaps with %d and %d block map words",
			len(c.blockMap), len(other.blockMap)))
	}
	if invariants.Enabled && c.maxKey != other.maxKey {
		panic(errors.AssertionFailedf("bitmap: Or of compressed bitmaps with max keys %d and %d",
			c.maxKey, other.maxKey))
	}

	blockMap := make([]uint64, len(c.blockMap))
	var allocated int
	for i := range blockMap {
		blockMap[i] = c.blockMap[i] | other.blockMap[i]
		allocated += bits.OnesCount64(blockMap[i])
	}

	words := make([]uint64, 0, allocated)
	left := newBlockMapIter(c.blockMap)
	right := newBlockMapIter(other.blockMap)
	for {
		l, lok, more := left.next()
		r, rok, _ := right.next()
		if !more {
			break
		}

		switch {
		case lok && rok:
			words = append(words, c.words[l]|other.words[r])
		case lok:
			words = append(words, c.words[l])
		case rok:
			words = append(words, other.words[r])
		}
	}

	if invariants.Enabled && len(words) != allocated {
		panic(errors.AssertionFailedf("bitmap: union block map has %d set bits but %d blocks were emitted",
			allocated, len(words)))
	}

	return &Compressed{
		blockMap: blockMap,
		words:    words,
		maxKey:   c.maxKey,
	}
}

// Decompress returns a Dense bitmap holding the same bits as c.
func (c *Compressed) Decompress() *Dense {
	d := NewDense(c.maxKey)
	it := newBlockMapIter(c.blockMap)
	for block := 0; block < len(d.words); block++ {
		physical, present, ok := it.next()
		if !ok {
			break
		}
		if present {
			d.words[block] = c.words[physical]
		}
	}
	return d
}

// ForEach calls fn for every set key in ascending order until fn returns
// false.
func (c *Compressed) ForEach(fn func(key uint64) bool) {
	var physical int
	for i, w := range c.blockMap {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			w &= w - 1

			base := (uint64(i)*WordBits + uint64(tz)) * WordBits
			word := c.words[physical]
			physical++
			for word != 0 {
				if !fn(base + uint64(bits.TrailingZeros64(word))) {
					return
				}
				word &= word - 1
			}
		}
	}
}

// blockMapIter walks a block map one logical block at a time, yielding the
// physical index into the compacted block storage of each allocated block.
//
// It performs the same rank computation as Set and Get, but incrementally in
// a single linear pass.
type blockMapIter struct {
	blockMap []uint64

	// word is the index of the block map word evaluated next.
	word int
	// bit is the bit of that word evaluated next (LSB first).
	bit uint
	// physical is the physical index of the next allocated block.
	physical int
}

func newBlockMapIter(blockMap []uint64) *blockMapIter {
	return &blockMapIter{blockMap: blockMap}
}

// next advances to the next logical block. ok is false once every block has
// been visited. Otherwise present reports whether the block is allocated, and
// if so physical is its index in the block storage.
func (it *blockMapIter) next() (physical int, present, ok bool) {
	if it.word >= len(it.blockMap) {
		return 0, false, false
	}

	if it.blockMap[it.word]&(1<<it.bit) != 0 {
		physical = it.physical
		present = true
		it.physical++
	}

	it.bit++
	if it.bit == WordBits {
		it.bit = 0
		it.word++
	}

	return physical, present, true
}
