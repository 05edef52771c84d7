package bitmap

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Bytes is a dense, O(1) indexed bitmap stored in a plain byte slice.
//
// It behaves exactly like Dense, but its storage is a sequence of
// little-endian 64-bit words that can be written to disk as is and mounted
// again with FromBytes, without any serialisation step.
type Bytes struct {
	buf    []byte
	maxKey uint64
}

// NewBytes creates a zeroed Bytes bitmap able to hold keys 0..=maxKey.
func NewBytes(maxKey uint64) *Bytes {
	return &Bytes{
		buf:    make([]byte, numBlocks(maxKey)*8),
		maxKey: maxKey,
	}
}

// FromBytes mounts buf as a bitmap without copying it. Writes through the
// returned bitmap modify buf. The capacity is derived from the buffer length,
// which must be a non-zero multiple of 8.
func FromBytes(buf []byte) (*Bytes, error) {
	if len(buf) == 0 || len(buf)%8 != 0 {
		return nil, errors.Wrapf(ErrInvalidData, "buffer length %d is not a non-zero multiple of 8", len(buf))
	}
	return &Bytes{
		buf:    buf,
		maxKey: uint64(len(buf))*8 - 1,
	}, nil
}

// Bytes returns the backing buffer. It remains shared with b.
func (b *Bytes) Bytes() []byte {
	return b.buf
}

func (b *Bytes) word(key uint64) []byte {
	off := blockIndex(key) * 8
	return b.buf[off : off+8]
}

// Set sets the bit for key to value.
func (b *Bytes) Set(key uint64, value bool) {
	checkKey(key, b.maxKey)

	w := b.word(key)
	v := binary.LittleEndian.Uint64(w)
	if value {
		v |= bitMask(key)
	} else {
		v &^= bitMask(key)
	}
	binary.LittleEndian.PutUint64(w, v)
}

// Get reports whether the bit for key is set.
func (b *Bytes) Get(key uint64) bool {
	checkKey(key, b.maxKey)
	return binary.LittleEndian.Uint64(b.word(key))&bitMask(key) != 0
}

// ByteSize returns the length of the backing buffer.
func (b *Bytes) ByteSize() int {
	return len(b.buf)
}

// Or returns the union of b and other in a newly allocated buffer.
//
// Or panics if other was not constructed with the same capacity.
func (b *Bytes) Or(other *Bytes) *Bytes {
	if len(b.buf) != len(other.buf) {
		panic(errors.AssertionFailedf("bitmap: Or of byte bitmaps with %d and %d bytes", len(b.buf), len(other.buf)))
	}

	buf := make([]byte, len(b.buf))
	for off := 0; off < len(buf); off += 8 {
		v := binary.LittleEndian.Uint64(b.buf[off:]) | binary.LittleEndian.Uint64(other.buf[off:])
		binary.LittleEndian.PutUint64(buf[off:], v)
	}

	return &Bytes{buf: buf, maxKey: b.maxKey}
}

// MaxKey returns the largest key b can hold.
func (b *Bytes) MaxKey() uint64 {
	return b.maxKey
}

// Clear resets every bit to false.
func (b *Bytes) Clear() {
	clear(b.buf)
}

// Clone returns a copy of b backed by a new buffer.
func (b *Bytes) Clone() *Bytes {
	buf := make([]byte, len(b.buf))
	copy(buf, b.buf)
	return &Bytes{buf: buf, maxKey: b.maxKey}
}
