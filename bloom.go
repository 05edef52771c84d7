package sparsebloom

import (
	"encoding"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/jcalabro/sparsebloom/bitmap"
)

// Filter is a bloom filter backed by a bitmap of type B.
//
// Every value is hashed to a 64-bit fingerprint, and the fingerprint is split
// into K keys of Size bytes each. Insert sets the bit of every key; Contains
// reports true only if all of them are set. The filter never returns a false
// negative.
//
// With the default compressed backing, memory grows with the number of
// distinct 64-key blocks touched rather than with the size of the key space,
// so lightly loaded filters stay small.
//
// A Filter is not safe for concurrent use with a writer.
type Filter[T any, B bitmap.Bitmap[B]] struct {
	bitmap B
	size   FilterSize
	hash   Hasher[T]
	count  uint64 // Number of items inserted (approximate)
}

var (
	// ErrInvalidSize is returned when a FilterSize is not KeyBytes1..KeyBytes5.
	ErrInvalidSize = errors.New("sparsebloom: invalid filter size")

	// ErrInvalidBitmap is returned when a bitmap is too small for the
	// requested FilterSize.
	ErrInvalidBitmap = errors.New("sparsebloom: bitmap too small for filter size")

	// ErrSizeMismatch is returned by Union when the filters were not created
	// with the same configuration.
	ErrSizeMismatch = errors.New("sparsebloom: filter size mismatch")
)

// New creates an empty filter with the DefaultSize key width over a
// compressed bitmap.
//
// hash may be nil if the filter is only used through InsertFingerprint and
// ContainsFingerprint.
func New[T any](hash Hasher[T]) *Filter[T, *bitmap.Compressed] {
	return &Filter[T, *bitmap.Compressed]{
		bitmap: bitmap.NewCompressed(DefaultSize.MaxKey()),
		size:   DefaultSize,
		hash:   hash,
	}
}

// NewWithSize creates an empty filter with the given key width over a
// compressed bitmap.
func NewWithSize[T any](hash Hasher[T], size FilterSize) (*Filter[T, *bitmap.Compressed], error) {
	if !size.Valid() {
		return nil, errors.Wrapf(ErrInvalidSize, "got %d", uint8(size))
	}
	return NewWithBitmap(hash, size, bitmap.NewCompressed(size.MaxKey()))
}

// NewDense creates an empty filter with the given key width over a dense
// bitmap. The full key space is allocated up front, so this is only
// practical up to KeyBytes4.
//
// Dense filters have the highest insert throughput; convert one with Compress
// once populated to get a compact, read-optimised filter.
func NewDense[T any](hash Hasher[T], size FilterSize) (*Filter[T, *bitmap.Dense], error) {
	if !size.Valid() {
		return nil, errors.Wrapf(ErrInvalidSize, "got %d", uint8(size))
	}
	return NewWithBitmap(hash, size, bitmap.NewDense(size.MaxKey()))
}

// NewBytes creates an empty filter with the given key width over a
// byte-backed bitmap, whose storage can be persisted and mounted again with
// bitmap.FromBytes and NewWithBitmap.
func NewBytes[T any](hash Hasher[T], size FilterSize) (*Filter[T, *bitmap.Bytes], error) {
	if !size.Valid() {
		return nil, errors.Wrapf(ErrInvalidSize, "got %d", uint8(size))
	}
	return NewWithBitmap(hash, size, bitmap.NewBytes(size.MaxKey()))
}

// NewWithBitmap creates a filter over an existing, possibly populated,
// bitmap. Use it to restore a filter from persisted storage, or to supply a
// custom Bitmap implementation.
//
// b must be able to hold every key of the given size.
func NewWithBitmap[T any, B bitmap.Bitmap[B]](hash Hasher[T], size FilterSize, b B) (*Filter[T, B], error) {
	if !size.Valid() {
		return nil, errors.Wrapf(ErrInvalidSize, "got %d", uint8(size))
	}
	if b.MaxKey() < size.MaxKey() {
		return nil, errors.Wrapf(ErrInvalidBitmap, "%s needs max key %d, bitmap holds %d",
			size, size.MaxKey(), b.MaxKey())
	}

	return &Filter[T, B]{
		bitmap: b,
		size:   size,
		hash:   hash,
	}, nil
}

// Insert adds v to the filter.
func (f *Filter[T, B]) Insert(v T) {
	fp := fingerprint(f.hash(v))
	f.InsertFingerprint(fp[:])
}

// Contains reports whether v may have been inserted. A false result is
// definitive.
func (f *Filter[T, B]) Contains(v T) bool {
	fp := fingerprint(f.hash(v))
	return f.ContainsFingerprint(fp[:])
}

// InsertFingerprint adds a precomputed fingerprint to the filter. The
// fingerprint is split into Size-byte big-endian keys; the final key is
// narrower if len(fp) is not a multiple of Size. An empty fingerprint is
// ignored and not counted.
func (f *Filter[T, B]) InsertFingerprint(fp []byte) {
	if len(fp) == 0 {
		return
	}
	w := int(f.size)
	for len(fp) > 0 {
		n := min(w, len(fp))
		f.bitmap.Set(chunkKey(fp[:n]), true)
		fp = fp[n:]
	}
	f.count++
}

// ContainsFingerprint reports whether fp may have been inserted. It returns
// false as soon as one of its keys is unset, and for an empty fingerprint,
// which can never be inserted.
func (f *Filter[T, B]) ContainsFingerprint(fp []byte) bool {
	if len(fp) == 0 {
		return false
	}
	w := int(f.size)
	for len(fp) > 0 {
		n := min(w, len(fp))
		if !f.bitmap.Get(chunkKey(fp[:n])) {
			return false
		}
		fp = fp[n:]
	}
	return true
}

// Union merges other into f, so that f contains every value inserted into
// either filter. other is not modified.
//
// Both filters must have the same Size and bitmap capacity, otherwise
// ErrSizeMismatch is returned and f is unchanged. They must also use the same
// Hasher, which cannot be checked.
func (f *Filter[T, B]) Union(other *Filter[T, B]) error {
	if f.size != other.size {
		return errors.Wrapf(ErrSizeMismatch, "%s and %s", f.size, other.size)
	}
	if f.bitmap.MaxKey() != other.bitmap.MaxKey() {
		return errors.Wrapf(ErrSizeMismatch, "bitmap max keys %d and %d",
			f.bitmap.MaxKey(), other.bitmap.MaxKey())
	}

	f.bitmap = f.bitmap.Or(other.bitmap)
	f.count += other.count
	return nil
}

// ByteSize returns the memory footprint of the backing bitmap in bytes.
func (f *Filter[T, B]) ByteSize() int {
	return f.bitmap.ByteSize()
}

// ShrinkToFit releases spare capacity held by the backing bitmap, if it
// supports doing so. Call it once a filter is fully populated.
func (f *Filter[T, B]) ShrinkToFit() {
	if s, ok := any(f.bitmap).(interface{ ShrinkToFit() }); ok {
		s.ShrinkToFit()
	}
}

// Clear removes every value from the filter.
func (f *Filter[T, B]) Clear() {
	f.bitmap.Clear()
	f.count = 0
}

// Clone returns an independent copy of f.
func (f *Filter[T, B]) Clone() *Filter[T, B] {
	return &Filter[T, B]{
		bitmap: f.bitmap.Clone(),
		size:   f.size,
		hash:   f.hash,
		count:  f.count,
	}
}

// Size returns the key width of the filter.
func (f *Filter[T, B]) Size() FilterSize {
	return f.size
}

// K returns the number of keys set per inserted value.
func (f *Filter[T, B]) K() int {
	return f.size.K()
}

// Count returns the number of insertions, including duplicates.
func (f *Filter[T, B]) Count() uint64 {
	return f.count
}

// EstimatedFalsePositiveRate estimates the current false positive rate from
// the number of insertions.
func (f *Filter[T, B]) EstimatedFalsePositiveRate() float64 {
	return EstimateFalsePositiveRate(f.size, f.count)
}

// Bitmap returns the backing bitmap. It remains shared with f.
func (f *Filter[T, B]) Bitmap() B {
	return f.bitmap
}

// Compress converts a dense filter into a compressed one holding the same
// values. f is consumed and must not be used afterwards.
func Compress[T any](f *Filter[T, *bitmap.Dense]) *Filter[T, *bitmap.Compressed] {
	c := &Filter[T, *bitmap.Compressed]{
		bitmap: bitmap.Compress(f.bitmap),
		size:   f.size,
		hash:   f.hash,
		count:  f.count,
	}
	f.bitmap = nil
	return c
}

const (
	// serializeVersion is the current filter serialization format version.
	serializeVersion byte = 1

	// headerSize is the size of the filter header in bytes.
	// Version (1) + KeyWidth (1) + Count (8) = 10 bytes
	headerSize = 10
)

var (
	// ErrInvalidData is returned when the serialized data is invalid or corrupted.
	ErrInvalidData = errors.New("sparsebloom: invalid serialized data")

	// ErrUnsupportedVersion is returned when the serialization version is not supported.
	ErrUnsupportedVersion = errors.New("sparsebloom: unsupported serialization version")
)

// MarshalBinary serializes the filter. The serialized format is:
//   - Version (1 byte): serialization format version
//   - KeyWidth (1 byte): the FilterSize
//   - Count (8 bytes): number of items inserted (little-endian uint64)
//   - Bitmap: the backing bitmap's own MarshalBinary output
//
// The hash function is not serialized; the caller must supply the same one
// when decoding.
func (f *Filter[T, B]) MarshalBinary() ([]byte, error) {
	m, ok := any(f.bitmap).(encoding.BinaryMarshaler)
	if !ok {
		return nil, errors.Newf("sparsebloom: bitmap type %T does not support serialization", f.bitmap)
	}
	payload, err := m.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "marshal bitmap")
	}

	buf := make([]byte, headerSize+len(payload))
	buf[0] = serializeVersion
	buf[1] = byte(f.size)
	binary.LittleEndian.PutUint64(buf[2:10], f.count)
	copy(buf[headerSize:], payload)

	return buf, nil
}

// UnmarshalBinary deserializes a filter with a compressed backing, as
// written by MarshalBinary on a *Filter[T, *bitmap.Compressed].
func UnmarshalBinary[T any](data []byte, hash Hasher[T]) (*Filter[T, *bitmap.Compressed], error) {
	return UnmarshalWithBitmap(data, hash, bitmap.UnmarshalCompressed)
}

// UnmarshalWithBitmap deserializes a filter, decoding the backing bitmap
// with decode (for example bitmap.UnmarshalDense).
func UnmarshalWithBitmap[T any, B bitmap.Bitmap[B]](data []byte, hash Hasher[T], decode func([]byte) (B, error)) (*Filter[T, B], error) {
	if len(data) < headerSize {
		return nil, errors.Wrapf(ErrInvalidData, "data too short (got %d bytes, need at least %d)", len(data), headerSize)
	}
	if data[0] != serializeVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "got version %d, expected %d", data[0], serializeVersion)
	}

	size := FilterSize(data[1])
	if !size.Valid() {
		return nil, errors.Wrapf(ErrInvalidData, "invalid key width %d", data[1])
	}
	count := binary.LittleEndian.Uint64(data[2:10])

	b, err := decode(data[headerSize:])
	if err != nil {
		return nil, invalidData("decode bitmap", err)
	}

	f, err := NewWithBitmap(hash, size, b)
	if err != nil {
		return nil, invalidData("restore filter", err)
	}
	f.count = count

	return f, nil
}

// invalidData reports a decode failure caused by err. Both ErrInvalidData and
// err stay in the chain, so either matches errors.Is.
func invalidData(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidData, op, err)
}
