package sparsebloom

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/jcalabro/sparsebloom/bitmap"
)

// FingerprintBytes is the width of the fingerprint produced by a Hasher.
const FingerprintBytes = 8

// FilterSize bounds the allocated size and false-positive rate of a Filter.
//
// Each fingerprint is split into chunks of FilterSize bytes, and every chunk
// is used as a key into a bitmap holding 2^(8*FilterSize) bits. The size
// therefore fixes both the key space (and so the memory ceiling of a fully
// populated filter) and k, the number of bits touched per insert or lookup:
//
//	k = ceil(FingerprintBytes / FilterSize)
//
// Larger sizes slow the growth of the false positive rate as entries are
// added, at the cost of more memory per filter and a smaller k.
//
// Approximate compressed footprints (empty / fully populated) and the number
// of entries at which the false positive probability reaches one half, using
// 64-bit fingerprints:
//
//	KeyBytes1  k=8  8 B      / 40 B      ~80 entries
//	KeyBytes2  k=4  128 B    / 8.3 KB    ~30 thousand entries
//	KeyBytes3  k=3  32 KB    / 2.1 MB    ~9 million entries
//	KeyBytes4  k=2  8 MB     / 545 MB    ~2.6 billion entries
//	KeyBytes5  k=2  2 GB     / 139 GB    ~675 billion entries
type FilterSize uint8

const (
	// KeyBytes1 uses 1 byte keys: 256 bits of key space and k=8.
	KeyBytes1 FilterSize = 1
	// KeyBytes2 uses 2 byte keys: 65536 bits of key space and k=4.
	KeyBytes2 FilterSize = 2
	// KeyBytes3 uses 3 byte keys: 16 Mbit of key space and k=3.
	KeyBytes3 FilterSize = 3
	// KeyBytes4 uses 4 byte keys: 4 Gbit of key space and k=2.
	KeyBytes4 FilterSize = 4
	// KeyBytes5 uses 5 byte keys: 1 Tbit of key space and k=2.
	KeyBytes5 FilterSize = 5
)

// DefaultSize is the FilterSize used by New.
const DefaultSize = KeyBytes2

// Sizes lists every valid FilterSize in ascending order.
var Sizes = []FilterSize{KeyBytes1, KeyBytes2, KeyBytes3, KeyBytes4, KeyBytes5}

// Valid reports whether s is one of KeyBytes1 through KeyBytes5.
func (s FilterSize) Valid() bool {
	return s >= KeyBytes1 && s <= KeyBytes5
}

// MaxKey returns the largest key a chunk of this width can produce.
func (s FilterSize) MaxKey() uint64 {
	return s.Capacity() - 1
}

// Capacity returns the size of the key space in bits.
func (s FilterSize) Capacity() uint64 {
	return uint64(1) << (8 * uint(s))
}

// K returns the number of keys derived from a FingerprintBytes fingerprint.
func (s FilterSize) K() int {
	return s.KFor(FingerprintBytes)
}

// KFor returns the number of keys derived from a fingerprint of n bytes. The
// final key is narrower when n is not a multiple of s.
func (s FilterSize) KFor(n int) int {
	return (n + int(s) - 1) / int(s)
}

// MinByteSize returns the size of the block map of an empty compressed
// bitmap of this size, which is the smallest footprint of a filter.
func (s FilterSize) MinByteSize() uint64 {
	blocks := s.Capacity() / bitmap.WordBits
	return (blocks + bitmap.WordBits - 1) / bitmap.WordBits * 8
}

// MaxByteSize returns the footprint of a compressed bitmap of this size with
// every block allocated.
func (s FilterSize) MaxByteSize() uint64 {
	return s.MinByteSize() + s.Capacity()/8
}

func (s FilterSize) String() string {
	if !s.Valid() {
		return fmt.Sprintf("FilterSize(%d)", uint8(s))
	}
	return "KeyBytes" + strconv.Itoa(int(s))
}

// ParseFilterSize parses a key width written either as a number of bytes
// ("2") or as the constant name ("KeyBytes2", case-insensitive).
func ParseFilterSize(v string) (FilterSize, error) {
	v = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "keybytes")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidSize, "parse %q", v)
	}
	s := FilterSize(n)
	if n < 0 || n > math.MaxUint8 || !s.Valid() {
		return 0, errors.Wrapf(ErrInvalidSize, "key width %d out of range [1,5]", n)
	}
	return s, nil
}

// EstimateFalsePositiveRate estimates the false positive rate of a filter of
// the given size after itemsAdded inserts.
// Formula: (1 - e^(-kn/m))^k
//
// The estimate treats every key as uniformly distributed over the full key
// space, which slightly understates the rate for sizes whose final chunk is
// narrower than the others.
func EstimateFalsePositiveRate(size FilterSize, itemsAdded uint64) float64 {
	if !size.Valid() || itemsAdded == 0 {
		return 0
	}

	m := float64(size.Capacity())
	n := float64(itemsAdded)
	kf := float64(size.K())

	return math.Pow(1-math.Exp(-kf*n/m), kf)
}
