package sparsebloom

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"
)

// Hasher maps a value to the 64-bit fingerprint stored in a Filter.
//
// A Hasher must be deterministic, and filters that are unioned or persisted
// and reloaded must use the same Hasher.
type Hasher[T any] func(T) uint64

// HashBytes computes the xxh3 fingerprint of b.
func HashBytes(b []byte) uint64 {
	return xxh3.Hash(b)
}

// HashString computes the xxh3 fingerprint of s without converting it to a
// byte slice.
func HashString(s string) uint64 {
	return xxh3.HashString(s)
}

// HashUint64 computes the xxh3 fingerprint of the little-endian encoding of v.
func HashUint64(v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return xxh3.Hash(buf[:])
}

// HashAlgorithm identifies one of the provided fingerprint functions. Its
// value is recorded in snapshots so a filter is always queried with the hash
// it was built with.
type HashAlgorithm uint8

const (
	// HashXXH3 is the default: xxh3 64-bit.
	HashXXH3 HashAlgorithm = 1
	// HashXXHash64 is xxHash64 with a zero seed.
	HashXXHash64 HashAlgorithm = 2
	// HashMurmur3 is the 64-bit half of MurmurHash3 x64_128 with a zero seed.
	HashMurmur3 HashAlgorithm = 3
)

// ErrUnknownHash is returned when a hash algorithm name or id is not
// recognised.
var ErrUnknownHash = errors.New("sparsebloom: unknown hash algorithm")

// Valid reports whether a is a known algorithm.
func (a HashAlgorithm) Valid() bool {
	return a >= HashXXH3 && a <= HashMurmur3
}

func (a HashAlgorithm) String() string {
	switch a {
	case HashXXH3:
		return "xxh3"
	case HashXXHash64:
		return "xxhash64"
	case HashMurmur3:
		return "murmur3"
	default:
		return fmt.Sprintf("HashAlgorithm(%d)", uint8(a))
	}
}

// ParseHashAlgorithm parses the name returned by HashAlgorithm.String.
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "xxh3", "":
		return HashXXH3, nil
	case "xxhash64", "xxhash":
		return HashXXHash64, nil
	case "murmur3", "murmur":
		return HashMurmur3, nil
	default:
		return 0, errors.Wrapf(ErrUnknownHash, "%q", name)
	}
}

// BytesHasher returns the fingerprint function for byte slices.
// It panics if a is not Valid.
func (a HashAlgorithm) BytesHasher() Hasher[[]byte] {
	switch a {
	case HashXXH3:
		return HashBytes
	case HashXXHash64:
		return xxhash.Sum64
	case HashMurmur3:
		return murmur3.Sum64
	default:
		panic(errors.Wrapf(ErrUnknownHash, "id %d", uint8(a)))
	}
}

// StringHasher returns the fingerprint function for strings. For every
// algorithm, StringHasher()(s) == BytesHasher()([]byte(s)).
// It panics if a is not Valid.
func (a HashAlgorithm) StringHasher() Hasher[string] {
	switch a {
	case HashXXH3:
		return HashString
	case HashXXHash64:
		return xxhash.Sum64String
	case HashMurmur3:
		return func(s string) uint64 { return murmur3.Sum64([]byte(s)) }
	default:
		panic(errors.Wrapf(ErrUnknownHash, "id %d", uint8(a)))
	}
}

// Uint64Hasher returns the fingerprint function for integers, hashing their
// little-endian encoding.
// It panics if a is not Valid.
func (a HashAlgorithm) Uint64Hasher() Hasher[uint64] {
	h := a.BytesHasher()
	return func(v uint64) uint64 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		return h(buf[:])
	}
}

// fingerprint encodes h big-endian, so that the first key is taken from the
// most significant bytes.
func fingerprint(h uint64) [FingerprintBytes]byte {
	var fp [FingerprintBytes]byte
	binary.BigEndian.PutUint64(fp[:], h)
	return fp
}

// chunkKey decodes a big-endian chunk of at most 8 bytes into a key.
func chunkKey(chunk []byte) uint64 {
	var key uint64
	for _, b := range chunk {
		key = key<<8 | uint64(b)
	}
	return key
}

// Keys returns the bitmap keys a fingerprint maps to at the given size, in
// the order they are set. It is mostly useful for inspecting a filter.
func Keys(size FilterSize, fp []byte) []uint64 {
	if !size.Valid() {
		return nil
	}
	keys := make([]uint64, 0, size.KFor(len(fp)))
	w := int(size)
	for len(fp) > 0 {
		n := min(w, len(fp))
		keys = append(keys, chunkKey(fp[:n]))
		fp = fp[n:]
	}
	return keys
}
