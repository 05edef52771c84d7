package bitmap

import (
	"encoding/binary"
	"math/bits"

	"github.com/cockroachdb/errors"
)

// Serialization constants and errors.
const (
	// serializeVersion is the current serialization format version.
	serializeVersion byte = 1

	// headerSize is the size of the common serialization header in bytes.
	// Version (1) + Kind (1) + MaxKey (8) = 10 bytes
	headerSize = 10

	// maxSerializedKey bounds the capacity accepted when decoding, so that
	// corrupted input cannot request an absurd allocation.
	maxSerializedKey = uint64(1)<<48 - 1
)

// Kind identifies the bitmap implementation in serialized data.
type Kind byte

const (
	// KindDense marks a serialized Dense bitmap.
	KindDense Kind = 1
	// KindCompressed marks a serialized Compressed bitmap.
	KindCompressed Kind = 2
	// KindBytes marks a serialized Bytes bitmap.
	KindBytes Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindDense:
		return "dense"
	case KindCompressed:
		return "compressed"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidData is returned when serialized data is invalid or corrupted.
	ErrInvalidData = errors.New("bitmap: invalid serialized data")

	// ErrUnsupportedVersion is returned when the serialization version is not
	// supported.
	ErrUnsupportedVersion = errors.New("bitmap: unsupported serialization version")
)

func putHeader(buf []byte, kind Kind, maxKey uint64) {
	buf[0] = serializeVersion
	buf[1] = byte(kind)
	binary.LittleEndian.PutUint64(buf[2:10], maxKey)
}

// readHeader validates the common header and returns the max key and the
// remaining payload.
func readHeader(data []byte, want Kind) (uint64, []byte, error) {
	if len(data) < headerSize {
		return 0, nil, errors.Wrapf(ErrInvalidData, "data too short (got %d bytes, need at least %d)", len(data), headerSize)
	}
	if data[0] != serializeVersion {
		return 0, nil, errors.Wrapf(ErrUnsupportedVersion, "got version %d, expected %d", data[0], serializeVersion)
	}
	if got := Kind(data[1]); got != want {
		return 0, nil, errors.Wrapf(ErrInvalidData, "got %s bitmap, expected %s", got, want)
	}

	maxKey := binary.LittleEndian.Uint64(data[2:10])
	if maxKey > maxSerializedKey {
		return 0, nil, errors.Wrapf(ErrInvalidData, "max key too large (%d)", maxKey)
	}
	return maxKey, data[headerSize:], nil
}

func putWords(buf []byte, words []uint64) []byte {
	for _, w := range words {
		binary.LittleEndian.PutUint64(buf, w)
		buf = buf[8:]
	}
	return buf
}

func readWords(data []byte, n uint64) []uint64 {
	words := make([]uint64, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return words
}

// MarshalBinary serializes the bitmap. The format is:
//   - Header (10 bytes): version, kind, max key (little-endian uint64)
//   - WordCount (8 bytes): number of words (little-endian uint64)
//   - Words (WordCount * 8 bytes): little-endian uint64s
func (d *Dense) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+8+len(d.words)*8)
	putHeader(buf, KindDense, d.maxKey)
	binary.LittleEndian.PutUint64(buf[headerSize:], uint64(len(d.words)))
	putWords(buf[headerSize+8:], d.words)
	return buf, nil
}

// UnmarshalDense deserializes a Dense bitmap produced by Dense.MarshalBinary.
func UnmarshalDense(data []byte) (*Dense, error) {
	maxKey, rest, err := readHeader(data, KindDense)
	if err != nil {
		return nil, err
	}
	if len(rest) < 8 {
		return nil, errors.Wrapf(ErrInvalidData, "missing word count")
	}

	n := binary.LittleEndian.Uint64(rest)
	if n != numBlocks(maxKey) {
		return nil, errors.Wrapf(ErrInvalidData, "word count %d does not match max key %d", n, maxKey)
	}
	rest = rest[8:]
	if uint64(len(rest)) != n*8 {
		return nil, errors.Wrapf(ErrInvalidData, "data length mismatch (got %d bytes, expected %d)", len(rest), n*8)
	}

	return &Dense{words: readWords(rest, n), maxKey: maxKey}, nil
}

// MarshalBinary serializes the bitmap. The format is:
//   - Header (10 bytes): version, kind, max key (little-endian uint64)
//   - BlockMapLen (8 bytes): number of block map words
//   - BlockCount (8 bytes): number of allocated blocks
//   - BlockMap (BlockMapLen * 8 bytes): little-endian uint64s
//   - Blocks (BlockCount * 8 bytes): little-endian uint64s
//
// Spare capacity is not serialized.
func (c *Compressed) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+16+(len(c.blockMap)+len(c.words))*8)
	putHeader(buf, KindCompressed, c.maxKey)
	binary.LittleEndian.PutUint64(buf[headerSize:], uint64(len(c.blockMap)))
	binary.LittleEndian.PutUint64(buf[headerSize+8:], uint64(len(c.words)))
	rest := putWords(buf[headerSize+16:], c.blockMap)
	putWords(rest, c.words)
	return buf, nil
}

// UnmarshalCompressed deserializes a Compressed bitmap produced by
// Compressed.MarshalBinary. It verifies that the block map only marks blocks
// below maxKey and that the number of set bits matches the number of stored
// blocks.
func UnmarshalCompressed(data []byte) (*Compressed, error) {
	maxKey, rest, err := readHeader(data, KindCompressed)
	if err != nil {
		return nil, err
	}
	if len(rest) < 16 {
		return nil, errors.Wrapf(ErrInvalidData, "missing block counts")
	}

	mapLen := binary.LittleEndian.Uint64(rest)
	blockCount := binary.LittleEndian.Uint64(rest[8:])
	if mapLen != blockMapLen(maxKey) {
		return nil, errors.Wrapf(ErrInvalidData, "block map length %d does not match max key %d", mapLen, maxKey)
	}
	if blockCount > numBlocks(maxKey) {
		return nil, errors.Wrapf(ErrInvalidData, "block count %d exceeds capacity", blockCount)
	}
	rest = rest[16:]
	if want := (mapLen + blockCount) * 8; uint64(len(rest)) != want {
		return nil, errors.Wrapf(ErrInvalidData, "data length mismatch (got %d bytes, expected %d)", len(rest), want)
	}

	blockMap := readWords(rest, mapLen)
	if tail := numBlocks(maxKey) % WordBits; tail != 0 {
		if stray := blockMap[mapLen-1] &^ (1<<tail - 1); stray != 0 {
			return nil, errors.Wrapf(ErrInvalidData, "block map marks blocks beyond max key %d", maxKey)
		}
	}
	var allocated uint64
	for _, w := range blockMap {
		allocated += uint64(bits.OnesCount64(w))
	}
	if allocated != blockCount {
		return nil, errors.Wrapf(ErrInvalidData, "block map marks %d blocks but %d are stored", allocated, blockCount)
	}

	var words []uint64
	if blockCount > 0 {
		words = readWords(rest[mapLen*8:], blockCount)
	}

	return &Compressed{blockMap: blockMap, words: words, maxKey: maxKey}, nil
}

// MarshalBinary serializes the bitmap. The format is the common header
// followed by the backing buffer verbatim. Callers that only need the raw
// words can persist Bytes() directly instead.
func (b *Bytes) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+len(b.buf))
	putHeader(buf, KindBytes, b.maxKey)
	copy(buf[headerSize:], b.buf)
	return buf, nil
}

// UnmarshalBytes deserializes a Bytes bitmap produced by Bytes.MarshalBinary.
// The returned bitmap owns a copy of the payload.
func UnmarshalBytes(data []byte) (*Bytes, error) {
	maxKey, rest, err := readHeader(data, KindBytes)
	if err != nil {
		return nil, err
	}
	if want := numBlocks(maxKey) * 8; uint64(len(rest)) != want {
		return nil, errors.Wrapf(ErrInvalidData, "data length mismatch (got %d bytes, expected %d)", len(rest), want)
	}

	buf := make([]byte, len(rest))
	copy(buf, rest)
	return &Bytes{buf: buf, maxKey: maxKey}, nil
}
