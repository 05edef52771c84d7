package snapshot

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm applied to a snapshot payload.
type Compression uint8

const (
	// None stores the payload as is.
	None Compression = 0
	// LZ4 uses LZ4 block compression (fast, good for filters that are
	// reloaded often).
	LZ4 Compression = 1
	// ZSTD uses zstd (better ratio, good for cold storage).
	ZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression parses the name returned by Compression.String.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return 0, errors.Wrapf(ErrUnknownCompression, "%q", name)
	}
}

// minRatio is the largest compressed/uncompressed ratio worth keeping. Above
// it the payload is stored uncompressed.
const minRatio = 0.9

// maxPreallocate caps the buffer reserved up front for a zstd payload.
const maxPreallocate = 64 << 20

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(errors.AssertionFailedf("snapshot: zstd encoder: %v", err))
	}
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxPayloadSize))
	if err != nil {
		panic(errors.AssertionFailedf("snapshot: zstd decoder: %v", err))
	}
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// compress returns the compressed payload and the algorithm actually used,
// which is None when compression does not pay off.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	if c == None || len(data) == 0 {
		return data, None, nil
	}

	var (
		out []byte
		err error
	)
	switch c {
	case LZ4:
		out, err = compressLZ4(data)
	case ZSTD:
		out = compressZSTD(data)
	default:
		return nil, 0, errors.Wrapf(ErrUnknownCompression, "id %d", uint8(c))
	}
	if err != nil {
		return nil, 0, err
	}

	if len(out) == 0 || float64(len(out)) > float64(len(data))*minRatio {
		return data, None, nil
	}
	return out, c, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, out, nil)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 compress")
	}
	// Incompressible
	if n == 0 {
		return nil, nil
	}
	return out[:n], nil
}

func compressZSTD(data []byte) []byte {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)

	return enc.EncodeAll(data, nil)
}

// decompress reverses compress. size is the expected uncompressed length.
func decompress(data []byte, c Compression, size uint64) ([]byte, error) {
	switch c {
	case None:
		if uint64(len(data)) != size {
			return nil, errors.Wrapf(ErrInvalidSnapshot, "stored payload is %d bytes, header says %d", len(data), size)
		}
		return data, nil

	case LZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, invalidSnapshot("lz4 decompress", err)
		}
		if uint64(n) != size {
			return nil, errors.Wrapf(ErrInvalidSnapshot, "decompressed %d bytes, expected %d", n, size)
		}
		return out, nil

	case ZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		// size is only a capacity hint; zstd grows the buffer as needed.
		out, err := dec.DecodeAll(data, make([]byte, 0, min(size, maxPreallocate)))
		if err != nil {
			return nil, invalidSnapshot("zstd decompress", err)
		}
		if uint64(len(out)) != size {
			return nil, errors.Wrapf(ErrInvalidSnapshot, "decompressed %d bytes, expected %d", len(out), size)
		}
		return out, nil

	default:
		return nil, errors.Wrapf(ErrUnknownCompression, "id %d", uint8(c))
	}
}
