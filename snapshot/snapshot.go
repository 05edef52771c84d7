package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"

	"github.com/jcalabro/sparsebloom"
	"github.com/jcalabro/sparsebloom/bitmap"
)

const (
	// magic identifies a snapshot file.
	magic = "SPBL"

	// version is the current snapshot format version.
	version byte = 1

	// HeaderSize is the size of the snapshot header in bytes.
	// Magic (4) + Version (1) + Compression (1) + Hash (1) + Reserved (1) +
	// UncompressedLen (8) + PayloadLen (8) + Checksum (8) = 32 bytes
	HeaderSize = 32

	// maxPayloadSize bounds the lengths accepted from a header, so that a
	// corrupted header cannot request an absurd allocation. A fully
	// populated KeyBytes5 filter fits.
	maxPayloadSize = uint64(1) << 38

	// maxLZ4Ratio is the largest expansion LZ4 block decompression can
	// produce.
	maxLZ4Ratio = 255
)

var (
	// ErrInvalidSnapshot is returned when a snapshot is truncated or corrupted.
	ErrInvalidSnapshot = errors.New("snapshot: invalid snapshot")

	// ErrUnsupportedVersion is returned when the snapshot version is not supported.
	ErrUnsupportedVersion = errors.New("snapshot: unsupported version")

	// ErrUnknownCompression is returned for an unrecognised compression id or name.
	ErrUnknownCompression = errors.New("snapshot: unknown compression")

	// ErrChecksum is returned when the payload does not match its checksum.
	ErrChecksum = errors.New("snapshot: checksum mismatch")
)

// invalidSnapshot reports a corrupted snapshot caused by err. Both
// ErrInvalidSnapshot and err stay in the chain, so either matches errors.Is.
func invalidSnapshot(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidSnapshot, op, err)
}

// Options configures how a snapshot is written.
type Options struct {
	// Compression is the preferred compression. If it does not shrink the
	// payload by at least 10%, the payload is stored uncompressed and the
	// header records None.
	Compression Compression

	// Hash records the fingerprint function the filter was built with, so
	// that readers can query it with the same one. Zero means HashXXH3.
	Hash sparsebloom.HashAlgorithm
}

// Header describes a snapshot.
type Header struct {
	Compression     Compression
	Hash            sparsebloom.HashAlgorithm
	UncompressedLen uint64
	PayloadLen      uint64
	Checksum        uint64
}

// Size returns the total encoded size of the snapshot in bytes.
func (h Header) Size() uint64 {
	return HeaderSize + h.PayloadLen
}

func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], magic)
	buf[4] = version
	buf[5] = byte(h.Compression)
	buf[6] = byte(h.Hash)
	binary.LittleEndian.PutUint64(buf[8:16], h.UncompressedLen)
	binary.LittleEndian.PutUint64(buf[16:24], h.PayloadLen)
	binary.LittleEndian.PutUint64(buf[24:32], h.Checksum)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if string(buf[0:4]) != magic {
		return Header{}, errors.Wrapf(ErrInvalidSnapshot, "bad magic %q", buf[0:4])
	}
	if buf[4] != version {
		return Header{}, errors.Wrapf(ErrUnsupportedVersion, "got version %d, expected %d", buf[4], version)
	}

	h := Header{
		Compression:     Compression(buf[5]),
		Hash:            sparsebloom.HashAlgorithm(buf[6]),
		UncompressedLen: binary.LittleEndian.Uint64(buf[8:16]),
		PayloadLen:      binary.LittleEndian.Uint64(buf[16:24]),
		Checksum:        binary.LittleEndian.Uint64(buf[24:32]),
	}

	switch h.Compression {
	case None, LZ4, ZSTD:
	default:
		return Header{}, errors.Wrapf(ErrUnknownCompression, "id %d", buf[5])
	}
	if !h.Hash.Valid() {
		return Header{}, errors.Wrapf(ErrInvalidSnapshot, "unknown hash algorithm %d", buf[6])
	}
	if h.UncompressedLen > maxPayloadSize || h.PayloadLen > maxPayloadSize {
		return Header{}, errors.Wrapf(ErrInvalidSnapshot, "payload too large (%d bytes, %d uncompressed)",
			h.PayloadLen, h.UncompressedLen)
	}
	if h.Compression == LZ4 && h.UncompressedLen > h.PayloadLen*maxLZ4Ratio {
		return Header{}, errors.Wrapf(ErrInvalidSnapshot, "lz4 payload of %d bytes cannot expand to %d",
			h.PayloadLen, h.UncompressedLen)
	}

	return h, nil
}

// Write encodes payload as a snapshot and writes it to w. It returns the
// header that was written.
func Write(w io.Writer, payload []byte, opts Options) (Header, error) {
	if opts.Hash == 0 {
		opts.Hash = sparsebloom.HashXXH3
	}
	if !opts.Hash.Valid() {
		return Header{}, errors.Wrapf(sparsebloom.ErrUnknownHash, "id %d", uint8(opts.Hash))
	}

	stored, used, err := compress(payload, opts.Compression)
	if err != nil {
		return Header{}, err
	}

	h := Header{
		Compression:     used,
		Hash:            opts.Hash,
		UncompressedLen: uint64(len(payload)),
		PayloadLen:      uint64(len(stored)),
		Checksum:        xxh3.Hash(payload),
	}

	if _, err := w.Write(h.encode()); err != nil {
		return Header{}, errors.Wrap(err, "write header")
	}
	if _, err := w.Write(stored); err != nil {
		return Header{}, errors.Wrap(err, "write payload")
	}

	return h, nil
}

// Read decodes a snapshot from r and returns its uncompressed payload.
func Read(r io.Reader) ([]byte, Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, Header{}, invalidSnapshot("read header", err)
	}

	h, err := decodeHeader(buf)
	if err != nil {
		return nil, Header{}, err
	}

	// Read through a limited reader rather than preallocating PayloadLen, so
	// a truncated input fails before a large allocation.
	var stored bytes.Buffer
	n, err := io.Copy(&stored, io.LimitReader(r, int64(h.PayloadLen)))
	if err != nil {
		return nil, Header{}, errors.Wrap(err, "read payload")
	}
	if uint64(n) != h.PayloadLen {
		return nil, Header{}, errors.Wrapf(ErrInvalidSnapshot, "truncated payload (got %d bytes, expected %d)", n, h.PayloadLen)
	}

	payload, err := decompress(stored.Bytes(), h.Compression, h.UncompressedLen)
	if err != nil {
		return nil, Header{}, err
	}
	if sum := xxh3.Hash(payload); sum != h.Checksum {
		return nil, Header{}, errors.Wrapf(ErrChecksum, "got %016x, expected %016x", sum, h.Checksum)
	}

	return payload, h, nil
}

// WriteFilter serializes f and writes it as a snapshot.
func WriteFilter[T any](w io.Writer, f *sparsebloom.Filter[T, *bitmap.Compressed], opts Options) (Header, error) {
	payload, err := f.MarshalBinary()
	if err != nil {
		return Header{}, err
	}
	return Write(w, payload, opts)
}

// ReadFilter reads a snapshot written by WriteFilter. hasher picks the
// fingerprint function for the algorithm recorded in the snapshot, for
// example sparsebloom.HashAlgorithm.StringHasher.
func ReadFilter[T any](r io.Reader, hasher func(sparsebloom.HashAlgorithm) sparsebloom.Hasher[T]) (*sparsebloom.Filter[T, *bitmap.Compressed], Header, error) {
	payload, h, err := Read(r)
	if err != nil {
		return nil, Header{}, err
	}

	f, err := sparsebloom.UnmarshalBinary(payload, hasher(h.Hash))
	if err != nil {
		return nil, Header{}, invalidSnapshot("decode filter", err)
	}
	return f, h, nil
}

// WriteFile atomically replaces path with a snapshot of payload.
func WriteFile(path string, payload []byte, opts Options) (Header, error) {
	var h Header
	err := saveToFile(path, func(w io.Writer) error {
		var err error
		h, err = Write(w, payload, opts)
		return err
	})
	return h, err
}

// ReadFile reads the snapshot stored at path.
func ReadFile(path string) ([]byte, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()

	return Read(bufio.NewReader(f))
}

// WriteFilterFile atomically replaces path with a snapshot of f.
func WriteFilterFile[T any](path string, f *sparsebloom.Filter[T, *bitmap.Compressed], opts Options) (Header, error) {
	payload, err := f.MarshalBinary()
	if err != nil {
		return Header{}, err
	}
	return WriteFile(path, payload, opts)
}

// ReadFilterFile reads a filter snapshot stored at path. See ReadFilter.
func ReadFilterFile[T any](path string, hasher func(sparsebloom.HashAlgorithm) sparsebloom.Hasher[T]) (*sparsebloom.Filter[T, *bitmap.Compressed], Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()

	return ReadFilter(bufio.NewReader(f), hasher)
}

// saveToFile writes to a temp file in the same directory as path, then
// renames it into place so readers never observe a partial snapshot.
func saveToFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := write(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename")
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	tmpName = ""
	return nil
}
