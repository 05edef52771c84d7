// Package snapshot persists serialized filters in a small framed container.
//
// A snapshot is a fixed 32 byte header followed by the payload:
//
//	magic "SPBL" | version | compression | hash | reserved |
//	uncompressed length | payload length | xxh3 checksum | payload
//
// All integers are little-endian. The payload may be compressed with LZ4 or
// zstd; the checksum always covers the uncompressed bytes. The header also
// records which [sparsebloom.HashAlgorithm] built the filter, so a reader can
// query it with the same fingerprint function.
package snapshot
