package bitmap

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func populate[B Bitmap[B]](b B, keys ...uint64) B {
	for _, k := range keys {
		b.Set(k, true)
	}
	return b
}

func TestSerializeRoundtrip(t *testing.T) {
	t.Parallel()

	keys := []uint64{0, 1, 63, 64, 1000, 40000, 65535}

	t.Run("dense", func(t *testing.T) {
		t.Parallel()

		d := populate(NewDense(1<<16-1), keys...)
		data, err := d.MarshalBinary()
		require.NoError(t, err)

		got, err := UnmarshalDense(data)
		require.NoError(t, err)
		require.True(t, d.Equal(got))
	})

	t.Run("compressed", func(t *testing.T) {
		t.Parallel()

		c := populate(NewCompressed(1<<16-1), keys...)
		// A cleared block must survive the roundtrip.
		c.Set(40000, false)

		data, err := c.MarshalBinary()
		require.NoError(t, err)

		got, err := UnmarshalCompressed(data)
		require.NoError(t, err)
		require.True(t, c.Equal(got))
		require.Equal(t, c.BlockCount(), got.BlockCount())
	})

	t.Run("compressed empty", func(t *testing.T) {
		t.Parallel()

		c := NewCompressed(255)
		data, err := c.MarshalBinary()
		require.NoError(t, err)

		got, err := UnmarshalCompressed(data)
		require.NoError(t, err)
		require.True(t, c.Equal(got))
		require.Zero(t, got.BlockCount())
	})

	t.Run("bytes", func(t *testing.T) {
		t.Parallel()

		b := populate(NewBytes(1<<16-1), keys...)
		data, err := b.MarshalBinary()
		require.NoError(t, err)

		got, err := UnmarshalBytes(data)
		require.NoError(t, err)
		require.Equal(t, b.Bytes(), got.Bytes())
		require.Equal(t, b.MaxKey(), got.MaxKey())

		// The decoded bitmap does not alias the input.
		data[len(data)-1] ^= 0xff
		require.True(t, got.Get(65535))
	})
}

func TestSerializeCompressedLayout(t *testing.T) {
	t.Parallel()

	c := populate(NewCompressed(255), 3, 130)
	data, err := c.MarshalBinary()
	require.NoError(t, err)

	// Header, two counts, one block map word and two blocks.
	require.Len(t, data, headerSize+16+3*8)
	require.Equal(t, serializeVersion, data[0])
	require.Equal(t, byte(KindCompressed), data[1])
	require.Equal(t, uint64(255), binary.LittleEndian.Uint64(data[2:]))
	require.Equal(t, uint64(1), binary.LittleEndian.Uint64(data[headerSize:]))
	require.Equal(t, uint64(2), binary.LittleEndian.Uint64(data[headerSize+8:]))
	require.Equal(t, uint64(1<<0|1<<2), binary.LittleEndian.Uint64(data[headerSize+16:]))
	require.Equal(t, uint64(1<<3), binary.LittleEndian.Uint64(data[headerSize+24:]))
	require.Equal(t, uint64(1<<2), binary.LittleEndian.Uint64(data[headerSize+32:]))
}

func TestUnmarshalInvalid(t *testing.T) {
	t.Parallel()

	valid, err := populate(NewCompressed(4095), 7, 3000).MarshalBinary()
	require.NoError(t, err)

	corrupt := func(f func(b []byte) []byte) []byte {
		b := make([]byte, len(valid))
		copy(b, valid)
		return f(b)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidData},
		{"short header", valid[:5], ErrInvalidData},
		{"bad version", corrupt(func(b []byte) []byte { b[0] = 99; return b }), ErrUnsupportedVersion},
		{"wrong kind", corrupt(func(b []byte) []byte { b[1] = byte(KindDense); return b }), ErrInvalidData},
		{"huge max key", corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[2:], 1<<60)
			return b
		}), ErrInvalidData},
		{"missing counts", valid[:headerSize+4], ErrInvalidData},
		{"block map length", corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[headerSize:], 7)
			return b
		}), ErrInvalidData},
		{"block count", corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[headerSize+8:], 3)
			return b
		}), ErrInvalidData},
		{"truncated", valid[:len(valid)-1], ErrInvalidData},
		{"trailing bytes", append(corrupt(func(b []byte) []byte { return b }), 0), ErrInvalidData},
		{"block map popcount", corrupt(func(b []byte) []byte {
			b[headerSize+16] |= 1 << 5
			return b
		}), ErrInvalidData},
	}

	tests = append(tests, struct {
		name string
		data []byte
		want error
	}{"block beyond max key", strayBlock(t), ErrInvalidData})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := UnmarshalCompressed(tt.data)
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

// strayBlock returns a compressed payload with maxKey 255 (blocks 0..3)
// whose block map also marks block 10, with a word stored for it so that the
// popcount still matches.
func strayBlock(t testing.TB) []byte {
	t.Helper()

	c := NewCompressed(255)
	c.Set(3, true)
	data, err := c.MarshalBinary()
	require.NoError(t, err)

	data[headerSize+16+1] |= 1 << 2 // bit 10 of the first block map word
	binary.LittleEndian.PutUint64(data[headerSize+8:], 2)
	return binary.LittleEndian.AppendUint64(data, 1)
}

func TestUnmarshalStrayBlock(t *testing.T) {
	t.Parallel()

	data := strayBlock(t)
	require.Equal(t, uint64(1|1<<10), binary.LittleEndian.Uint64(data[headerSize+16:]))

	_, err := UnmarshalCompressed(data)
	require.ErrorIs(t, err, ErrInvalidData)

	// The same payload is accepted once the stray bit is within range.
	c := NewCompressed(1023)
	c.Set(3, true)
	c.Set(640, true)
	ok, err := c.MarshalBinary()
	require.NoError(t, err)
	got, err := UnmarshalCompressed(ok)
	require.NoError(t, err)
	require.True(t, got.Get(640))
}

func TestUnmarshalDenseInvalid(t *testing.T) {
	t.Parallel()

	valid, err := populate(NewDense(1000), 1, 999).MarshalBinary()
	require.NoError(t, err)

	_, err = UnmarshalDense(valid[:len(valid)-8])
	require.ErrorIs(t, err, ErrInvalidData)

	bad := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint64(bad[headerSize:], 3)
	_, err = UnmarshalDense(bad)
	require.ErrorIs(t, err, ErrInvalidData)

	_, err = UnmarshalBytes(valid)
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestFromBytes(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 32)
	b, err := FromBytes(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(255), b.MaxKey())

	b.Set(9, true)
	require.Equal(t, byte(1<<1), buf[1], "writes go straight to the mounted buffer")

	buf[31] = 0x80
	require.True(t, b.Get(255))

	for _, n := range []int{0, 7, 12} {
		_, err := FromBytes(make([]byte, n))
		require.ErrorIs(t, err, ErrInvalidData, "len %d", n)
	}
}

func TestBytesMatchesDenseLayout(t *testing.T) {
	t.Parallel()

	d := populate(NewDense(1023), 0, 65, 700, 1023)
	b := populate(NewBytes(1023), 0, 65, 700, 1023)
	require.Equal(t, d.ByteSize(), b.ByteSize())

	for i, w := range d.words {
		require.Equal(t, w, binary.LittleEndian.Uint64(b.Bytes()[i*8:]), "word %d", i)
	}
}

func FuzzUnmarshalCompressed(f *testing.F) {
	valid, _ := populate(NewCompressed(1<<16-1), 1, 500, 60000).MarshalBinary()
	f.Add(valid)
	f.Add([]byte{})
	f.Add(make([]byte, headerSize+16))
	f.Add(strayBlock(f))

	f.Fuzz(func(t *testing.T, data []byte) {
		c, err := UnmarshalCompressed(data)
		if err != nil {
			return
		}

		// Anything accepted must answer queries without panicking and
		// serialize back to the same bytes.
		for key := uint64(0); key <= c.MaxKey() && key < 1<<12; key++ {
			c.Get(key)
		}
		c.ForEach(func(key uint64) bool {
			if key > c.MaxKey() {
				t.Fatalf("ForEach yielded key %d beyond max key %d", key, c.MaxKey())
			}
			return true
		})
		if c.Count() != c.Decompress().Count() {
			t.Fatalf("Count %d, decompressed Count %d", c.Count(), c.Decompress().Count())
		}
		again, err := c.MarshalBinary()
		if err != nil {
			t.Fatalf("re-marshal: %v", err)
		}
		if string(again) != string(data) {
			t.Fatalf("re-marshal mismatch")
		}
	})
}
