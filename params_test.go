package sparsebloom

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestFilterSize(t *testing.T) {
	tests := []struct {
		size     FilterSize
		maxKey   uint64
		k        int
		minBytes uint64
	}{
		{KeyBytes1, 1<<8 - 1, 8, 8},
		{KeyBytes2, 1<<16 - 1, 4, 128},
		{KeyBytes3, 1<<24 - 1, 3, 32 << 10},
		{KeyBytes4, 1<<32 - 1, 2, 8 << 20},
		{KeyBytes5, 1<<40 - 1, 2, 2 << 30},
	}

	for _, tt := range tests {
		if !tt.size.Valid() {
			t.Errorf("%s: expected valid", tt.size)
		}
		if got := tt.size.MaxKey(); got != tt.maxKey {
			t.Errorf("%s: MaxKey() = %d, want %d", tt.size, got, tt.maxKey)
		}
		if got := tt.size.Capacity(); got != tt.maxKey+1 {
			t.Errorf("%s: Capacity() = %d, want %d", tt.size, got, tt.maxKey+1)
		}
		if got := tt.size.K(); got != tt.k {
			t.Errorf("%s: K() = %d, want %d", tt.size, got, tt.k)
		}
		if got := tt.size.MinByteSize(); got != tt.minBytes {
			t.Errorf("%s: MinByteSize() = %d, want %d", tt.size, got, tt.minBytes)
		}
		if got, want := tt.size.MaxByteSize(), tt.minBytes+tt.size.Capacity()/8; got != want {
			t.Errorf("%s: MaxByteSize() = %d, want %d", tt.size, got, want)
		}
	}

	for _, s := range []FilterSize{0, 6, 255} {
		if s.Valid() {
			t.Errorf("%d: expected invalid", s)
		}
	}
}

func TestFilterSizeMinByteSizeMatchesBitmap(t *testing.T) {
	// The block map of an empty compressed filter is its whole payload.
	for _, s := range Sizes[:3] {
		f, err := NewWithSize[[]byte](nil, s)
		if err != nil {
			t.Fatal(err)
		}
		f.ShrinkToFit()
		if got := uint64(f.ByteSize()); got < s.MinByteSize() || got > s.MinByteSize()+128 {
			t.Errorf("%s: ByteSize() = %d, MinByteSize() = %d", s, got, s.MinByteSize())
		}
	}
}

func TestFilterSizeString(t *testing.T) {
	if got := KeyBytes3.String(); got != "KeyBytes3" {
		t.Errorf("String() = %q", got)
	}
	if got := FilterSize(9).String(); got != "FilterSize(9)" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseFilterSize(t *testing.T) {
	tests := []struct {
		in   string
		want FilterSize
	}{
		{"1", KeyBytes1},
		{"2", KeyBytes2},
		{" 5 ", KeyBytes5},
		{"KeyBytes3", KeyBytes3},
		{"keybytes4", KeyBytes4},
	}
	for _, tt := range tests {
		got, err := ParseFilterSize(tt.in)
		if err != nil {
			t.Errorf("ParseFilterSize(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFilterSize(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	for _, in := range []string{"", "0", "6", "-1", "300", "KeyBytes", "big"} {
		if _, err := ParseFilterSize(in); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("ParseFilterSize(%q): expected ErrInvalidSize, got %v", in, err)
		}
	}
}

func TestKFor(t *testing.T) {
	tests := []struct {
		size FilterSize
		n    int
		want int
	}{
		{KeyBytes1, 8, 8},
		{KeyBytes2, 6, 3},
		{KeyBytes3, 8, 3},
		{KeyBytes3, 4, 2},
		{KeyBytes5, 8, 2},
		{KeyBytes5, 3, 1},
		{KeyBytes2, 0, 0},
	}
	for _, tt := range tests {
		if got := tt.size.KFor(tt.n); got != tt.want {
			t.Errorf("%s.KFor(%d) = %d, want %d", tt.size, tt.n, got, tt.want)
		}
	}
}

func TestEstimateFalsePositiveRate(t *testing.T) {
	// Empty filter should have 0 FP rate
	if rate := EstimateFalsePositiveRate(KeyBytes2, 0); rate != 0 {
		t.Errorf("expected 0 FP rate for empty filter, got %f", rate)
	}
	if rate := EstimateFalsePositiveRate(0, 100); rate != 0 {
		t.Errorf("expected 0 FP rate for invalid size, got %f", rate)
	}

	// (1 - e^(-4*30000/65536))^4
	want := math.Pow(1-math.Exp(-4*30000.0/65536), 4)
	if rate := EstimateFalsePositiveRate(KeyBytes2, 30000); math.Abs(rate-want) > 1e-12 {
		t.Errorf("got %f, want %f", rate, want)
	}

	// More items should increase FP rate
	rate1 := EstimateFalsePositiveRate(KeyBytes2, 1000)
	rate2 := EstimateFalsePositiveRate(KeyBytes2, 10000)
	if rate2 <= rate1 {
		t.Errorf("expected FP rate to increase with more items: %f vs %f", rate1, rate2)
	}

	// Larger sizes should have a lower FP rate for the same load
	for i := 1; i < len(Sizes); i++ {
		lo := EstimateFalsePositiveRate(Sizes[i-1], 5000)
		hi := EstimateFalsePositiveRate(Sizes[i], 5000)
		if hi > lo {
			t.Errorf("%s rate %g exceeds %s rate %g", Sizes[i], hi, Sizes[i-1], lo)
		}
	}

	// Saturated filter approaches 1
	if rate := EstimateFalsePositiveRate(KeyBytes1, 100_000); rate < 0.999 {
		t.Errorf("expected saturated rate near 1, got %f", rate)
	}
}
