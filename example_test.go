package sparsebloom_test

import (
	"fmt"

	"github.com/jcalabro/sparsebloom"
)

// This example demonstrates basic bloom filter usage for membership testing.
func Example() {
	// Create a filter over byte slices with the default size
	f := sparsebloom.New(sparsebloom.HashBytes)

	// Add some items
	f.Insert([]byte("apple"))
	f.Insert([]byte("banana"))
	f.Insert([]byte("cherry"))

	// Test membership
	fmt.Println("apple:", f.Contains([]byte("apple")))   // true (added)
	fmt.Println("banana:", f.Contains([]byte("banana"))) // true (added)
	fmt.Println("grape:", f.Contains([]byte("grape")))   // false (not added)

	// Output:
	// apple: true
	// banana: true
	// grape: false
}

// This example shows how to use string keys without allocation overhead.
func Example_stringKeys() {
	f := sparsebloom.New(sparsebloom.HashString)

	f.Insert("user:12345")
	f.Insert("user:67890")

	fmt.Println("user:12345 exists:", f.Contains("user:12345"))
	fmt.Println("user:99999 exists:", f.Contains("user:99999"))

	// Output:
	// user:12345 exists: true
	// user:99999 exists: false
}

// This example builds a large filter on a dense bitmap, then compresses it.
func Example_compress() {
	d, err := sparsebloom.NewDense(sparsebloom.HashString, sparsebloom.KeyBytes3)
	if err != nil {
		panic(err)
	}
	for i := range 10_000 {
		d.Insert(fmt.Sprintf("item-%d", i))
	}

	// d must not be used after this point
	c := sparsebloom.Compress(d)
	c.ShrinkToFit()

	fmt.Println("item-42:", c.Contains("item-42"))
	fmt.Println("items:", c.Count())

	// Output:
	// item-42: true
	// items: 10000
}

// This example merges two filters built independently.
func Example_union() {
	a := sparsebloom.New(sparsebloom.HashString)
	b := sparsebloom.New(sparsebloom.HashString)

	a.Insert("from-a")
	b.Insert("from-b")

	if err := a.Union(b); err != nil {
		panic(err)
	}

	fmt.Println("from-a:", a.Contains("from-a"))
	fmt.Println("from-b:", a.Contains("from-b"))

	// Output:
	// from-a: true
	// from-b: true
}

// This example shows the memory bounds of every filter size.
func Example_sizes() {
	for _, s := range sparsebloom.Sizes {
		fmt.Printf("%s: k=%d min=%d max=%d\n", s, s.K(), s.MinByteSize(), s.MaxByteSize())
	}

	// Output:
	// KeyBytes1: k=8 min=8 max=40
	// KeyBytes2: k=4 min=128 max=8320
	// KeyBytes3: k=3 min=32768 max=2129920
	// KeyBytes4: k=2 min=8388608 max=545259520
	// KeyBytes5: k=2 min=2147483648 max=139586437120
}

func ExampleNewWithSize() {
	// KeyBytes1 sets 8 bits per value in a 256 bit key space: tiny, but only
	// suitable for a handful of entries.
	f, err := sparsebloom.NewWithSize(sparsebloom.HashString, sparsebloom.KeyBytes1)
	if err != nil {
		panic(err)
	}

	f.Insert("hello")
	fmt.Println(f.Contains("hello"), f.K())

	// Output:
	// true 8
}

func ExampleKeys() {
	// The fingerprint 0xAB54A98CEB1F0AD2 split into 2 byte keys
	fp := []byte{0xAB, 0x54, 0xA9, 0x8C, 0xEB, 0x1F, 0x0A, 0xD2}
	fmt.Println(sparsebloom.Keys(sparsebloom.KeyBytes2, fp))

	// Output:
	// [43860 43404 60191 2770]
}

func ExampleEstimateFalsePositiveRate() {
	rate := sparsebloom.EstimateFalsePositiveRate(sparsebloom.KeyBytes2, 30_000)
	fmt.Printf("Estimated FP rate: %.2f%%\n", rate*100)

	// Output:
	// Estimated FP rate: 49.73%
}
