package bitmap

// Compress builds a Compressed bitmap holding the same bits as d in a single
// forward pass. Zero words are elided; non-zero words are appended in order,
// so unlike Set no shifting ever happens.
//
// Compress consumes d: its storage is released and d must not be used
// afterwards.
func Compress(d *Dense) *Compressed {
	c := &Compressed{
		blockMap: make([]uint64, blockMapLen(d.maxKey)),
		maxKey:   d.maxKey,
	}

	for i, w := range d.words {
		if w == 0 {
			continue
		}
		block := uint64(i)
		c.words = append(c.words, w)
		c.blockMap[blockIndex(block)] |= bitMask(block)
	}

	d.words = nil
	return c
}
