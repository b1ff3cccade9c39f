package pose

// SequenceCache remembers the last decoded batch and the native sequence
// number it came from, so a poll that sees the same sequence can skip the
// decode. It is not safe for concurrent use; the Reader serialises access.
type SequenceCache struct {
	valid bool
	batch Batch
}

// IsStale reports whether a payload with sequence seq needs decoding: true
// when nothing is cached yet or the cached batch is from another sequence.
func (c *SequenceCache) IsStale(seq uint64) bool {
	return !c.valid || c.batch.Seq != seq
}

// Get returns the cached batch, if any.
func (c *SequenceCache) Get() (Batch, bool) {
	return c.batch, c.valid
}

// Store replaces the cached batch wholesale.
func (c *SequenceCache) Store(b Batch) {
	c.batch = b
	c.valid = true
}

// Reset forgets the cached batch.
func (c *SequenceCache) Reset() {
	c.batch = Batch{}
	c.valid = false
}
