package particle

// Chunk is a host staging buffer holding one slot's share of a device side.
// Records has a fixed capacity; only the first Len entries are meaningful.
type Chunk struct {
	Records []Record
	Offset  int // absolute device position of Records[0] when read back
	Len     int
}

// NewChunk allocates a chunk of the given capacity whose first n positions
// are vacant device slots starting at offset.
func NewChunk(capacity, offset, n int) *Chunk {
	if n > capacity {
		n = capacity
	}
	c := &Chunk{
		Records: make([]Record, capacity),
		Offset:  offset,
		Len:     n,
	}
	for i := 0; i < n; i++ {
		c.Records[i] = VacantAt(int32(offset + i))
	}
	return c
}

// Live returns the meaningful prefix of the chunk.
func (c *Chunk) Live() []Record {
	return c.Records[:c.Len]
}
