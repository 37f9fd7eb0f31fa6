package pool

// BucketSizes are the fixed byte-buffer classes served by BufferPool.
var BucketSizes = [4]int{256, 1024, 4096, 16384}

// BufferPool hands out byte slices from four fixed size classes.
// Снижает давление на GC за счёт повторного использования аллокаций.
type BufferPool struct {
	buckets [len(BucketSizes)]*Pool[[]byte]
}

// NewBufferPool creates a buffer pool with initial buffers pre-allocated per
// bucket and at most max retained per bucket.
func NewBufferPool(initial, max int) *BufferPool {
	bp := &BufferPool{}
	for i, size := range BucketSizes {
		bp.buckets[i] = New(initial, max, func() []byte {
			return make([]byte, size)
		}, nil)
	}
	return bp
}

// Rent returns a zeroed slice of length n backed by the smallest sufficient
// bucket. Requests over the largest bucket get a plain allocation that will
// not be retained on Return.
func (p *BufferPool) Rent(n int) []byte {
	for i, size := range BucketSizes {
		if n <= size {
			b := p.buckets[i].Rent()
			b = b[:n]
			clear(b)
			return b
		}
	}
	return make([]byte, n)
}

// Return places the buffer back into its bucket. Buffers whose capacity does
// not match a bucket size exactly are silently discarded.
func (p *BufferPool) Return(b []byte) {
	if b == nil {
		return
	}
	c := cap(b)
	for i, size := range BucketSizes {
		if c == size {
			p.buckets[i].Return(b[:size])
			return
		}
	}
}

// Stats returns counters summed across all buckets.
func (p *BufferPool) Stats() Stats {
	var s Stats
	for _, b := range p.buckets {
		bs := b.Stats()
		s.Available += bs.Available
		s.TotalCreated += bs.TotalCreated
		s.TotalRented += bs.TotalRented
		s.TotalReturned += bs.TotalReturned
	}
	return s
}

// BucketStats returns counters for the bucket holding buffers of exactly
// size bytes. ok is false when size is not a bucket size.
func (p *BufferPool) BucketStats(size int) (Stats, bool) {
	for i, bs := range BucketSizes {
		if bs == size {
			return p.buckets[i].Stats(), true
		}
	}
	return Stats{}, false
}
