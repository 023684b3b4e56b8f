package serialbridge

import (
	"sync"

	"go.uber.org/atomic"
)

// BufferPool manages reusable read scratch buffers of one fixed size. Chunks
// handed to consumers are always copied out, so a pooled buffer is never
// visible outside the receiver.
type BufferPool struct {
	pool sync.Pool
	size int
	// Metrics for monitoring pool efficiency
	gets    atomic.Int64
	puts    atomic.Int64
	creates atomic.Int64
}

// NewBufferPool creates a buffer pool with fixed-size buffers. Sizes outside
// 1..MaxReadBufferSize are clamped.
func NewBufferPool(bufferSize int) *BufferPool {
	bufferSize = min(max(bufferSize, 1), MaxReadBufferSize)
	bp := &BufferPool{
		size: bufferSize,
	}
	bp.pool = sync.Pool{
		New: func() any {
			bp.creates.Inc()
			return make([]byte, bufferSize)
		},
	}
	return bp
}

func (bp *BufferPool) Size() int {
	return bp.size
}

// Get retrieves a buffer from the pool
func (bp *BufferPool) Get() []byte {
	bp.gets.Inc()
	return bp.pool.Get().([]byte)
}

// Put returns a buffer to the pool (clears it first so stale line data does
// not linger)
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) != bp.size {
		return // Don't pool incorrectly sized buffers
	}
	bp.puts.Inc()

	clear(buf)
	bp.pool.Put(buf)
}

// Stats returns pool usage statistics
func (bp *BufferPool) Stats() PoolStats {
	return PoolStats{
		Size:    bp.size,
		Gets:    bp.gets.Load(),
		Puts:    bp.puts.Load(),
		Creates: bp.creates.Load(),
	}
}

// ResetStats zeroes the counters (useful for testing)
func (bp *BufferPool) ResetStats() {
	bp.gets.Store(0)
	bp.puts.Store(0)
	bp.creates.Store(0)
}

// PoolStats contains buffer pool usage statistics
type PoolStats struct {
	Size    int   // Buffer size managed by this pool
	Gets    int64 // Number of Get() calls
	Puts    int64 // Number of Put() calls
	Creates int64 // Number of new buffers created
}

// HitRatio returns the cache hit ratio (0.0 to 1.0)
func (ps PoolStats) HitRatio() float64 {
	if ps.Gets == 0 {
		return 0.0
	}
	return 1.0 - (float64(ps.Creates) / float64(ps.Gets))
}
