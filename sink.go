package serialbridge

import (
	"sync"

	"go.uber.org/atomic"
)

// DisplaySink is anything that shows received data. Implementations are
// called on the notification goroutine and must return quickly.
type DisplaySink interface {
	OnChunk(Chunk)
}

// SinkFunc adapts a function to DisplaySink.
type SinkFunc func(Chunk)

func (f SinkFunc) OnChunk(c Chunk) {
	f(c)
}

// Consumer adapts a sink to Attach.
func ConsumerFor(sink DisplaySink) Consumer {
	if sink == nil {
		return func(Chunk) {}
	}
	return sink.OnChunk
}

// LatestChunk keeps only the most recently received chunk.
type LatestChunk struct {
	mu    sync.RWMutex
	chunk Chunk
	ok    bool
}

func (l *LatestChunk) OnChunk(c Chunk) {
	l.Store(c)
}

func (l *LatestChunk) Store(c Chunk) {
	l.mu.Lock()
	l.chunk = c
	l.ok = true
	l.mu.Unlock()
}

// Load returns the latest chunk, and false if nothing has arrived yet.
func (l *LatestChunk) Load() (Chunk, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chunk, l.ok
}

func (l *LatestChunk) Reset() {
	l.mu.Lock()
	l.chunk = Chunk{}
	l.ok = false
	l.mu.Unlock()
}

// ChannelSink hands chunks to another goroutine through a buffered channel.
// When the reader falls behind, new chunks are dropped and counted rather than
// stalling the receiver.
type ChannelSink struct {
	ch      chan Chunk
	dropped atomic.Uint64
}

func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{ch: make(chan Chunk, size)}
}

func (c *ChannelSink) OnChunk(chunk Chunk) {
	select {
	case c.ch <- chunk:
	default:
		c.dropped.Inc()
	}
}

// C returns the receive side of the hand-off channel. It is never closed.
func (c *ChannelSink) C() <-chan Chunk {
	return c.ch
}

func (c *ChannelSink) Dropped() uint64 {
	return c.dropped.Load()
}

// Tee delivers each chunk to every sink in order.
func Tee(sinks ...DisplaySink) DisplaySink {
	return SinkFunc(func(c Chunk) {
		for _, s := range sinks {
			if s != nil {
				s.OnChunk(c)
			}
		}
	})
}
