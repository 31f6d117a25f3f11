// Package history keeps a bounded, ordered record of raw terminal output so a
// detached session can be replayed when a viewer reattaches.
package history

import "sync"

// DefaultLimit is the byte budget used when New is given a non-positive limit.
const DefaultLimit = 10 * 1024 * 1024

// Buffer is a FIFO queue of output chunks whose combined size never exceeds
// its byte budget. The oldest chunks are evicted first.
type Buffer struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
	limit  int
}

// New creates a Buffer with the given byte budget.
func New(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Buffer{limit: limit}
}

// Append copies chunk into the buffer and evicts old chunks until the buffer
// fits its budget. A chunk larger than the whole budget keeps only its tail.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if len(chunk) > b.limit {
		chunk = chunk[len(chunk)-b.limit:]
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, c)
	b.size += len(c)

	drop := 0
	for b.size > b.limit {
		b.size -= len(b.chunks[drop])
		b.chunks[drop] = nil
		drop++
	}
	if drop > 0 {
		b.chunks = b.chunks[drop:]
	}
}

// Snapshot returns copies of all retained chunks, oldest first.
func (b *Buffer) Snapshot() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]byte, len(b.chunks))
	for i, c := range b.chunks {
		cp := make([]byte, len(c))
		copy(cp, c)
		out[i] = cp
	}
	return out
}

// Size returns the number of bytes currently retained.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Len returns the number of retained chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Limit returns the byte budget.
func (b *Buffer) Limit() int {
	return b.limit
}

// Reset discards all chunks.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.size = 0
}
