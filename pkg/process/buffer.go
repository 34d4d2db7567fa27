package process

import "sync"

// Buffer is a growable, concurrency-safe byte buffer. Writers append output
// as it arrives; readers get a consistent snapshot.
type Buffer struct {
	mu   sync.RWMutex
	data []byte
}

// Write appends p to the buffer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}

// Bytes returns a copy of the buffered data.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.data)
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Reset discards all buffered data.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}
