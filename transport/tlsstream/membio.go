// File: transport/tlsstream/membio.go
// License: Apache-2.0

package tlsstream

import "sync"

// MemBIO is an in-memory byte queue carrying ciphertext between a TLS
// engine and the raw transport.
type MemBIO struct {
	mu  sync.Mutex
	buf []byte
}

// Write appends p.
func (b *MemBIO) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	b.mu.Unlock()
	return len(p), nil
}

// Read moves up to len(p) bytes into p.
func (b *MemBIO) Read(p []byte) int {
	b.mu.Lock()
	n := copy(p, b.buf)
	b.buf = b.buf[:copy(b.buf, b.buf[n:])]
	b.mu.Unlock()
	return n
}

// Drain removes and returns everything queued.
func (b *MemBIO) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return nil
	}
	out := b.buf
	b.buf = nil
	return out
}

// Len reports the number of queued bytes.
func (b *MemBIO) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
