// File: pool/bytes.go
// License: Apache-2.0
//
// Package pool recycles the scratch buffers used to serialize outgoing
// HTTP messages and WebSocket frames. Buffers are grouped in power-of-two
// size classes; requests above the largest class are allocated directly
// and never pooled.

package pool

import (
	"math/bits"
	"sync/atomic"
)

const (
	minClassShift = 9  // 512 B
	maxClassShift = 20 // 1 MiB
)

// Stats reports pool activity.
type Stats struct {
	Gets      uint64
	Misses    uint64
	Puts      uint64
	Discarded uint64
}

// BytePool is a size-classed pool of byte slices, safe for concurrent use.
type BytePool struct {
	classes [maxClassShift - minClassShift + 1]*SyncPool[*[]byte]

	gets, misses, puts, discarded atomic.Uint64
}

// NewBytePool creates an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i := range p.classes {
		size := 1 << (minClassShift + i)
		p.classes[i] = NewSyncPool(func() *[]byte {
			p.misses.Add(1)
			b := make([]byte, 0, size)
			return &b
		})
	}
	return p
}

// classOf returns the index of the smallest class holding n bytes, or -1.
func classOf(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	shift := bits.Len(uint(n - 1))
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}

// Get returns an empty slice with capacity of at least n.
func (p *BytePool) Get(n int) *[]byte {
	p.gets.Add(1)
	c := classOf(n)
	if c < 0 {
		p.misses.Add(1)
		b := make([]byte, 0, n)
		return &b
	}
	b := p.classes[c].Get()
	*b = (*b)[:0]
	return b
}

// Put recycles b. Slices whose capacity is not exactly a class size,
// including ones that grew by append, are dropped.
func (p *BytePool) Put(b *[]byte) {
	if b == nil {
		return
	}
	c := cap(*b)
	if c < 1<<minClassShift || c > 1<<maxClassShift || c&(c-1) != 0 {
		p.discarded.Add(1)
		return
	}
	p.puts.Add(1)
	p.classes[bits.Len(uint(c))-1-minClassShift].Put(b)
}

// Stats returns a snapshot of the counters.
func (p *BytePool) Stats() Stats {
	return Stats{
		Gets:      p.gets.Load(),
		Misses:    p.misses.Load(),
		Puts:      p.puts.Load(),
		Discarded: p.discarded.Load(),
	}
}

var defaultPool = NewBytePool()

// Default returns the process-wide pool.
func Default() *BytePool { return defaultPool }

// Get takes a buffer from the default pool.
func Get(n int) *[]byte { return defaultPool.Get(n) }

// Put returns a buffer to the default pool.
func Put(b *[]byte) { defaultPool.Put(b) }
