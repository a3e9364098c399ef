// File: pool/objpool.go
// License: Apache-2.0

package pool

import "sync"

// ObjectPool hands out reusable values.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool is a typed wrapper around sync.Pool.
type SyncPool[T any] struct {
	pool sync.Pool
}

// NewSyncPool creates a pool that calls create when it is empty.
func NewSyncPool[T any](create func() T) *SyncPool[T] {
	sp := &SyncPool[T]{}
	sp.pool.New = func() any { return create() }
	return sp
}

func (sp *SyncPool[T]) Get() T { return sp.pool.Get().(T) }

func (sp *SyncPool[T]) Put(v T) { sp.pool.Put(v) }
