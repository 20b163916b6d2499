// pool.go implements a generic object pool with finalizers.

// Package pool provides a generic object pool; it backs the scratch memory
// of the codec bridges (payload copies, libav packets and frames).
package pool

import (
	"runtime"
	"sync"
)

// ReuseMemory may be set to false to make Put a no-op (useful to find
// use-after-put bugs).
var ReuseMemory = true

type Pool[T any] struct {
	sync.Pool
	ResetFunc func(*T)
}

// NewPool returns a pool; freeFunc is called by the finalizer of an item
// dropped by the garbage collector and may be nil.
func NewPool[T any](
	allocFunc func() *T,
	resetFunc func(*T),
	freeFunc func(*T),
) *Pool[T] {
	return &Pool[T]{
		Pool: sync.Pool{
			New: func() any {
				v := allocFunc()
				if freeFunc != nil {
					runtime.SetFinalizer(v, func(v *T) {
						freeFunc(v)
					})
				}
				return v
			},
		},
		ResetFunc: resetFunc,
	}
}

func (p *Pool[T]) Get() *T {
	return p.Pool.Get().(*T)
}

func (p *Pool[T]) Put(items ...*T) {
	if !ReuseMemory {
		return
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		if p.ResetFunc != nil {
			p.ResetFunc(item)
		}
		p.Pool.Put(item)
	}
}

// NewBytesPool returns a pool of byte slices with the given initial capacity.
func NewBytesPool(capacity int) *Pool[[]byte] {
	return NewPool(
		func() *[]byte {
			b := make([]byte, 0, capacity)
			return &b
		},
		func(b *[]byte) {
			*b = (*b)[:0]
		},
		nil,
	)
}
