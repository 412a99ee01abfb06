// Package pool provides object pooling on top of sync.Pool for the transient
// buffers used when serializing cache keys and payloads.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a generic object pool.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T)

	// Metrics
	gets   atomic.Int64
	puts   atomic.Int64
	news   atomic.Int64
	resets atomic.Int64
}

// NewPool creates a new object pool. resetFunc may be nil.
func NewPool[T any](newFunc func() T, resetFunc func(*T)) *Pool[T] {
	p := &Pool[T]{reset: resetFunc}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj T) {
	p.puts.Add(1)
	if p.reset != nil {
		p.resets.Add(1)
		p.reset(&obj)
	}
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Gets:   p.gets.Load(),
		Puts:   p.puts.Load(),
		News:   p.news.Load(),
		Resets: p.resets.Load(),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Gets   int64 `json:"gets"`
	Puts   int64 `json:"puts"`
	News   int64 `json:"news"`
	Resets int64 `json:"resets"`
}

// HitRate returns the share of Gets served without allocating.
func (s PoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// maxPooledBuffer 超过该容量的 buffer 不回收，避免单个大载荷长期占用内存
const maxPooledBuffer = 1 << 20

// BufferPool pools bytes.Buffer values and drops oversized ones on Put.
type BufferPool struct {
	*Pool[*bytes.Buffer]
}

// NewBufferPool creates a buffer pool whose fresh buffers start at initSize bytes.
func NewBufferPool(initSize int) *BufferPool {
	return &BufferPool{NewPool(
		func() *bytes.Buffer {
			return bytes.NewBuffer(make([]byte, 0, initSize))
		},
		func(b **bytes.Buffer) {
			(*b).Reset()
		},
	)}
}

// Put returns b to the pool unless it grew beyond maxPooledBuffer.
func (p *BufferPool) Put(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledBuffer {
		return
	}
	p.Pool.Put(b)
}

// ByteBufferPool provides pooled byte buffers.
var ByteBufferPool = NewBufferPool(4096)
