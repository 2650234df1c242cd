// Package bufpool hands out reusable byte slices sized to the chunk framer's
// and control codec's common allocation sizes, so a busy relay doesn't churn
// the GC on every chunk header or AMF payload it reads or writes.
package bufpool

import (
	"sync"
	"sync/atomic"
)

var sizeClasses = []int{128, 4096, 65536}

type classPool struct {
	size    int
	pool    *sync.Pool
	hits    atomic.Int64
	misses  atomic.Int64
	oversize atomic.Int64
}

// Pool hands out size-classed byte slices and tracks how often a request was
// served from a class versus falling through to a fresh allocation.
type Pool struct {
	pools []classPool
}

var defaultPool = New()

// Get acquires a buffer from the package-level default pool.
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put releases a buffer back to the package-level default pool.
func Put(buf []byte) {
	defaultPool.Put(buf)
}

// Stats reports the package-level default pool's running counters.
func Stats() []Snapshot {
	return defaultPool.Stats()
}

// New creates a buffer pool with size classes tuned to chunk headers (128B),
// a typical video frame chunk (4KB) and a keyframe-sized chunk (64KB).
func New() *Pool {
	p := &Pool{pools: make([]classPool, len(sizeClasses))}
	for i, classSize := range sizeClasses {
		size := classSize
		p.pools[i].size = size
		p.pools[i].pool = &sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		}
	}
	return p
}

// classFor returns the index of the smallest size class that can hold size,
// or -1 if size exceeds every class.
func (p *Pool) classFor(size int) int {
	for i := range p.pools {
		if size <= p.pools[i].size {
			return i
		}
	}
	return -1
}

// Get returns a byte slice whose length matches size and whose capacity is
// the nearest size class that can accommodate it. Requests larger than the
// largest size class bypass the pool entirely and are counted as oversize.
func (p *Pool) Get(size int) []byte {
	if p == nil || size <= 0 {
		return nil
	}

	idx := p.classFor(size)
	if idx < 0 {
		p.pools[len(p.pools)-1].oversize.Add(1)
		return make([]byte, size)
	}
	class := &p.pools[idx]
	class.hits.Add(1)
	buf := class.pool.Get().([]byte)
	return buf[:size]
}

// Put returns buf to the pool if its capacity matches a predefined size
// class; otherwise it's dropped and counted as a miss. The slice is zeroed
// first so a reused buffer never leaks a previous caller's frame bytes.
func (p *Pool) Put(buf []byte) {
	if p == nil || buf == nil {
		return
	}

	capBuf := cap(buf)
	for i := range p.pools {
		class := &p.pools[i]
		if capBuf == class.size {
			full := buf[:class.size]
			clear(full)
			class.pool.Put(full)
			return
		}
	}
	if len(p.pools) > 0 {
		p.pools[len(p.pools)-1].misses.Add(1)
	}
}

// Snapshot is a point-in-time read of a Pool's size-class counters, as
// returned by Stats.
type Snapshot struct {
	ClassSize int
	Hits      int64
	Misses    int64
	Oversize  int64
}

// Stats returns one Snapshot per size class, in ascending size order.
func (p *Pool) Stats() []Snapshot {
	out := make([]Snapshot, len(p.pools))
	for i := range p.pools {
		out[i] = Snapshot{
			ClassSize: p.pools[i].size,
			Hits:      p.pools[i].hits.Load(),
			Misses:    p.pools[i].misses.Load(),
			Oversize:  p.pools[i].oversize.Load(),
		}
	}
	return out
}
