package optimizer

import (
	"sync"

	"github.com/npanj/spark/vector"
)

// AccumulatorPool recycles zeroed gradient accumulators between partition
// tasks. Buffers are bucketed by exact length since one training job only
// ever asks for a single size.
type AccumulatorPool struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool
	stats map[int]*PoolStats
}

// PoolStats tracks usage of one buffer size
type PoolStats struct {
	Gets     int64
	Puts     int64
	Misses   int64
	InUse    int64
	MaxInUse int64
}

// NewAccumulatorPool creates an empty pool
func NewAccumulatorPool() *AccumulatorPool {
	return &AccumulatorPool{
		pools: make(map[int]*sync.Pool),
		stats: make(map[int]*PoolStats),
	}
}

// Get returns a zeroed vector of length size
func (p *AccumulatorPool) Get(size int) vector.Vector {
	p.mu.Lock()
	pool, ok := p.pools[size]
	if !ok {
		pool = &sync.Pool{}
		p.pools[size] = pool
		p.stats[size] = &PoolStats{}
	}
	stats := p.stats[size]
	stats.Gets++
	stats.InUse++
	if stats.InUse > stats.MaxInUse {
		stats.MaxInUse = stats.InUse
	}
	p.mu.Unlock()

	if buf, ok := pool.Get().(*vector.Vector); ok {
		return *buf
	}

	p.mu.Lock()
	stats.Misses++
	p.mu.Unlock()
	return vector.Zeros(size)
}

// Put zeroes buf and returns it to the pool. Buffers of sizes the pool never
// handed out are dropped.
func (p *AccumulatorPool) Put(buf vector.Vector) {
	if len(buf) == 0 {
		return
	}

	p.mu.Lock()
	pool, ok := p.pools[len(buf)]
	if !ok {
		p.mu.Unlock()
		return
	}
	stats := p.stats[len(buf)]
	stats.Puts++
	stats.InUse--
	p.mu.Unlock()

	clear(buf)
	pool.Put(&buf)
}

// Stats returns a copy of the per-size statistics
func (p *AccumulatorPool) Stats() map[int]PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[int]PoolStats, len(p.stats))
	for size, s := range p.stats {
		out[size] = *s
	}
	return out
}

var (
	globalPool     *AccumulatorPool
	globalPoolOnce sync.Once
)

// GlobalAccumulatorPool returns the process-wide pool used by aggregators
func GlobalAccumulatorPool() *AccumulatorPool {
	globalPoolOnce.Do(func() {
		globalPool = NewAccumulatorPool()
	})
	return globalPool
}
