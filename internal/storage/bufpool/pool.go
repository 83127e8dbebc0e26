package bufpool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultCapacity is the default number of buffers per node.
	DefaultCapacity = 16

	// DefaultBufferSize is 2 MiB of row payload plus header slack.
	DefaultBufferSize = 2<<20 + 4096
)

// Buffer is a fixed-capacity byte region owned by a Pool.
type Buffer struct {
	pool *Pool
	data []byte
	n    int
}

// Space returns the whole writable region of the buffer.
func (b *Buffer) Space() []byte {
	return b.data
}

// SetLen records how many bytes of Space hold payload.
func (b *Buffer) SetLen(n int) {
	if n < 0 || n > len(b.data) {
		panic(fmt.Sprintf("bufpool: length %d out of range [0,%d]", n, len(b.data)))
	}
	b.n = n
}

// Len returns the payload length.
func (b *Buffer) Len() int {
	return b.n
}

// Bytes returns the payload.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// Pool is a bounded set of reusable buffers.
type Pool struct {
	capacity int
	size     int
	sem      *semaphore.Weighted

	mu        sync.Mutex
	free      []*Buffer
	lent      map[*Buffer]struct{}
	allocated int
	waiters   bool

	failures atomic.Uint64
}

// New creates a pool of capacity buffers of size bytes each.
// Non-positive arguments select the defaults.
func New(capacity, size int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Pool{
		capacity: capacity,
		size:     size,
		sem:      semaphore.NewWeighted(int64(capacity)),
		lent:     make(map[*Buffer]struct{}, capacity),
	}
}

// TryAcquire reserves n buffers at once. It never blocks: if fewer than n
// buffers are available it takes none, remembers that a caller is waiting and
// returns false.
func (p *Pool) TryAcquire(n int) ([]*Buffer, bool) {
	if n <= 0 {
		return nil, true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if n > p.capacity || !p.sem.TryAcquire(int64(n)) {
		p.waiters = true
		p.failures.Add(1)
		return nil, false
	}

	bufs := make([]*Buffer, n)
	for i := range bufs {
		bufs[i] = p.takeLocked()
	}
	return bufs, true
}

func (p *Pool) takeLocked() *Buffer {
	var b *Buffer
	if last := len(p.free) - 1; last >= 0 {
		b = p.free[last]
		p.free[last] = nil
		p.free = p.free[:last]
	} else {
		b = &Buffer{pool: p, data: make([]byte, p.size)}
		p.allocated++
	}
	b.n = 0
	p.lent[b] = struct{}{}
	return b
}

// Release returns b to the pool and reports whether an acquisition had
// failed since the previous release. Callers use the result to reschedule
// work that was starved of buffers.
func (p *Pool) Release(b *Buffer) bool {
	if b == nil || b.pool != p {
		panic("bufpool: release of buffer not owned by this pool")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.lent[b]; !ok {
		panic("bufpool: buffer released twice")
	}
	delete(p.lent, b)
	b.n = 0
	p.free = append(p.free, b)
	p.sem.Release(1)

	hadWaiters := p.waiters
	p.waiters = false
	return hadWaiters
}

// Capacity returns the maximum number of buffers.
func (p *Pool) Capacity() int {
	return p.capacity
}

// BufferSize returns the size of each buffer in bytes.
func (p *Pool) BufferSize() int {
	return p.size
}

// Outstanding returns the number of buffers currently acquired.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lent)
}

// Available returns the number of buffers that could be acquired now.
func (p *Pool) Available() int {
	return p.capacity - p.Outstanding()
}

// Allocated returns how many buffers have been allocated so far.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// AcquireFailures returns the number of TryAcquire calls that were refused.
func (p *Pool) AcquireFailures() uint64 {
	return p.failures.Load()
}
