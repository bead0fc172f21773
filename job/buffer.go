package job

import (
	"sync"
	"sync/atomic"
)

// BufferBytes is the total capacity of a single job buffer, in bytes.
const BufferBytes = 64 * 1024

// BufferJobs is the maximum number of jobs that can be allocated from a
// single job buffer before it must be swapped for a fresh one.
const BufferJobs = 64

// waiterListBytes is the size of a full waiter list (WaiterMax uint16 slot
// indices). It is counted against a job's payload limit (maxJobDataSize);
// the waiter list itself lives in the state slab, not in the buffer.
const waiterListBytes = WaiterMax * 2

// Buffer is a reference-counted slab of storage that jobs bump-allocate
// their user payload from. Buffers are recycled on a
// free list once their reference count reaches zero: refcount starts at
// 1 on acquisition, plus 1 for each not-yet-completed job allocated from
// it.
type Buffer struct {
	next     *Buffer
	memory   []byte
	offset   uint64
	capacity uint64
	slotBase uint32
	refcnt   atomic.Int32
}

func newBuffer(slotBase uint32) *Buffer {
	b := &Buffer{memory: make([]byte, BufferBytes), capacity: BufferBytes, slotBase: slotBase}
	b.refcnt.Store(1)
	return b
}

// alloc bump-allocates length bytes aligned to alignment from b. Returns
// nil if the buffer cannot satisfy the request.
func (b *Buffer) alloc(length uint64, alignment uint64) []byte {
	aligned := alignUp(b.offset, alignment)
	end := aligned + length
	if end > b.capacity {
		return nil
	}
	b.offset = end
	return b.memory[aligned:end:end]
}

func alignUp(v uint64, alignment uint64) uint64 {
	if alignment == 0 {
		alignment = 1
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// bufferPool owns the free list of recycled buffers and enforces the
// global buffer budget (jobbuf_limit in the reference implementation).
type bufferPool struct {
	mu        sync.Mutex
	freeList  *Buffer
	limit     uint32
	allocated uint32 // total buffers ever constructed, used to assign slotBase
}

func newBufferPool(limit uint32) *bufferPool {
	return &bufferPool{limit: limit}
}

// acquire returns a job buffer for use by a context. If current is
// non-nil, its reference count is decremented first; if that drives it
// to zero, current itself is recycled directly without touching the
// free list (the fast path). Otherwise a buffer is popped from the free
// list, or a new one constructed if the pool has not yet hit its
// configured limit. Returns nil if no buffer is available ("out of
// buffers").
func (p *bufferPool) acquire(current *Buffer) *Buffer {
	if current != nil {
		if current.refcnt.Add(-1) == 0 {
			current.offset = 0
			current.refcnt.Store(1)
			return current
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freeList != nil {
		b := p.freeList
		p.freeList = b.next
		b.next = nil
		b.offset = 0
		b.refcnt.Store(1)
		return b
	}
	if p.allocated >= p.limit {
		return nil
	}
	slotBase := p.allocated * BufferJobs
	p.allocated++
	return newBuffer(slotBase)
}

// release decrements b's reference count; if it reaches zero, b is
// pushed onto the free list under the pool mutex.
func (p *bufferPool) release(b *Buffer) {
	if b.refcnt.Add(-1) != 0 {
		return
	}
	p.mu.Lock()
	b.next = p.freeList
	p.freeList = b
	p.mu.Unlock()
}
