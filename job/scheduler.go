package job

import (
	"errors"
	"fmt"
	"sync"

	"github.com/russellklenk/moxie/moxthread"
	"github.com/russellklenk/moxie/telemetry"
)

// QueueMax is the maximum number of distinct queues a scheduler can track
// in its queue registry at one time.
const QueueMax = 64

// jobbufLimit is the maximum number of job buffers the scheduler will
// ever allocate, sized so that every slot could theoretically be backed
// by its own buffer's worth of jobs.
const jobbufLimit = (SlotCount + BufferJobs - 1) / BufferJobs

// ErrNoContextsAvailable is returned by AcquireContext when the
// scheduler's context budget has been exhausted.
var ErrNoContextsAvailable = errors.New("job: no contexts available")

// ErrNoBuffersAvailable is returned internally (and surfaced through
// AcquireContext) when the job buffer pool cannot satisfy a request.
var ErrNoBuffersAvailable = errors.New("job: no job buffers available")

// ErrUnknownQueue reports a queue id that is not registered with the
// scheduler. GetQueue and GetQueueWorkerCount do not return it: they
// report an unknown id as nil and 0 respectively.
var ErrUnknownQueue = errors.New("job: unknown queue id")

// Config configures a Scheduler at construction time.
type Config struct {
	// ContextCount is the number of job contexts to pre-allocate and
	// hold on the scheduler's free list. Defaults to 16 if zero.
	ContextCount int
	// Telemetry is an optional logging/tracing provider used by the
	// scheduler and its contexts. Queues take their own provider through
	// WithTelemetry. Defaults to a no-op provider.
	Telemetry *telemetry.Provider
}

type queueRegEntry struct {
	queue  *Queue
	id     uint32
	refcnt int
}

// Scheduler owns the descriptor and internal-state slabs, the job buffer
// pool, the context free list, and the queue registry. Exactly one
// Scheduler instance backs a given set of contexts/jobs/queues.
type Scheduler struct {
	descs  []Descriptor
	states []state

	bufPool *bufferPool

	ctxMu       sync.RWMutex
	ctxFreeList *Context
	contexts    []Context
	ctxBudget   int
	ctxIssued   int

	queueMu  sync.RWMutex
	registry []queueRegEntry

	nsMu       sync.RWMutex
	nsContexts map[nsKey]*Context

	telemetry *telemetry.Provider
}

// NewScheduler pre-sizes every slab for SlotCount jobs and pre-creates
// cfg.ContextCount contexts and cfg.ContextCount job buffers on their
// free lists. The slabs are allocated once, up front, matching the
// reference implementation's single VM-backed block; the buffer pool
// constructs further buffers on demand, up to jobbufLimit.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.ContextCount <= 0 {
		cfg.ContextCount = 16
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Nop()
	}

	s := &Scheduler{
		descs:     make([]Descriptor, SlotCount),
		states:    make([]state, SlotCount),
		bufPool:   newBufferPool(jobbufLimit),
		contexts:  make([]Context, cfg.ContextCount),
		ctxBudget: cfg.ContextCount,
		telemetry: cfg.Telemetry,
	}

	for i := range s.contexts {
		s.contexts[i].sched = s
		s.contexts[i].next = s.ctxFreeList
		s.ctxFreeList = &s.contexts[i]
	}
	s.ctxIssued = 0

	bufs := make([]*Buffer, 0, cfg.ContextCount)
	for len(bufs) < cfg.ContextCount {
		b := s.bufPool.acquire(nil)
		if b == nil {
			break
		}
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		s.bufPool.release(b)
	}

	s.telemetry.Debug().Int("contexts", cfg.ContextCount).Msg("job: scheduler created")
	return s, nil
}

// Delete releases scheduler-owned resources. The caller is responsible
// for ensuring no worker threads are still using contexts acquired from
// this scheduler.
func (s *Scheduler) Delete() {
	s.descs = nil
	s.states = nil
}

// Terminate broadcasts SignalTerminate to every queue currently
// registered with the scheduler. Workers observing a non-Clear signal on
// their queue unwind; the host should join them before calling Delete.
func (s *Scheduler) Terminate() {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	for _, e := range s.registry {
		e.queue.Signal(SignalTerminate)
	}
}

// registerQueueLocked increments the registry refcount for queue, appending a
// new entry if this is the first reference. Must be called with queueMu
// held for writing.
func (s *Scheduler) registerQueueLocked(q *Queue) error {
	for i := range s.registry {
		if s.registry[i].id == q.ID() {
			s.registry[i].refcnt++
			return nil
		}
	}
	if len(s.registry) >= QueueMax {
		return fmt.Errorf("job: queue registry full (max %d)", QueueMax)
	}
	s.registry = append(s.registry, queueRegEntry{queue: q, id: q.ID(), refcnt: 1})
	return nil
}

// releaseQueueLocked decrements the registry refcount for the queue
// identified by id; if it reaches zero the entry is removed via
// swap-with-last. Must be called with queueMu held for writing.
func (s *Scheduler) releaseQueueLocked(id uint32) {
	for i := range s.registry {
		if s.registry[i].id == id {
			s.registry[i].refcnt--
			if s.registry[i].refcnt == 0 {
				last := len(s.registry) - 1
				s.registry[i] = s.registry[last]
				s.registry = s.registry[:last]
			}
			return
		}
	}
}

// GetQueue returns the registered queue with the given id, or nil.
func (s *Scheduler) GetQueue(id uint32) *Queue {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	for i := range s.registry {
		if s.registry[i].id == id {
			return s.registry[i].queue
		}
	}
	return nil
}

// GetQueueWorkerCount returns the number of contexts currently consuming
// from or publishing to the queue identified by id.
func (s *Scheduler) GetQueueWorkerCount(id uint32) int {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	for i := range s.registry {
		if s.registry[i].id == id {
			return s.registry[i].refcnt
		}
	}
	return 0
}

// AcquireContext loans a context from the scheduler's free list to the
// calling thread, binding it to queue as its default wait/submit queue
// and to owner as its owning thread id. Returns ErrNoContextsAvailable
// or ErrNoBuffersAvailable if the scheduler's budget is exhausted.
func (s *Scheduler) AcquireContext(queue *Queue, owner moxthread.ThreadID) (*Context, error) {
	s.ctxMu.Lock()
	if s.ctxFreeList == nil {
		s.ctxMu.Unlock()
		return nil, ErrNoContextsAvailable
	}
	ctx := s.ctxFreeList
	s.ctxFreeList = ctx.next
	ctx.next = nil
	s.ctxIssued++
	s.ctxMu.Unlock()

	buf := s.bufPool.acquire(nil)
	if buf == nil {
		s.returnContext(ctx)
		return nil, ErrNoBuffersAvailable
	}

	ctx.jobbuf = buf
	ctx.queue = queue
	ctx.owner = owner
	ctx.jobcnt = 0

	s.queueMu.Lock()
	if err := s.registerQueueLocked(queue); err != nil {
		s.queueMu.Unlock()
		s.bufPool.release(buf)
		s.returnContext(ctx)
		return nil, err
	}
	s.queueMu.Unlock()

	return ctx, nil
}

// ReleaseContext returns ctx to the scheduler's free list and releases
// its job buffer (which may itself be recycled). Safe to call from any
// thread; the caller is responsible for ensuring the owning thread is no
// longer using ctx.
func (s *Scheduler) ReleaseContext(ctx *Context) {
	if ctx.jobbuf != nil {
		s.bufPool.release(ctx.jobbuf)
		ctx.jobbuf = nil
	}
	if ctx.queue != nil {
		s.queueMu.Lock()
		s.releaseQueueLocked(ctx.queue.ID())
		s.queueMu.Unlock()
		ctx.queue = nil
	}
	s.returnContext(ctx)
}

func (s *Scheduler) returnContext(ctx *Context) {
	s.ctxMu.Lock()
	ctx.next = s.ctxFreeList
	s.ctxFreeList = ctx
	s.ctxIssued--
	s.ctxMu.Unlock()
}

// Cancel transitions the job identified by id to StateCanceled, unless
// it is already Running or Completed, in which case it is left
// unchanged. Returns the job's resulting state, or StateUninitialized if
// id does not resolve to a live job.
func (s *Scheduler) Cancel(id ID) State {
	desc := s.Resolve(id)
	if desc == nil {
		return StateUninitialized
	}
	st := &s.states[id.SlotIndex()]
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current != StateRunning && st.current != StateCompleted {
		st.current = StateCanceled
	}
	return st.current
}

// Resolve returns the descriptor for id, or nil if id is invalid or its
// generation does not match the slot's current occupant (the slot has
// been recycled for a different job since id was issued).
func (s *Scheduler) Resolve(id ID) *Descriptor {
	if !id.Valid() {
		return nil
	}
	idx := id.SlotIndex()
	if int(idx) >= len(s.descs) {
		return nil
	}
	d := &s.descs[idx]
	if d.ID != id {
		return nil
	}
	return d
}
