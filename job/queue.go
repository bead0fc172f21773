package job

import (
	"sync"
	"sync/atomic"

	"github.com/russellklenk/moxie/telemetry"
)

// queueCapacity is the fixed capacity of a Queue's ring buffer. Must be a
// power of two; SlotCount already satisfies that requirement and bounds
// the number of outstanding ready-to-run jobs to the number of job slots
// that could ever exist.
const queueCapacity = SlotCount
const queueMask = queueCapacity - 1

// Queue is a bounded, multi-producer/multi-consumer ring buffer of
// ready-to-run job descriptors with blocking push/take and a sticky
// signal used to wake and decline all operations (e.g. on shutdown).
type Queue struct {
	mu          sync.Mutex
	producerCV  *sync.Cond
	consumerCV  *sync.Cond
	ring        [queueCapacity]*Descriptor
	pushCount   uint64
	takeCount   uint64
	signal      Signal
	id          uint32
	refcnt      atomic.Int32
	telemetry   *telemetry.Provider
	pushedTotal atomic.Uint64
	takenTotal  atomic.Uint64
}

// QueueOption configures optional Queue behavior.
type QueueOption func(*Queue)

// WithTelemetry attaches a telemetry.Provider used to log debug-level
// signal events. The push/take totals are plain atomic counters kept
// whether or not a provider is attached. Purely observational.
func WithTelemetry(p *telemetry.Provider) QueueOption {
	return func(q *Queue) { q.telemetry = p }
}

// NewQueue allocates a new, empty waitable queue identified by id.
func NewQueue(id uint32, opts ...QueueOption) *Queue {
	q := &Queue{id: id}
	q.producerCV = sync.NewCond(&q.mu)
	q.consumerCV = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ID returns the application-defined identifier of the queue.
func (q *Queue) ID() uint32 { return q.id }

func (q *Queue) size() uint64 { return q.pushCount - q.takeCount }

// Push enqueues job for processing by one of the queue's consumers. If
// the queue is full, the caller blocks until space is available or the
// queue is signaled. Returns true if the job was enqueued, false if the
// queue was signaled (in which case the job was NOT enqueued).
func (q *Queue) Push(d *Descriptor) bool {
	q.mu.Lock()
	for q.size() == queueCapacity && q.signal == SignalClear {
		q.producerCV.Wait()
	}
	if q.signal != SignalClear {
		q.mu.Unlock()
		return false
	}
	index := q.pushCount & queueMask
	q.ring[index] = d
	q.pushCount++
	q.mu.Unlock()
	q.consumerCV.Signal()
	q.pushedTotal.Add(1)
	return true
}

// Take dequeues the next ready-to-run job, blocking the caller while the
// queue is empty. Returns nil if the queue was signaled.
func (q *Queue) Take() *Descriptor {
	q.mu.Lock()
	for q.size() == 0 && q.signal == SignalClear {
		q.consumerCV.Wait()
	}
	if q.signal != SignalClear {
		q.mu.Unlock()
		return nil
	}
	index := q.takeCount & queueMask
	item := q.ring[index]
	q.ring[index] = nil
	q.takeCount++
	q.mu.Unlock()
	q.producerCV.Signal()
	q.takenTotal.Add(1)
	return item
}

// Flush resets the queue to empty and wakes all blocked producers.
// Blocked consumers are deliberately left parked: flushing drops
// in-flight work without implying that new work has arrived.
func (q *Queue) Flush() {
	q.mu.Lock()
	q.pushCount = 0
	q.takeCount = 0
	q.mu.Unlock()
	q.producerCV.Broadcast()
}

// Signal sets the queue's sticky signal value. A non-Clear signal wakes
// every blocked producer and consumer; the queue remains unusable for
// Push/Take until Signal(SignalClear) is called again.
func (q *Queue) Signal(s Signal) {
	q.mu.Lock()
	q.signal = s
	q.mu.Unlock()
	if s != SignalClear {
		q.consumerCV.Broadcast()
		q.producerCV.Broadcast()
		q.telemetry.Debug().Uint32("queue", q.id).Uint32("signal", uint32(s)).Msg("job: queue signaled")
	}
}

// CheckSignal returns the queue's current signal value.
func (q *Queue) CheckSignal() Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.signal
}

// Delete releases resources associated with q. There is nothing to free
// explicitly in the Go implementation; Delete exists for API parity with
// the reference implementation's job_queue_delete and to give callers an
// explicit point at which to stop using the queue.
func (q *Queue) Delete() {}
