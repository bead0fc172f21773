package job

import (
	"github.com/russellklenk/moxie/moxthread"
)

// maxJobDataSize is the largest payload CreateJob will hand out from a
// single buffer: the buffer's total capacity minus the bytes reserved
// for a full waiter list, matching the reference implementation's
// accounting even though this Go port keeps waiter lists inline in the
// parallel state slab rather than bump-allocating them from the buffer
// (see DESIGN.md).
const maxJobDataSize = BufferBytes - waiterListBytes

// Context is a per-thread handle aggregating a job buffer, a default
// queue, and a scheduler back-reference. A context must only be used
// from the thread that owns it (Owner); re-assigning ownership is done
// explicitly via Scheduler's namespace helpers.
type Context struct {
	next   *Context // Free-list link; scheduler-owned.
	sched  *Scheduler
	jobbuf *Buffer
	queue  *Queue
	owner  moxthread.ThreadID
	jobcnt uint32

	User1, User2 uintptr
}

// Owner returns the thread id that owns this context.
func (c *Context) Owner() moxthread.ThreadID { return c.owner }

// Assign re-binds ctx's owning thread, for use after reassigning a
// context following e.g. a crashed worker.
func (c *Context) Assign(owner moxthread.ThreadID) { c.owner = owner }

// CreateJob allocates a new job slot and its payload. Must be called
// from ctx's owning thread. Returns nil if dataSize exceeds the maximum
// payload a single buffer can hold.
func (c *Context) CreateJob(dataSize uintptr, dataAlign uintptr) *Descriptor {
	if uint64(dataSize) > maxJobDataSize {
		return nil
	}
	if dataAlign == 0 {
		dataAlign = 1
	}

	var payload []byte
	for {
		buf := c.jobbuf
		mark := buf.offset
		if dataSize != 0 {
			payload = buf.alloc(uint64(dataSize), uint64(dataAlign))
		}
		if dataSize == 0 || payload != nil {
			break
		}
		buf.offset = mark
		next := c.sched.bufPool.acquire(c.jobbuf)
		if next == nil {
			return nil
		}
		c.jobbuf = next
		c.jobcnt = 0
	}

	buf := c.jobbuf
	slotIndex := c.jobcnt + buf.slotBase
	buf.refcnt.Add(1)

	desc := &c.sched.descs[slotIndex]
	st := &c.sched.states[slotIndex]

	generation := desc.ID.Generation() + 1
	desc.Buffer = buf
	desc.Target = nil
	desc.Main = nil
	desc.User1 = 0
	desc.User2 = 0
	desc.Data = payload
	desc.Size = uint32(dataSize)
	desc.ID = PackID(slotIndex, generation)
	desc.Parent = InvalidID
	desc.Exit = 0

	st.mu.Lock()
	st.waitCnt = 0
	st.wait = -1
	st.work = 1
	st.current = StateNotSubmitted
	st.mu.Unlock()

	if c.jobcnt+1 == BufferJobs {
		next := c.sched.bufPool.acquire(c.jobbuf)
		c.jobbuf = next
		c.jobcnt = 0
	} else {
		c.jobcnt++
	}

	c.sched.telemetry.Debug().Uint32("job", uint32(desc.ID)).Msg("job: created")
	return desc
}

// SubmitJob submits desc for execution (submitType == SubmitRun) or
// cancellation (SubmitCancel), registering it as a waiter on each valid,
// not-yet-completed id in deps. Must be called from ctx's owning thread.
// If a dependency's waiter list is full, SubmitJob returns
// SubmitTooManyWaiters without submitting desc; registrations already made
// on earlier dependencies are not rolled back.
func (c *Context) SubmitJob(desc *Descriptor, deps []ID, submitType SubmitType) SubmitResult {
	if desc == nil {
		return SubmitInvalidJob
	}

	if desc.Target == nil {
		desc.Target = c.queue
	}
	if desc.Main == nil {
		desc.Main = defaultJobMain
	}

	slot := desc.ID.SlotIndex()
	jobState := &c.sched.states[slot]

	var (
		waitCount int32
		resolved  State
	)

	if submitType == SubmitRun {
		for _, dep := range deps {
			if !dep.Valid() {
				continue
			}
			depSlot := dep.SlotIndex()
			depState := &c.sched.states[depSlot]
			depState.mu.Lock()
			if depState.current != StateCompleted && depState.current != StateCanceled {
				if depState.waitCnt != WaiterMax {
					depState.waiters[depState.waitCnt] = uint16(slot)
					depState.waitCnt++
					waitCount++
				} else {
					depState.mu.Unlock()
					return SubmitTooManyWaiters
				}
			}
			depState.mu.Unlock()
		}
		if waitCount == 0 {
			resolved = StateReady
		} else {
			resolved = StateNotReady
		}

		if desc.Parent.Valid() {
			parentSlot := desc.Parent.SlotIndex()
			parentState := &c.sched.states[parentSlot]
			parentState.mu.Lock()
			if parentState.current != StateCanceled {
				parentState.work++
			}
			parentState.mu.Unlock()
		}
	} else {
		resolved = StateCanceled
	}

	jobState.mu.Lock()
	if jobState.wait = jobState.wait + waitCount + 1; jobState.wait == 0 && submitType == SubmitRun {
		resolved = StateReady
	}
	if jobState.current != StateCanceled {
		jobState.current = resolved
	}
	finalState := jobState.current
	jobState.mu.Unlock()

	if finalState != StateNotReady {
		desc.Target.Push(desc)
	}

	c.sched.telemetry.Debug().Uint32("job", uint32(desc.ID)).Str("state", finalState.String()).Msg("job: submitted")
	return SubmitSuccess
}

// CancelJob cancels the job identified by id, unless it is already
// Running or Completed. Returns the resulting state.
func (c *Context) CancelJob(id ID) State {
	return c.sched.Cancel(id)
}

// WaitReadyJob dequeues the next ready-to-run job from ctx's queue,
// discovering and propagating cancellation along the job's parent chain
// before handing it back to the caller. Returns nil if the queue was
// signaled.
func (c *Context) WaitReadyJob() *Descriptor {
	for {
		desc := c.queue.Take()
		if desc == nil {
			return nil
		}

		// Walk the job itself, then its parent chain: an external
		// cancel() may have marked the job itself Canceled while it sat
		// Ready in the queue, not just one of its ancestors.
		canceled := false
		walkID := desc.ID
		for walkID.Valid() {
			walkState := &c.sched.states[walkID.SlotIndex()]
			walkState.mu.Lock()
			if walkState.current == StateCanceled {
				canceled = true
			}
			walkState.mu.Unlock()
			if canceled {
				break
			}
			walkID = c.sched.descs[walkID.SlotIndex()].Parent
		}

		slot := desc.ID.SlotIndex()
		st := &c.sched.states[slot]

		if !canceled {
			st.mu.Lock()
			st.current = StateRunning
			st.mu.Unlock()
			return desc
		}

		st.mu.Lock()
		if st.current != StateCanceled {
			st.current = StateCanceled
		}
		st.mu.Unlock()
		c.CompleteJob(desc)
	}
}

// CompleteJob walks the completion path for desc: decrements its
// outstanding work counter, and if that drives it to zero, releases the
// job buffer reference, transitions waiters whose last dependency this
// was, and recurses into the parent job's completion.
func (c *Context) CompleteJob(desc *Descriptor) {
	slot := desc.ID.SlotIndex()
	st := &c.sched.states[slot]

	st.mu.Lock()
	st.work--
	if st.work > 0 {
		st.mu.Unlock()
		return
	}
	var waiters [WaiterMax]uint16
	waitCount := st.waitCnt
	copy(waiters[:waitCount], st.waiters[:waitCount])
	if st.current != StateCanceled {
		st.current = StateCompleted
	}
	st.mu.Unlock()

	c.sched.bufPool.release(desc.Buffer)

	for i := uint32(0); i < waitCount; i++ {
		waitSlot := waiters[i]
		waitState := &c.sched.states[waitSlot]
		waitDesc := &c.sched.descs[waitSlot]

		waitState.mu.Lock()
		waitState.wait--
		ready := waitState.wait == 0
		if ready && waitState.current != StateCanceled {
			waitState.current = StateReady
		}
		waitState.mu.Unlock()

		if ready {
			waitDesc.Target.Push(waitDesc)
		}
	}

	c.sched.telemetry.Debug().Uint32("job", uint32(desc.ID)).Msg("job: completed")

	if desc.Parent.Valid() {
		parentDesc := &c.sched.descs[desc.Parent.SlotIndex()]
		c.CompleteJob(parentDesc)
	}
}

// WaitJob cooperatively waits for the job identified by id to reach a
// terminal state, running unrelated ready jobs from ctx's queue in the
// meantime. Returns 1 if the job completed or was canceled (including
// the case where id's generation is already stale, meaning the job
// completed long ago), or 0 if the queue was signaled before the target
// job finished.
func (c *Context) WaitJob(id ID) int {
	if !id.Valid() {
		return 0
	}
	slot := id.SlotIndex()
	desc := &c.sched.descs[slot]
	st := &c.sched.states[slot]

	if desc.ID != id {
		return 1
	}

	for {
		st.mu.Lock()
		current := st.current
		st.mu.Unlock()
		if current == StateCompleted || current == StateCanceled {
			return 1
		}

		ready := c.WaitReadyJob()
		if ready == nil {
			return 0
		}
		ready.Exit = ready.Main(c, ready)
		c.CompleteJob(ready)
	}
}

// RunNextJob takes, runs, and completes the next ready-to-run job from
// ctx's queue. Returns false if the queue was signaled.
func (c *Context) RunNextJob() bool {
	desc := c.WaitReadyJob()
	if desc == nil {
		return false
	}
	desc.Exit = desc.Main(c, desc)
	c.CompleteJob(desc)
	return true
}

// RunNextJobNoCompletion takes and runs the next ready-to-run job from
// ctx's queue but does not call CompleteJob, so the caller can interpose
// logic (e.g. releasing cross-language state) between running the job
// and completing it. The caller must call CompleteJob on the returned
// descriptor itself.
func (c *Context) RunNextJobNoCompletion() *Descriptor {
	desc := c.WaitReadyJob()
	if desc == nil {
		return nil
	}
	desc.Exit = desc.Main(c, desc)
	return desc
}
