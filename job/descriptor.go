package job

import "sync"

// Descriptor is the public, per-slot record describing an allocated job.
// One exists per slot in SlotCount; the slab is pre-allocated once by the
// scheduler so no descriptor is ever heap-allocated past startup.
type Descriptor struct {
	Buffer *Buffer    // The job buffer owning this descriptor's payload.
	Target *Queue     // The queue the job is pushed to once ready-to-run.
	Main   EntryFunc  // The job's entry point. Defaulted to a no-op by SubmitJob if nil.
	User1  uintptr    // Opaque, application-defined value.
	User2  uintptr    // Opaque, application-defined value.
	Data   []byte     // The job's payload region, sized Size bytes.
	Size   uint32     // The capacity of Data, in bytes.
	ID     ID         // This job's identifier. May be InvalidID.
	Parent ID         // The parent job's identifier, or InvalidID.
	Exit   int32      // The exit code returned by Main.
}

// state is the internal, per-slot bookkeeping record, kept in a
// slab parallel to the descriptor slab. It is never exposed outside the
// job package; callers observe state only through State transitions
// surfaced on the Descriptor's owning Context/Scheduler.
type state struct {
	mu      sync.Mutex
	waiters [WaiterMax]uint16
	waitCnt uint32
	wait    int32 // Outstanding-dependency counter; -1 while NotSubmitted.
	work    int32 // Outstanding work counter: self + children.
	current State
}
