package job

// State is the lifecycle state of a job. Uninitialized is the zero
// value: a freshly allocated slot starts here and requires no explicit
// initialization step beyond what Go already guarantees for zero values.
type State int32

const (
	StateUninitialized State = iota
	StateNotSubmitted
	StateNotReady
	StateReady
	StateRunning
	StateCompleted
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateNotSubmitted:
		return "NotSubmitted"
	case StateNotReady:
		return "NotReady"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// SubmitType selects whether a submission runs the job or cancels it
// outright.
type SubmitType int32

const (
	SubmitRun    SubmitType = 0
	SubmitCancel SubmitType = -1
)

// SubmitResult is the outcome of a SubmitJob call.
type SubmitResult int32

const (
	SubmitSuccess         SubmitResult = 0
	SubmitInvalidJob      SubmitResult = -1
	SubmitTooManyWaiters  SubmitResult = -2
)

// Signal is a sticky status word on a queue, used to wake and decline
// all subsequent operations until explicitly cleared.
type Signal uint32

const (
	SignalClear     Signal = 0
	SignalTerminate Signal = 1
	SignalUser      Signal = 2
)

// EntryFunc is a job's entry point. It receives the context it is
// running on and the descriptor being executed, and returns the job's
// exit code.
type EntryFunc func(ctx *Context, desc *Descriptor) int32

func defaultJobMain(_ *Context, _ *Descriptor) int32 { return 0 }
