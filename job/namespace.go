package job

import (
	"errors"

	"github.com/russellklenk/moxie/moxthread"
)

// ErrUnknownNamespace is returned by AssignContext when the
// (namespaceID, workerIndex) pair was never established by LaunchNamespaces.
var ErrUnknownNamespace = errors.New("job: unknown namespace/worker index")

// Namespace describes one named group of worker threads that share a
// queue and an entry point, pre-acquired and launched together by
// LaunchNamespaces. It mirrors job_context_namespace_t: an application
// groups its worker pools (e.g. "io", "compute") under distinct
// namespace ids so that AssignContext/GetContext can later re-bind a
// specific worker slot to a replacement thread after a crash.
type Namespace struct {
	// ID is the application-defined namespace identifier.
	ID uint32
	// Queue is the queue every context in this namespace waits on and
	// submits ready jobs to.
	Queue *Queue
	// WorkerCount is the number of worker threads (and contexts) to
	// pre-acquire and launch for this namespace.
	WorkerCount int
	// Main is the entry point run on each launched worker thread, given
	// the context bound to that (namespace, worker index) slot.
	Main func(ctx *Context)
}

type nsKey struct {
	namespaceID uint32
	workerIndex uint32
}

type launchArg struct {
	ctx *Context
	ns  Namespace
}

func launchEntry(arg any) uint32 {
	a := arg.(*launchArg)
	a.ctx.Assign(moxthread.CurrentThreadID())
	a.ns.Main(a.ctx)
	return 0
}

// LaunchNamespaces acquires one context per worker slot across every
// namespace and launches one moxthread per slot running Namespace.Main.
// On any acquisition failure, contexts already acquired for this call are
// released before the error is returned; no threads are launched unless
// every slot across every namespace acquired successfully.
func (s *Scheduler) LaunchNamespaces(namespaces []Namespace) ([]moxthread.ThreadID, error) {
	type slot struct {
		key nsKey
		ctx *Context
		ns  Namespace
	}
	var slots []slot

	release := func() {
		for _, sl := range slots {
			s.ReleaseContext(sl.ctx)
		}
	}

	for _, ns := range namespaces {
		for idx := 0; idx < ns.WorkerCount; idx++ {
			ctx, err := s.AcquireContext(ns.Queue, moxthread.Invalid)
			if err != nil {
				release()
				return nil, err
			}
			slots = append(slots, slot{key: nsKey{namespaceID: ns.ID, workerIndex: uint32(idx)}, ctx: ctx, ns: ns})
		}
	}

	s.nsMu.Lock()
	if s.nsContexts == nil {
		s.nsContexts = make(map[nsKey]*Context)
	}
	for _, sl := range slots {
		s.nsContexts[sl.key] = sl.ctx
	}
	s.nsMu.Unlock()

	ids := make([]moxthread.ThreadID, 0, len(slots))
	for _, sl := range slots {
		id := moxthread.Create(launchEntry, 0, &launchArg{ctx: sl.ctx, ns: sl.ns})
		ids = append(ids, id)
	}
	return ids, nil
}

// AssignContext rebinds the context at (namespaceID, workerIndex) to
// owner, e.g. after the worker thread that previously owned it has
// crashed and been replaced. Returns ErrUnknownNamespace if the pair was
// never established by LaunchNamespaces.
func (s *Scheduler) AssignContext(namespaceID, workerIndex uint32, owner moxthread.ThreadID) (*Context, error) {
	s.nsMu.RLock()
	ctx, ok := s.nsContexts[nsKey{namespaceID: namespaceID, workerIndex: workerIndex}]
	s.nsMu.RUnlock()
	if !ok {
		return nil, ErrUnknownNamespace
	}
	ctx.Assign(owner)
	return ctx, nil
}

// GetContext returns the context bound to (namespaceID, workerIndex), or
// nil if the pair was never established by LaunchNamespaces.
func (s *Scheduler) GetContext(namespaceID, workerIndex uint32) *Context {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()
	return s.nsContexts[nsKey{namespaceID: namespaceID, workerIndex: workerIndex}]
}
