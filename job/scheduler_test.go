package job

import (
	"testing"

	"github.com/russellklenk/moxie/moxthread"
	"github.com/stretchr/testify/suite"
)

type SchedulerTestSuite struct {
	suite.Suite
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func (ts *SchedulerTestSuite) newScheduler(n int) *Scheduler {
	s, err := NewScheduler(Config{ContextCount: n})
	ts.Require().NoError(err)
	ts.Require().NotNil(s)
	return s
}

func (ts *SchedulerTestSuite) TestNewSchedulerDefaultsContextCount() {
	s, err := NewScheduler(Config{})
	ts.Require().NoError(err)
	ts.Equal(16, s.ctxBudget)
}

func (ts *SchedulerTestSuite) TestAcquireReleaseContextRoundTrips() {
	s := ts.newScheduler(2)
	q := NewQueue(1)

	ctx, err := s.AcquireContext(q, moxthread.Invalid)
	ts.Require().NoError(err)
	ts.Require().NotNil(ctx)
	ts.Equal(1, s.GetQueueWorkerCount(q.ID()))

	s.ReleaseContext(ctx)
	ts.Equal(0, s.GetQueueWorkerCount(q.ID()))
}

func (ts *SchedulerTestSuite) TestAcquireContextExhaustsBudget() {
	s := ts.newScheduler(1)
	q := NewQueue(1)

	ctx, err := s.AcquireContext(q, moxthread.Invalid)
	ts.Require().NoError(err)
	ts.Require().NotNil(ctx)

	_, err = s.AcquireContext(q, moxthread.Invalid)
	ts.ErrorIs(err, ErrNoContextsAvailable)
}

func (ts *SchedulerTestSuite) TestSharedQueueRefcounts() {
	s := ts.newScheduler(3)
	q := NewQueue(1)

	c1, err := s.AcquireContext(q, moxthread.Invalid)
	ts.Require().NoError(err)
	c2, err := s.AcquireContext(q, moxthread.Invalid)
	ts.Require().NoError(err)
	ts.Equal(2, s.GetQueueWorkerCount(q.ID()))

	s.ReleaseContext(c1)
	ts.Equal(1, s.GetQueueWorkerCount(q.ID()))
	s.ReleaseContext(c2)
	ts.Equal(0, s.GetQueueWorkerCount(q.ID()))
}

func (ts *SchedulerTestSuite) TestGetQueueUnknownID() {
	s := ts.newScheduler(1)
	ts.Nil(s.GetQueue(42))
}

func (ts *SchedulerTestSuite) TestResolveRejectsStaleGeneration() {
	s := ts.newScheduler(1)
	q := NewQueue(1)
	ctx, err := s.AcquireContext(q, moxthread.Invalid)
	ts.Require().NoError(err)

	desc := ctx.CreateJob(0, 0)
	ts.Require().NotNil(desc)
	id := desc.ID

	ts.Same(desc, s.Resolve(id))

	stale := PackID(id.SlotIndex(), id.Generation()+1)
	ts.Nil(s.Resolve(stale))
}

func (ts *SchedulerTestSuite) TestResolveRejectsInvalidID() {
	s := ts.newScheduler(1)
	ts.Nil(s.Resolve(InvalidID))
}

func (ts *SchedulerTestSuite) TestCancelUnknownIDReturnsUninitialized() {
	s := ts.newScheduler(1)
	ts.Equal(StateUninitialized, s.Cancel(PackID(7, 3)))
}

func (ts *SchedulerTestSuite) TestCancelDoesNotOverrideRunningOrCompleted() {
	s := ts.newScheduler(1)
	q := NewQueue(1)
	ctx, err := s.AcquireContext(q, moxthread.Invalid)
	ts.Require().NoError(err)

	desc := ctx.CreateJob(0, 0)
	ts.Require().NotNil(desc)
	st := &s.states[desc.ID.SlotIndex()]

	st.mu.Lock()
	st.current = StateRunning
	st.mu.Unlock()

	ts.Equal(StateRunning, s.Cancel(desc.ID))
}

func (ts *SchedulerTestSuite) TestTerminateSignalsAllRegisteredQueues() {
	s := ts.newScheduler(2)
	q1 := NewQueue(1)
	q2 := NewQueue(2)

	c1, err := s.AcquireContext(q1, moxthread.Invalid)
	ts.Require().NoError(err)
	c2, err := s.AcquireContext(q2, moxthread.Invalid)
	ts.Require().NoError(err)
	ts.NotNil(c1)
	ts.NotNil(c2)

	s.Terminate()

	ts.Equal(SignalTerminate, q1.CheckSignal())
	ts.Equal(SignalTerminate, q2.CheckSignal())
}
