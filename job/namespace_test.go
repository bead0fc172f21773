package job

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/russellklenk/moxie/moxthread"
	"github.com/stretchr/testify/suite"
)

type NamespaceTestSuite struct {
	suite.Suite
}

func TestNamespaceTestSuite(t *testing.T) {
	suite.Run(t, new(NamespaceTestSuite))
}

func (ts *NamespaceTestSuite) TestLaunchNamespacesBindsContextsAndRunsJobs() {
	s, err := NewScheduler(Config{ContextCount: 4})
	ts.Require().NoError(err)
	q := NewQueue(1)

	var ran atomic.Int32
	ns := Namespace{
		ID:          1,
		Queue:       q,
		WorkerCount: 2,
		Main: func(ctx *Context) {
			for {
				desc := ctx.WaitReadyJob()
				if desc == nil {
					return
				}
				desc.Exit = desc.Main(ctx, desc)
				ctx.CompleteJob(desc)
				ran.Add(1)
			}
		},
	}

	ids, err := s.LaunchNamespaces([]Namespace{ns})
	ts.Require().NoError(err)
	ts.Len(ids, 2)

	ts.NotNil(s.GetContext(1, 0))
	ts.NotNil(s.GetContext(1, 1))
	ts.Nil(s.GetContext(1, 2))

	submitter, err := s.AcquireContext(q, moxthread.Invalid)
	ts.Require().NoError(err)
	for i := 0; i < 10; i++ {
		d := submitter.CreateJob(0, 0)
		ts.Require().NotNil(d)
		d.Main = func(c *Context, d *Descriptor) int32 { return 0 }
		submitter.SubmitJob(d, nil, SubmitRun)
	}

	ts.Eventually(func() bool { return ran.Load() == 10 }, time.Second, time.Millisecond)

	s.Terminate()
	for _, id := range ids {
		moxthread.Join(id)
	}
	s.ReleaseContext(submitter)
}

func (ts *NamespaceTestSuite) TestAssignContextUnknownSlot() {
	s, err := NewScheduler(Config{ContextCount: 1})
	ts.Require().NoError(err)
	_, err = s.AssignContext(9, 9, moxthread.Invalid)
	ts.ErrorIs(err, ErrUnknownNamespace)
}

func (ts *NamespaceTestSuite) TestAssignContextRebindsOwner() {
	s, err := NewScheduler(Config{ContextCount: 2})
	ts.Require().NoError(err)
	q := NewQueue(1)

	ns := Namespace{ID: 1, Queue: q, WorkerCount: 1, Main: func(ctx *Context) {}}
	ids, err := s.LaunchNamespaces([]Namespace{ns})
	ts.Require().NoError(err)
	moxthread.Join(ids[0])

	newOwner := moxthread.CurrentThreadID()
	ctx, err := s.AssignContext(1, 0, newOwner)
	ts.Require().NoError(err)
	ts.Equal(newOwner, ctx.Owner())
}

func (ts *NamespaceTestSuite) TestLaunchNamespacesRollsBackOnExhaustion() {
	s, err := NewScheduler(Config{ContextCount: 1})
	ts.Require().NoError(err)
	q := NewQueue(1)

	ns := Namespace{ID: 1, Queue: q, WorkerCount: 2, Main: func(ctx *Context) {}}
	_, err = s.LaunchNamespaces([]Namespace{ns})
	ts.ErrorIs(err, ErrNoContextsAvailable)

	// The single context budget must still be fully available: the one
	// context acquired before exhaustion was detected is rolled back.
	ctx, err := s.AcquireContext(q, moxthread.Invalid)
	ts.Require().NoError(err)
	ts.NotNil(ctx)
}
