package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/suite"
)

type ArenaTestSuite struct {
	suite.Suite
}

func TestArenaTestSuite(t *testing.T) {
	suite.Run(t, new(ArenaTestSuite))
}

func (ts *ArenaTestSuite) newArena(chunkSize uint64, growable bool) *Allocator {
	flags := FlagLocal | FlagHeap
	if growable {
		flags |= FlagGrowable
	}
	a, err := Create(chunkSize, 0, 8, flags, AccessRDWR, "", MakeTag('T', 'E', 'S', 'T'))
	ts.Require().NoError(err)
	ts.Require().NotNil(a)
	return a
}

func (ts *ArenaTestSuite) TestAllocateAlignment() {
	a := ts.newArena(4096, false)
	for _, align := range []uint64{1, 2, 4, 8, 16, 32, 64} {
		b := a.Allocate(3, align)
		ts.Require().NotNil(b)
		addr := uintptr(unsafe.Pointer(&b[0]))
		ts.Zero(addr % uintptr(align))
	}
	ts.GreaterOrEqual(a.HighWaterMark(), uint64(3))
}

func (ts *ArenaTestSuite) TestAllocateExhaustsNonGrowable() {
	a := ts.newArena(16, false)
	ts.NotNil(a.Allocate(16, 1))
	ts.Nil(a.Allocate(1, 1))
}

func (ts *ArenaTestSuite) TestGrowableAppendsChunk() {
	a := ts.newArena(16, true)
	ts.NotNil(a.Allocate(16, 1))
	b := a.Allocate(16, 1)
	ts.NotNil(b, "growable allocator should append a new chunk on overflow")
}

func (ts *ArenaTestSuite) TestMarkAndResetToMarker() {
	a := ts.newArena(256, false)
	a.Allocate(16, 1)
	m := a.Mark()
	a.Allocate(32, 1)
	a.Allocate(8, 1)
	ts.Require().NoError(a.ResetToMarker(&m))
	ts.Equal(m.offset, a.tail.nextOffset)

	// Allocations made after the marker are logically invalidated: the
	// next allocation reuses the same bytes.
	next := a.Allocate(4, 1)
	ts.Require().NotNil(next)
}

func (ts *ArenaTestSuite) TestResetToMarkerWrongAllocatorTag() {
	a1 := ts.newArena(64, false)
	a2, err := Create(64, 0, 8, FlagLocal|FlagHeap, AccessRDWR, "", MakeTag('O', 'T', 'H', 'R'))
	ts.Require().NoError(err)
	m := a1.Mark()
	ts.ErrorIs(a2.ResetToMarker(&m), ErrMarkerMismatch)
}

func (ts *ArenaTestSuite) TestResetFreesAllChunks() {
	a := ts.newArena(16, true)
	a.Allocate(16, 1)
	a.Allocate(16, 1) // forces growth
	a.Reset()
	ts.Nil(a.head.next)
	ts.Zero(a.head.nextOffset)
}

func (ts *ArenaTestSuite) TestReserveCommitNoInterveningAllocation() {
	a := ts.newArena(256, false)
	_, r := a.Reserve(32, 1)
	ts.Require().NotNil(r)
	before := a.tail.nextOffset
	a.Commit(r, 10)
	ts.Equal(r.offset+10, a.tail.nextOffset)
	ts.Less(a.tail.nextOffset, before)
}

func (ts *ArenaTestSuite) TestReserveCommitWithInterveningAllocation() {
	a := ts.newArena(256, false)
	_, r := a.Reserve(32, 1)
	ts.Require().NotNil(r)
	a.Allocate(4, 1) // intervening allocation bumps the version
	offsetBeforeCommit := a.tail.nextOffset
	a.Commit(r, 10)
	ts.Equal(offsetBeforeCommit, a.tail.nextOffset, "reservation is irrevocable once another allocation intervenes")
}

func (ts *ArenaTestSuite) TestReserveZeroUsedCancels() {
	a := ts.newArena(256, false)
	_, r := a.Reserve(32, 1)
	ts.Require().NotNil(r)
	a.Commit(r, 0)
	ts.Equal(r.offset, a.tail.nextOffset)
}

func (ts *ArenaTestSuite) TestRoundTripNonGrowable() {
	a := ts.newArena(256, false)
	var firstAddrs []uintptr
	for i := 0; i < 8; i++ {
		b := a.Allocate(4, 4)
		firstAddrs = append(firstAddrs, uintptr(unsafe.Pointer(&b[0])))
	}
	a.Reset()
	for i := 0; i < 8; i++ {
		b := a.Allocate(4, 4)
		ts.Equal(firstAddrs[i], uintptr(unsafe.Pointer(&b[0])))
	}
}

func (ts *ArenaTestSuite) TestBadAlignmentPanics() {
	a := ts.newArena(64, false)
	ts.Panics(func() { a.Allocate(4, 3) })
}

func (ts *ArenaTestSuite) TestCreateRejectsExternalFlag() {
	_, err := Create(64, 0, 8, FlagExternal, AccessRDWR, "bad", MakeTag('X', 'X', 'X', 'X'))
	ts.ErrorIs(err, ErrExternalNotAllowed)
}

func (ts *ArenaTestSuite) TestCreateWithMemoryDisablesGrowable() {
	mem := make([]byte, 32)
	a, err := CreateWithMemory(mem, FlagGrowable, AccessRDWR, "ext", MakeTag('E', 'X', 'T', '1'))
	ts.Require().NoError(err)
	ts.Zero(a.flags & FlagGrowable)
	ts.NotZero(a.flags & FlagExternal)
	ts.NotNil(a.Allocate(32, 1))
	ts.Nil(a.Allocate(1, 1))
}

func (ts *ArenaTestSuite) TestCreateSuballocator() {
	parent := ts.newArena(256, false)
	sub, err := CreateSuballocator(parent, 64, "sub", MakeTag('S', 'U', 'B', '1'))
	ts.Require().NoError(err)
	ts.NotNil(sub.Allocate(64, 1))
	ts.Nil(sub.Allocate(1, 1))
}
