// Package arena implements a family of linear, bump-pointer memory
// allocators. An allocator owns a chain of chunks; allocations are served
// from the tail chunk by advancing a byte offset. When growable, a chunk
// that cannot satisfy a request is followed by a freshly allocated chunk
// appended to the chain.
//
// Allocators are not safe for concurrent use. Callers that need
// concurrent allocation should use one allocator per goroutine, or
// externally synchronize access.
package arena

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Tag is a four-character debug code associated with an allocator,
// packed into a uint32 the same way the reference C implementation packs
// mem_tag_t values.
type Tag uint32

// MakeTag packs four ASCII bytes into a Tag, matching the C mem_tag macro.
func MakeTag(a, b, c, d byte) Tag {
	return Tag(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Flags describe the allocation attributes of an allocator or chunk.
type Flags uint32

const (
	FlagNone     Flags = 0
	FlagLocal    Flags = 1 << 1
	FlagShared   Flags = 1 << 2
	FlagHeap     Flags = 1 << 3
	FlagVirtual  Flags = 1 << 4
	FlagExternal Flags = 1 << 5
	FlagGrowable Flags = 1 << 31
)

// Access describes the read/write capabilities of an allocator's memory.
type Access uint32

const (
	AccessNone  Access = 0
	AccessRead  Access = 1 << 0
	AccessWrite Access = 1 << 1
	AccessRDWR         = AccessRead | AccessWrite
)

var (
	// ErrExternalNotAllowed is returned by Create when FlagExternal is
	// requested; externally-owned memory must be supplied through
	// CreateWithMemory or CreateSuballocator instead.
	ErrExternalNotAllowed = errors.New("arena: external flag not allowed in Create")
	// ErrBadAlignment is returned when a requested alignment is not a
	// non-zero power of two.
	ErrBadAlignment = errors.New("arena: alignment must be a non-zero power of two")
	// ErrMarkerMismatch is returned by ResetToMarker when the marker's
	// tag does not match the allocator it is applied to.
	ErrMarkerMismatch = errors.New("arena: marker belongs to a different allocator")
)

// chunk is a single bump-allocated region of memory.
type chunk struct {
	next       *chunk
	memory     []byte
	nextOffset uint64
	maxOffset  uint64
}

func (c *chunk) bytesFree() uint64 { return c.maxOffset - c.nextOffset }

// Allocator is a chain of chunks bump-allocated from, optionally growable.
type Allocator struct {
	tail      *chunk
	head      *chunk
	name      string
	chunkSize uint64
	watermark uint64
	version   uint32
	flags     Flags
	access    Access
	guardSize uint32
	pageSize  uint32
	tag       Tag
	log       zerolog.Logger
}

// Marker captures an allocator's bump position for later rollback.
type Marker struct {
	chunk   *chunk
	offset  uint64
	tag     Tag
	version uint32
}

// Reservation represents a variable-length allocation whose final size is
// determined later via Commit.
type Reservation struct {
	chunk   *chunk
	offset  uint64
	length  uint64
	tag     Tag
	version uint32
}

const defaultPageSize = 4096

// Option configures optional allocator behavior.
type Option func(*Allocator)

// WithLogger attaches a zerolog.Logger used for debug-level chunk growth
// and reset events. Never consulted for control flow.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Allocator) { a.log = l }
}

// Create allocates the initial chunk for a new allocator.
//
// If flags includes FlagVirtual, the chunk size is rounded up to the page
// size (guard pages are not separately mapped in this pure-Go
// implementation; guardSize is recorded for API parity but is not
// enforced with page protection, since Go offers no portable mechanism
// for that without cgo). FlagExternal is rejected — use CreateWithMemory.
func Create(chunkSize uint64, guardSize uint32, alignment uint64, flags Flags, access Access, name string, tag Tag, opts ...Option) (*Allocator, error) {
	if flags&FlagExternal != 0 {
		return nil, ErrExternalNotAllowed
	}
	if !isPowerOfTwo(alignment) {
		return nil, ErrBadAlignment
	}
	if name == "" {
		name = "arena-" + uuid.NewString()[:8]
	}

	a := &Allocator{
		name:      name,
		chunkSize: chunkSize,
		flags:     flags,
		access:    access,
		guardSize: guardSize,
		pageSize:  defaultPageSize,
		tag:       tag,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	size := chunkSize
	if flags&FlagVirtual != 0 {
		size = alignUp(size, uint64(a.pageSize))
	}
	c, err := newChunk(size)
	if err != nil {
		return nil, err
	}
	a.head = c
	a.tail = c
	a.log.Debug().Str("name", name).Uint64("size", size).Msg("arena: created")
	return a, nil
}

// CreateWithMemory wraps a caller-owned block of memory as an allocator.
// The result implies FlagExternal and disables FlagGrowable: a full
// chunk cannot be appended past caller-owned storage.
func CreateWithMemory(memory []byte, flags Flags, access Access, name string, tag Tag, opts ...Option) (*Allocator, error) {
	if name == "" {
		name = "arena-" + uuid.NewString()[:8]
	}
	flags = (flags | FlagExternal) &^ FlagGrowable
	c := &chunk{memory: memory, maxOffset: uint64(len(memory))}
	a := &Allocator{
		name:   name,
		flags:  flags,
		access: access,
		tag:    tag,
		head:   c,
		tail:   c,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// CreateSuballocator carves length bytes out of parent and wraps the
// result as an external, non-growable allocator.
func CreateSuballocator(parent *Allocator, length uint64, name string, tag Tag, opts ...Option) (*Allocator, error) {
	mem := parent.Allocate(length, 1)
	if mem == nil {
		return nil, fmt.Errorf("arena: suballocator: parent allocation of %d bytes failed", length)
	}
	return CreateWithMemory(mem, FlagNone, AccessRDWR, name, tag, opts...)
}

// Allocate bump-allocates length bytes aligned to alignment (a non-zero
// power of two) from the tail chunk, growing the chain if the allocator
// is growable and the tail chunk cannot satisfy the request. Returns nil
// on failure; never panics for an out-of-memory condition.
func (a *Allocator) Allocate(length uint64, alignment uint64) []byte {
	if !isPowerOfTwo(alignment) {
		panic(ErrBadAlignment)
	}
	if b := a.tryAllocate(length, alignment); b != nil {
		return b
	}
	if a.flags&FlagGrowable == 0 {
		return nil
	}
	size := a.chunkSize
	if need := length + alignment; need > size {
		size = need
	}
	c, err := newChunk(size)
	if err != nil {
		return nil
	}
	a.tail.next = c
	a.tail = c
	a.log.Debug().Str("name", a.name).Uint64("size", size).Msg("arena: grew")
	return a.tryAllocate(length, alignment)
}

func (a *Allocator) tryAllocate(length uint64, alignment uint64) []byte {
	c := a.tail
	aligned := alignUp(c.nextOffset, alignment)
	end := aligned + length
	if end > c.maxOffset {
		return nil
	}
	c.nextOffset = end
	a.version++
	if end > a.watermark {
		a.watermark = end
	}
	return c.memory[aligned:end:end]
}

// Mark captures the allocator's current bump position for later rollback
// via ResetToMarker.
func (a *Allocator) Mark() Marker {
	return Marker{chunk: a.tail, offset: a.tail.nextOffset, tag: a.tag, version: a.version}
}

// Reserve behaves like Allocate but also records a Reservation that can
// later be Commit-ed to a smaller, final size.
func (a *Allocator) Reserve(maxBytes uint64, alignment uint64) ([]byte, *Reservation) {
	b := a.Allocate(maxBytes, alignment)
	if b == nil {
		return nil, nil
	}
	c := a.tail
	offset := c.nextOffset - maxBytes
	return b, &Reservation{chunk: c, offset: offset, length: maxBytes, tag: a.tag, version: a.version}
}

// Commit completes a reservation. If no intervening allocation occurred
// since the reservation was made (the allocator's version is unchanged),
// the unused tail of the reservation is returned to the bump offset.
// Otherwise the full reservation is considered consumed and wasted.
// usedBytes == 0 cancels the reservation (when uncommitted rollback is
// still possible).
func (a *Allocator) Commit(r *Reservation, usedBytes uint64) {
	if r == nil {
		return
	}
	if a.version == r.version && a.tail == r.chunk {
		r.chunk.nextOffset = r.offset + usedBytes
	}
	// else: an intervening allocation happened; the reservation is
	// irrevocable and only the in-progress allocation's own bump
	// offset could ever be trimmed, which already happened (or didn't)
	// independently of this commit.
}

// Reset frees all chunks past head and rewinds head's bump offset to
// zero, bumping the version counter.
func (a *Allocator) Reset() {
	a.head.next = nil
	a.head.nextOffset = 0
	a.tail = a.head
	a.version++
	a.log.Debug().Str("name", a.name).Msg("arena: reset")
}

// ResetToMarker restores the allocator to the state captured by m. If m's
// tag does not match the allocator's tag, ErrMarkerMismatch is returned
// and the allocator is left untouched. A nil marker behaves like Reset.
func (a *Allocator) ResetToMarker(m *Marker) error {
	if m == nil {
		a.Reset()
		return nil
	}
	if m.tag != a.tag {
		return ErrMarkerMismatch
	}
	m.chunk.next = nil
	m.chunk.nextOffset = m.offset
	a.tail = m.chunk
	a.version = m.version
	return nil
}

// Delete releases all chunks. For external storage, only the chunk
// wrapper is released; the caller-owned memory itself is left alone
// (Go's GC reclaims the wrapper; there is nothing further to free).
func (a *Allocator) Delete() {
	a.head = nil
	a.tail = nil
}

// HighWaterMark returns the largest end offset any allocation has reached
// within a single chunk over the allocator's lifetime. For an allocator
// spanning several chunks it is not the total number of bytes allocated.
func (a *Allocator) HighWaterMark() uint64 { return a.watermark }

// Version returns the allocator's version counter. Every allocation and
// Reset increments it; ResetToMarker restores it to the marker's value.
func (a *Allocator) Version() uint32 { return a.version }

// Name returns the allocator's debug name.
func (a *Allocator) Name() string { return a.name }

func newChunk(size uint64) (*chunk, error) {
	if size == 0 {
		return nil, fmt.Errorf("arena: chunk size must be non-zero")
	}
	return &chunk{memory: make([]byte, size), maxOffset: size}, nil
}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

func alignUp(v uint64, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}
