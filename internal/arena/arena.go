// Package arena implements the thread-unsafe bump allocator described in
// spec.md §4.8 and grounded on
// original_source/include/bitcoin/node/block_arena.hpp / src/block_arena.cpp.
// It is a one-shot linked-slab allocator owned by a single channel for the
// lifetime of one block's object graph; it is not a pool and individual
// deallocation is a no-op (spec.md §4.8, §9 "Arena").
package arena

import (
	"fmt"
	"math/bits"
)

// maxAlign bounds the alignment a caller may request, matching the
// "align <= alignof(std::max_align_t)" assertion in block_arena.hpp.
const maxAlign = 16

// defaultSlabMultiple is applied to the first slab's size when Start is
// called with a wire_size hint, approximating the C++ "multiple *
// wire_size" sizing policy.
const defaultSlabMultiple = 2

// slab is one chunk in the forward-linked chain. next is nil until the
// slab is closed out by allocating a follow-on slab (set_link in the C++).
type slab struct {
	mem    []byte
	offset int
	next   *slab
}

func (s *slab) capacity() int {
	if s.offset > len(s.mem) {
		return 0
	}
	return len(s.mem) - s.offset
}

// Arena is a linked bump allocator. The zero value is not usable;
// construct with New or Start.
type Arena struct {
	multiple int
	head     *slab
	tail     *slab
	total    int
	closed   bool
}

// New returns an arena whose first slab will be sized as multiple times
// whatever wire_size Start is later called with. multiple must be >= 1.
func New(multiple int) *Arena {
	if multiple < 1 {
		multiple = defaultSlabMultiple
	}
	return &Arena{multiple: multiple}
}

// Start begins a block allocation: it allocates the first slab sized
// multiple * wireSize and resets the allocation total to zero.
// Mirrors block_arena::start.
func (a *Arena) Start(wireSize int) {
	size := a.multiple * wireSize
	if size <= 0 {
		size = 4096
	}
	s := &slab{mem: make([]byte, size)}
	a.head = s
	a.tail = s
	a.total = 0
	a.closed = false
}

// toAligned rounds value up to the next multiple of align, which must be a
// power of two not exceeding maxAlign (block_arena::to_aligned).
func toAligned(value, align int) (int, error) {
	if align <= 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("arena: alignment %d is not a power of two", align)
	}
	if align > maxAlign {
		return 0, fmt.Errorf("arena: alignment %d exceeds maximum %d", align, maxAlign)
	}
	return (value + align - 1) &^ (align - 1), nil
}

// Allocate reserves bytes at the given alignment, growing the slab chain
// with a new backlinked slab if the current one lacks capacity
// (block_arena::do_allocate). It panics on a non-power-of-two alignment,
// matching the C++ "invariant the code believes impossible" policy
// (spec.md §9 "Exceptions / panics").
func (a *Arena) Allocate(size, align int) []byte {
	if a.closed || a.tail == nil {
		panic("arena: allocate called before Start or after Detach or Release")
	}
	aligned, err := toAligned(a.tail.offset, align)
	if err != nil {
		panic(err)
	}
	if aligned+size > len(a.tail.mem) {
		a.grow(size + align)
		aligned, err = toAligned(a.tail.offset, align)
		if err != nil {
			panic(err)
		}
	}
	region := a.tail.mem[aligned : aligned+size]
	a.tail.offset = aligned + size
	a.total += size
	return region
}

// grow appends a new slab sized to hold at least need bytes, backlinking
// the prior slab to it. Equivalent to block_arena::push.
func (a *Arena) grow(need int) {
	size := need
	if minimum := a.multiple * need; minimum > size {
		size = minimum
	}
	next := &slab{mem: make([]byte, size)}
	a.tail.next = next
	a.tail = next
}

// Detach marks the arena closed and returns the total bytes allocated
// across the whole chain (block_arena::detach).
func (a *Arena) Detach() int {
	a.closed = true
	return a.total
}

// Release walks the forward-link chain freeing every slab. It never
// partially frees (spec.md §3 "Arena safety"): after Release, Handle must
// not be used to allocate or read through any sub-pointer derived from this
// arena.
func (a *Arena) Release() {
	s := a.head
	for s != nil {
		next := s.next
		s.mem = nil
		s.next = nil
		s = next
	}
	a.head = nil
	a.tail = nil
	a.closed = true
}

// SlabCount reports the number of linked slabs, for tests and diagnostics.
func (a *Arena) SlabCount() int {
	count := 0
	for s := a.head; s != nil; s = s.next {
		count++
	}
	return count
}

// IsPowerOfTwo reports whether v is a nonzero power of two, exposed so
// callers constructing alignment requests can validate ahead of Allocate.
func IsPowerOfTwo(v int) bool {
	return v > 0 && bits.OnesCount(uint(v)) == 1
}

// Handle is the retained reference a Block carries to keep its owning
// arena alive (spec.md §5 "a block object passed to another strand must
// carry a shared handle to keep the arena alive"). It is a thin wrapper so
// query.Block.WithArena can accept it as an opaque `any` without this
// package depending on query, and query need not depend on arena.
type Handle struct {
	arena *Arena
}

// NewHandle wraps an arena for attachment to a Block.
func NewHandle(a *Arena) *Handle {
	return &Handle{arena: a}
}

// Release forwards to the wrapped arena.
func (h *Handle) Release() {
	if h != nil && h.arena != nil {
		h.arena.Release()
	}
}
