// Package arena provides block-based allocation for the per-FST feature-id
// lists described in spec.md §4.6/§9: rather than boxing each feature
// reference individually, a single growable block is carved into
// contiguous sub-slices handed out to arcs and state pairs, then the whole
// block is returned to a pool between FSTs (or freed outright, depending on
// cache_lvl).
package arena

import (
	"sync"
	"sync/atomic"
)

// BlockSize is the number of uint64 feature ids held per underlying block.
// Sized so that a typical FST's (arcs*unigram-patterns)+(bigram-slots*
// bigram-patterns) feature count fits in one or two blocks.
const BlockSize = 4096

// block is one fixed-size chunk of feature-id storage.
type block struct {
	ids  [BlockSize]uint64
	used int
	next *block
}

// FeatureArena hands out contiguous []uint64 views sized on demand, backed
// by a chain of fixed-size blocks. It is owned exclusively by the worker
// processing a single FST (spec.md §4.7 "Per-FST caches ... exclusively
// owned by the worker currently processing that FST") and is not safe for
// concurrent use by multiple goroutines.
type FeatureArena struct {
	current *block
	free    *block

	totalBlocks atomic.Int32
	liveIDs     atomic.Int64

	blockPool *sync.Pool
}

// NewFeatureArena creates an arena backed by the given shared block pool.
// Passing the same pool to arenas for successive FSTs lets blocks be reused
// instead of reallocated, matching the "torn down at the end of the pass"
// cache_lvl behavior of spec.md §3/§7.
func NewFeatureArena(pool *sync.Pool) *FeatureArena {
	return &FeatureArena{blockPool: pool}
}

// NewFeatureBlockPool creates a block pool suitable for NewFeatureArena.
func NewFeatureBlockPool() *sync.Pool {
	return &sync.Pool{
		New: func() any {
			return &block{}
		},
	}
}

// Alloc returns a contiguous []uint64 of length n carved from the arena's
// current block, growing the block chain if needed. Unlike a general-
// purpose allocator, callers get a slice view, not a pointer, since
// feature-id lists are always consumed as whole slices (per-arc unigram
// list, per-state-pair bigram list).
func (a *FeatureArena) Alloc(n int) []uint64 {
	if n <= 0 {
		return nil
	}

	// Oversized requests bypass the block chain entirely.
	if n > BlockSize {
		a.liveIDs.Add(int64(n))
		return make([]uint64, n)
	}

	if a.current == nil || a.current.used+n > BlockSize {
		a.growBlock()
	}

	start := a.current.used
	a.current.used += n
	a.liveIDs.Add(int64(n))
	return a.current.ids[start : start+n : start+n]
}

func (a *FeatureArena) growBlock() {
	var b *block
	if a.free != nil {
		b = a.free
		a.free = b.next
		b.used = 0
		b.next = nil
	} else {
		b = a.blockPool.Get().(*block)
		b.used = 0
		b.next = nil
		a.totalBlocks.Add(1)
	}
	b.next = a.current
	a.current = b
}

// Reset releases all blocks back to this arena's own free list, keeping
// them warm for the next FST processed by the same worker, without
// zeroing contents (callers never read past the length they asked for).
func (a *FeatureArena) Reset() {
	for a.current != nil {
		b := a.current
		a.current = b.next
		b.next = a.free
		a.free = b
	}
	a.liveIDs.Store(0)
}

// Release returns every block held by this arena to the shared pool,
// for cache_lvl settings that tear down feature arenas between FSTs.
func (a *FeatureArena) Release() {
	for a.current != nil {
		b := a.current
		a.current = b.next
		a.blockPool.Put(b)
	}
	for a.free != nil {
		b := a.free
		a.free = b.next
		a.blockPool.Put(b)
	}
	a.liveIDs.Store(0)
}

// LiveIDs reports how many uint64 slots are currently checked out of the
// arena, for diagnostics/tests.
func (a *FeatureArena) LiveIDs() int64 {
	return a.liveIDs.Load()
}
