package lockfree

import (
	"sync"
	"sync/atomic"

	"github.com/standardbeagle/logfst/internal/xhash"
)

// entry is the value type stored in the backing List: either a real user
// record (marker == false) or one of the dummy bucket-head nodes the
// split-ordered scheme inserts lazily (marker == true), mirroring
// original_source's key_ismark discriminator.
type entry[T any] struct {
	marker bool
	val    T
}

// keyNormal/keyMarker/keyToHash reproduce original_source's key_normal/
// key_marker/key_tohash macros: the list's sort key is the bit-reversal of
// either a real hash (tagged odd) or a bucket index (tagged even), so
// entries naturally cluster right after their bucket's marker node in list
// order, letting the bucket count grow without moving a single node.
func keyNormal(hash uint64) uint64 { return xhash.Reverse(hash) | 1 }
func keyMarker(bkt uint64) uint64  { return xhash.Reverse(bkt) &^ 1 }
func keyToHash(key uint64) uint64  { return xhash.Reverse(key &^ 1) }

// bucketArray is a snapshot of the bucket-head table. Growing the map
// allocates a new, larger bucketArray and swaps it in atomically, copying
// forward only the already-resolved bucket anchors — no list node is ever
// moved or copied, which is the entire point of a split-ordered list.
type bucketArray[T any] struct {
	heads []atomic.Pointer[Node[entry[T]]]
}

const initialBucketCount = 0x10

// Map is a lock-free hash table keyed by a 63-bit hash, implementing the
// split-ordered list scheme of Shalev & Shavit described in spec.md §4.2,
// grounded on original_source's map_new/map_getbkt/map_find/map_insert/
// map_remove/map_next.
type Map[T any] struct {
	list    *List[entry[T]]
	buckets atomic.Pointer[bucketArray[T]]
	count   atomic.Int64
	growAt  int64 // mean bucket chain length that triggers doubling (original_source map->grow == 8)
	growMu  sync.Mutex
}

// NewMap creates an empty split-ordered map.
func NewMap[T any]() *Map[T] {
	m := &Map[T]{growAt: 8}
	m.list = NewList[entry[T]]()

	// Bucket 0's marker node is the table's permanent anchor; every other
	// bucket is created lazily on first use via getBucket.
	_, _ = InsertFrom(m.list.Head(), keyMarker(0), entry[T]{marker: true})
	rootNode := findNode(m.list.Head(), keyMarker(0))

	arr := &bucketArray[T]{heads: make([]atomic.Pointer[Node[entry[T]]], initialBucketCount)}
	arr.heads[0].Store(rootNode)
	m.buckets.Store(arr)
	return m
}

// findNode is like FindFrom but returns the node pointer itself rather
// than just its value, for bucket-head bookkeeping.
func findNode[V any](start *Node[V], key uint64) *Node[V] {
	w := search(start, key)
	if w.curr != nil && w.curr.Key == key {
		return w.curr
	}
	return nil
}

// getBucket returns the node new searches for bucket bkt should start
// from, lazily creating its marker node — and, recursively, the nearest
// initialized ancestor's — the first time it is needed
// (original_source map_getbkt).
func (m *Map[T]) getBucket(arr *bucketArray[T], bkt uint64) *Node[entry[T]] {
	if h := arr.heads[bkt].Load(); h != nil {
		return h
	}
	if bkt == 0 {
		// Bucket 0 is assigned before NewMap returns; this path is
		// unreachable in practice but falls back to the list head rather
		// than panicking, matching spec.md §7's "lazy-bucket init falls
		// back to a parent bucket" degrade-gracefully rule.
		return m.list.Head()
	}
	parent := m.getBucket(arr, xhash.ClearHighestSetBit(bkt))
	_, _ = InsertFrom(parent, keyMarker(bkt), entry[T]{marker: true})
	head := findNode(parent, keyMarker(bkt))
	arr.heads[bkt].CompareAndSwap(nil, head)
	return arr.heads[bkt].Load()
}

func bucketIndex[T any](arr *bucketArray[T], hash uint64) uint64 {
	return hash & uint64(len(arr.heads)-1)
}

// Find returns the value associated with hash, if present.
func (m *Map[T]) Find(hash uint64) (T, bool) {
	arr := m.buckets.Load()
	head := m.getBucket(arr, bucketIndex(arr, hash))

	e, ok := FindFrom(head, keyNormal(hash))
	if !ok {
		var zero T
		return zero, false
	}
	return e.val, true
}

// Insert inserts val under hash if not already present, and always
// returns the record actually stored under hash — the new one, or the
// winner of a concurrent race. Matches spec.md's "Map uniqueness"
// invariant: all concurrent inserts of the same id return the same
// record (original_source map_insert).
func (m *Map[T]) Insert(hash uint64, val T) (actual T, inserted bool) {
	arr := m.buckets.Load()
	head := m.getBucket(arr, bucketIndex(arr, hash))

	e, ok := InsertFrom(head, keyNormal(hash), entry[T]{val: val})
	if ok {
		m.count.Add(1)
		m.maybeGrow(arr)
	}
	return e.val, ok
}

// Remove removes the value stored under hash, if present.
func (m *Map[T]) Remove(hash uint64) (T, bool) {
	arr := m.buckets.Load()
	head := m.getBucket(arr, bucketIndex(arr, hash))

	e, ok := RemoveFrom(head, keyNormal(hash))
	if ok {
		m.count.Add(-1)
	}
	return e.val, ok
}

// Len returns the number of user records currently in the map (dummy
// bucket markers are not counted).
func (m *Map[T]) Len() int {
	return int(m.count.Load())
}

// maybeGrow doubles the bucket table when the mean chain length exceeds
// growAt, matching original_source's count/size > grow trigger. Growing
// never moves or copies a list node — only the bucket-head snapshot
// grows, letting future lookups resolve closer anchors.
func (m *Map[T]) maybeGrow(arr *bucketArray[T]) {
	size := int64(len(arr.heads))
	if m.count.Load()/size <= m.growAt {
		return
	}

	m.growMu.Lock()
	defer m.growMu.Unlock()

	current := m.buckets.Load()
	if int64(len(current.heads)) != size {
		return // another goroutine already grew the table
	}

	grown := &bucketArray[T]{heads: make([]atomic.Pointer[Node[entry[T]]], size*2)}
	for i := range current.heads {
		grown.heads[i].Store(current.heads[i].Load())
	}
	m.buckets.Store(grown)
}

// Range calls fn for every user record in split order (dummy bucket
// markers are skipped), stopping early if fn returns false. Like
// original_source's map_next, this assumes no concurrent insert/remove is
// in flight — see DESIGN.md's Open Question note on pruning without a
// gradient-quiescence barrier.
func (m *Map[T]) Range(fn func(hash uint64, val T) bool) {
	n := m.list.Head()
	for {
		nxt := n.link.Load().next
		if nxt == nil {
			return
		}
		if !nxt.Value.marker {
			if !fn(keyToHash(nxt.Key), nxt.Value.val) {
				return
			}
		}
		n = nxt
	}
}
