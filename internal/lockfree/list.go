// Package lockfree implements the lock-free sorted linked list and the
// split-ordered hash map of spec.md §4.1/§4.2, grounded on original_source's
// lst_*/map_* functions (Michael's lock-free list, Shalev-Shavit's
// split-ordered table). Every list starts with a dummy head node whose key
// is never matched, exactly as original_source requires ("This
// implementation require each list to start with a dummy head node whose
// key is ignored").
//
// original_source steals the pointer's low bit as a logical-delete mark
// (ptr_addtag/ptr_remtag/ptr_tagged). Go gives no such access to pointer
// bits, so spec.md §9's suggested alternative is used instead: each node's
// successor link is an atomic pointer to an immutable (next, deleted) pair,
// replaced wholesale by every mutation instead of having a bit flipped in
// place.
package lockfree

import "sync/atomic"

// link is the immutable (successor, deletion-mark) pair a node's link field
// points to. A node is logically deleted when its own link has deleted set
// to true; deleted's next still points at (an untagged) successor so a
// concurrent search can keep walking past it while it awaits physical
// unlinking.
type link[V any] struct {
	next    *Node[V]
	deleted bool
}

// Node is one element of a List. Only Key and Value are meant to be read by
// callers (e.g. while iterating); the link itself is private to the
// package's lock-free algorithms.
type Node[V any] struct {
	Key   uint64
	Value V
	link  atomic.Pointer[link[V]]
}

func newNode[V any](key uint64, val V, next *Node[V]) *Node[V] {
	n := &Node[V]{Key: key, Value: val}
	n.link.Store(&link[V]{next: next})
	return n
}

// List is a lock-free sorted singly linked list keyed by a uint64, ordered
// ascending by Key, supporting concurrent Find/Insert/Remove without locks.
type List[V any] struct {
	head *Node[V]
}

// NewList returns an empty list, already carrying its dummy head node.
func NewList[V any]() *List[V] {
	var zero V
	return &List[V]{head: newNode[V](0, zero, nil)}
}

// Head returns the list's dummy head node, usable as the start argument to
// the *From variants (e.g. as a traversal anchor for a hash bucket that has
// not yet been assigned a closer one).
func (l *List[V]) Head() *Node[V] { return l.head }

// window is the three-node observation search() makes: prev/curr form a
// non-deleted consecutive pair with prev.Key < key, and curr is either the
// first node with Key >= key or nil.
type window[V any] struct {
	prev *Node[V]
	curr *Node[V]
}

// search returns the (prev, curr) window for key, starting from start,
// physically unlinking any logically-deleted nodes encountered along the
// way (original_source lst_search).
func search[V any](start *Node[V], key uint64) window[V] {
restart:
	for {
		prev := start
		prevLink := prev.link.Load()
		curr := prevLink.next

		for curr != nil {
			currLink := curr.link.Load()
			next := currLink.next

			// The prev->curr link must still be intact for this window
			// to be trustworthy; if not, another thread spliced
			// concurrently and we must restart from start.
			if prev.link.Load() != prevLink {
				continue restart
			}

			if !currLink.deleted {
				if curr.Key >= key {
					return window[V]{prev: prev, curr: curr}
				}
				prev = curr
				prevLink = currLink
				curr = next
				continue
			}

			// curr is marked for deletion; try to unlink it from prev.
			spliced := &link[V]{next: next, deleted: prevLink.deleted}
			if !prev.link.CompareAndSwap(prevLink, spliced) {
				continue restart
			}
			prevLink = spliced
			curr = next
		}
		return window[V]{prev: prev, curr: nil}
	}
}

// FindFrom searches for key starting from start and returns its value.
func FindFrom[V any](start *Node[V], key uint64) (val V, ok bool) {
	w := search(start, key)
	if w.curr != nil && w.curr.Key == key {
		return w.curr.Value, true
	}
	var zero V
	return zero, false
}

// Find searches the whole list for key.
func (l *List[V]) Find(key uint64) (V, bool) {
	return FindFrom(l.head, key)
}

// InsertFrom inserts (key, val) into the list, searching starting from
// start. If key is already present, the existing node's value is returned
// unchanged and inserted is false (original_source lst_insert).
func InsertFrom[V any](start *Node[V], key uint64, val V) (actual V, inserted bool) {
	n := newNode(key, val, nil)
	for {
		w := search(start, key)
		if w.curr != nil && w.curr.Key == key {
			return w.curr.Value, false
		}

		prevLink := w.prev.link.Load()
		if prevLink.next != w.curr || prevLink.deleted {
			continue
		}
		n.link.Store(&link[V]{next: w.curr})
		candidate := &link[V]{next: n, deleted: false}
		if w.prev.link.CompareAndSwap(prevLink, candidate) {
			return val, true
		}
	}
}

// Insert inserts (key, val), searching the whole list from the head.
func (l *List[V]) Insert(key uint64, val V) (actual V, inserted bool) {
	return InsertFrom(l.head, key, val)
}

// RemoveFrom removes key from the list, searching starting from start.
// The returned node's value must not be reused by the caller until every
// operation on the list begun before this call has also returned
// (original_source's safe-reclamation caveat on lst_remove); in logfst
// feature records are never pooled back for reuse, only dropped, so no
// explicit quiescence barrier is implemented here (see DESIGN.md's Open
// Question note on inline pruning).
func RemoveFrom[V any](start *Node[V], key uint64) (val V, removed bool) {
	for {
		w := search(start, key)
		if w.curr == nil || w.curr.Key != key {
			var zero V
			return zero, false
		}

		currLink := w.curr.link.Load()
		marked := &link[V]{next: currLink.next, deleted: true}
		if !w.curr.link.CompareAndSwap(currLink, marked) {
			continue
		}

		prevLink := w.prev.link.Load()
		if prevLink.next == w.curr && !prevLink.deleted {
			spliced := &link[V]{next: currLink.next, deleted: false}
			w.prev.link.CompareAndSwap(prevLink, spliced)
		} else {
			// Let a fresh search perform the physical unlink.
			search(start, key)
		}
		return w.curr.Value, true
	}
}

// Remove removes key from the whole list, searching from the head.
func (l *List[V]) Remove(key uint64) (V, bool) {
	return RemoveFrom(l.head, key)
}

// Next returns the node following last in key order, skipping none (the
// caller filters dummy/marker entries itself, as original_source's
// map_next does via key_ismark). Passing a nil last returns the first real
// node after the head.
func (l *List[V]) Next(last *Node[V]) *Node[V] {
	n := last
	if n == nil {
		n = l.head
	}
	return n.link.Load().next
}
