// Package store implements the per-store offset index, LRU list, and
// entry refcount lifecycle — the 30% core of this module.
//
// Reference: aalhour/rockyardkv internal/cache/lru_cache.go for the
// Handle-with-refcount / container/list LRU-splice idiom (Insert,
// Lookup, Release, Erase renamed here to Store's Store/Load/Invalidate
// vocabulary), including the "deleted but still pinned" deferred-destroy
// pattern carried directly from LRUCache.Release's
// `if handle.refs == 0 && handle.deleted` check. The ordered index
// itself is internal/memtable/skiplist.go, adapted in skiplist.go in
// this package.
package store

import (
	"container/list"
	"sync"

	"github.com/riftstore/zswap/internal/metrics"
	"github.com/riftstore/zswap/internal/objpool"
)

// Entry is one resident compressed page (spec.md §3).
type Entry struct {
	StoreID uint32
	Offset  uint64
	Handle  objpool.Handle
	Length  int

	refcount int32
	lruElem  *list.Element
}

// Refcount returns the entry's current reference count. Safe to call
// only while the owning Store's lock is held, or on an entry the caller
// knows is not reachable from any store (e.g. just detached).
func (e *Entry) Refcount() int32 { return e.refcount }

// Store is one registered backing store's resident state: the
// offset-indexed tree, the LRU list, and the lock guarding both plus
// every entry's refcount and linkage.
type Store struct {
	mu sync.Mutex

	tree *offsetSkipList
	lru  *list.List

	Pool     *objpool.Pool
	counters *metrics.Counters
}

// New creates an empty Store backed by pool, recording stats in counters.
func New(pool *objpool.Pool, counters *metrics.Counters) *Store {
	return &Store{
		tree:     newOffsetSkipList(),
		lru:      list.New(),
		Pool:     pool,
		counters: counters,
	}
}

// Search locates the entry at offset without mutating refcount or LRU
// position. Used by tests and diagnostics; production code paths use
// the Begin*/Insert/Invalidate methods below, which combine lookup with
// the required refcount/LRU bookkeeping under one critical section.
func (s *Store) Search(offset uint64) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Search(offset)
}

// Count returns the number of entries reachable from the tree.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Count()
}

// Insert admits entry (refcount already expected to be zero-valued;
// Insert sets it to 1), replacing any prior entry at the same offset.
// Implements spec.md §4.5 step 7's duplicate-replacement protocol:
// detach the old entry from tree and LRU, drop its reference; if that
// was the last reference, destroy it immediately (this module's
// destroyLocked is cheap accounting + a pool free, never blocking, so
// doing it inside the critical section matches spec.md §5's list of
// operations that must stay outside the lock — Free is not among them).
// If a concurrent flush or load holds an extra reference on the
// duplicate, destruction is deferred to that operation's own final
// refcount drop — see EndLoad and FinalizeFlush.
//
// Returns true if an existing entry at Offset was replaced.
func (s *Store) Insert(entry *Entry) (duplicate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.tree.Search(entry.Offset); existing != nil {
		duplicate = true
		s.tree.Delete(existing.Offset)
		s.detachLRULocked(existing)
		existing.refcount--
		if existing.refcount == 0 {
			s.destroyLocked(existing)
		}
	}

	entry.refcount = 1
	s.tree.Insert(entry)
	entry.lruElem = s.lru.PushBack(entry)

	s.counters.StoredPages.Add(1)
	if duplicate {
		s.counters.DuplicateEntry.Add(1)
	}
	return duplicate
}

// BeginLoad locates the entry at offset, pins it (refcount++), and
// splices it out of the LRU list for the duration of the load — spec.md
// §4.6 steps 1-2. Returns (nil, false) when absent, a legitimate outcome
// when a concurrent flush has already removed the page.
func (s *Store) BeginLoad(offset uint64) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.tree.Search(offset)
	if e == nil {
		return nil, false
	}
	e.refcount++
	s.detachLRULocked(e)
	return e, true
}

// EndLoad drops the pin BeginLoad took. If the entry is still
// referenced, it is re-spliced to the LRU tail (most-recently-used).
// If the pin just dropped was the last one — an invalidate or flush
// finalized removal while the load was decompressing — the entry is
// destroyed here. Spec.md §4.6 steps 3-4.
func (s *Store) EndLoad(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refcount--
	if e.refcount > 0 {
		e.lruElem = s.lru.PushBack(e)
		return
	}
	s.destroyLocked(e)
}

// InvalidatePage removes the entry at offset, if present. If another
// operation (a concurrent flush or load) still holds a reference, the
// entry is detached from tree and LRU now but its final destruction is
// deferred to that operation's own refcount drop. Never fails — a miss
// here is a legitimate outcome of a racing flush. Spec.md §4.7.
func (s *Store) InvalidatePage(offset uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.tree.Search(offset)
	if e == nil {
		return
	}
	s.tree.Delete(offset)
	s.detachLRULocked(e)
	e.refcount--
	if e.refcount == 0 {
		s.destroyLocked(e)
	}
}

// InvalidateStore frees every resident entry and resets the tree and
// LRU to empty in one pass, skipping the usual per-removal rebalancing
// since the whole index is discarded wholesale. Spec.md §4.7.
func (s *Store) InvalidateStore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree.Each(func(e *Entry) {
		// Entries mid-flight (refcount > 1) are abandoned by their
		// holder once detached from both containers; we still free the
		// pool object now since spec.md's invalidate_store contract
		// ("free every compressed object and slab slot") takes
		// precedence over a concurrent reader's view, matching
		// aalhour/rockyardkv's LRUCache.Close which resets unconditionally.
		s.Pool.Free(e.Handle)
		s.counters.StoredPages.Add(^uint64(0)) // -1, wrapping per atomic.Uint64 idiom
	})
	s.tree.Reset()
	s.lru.Init()
}

// PopLRUVictim removes the LRU head (the oldest entry) from the LRU
// list, pins it against invalidate (refcount++), and returns it. The
// entry remains reachable from the tree. Spec.md §4.8 step 1.
func (s *Store) PopLRUVictim() (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem := s.lru.Front()
	if elem == nil {
		return nil, false
	}
	e, _ := elem.Value.(*Entry)
	s.lru.Remove(elem)
	e.lruElem = nil
	e.refcount++
	return e, true
}

// AbandonVictim drops the pin PopLRUVictim took, for the
// already-present backing-slot race of spec.md §4.8: some other actor
// is already reclaiming this page, so this victim is not written back.
// If dropping the pin was the last reference, the entry is destroyed;
// otherwise it stays in the tree (and with any concurrent load still
// holding it). The entry is NOT re-spliced to the LRU here, so it is not
// offered as a flush victim again unless a later load re-splices it.
func (s *Store) AbandonVictim(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refcount--
	if e.refcount == 0 {
		s.destroyLocked(e)
	}
}

// FinalizeFlush drops the pin PopLRUVictim took, after the victim's
// compressed bytes have been submitted for writeback. Spec.md §4.8's
// final step: if e is still the tree's entry at its offset, it is
// removed from the tree and the tree-membership reference is dropped
// too. If a concurrent load still holds a reference, destroy is false
// and the load's own EndLoad destroys the entry on its final drop. If
// no reference remains, destroy is true and the caller is responsible
// for calling Destroy(e) AFTER releasing any locks of its own, matching
// spec.md's explicit "after releasing the lock, destroy the entry"
// phrasing for this path only (unlike Insert/Invalidate/EndLoad, which
// destroy inline).
func (s *Store) FinalizeFlush(e *Entry) (destroy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refcount--
	if s.tree.Search(e.Offset) == e {
		s.tree.Delete(e.Offset)
		e.refcount--
	}
	return e.refcount == 0
}

// Destroy frees e's compressed-object pool resources and accounting.
// Must only be called once the caller has established (via
// FinalizeFlush or otherwise) that no container or operation references
// e any longer.
func (s *Store) Destroy(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyLocked(e)
}

func (s *Store) detachLRULocked(e *Entry) {
	if e.lruElem != nil {
		s.lru.Remove(e.lruElem)
		e.lruElem = nil
	}
}

// destroyLocked frees e's pool handle and updates resident accounting.
// Must be called with s.mu held. The caller is responsible for having
// already removed e from the tree and LRU.
func (s *Store) destroyLocked(e *Entry) {
	s.detachLRULocked(e)
	s.Pool.Free(e.Handle)
	s.counters.StoredPages.Add(^uint64(0)) // -1
}
