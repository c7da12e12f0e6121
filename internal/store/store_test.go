package store

import (
	"testing"

	"github.com/riftstore/zswap/internal/metrics"
	"github.com/riftstore/zswap/internal/objpool"
)

type fakeAlloc struct{ next int }

func (f *fakeAlloc) Allocate(byteLen int) (objpool.Handle, int, error) {
	f.next++
	return f.next, 1, nil
}
func (f *fakeAlloc) MapRead(h objpool.Handle) ([]byte, error)  { return make([]byte, 16), nil }
func (f *fakeAlloc) MapWrite(h objpool.Handle) ([]byte, error) { return make([]byte, 16), nil }
func (f *fakeAlloc) Unmap(objpool.Handle)                      {}
func (f *fakeAlloc) Free(objpool.Handle) int                   { return 1 }

func newTestStore() *Store {
	return New(objpoolForTest(), metricsForTest())
}

func objpoolForTest() *objpool.Pool {
	return objpool.NewPool(&fakeAlloc{}, 1000)
}

func metricsForTest() *metrics.Counters {
	return &metrics.Counters{}
}

func mustInsert(t *testing.T, s *Store, offset uint64) *Entry {
	t.Helper()
	h, err := s.Pool.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	e := &Entry{StoreID: 1, Offset: offset, Handle: h, Length: 16}
	s.Insert(e)
	return e
}

func TestStoreLoadRoundTrip(t *testing.T) {
	s := newTestStore()
	mustInsert(t, s, 42)

	e, ok := s.BeginLoad(42)
	if !ok {
		t.Fatal("BeginLoad: not found")
	}
	if e.Refcount() != 2 {
		t.Errorf("Refcount after BeginLoad = %d, want 2", e.Refcount())
	}
	s.EndLoad(e)
	if e.Refcount() != 1 {
		t.Errorf("Refcount after EndLoad = %d, want 1", e.Refcount())
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
}

func TestDuplicateInsertReplaces(t *testing.T) {
	s := newTestStore()
	first := mustInsert(t, s, 7)
	dup := s.Insert(&Entry{StoreID: 1, Offset: 7, Handle: 99, Length: 16})
	if !dup {
		t.Error("Insert at existing offset should report duplicate=true")
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1 after duplicate replace", s.Count())
	}
	if first.Refcount() != 0 {
		t.Errorf("old entry refcount after replace = %d, want 0 (destroyed)", first.Refcount())
	}
}

func TestInvalidatePageMissIsNoop(t *testing.T) {
	s := newTestStore()
	s.InvalidatePage(123) // must not panic on miss
}

func TestInvalidatePageDuringLoadDefersDestroy(t *testing.T) {
	s := newTestStore()
	mustInsert(t, s, 5)

	e, ok := s.BeginLoad(5)
	if !ok {
		t.Fatal("BeginLoad failed")
	}
	s.InvalidatePage(5)
	if s.Count() != 0 {
		t.Errorf("Count() = %d after invalidate, want 0", s.Count())
	}
	if e.Refcount() != 1 {
		t.Errorf("Refcount during in-flight load after invalidate = %d, want 1", e.Refcount())
	}
	// EndLoad drops the last reference and must destroy without panicking.
	s.EndLoad(e)
	if e.Refcount() != 0 {
		t.Errorf("Refcount after EndLoad = %d, want 0", e.Refcount())
	}
}

func TestInvalidateStoreClearsEverything(t *testing.T) {
	s := newTestStore()
	mustInsert(t, s, 1)
	mustInsert(t, s, 2)
	mustInsert(t, s, 3)

	s.InvalidateStore()
	if s.Count() != 0 {
		t.Errorf("Count() = %d after InvalidateStore, want 0", s.Count())
	}
	if _, ok := s.BeginLoad(1); ok {
		t.Error("BeginLoad found an entry after InvalidateStore")
	}
}

func TestFlushVictimLifecycle(t *testing.T) {
	s := newTestStore()
	mustInsert(t, s, 10)

	victim, ok := s.PopLRUVictim()
	if !ok {
		t.Fatal("PopLRUVictim: empty")
	}
	if victim.Refcount() != 2 {
		t.Errorf("victim refcount after pop = %d, want 2", victim.Refcount())
	}
	destroy := s.FinalizeFlush(victim)
	if !destroy {
		t.Error("FinalizeFlush should report destroy=true with no concurrent load")
	}
	s.Destroy(victim)
	if s.Count() != 0 {
		t.Errorf("Count() = %d after flush finalize, want 0", s.Count())
	}
}

func TestFlushVictimRacingLoadDefersDestroyToLoad(t *testing.T) {
	s := newTestStore()
	mustInsert(t, s, 11)

	victim, _ := s.PopLRUVictim()
	// A racing load re-references the same entry directly (bypassing
	// BeginLoad's tree lookup would be the normal race window in
	// production; here we simulate the extra reference).
	loaded, ok := s.BeginLoad(11)
	if !ok {
		t.Fatal("BeginLoad should still find the entry: flush has not removed it from the tree yet")
	}
	if loaded != victim {
		t.Fatal("BeginLoad and PopLRUVictim disagree on identity")
	}

	destroy := s.FinalizeFlush(victim)
	if destroy {
		t.Error("FinalizeFlush should report destroy=false: a concurrent load still holds a reference")
	}
	s.EndLoad(loaded)
	if s.Count() != 0 {
		t.Errorf("Count() = %d, want 0 (flush removed tree membership)", s.Count())
	}
}

func TestAbandonVictimKeepsTreeReference(t *testing.T) {
	s := newTestStore()
	mustInsert(t, s, 20)
	victim, _ := s.PopLRUVictim()
	s.AbandonVictim(victim)
	if victim.Refcount() != 1 {
		t.Errorf("refcount after abandon = %d, want 1 (tree membership)", victim.Refcount())
	}
}
