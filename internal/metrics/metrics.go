// Package metrics holds the flat, read-only counter namespace spec.md
// §6 exposes to the host. It is a separate package (rather than living
// on store.Store or zswap.Cache directly) so that store, flush, and the
// root zswap package can all update the same counters without an
// import cycle.
//
// Reference: aalhour/rockyardkv statistics.go for the "flat namespace of
// atomic counters, read via a Snapshot-style call" shape.
package metrics

import "sync/atomic"

// Counters holds the subset of spec.md §6's namespace not already
// tracked by objpool.Pool (PoolPages, PoolLimitHit) or flush.Engine
// (OutstandingFlushes) — those are merged in by zswap.Cache.Snapshot.
type Counters struct {
	StoredPages        atomic.Uint64
	RejectCompressPoor atomic.Uint64
	RejectTmpPageFail  atomic.Uint64
	// RejectFlushFail is reserved: spec.md §9 notes the original
	// counter of the same name "is not clearly incremented anywhere";
	// this module preserves that as a deliberate decision, not an
	// oversight, and never increments it.
	RejectFlushFail    atomic.Uint64
	RejectZsmallocFail atomic.Uint64
	RejectKmemcacheFail atomic.Uint64
	FlushedPages        atomic.Uint64
	FlushAttempted      atomic.Uint64
	SavedByFlush        atomic.Uint64
	DuplicateEntry      atomic.Uint64
}

// Snapshot is a point-in-time, non-atomic-as-a-whole copy of Counters
// for display/export.
type Snapshot struct {
	PoolPages           int64
	StoredPages         uint64
	OutstandingFlushes  int64
	PoolLimitHit        uint64
	RejectCompressPoor  uint64
	RejectTmpPageFail   uint64
	RejectFlushFail     uint64
	RejectZsmallocFail  uint64
	RejectKmemcacheFail uint64
	FlushedPages        uint64
	FlushAttempted      uint64
	SavedByFlush        uint64
	DuplicateEntry      uint64
}
