// Package flush implements the writeback engine that drains LRU
// victims from a store into a backing store, bounded by an outstanding
// writeback cap. Spec.md §4.8.
//
// Reference: aalhour/rockyardkv internal/flush/job.go for the overall
// "pop a unit of work, hand it to the backing collaborator, report
// completion" job shape — generalized here from "flush one memtable to
// one SST file" to "drain up to N LRU victims to a backing store,
// capped by outstanding in-flight submissions" since a zswap store has
// no single discrete flush unit the way a memtable does.
package flush

import (
	"context"
	"sync/atomic"

	"github.com/riftstore/zswap/internal/backend"
	"github.com/riftstore/zswap/internal/compressor"
	"github.com/riftstore/zswap/internal/logging"
	"github.com/riftstore/zswap/internal/metrics"
	"github.com/riftstore/zswap/internal/objpool"
	"github.com/riftstore/zswap/internal/store"
)

// DefaultMaxOutstanding is the default cap on writeback submissions that
// have been handed to the backing Writer but not yet completed.
const DefaultMaxOutstanding = 64

// Engine drains LRU victims from one Store into a backing Allocator's
// slots via a Writer, never holding the Store's lock while compressing,
// mapping, or submitting — spec.md §5's "never sleep with the lock
// held" rule applies to the flush path exactly as it does to Store and
// Load.
type Engine struct {
	slots  backend.SlotAllocator
	writer backend.Writer
	pool   *objpool.Pool

	maxOutstanding atomic.Int64
	outstanding    atomic.Int64

	counters *metrics.Counters
	log      logging.Logger
}

// NewEngine creates a flush engine whose outstanding-submission ceiling
// starts at DefaultMaxOutstanding; SetMaxOutstanding changes it.
func NewEngine(slots backend.SlotAllocator, writer backend.Writer, pool *objpool.Pool, counters *metrics.Counters, log logging.Logger) *Engine {
	e := &Engine{
		slots:    slots,
		writer:   writer,
		pool:     pool,
		counters: counters,
		log:      logging.OrDefault(log),
	}
	e.maxOutstanding.Store(DefaultMaxOutstanding)
	return e
}

// SetMaxOutstanding changes the outstanding-submission ceiling at
// runtime, mirroring objpool.Pool.SetCeiling's runtime-mutability.
func (e *Engine) SetMaxOutstanding(n int64) {
	if n <= 0 {
		n = DefaultMaxOutstanding
	}
	e.maxOutstanding.Store(n)
}

// Outstanding returns the number of writeback submissions in flight.
func (e *Engine) Outstanding() int64 { return e.outstanding.Load() }

// ErrBudgetExhausted means the outstanding-flush ceiling was already at
// capacity; the caller should back off rather than retry immediately.
var ErrBudgetExhausted = errBudgetExhausted{}

type errBudgetExhausted struct{}

func (errBudgetExhausted) Error() string { return "flush: outstanding submission budget exhausted" }

// Attempt pops one LRU victim from s, decompresses it with ctx, and
// submits it to the backing store. Spec.md §4.8:
//  1. Pop the LRU head, pinning it against concurrent invalidate.
//  2. Ask the backing allocator for a slot at (storeID, victim.Offset).
//  3. If the slot is already present (another path already persisted
//     this offset), abandon the victim without writing — AbandonVictim.
//  4. Otherwise decompress into the slot's page and submit it for
//     writeback; completion increments FlushedPages and decrements the
//     outstanding counter.
//  5. Finalize the victim: remove it from the tree, then destroy it once
//     the store lock is released, or leave destruction to a concurrent
//     load's EndLoad if one still holds it — see the FinalizeFlush doc.
//
// Attempt returns (false, nil) when the store has no victim to flush,
// which is a normal "nothing to do" outcome, not an error.
func (e *Engine) Attempt(ctx context.Context, storeID uint32, s *store.Store, dctx *compressor.Context) (attempted bool, err error) {
	if e.outstanding.Load() >= e.maxOutstanding.Load() {
		return false, ErrBudgetExhausted
	}

	victim, ok := s.PopLRUVictim()
	if !ok {
		return false, nil
	}
	e.counters.FlushAttempted.Add(1)

	result, page, err := e.slots.Acquire(storeID, victim.Offset)
	if err != nil {
		s.AbandonVictim(victim)
		return true, err
	}

	if result == backend.SlotAlreadyPresent {
		s.AbandonVictim(victim)
		return true, nil
	}

	compressed, mapErr := e.pool.MapRead(victim.Handle)
	if mapErr != nil {
		s.AbandonVictim(victim)
		return true, mapErr
	}
	decompErr := dctx.Decompress(page.Bytes, compressed[:victim.Length])
	e.pool.Unmap(victim.Handle)
	if decompErr != nil {
		s.AbandonVictim(victim)
		return true, decompErr
	}

	e.outstanding.Add(1)
	e.writer.Submit(page, func(submitErr error) {
		e.outstanding.Add(-1)
		if submitErr == nil {
			e.counters.FlushedPages.Add(1)
			return
		}
		// The victim is freed from the pool once Attempt finalizes it, and
		// the backing store never got it either: the page is unrecoverable.
		// Escalate through Fatalf so a wired FatalHandler can stop the
		// cache from admitting further pages rather than risk losing more.
		e.log.Fatalf("%swriteback failed store=%d offset=%d: %v", logging.NSFlush, storeID, victim.Offset, submitErr)
	})

	if e.finalize(victim, s) {
		e.log.Debugf("%sflushed offset=%d store=%d", logging.NSFlush, victim.Offset, storeID)
	}
	return true, nil
}

func (e *Engine) finalize(victim *store.Entry, s *store.Store) bool {
	destroy := s.FinalizeFlush(victim)
	if destroy {
		s.Destroy(victim)
	}
	return destroy
}

// Drain calls Attempt repeatedly until it returns attempted=false or an
// error, up to max calls. zswap.Cache.Store calls it when a compressed
// object does not fit under the pool ceiling.
func (e *Engine) Drain(ctx context.Context, storeID uint32, s *store.Store, dctx *compressor.Context, max int) (flushed int, err error) {
	for range max {
		attempted, attemptErr := e.Attempt(ctx, storeID, s, dctx)
		if attemptErr != nil {
			return flushed, attemptErr
		}
		if !attempted {
			return flushed, nil
		}
		flushed++
	}
	return flushed, nil
}
