// Package zswap implements a compressed in-memory page cache that sits
// in front of a slower backing store for swapped-out fixed-size pages:
// store attempts to compress and retain a page in a RAM-resident pool;
// load decompresses and returns it, avoiding a round-trip to the
// backing device; under pool pressure the cache flushes LRU victims out
// through the backing-store writer to free room for new admissions.
//
// Reference: aalhour/rockyardkv's root-level DB type for the
// "construct dependent subsystems, expose a small set of verbs, keep a
// Logger and Counters wired through everything" composition shape —
// Cache here plays that role for a cache instead of an embedded
// database.
package zswap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/riftstore/zswap/internal/backend"
	"github.com/riftstore/zswap/internal/compressor"
	"github.com/riftstore/zswap/internal/config"
	"github.com/riftstore/zswap/internal/flush"
	"github.com/riftstore/zswap/internal/logging"
	"github.com/riftstore/zswap/internal/metrics"
	"github.com/riftstore/zswap/internal/objpool"
	"github.com/riftstore/zswap/internal/scratch"
	"github.com/riftstore/zswap/internal/store"
	"github.com/riftstore/zswap/internal/telemetry"
)

// Sentinel errors matching spec.md §7's store error taxonomy.
var (
	ErrNoDevice        = errors.New("zswap: store not registered")
	ErrInvalid         = errors.New("zswap: compressor error")
	ErrTooBig          = errors.New("zswap: compressed ratio exceeds threshold")
	ErrNoMemoryTmpPage = errors.New("zswap: no memory (temp page pool exhausted)")
	ErrNoMemoryPool    = errors.New("zswap: no memory (compressed-object pool exhausted)")
	ErrNoMemorySlab    = errors.New("zswap: no memory (entry slab exhausted)")
	ErrNotFound        = errors.New("zswap: not found")
	// ErrStopped is returned by Store once a fatal writeback failure has
	// tripped the logger's FatalHandler (see Open). Load is unaffected —
	// reads continue against whatever is still resident, matching
	// logging.Logger's documented Fatalf contract.
	ErrStopped = errors.New("zswap: cache stopped after fatal flush error")
)

// maxFlushVictims is the number of LRU victims a single store failure
// asks the flush engine to attempt, per spec.md §4.5 step 4.
const maxFlushVictims = 16

// Cache is the top-level handle a host paging layer creates once per
// process and then drives via InitStore/Store/Load/InvalidatePage/
// InvalidateStore.
type Cache struct {
	cfg config.Config

	registry *store.Registry
	pool     *objpool.Pool
	ctxPool  *scratch.ContextPool
	tmpPages *scratch.TempPagePool
	flusher  *flush.Engine
	algo     *compressor.Algorithm
	// flushCtxPool hands decompression contexts to the flush path, which
	// runs outside any Store/Load caller's pinned context and may be
	// entered concurrently from multiple Store callers racing a full
	// pool, so it needs its own small pool rather than one shared Context.
	flushCtxPool *scratch.ContextPool

	counters *metrics.Counters
	log      logging.Logger
	// stopped is flipped by the FatalHandler Open wires into a
	// *logging.DefaultLogger: once a writeback failure is fatal, Store
	// rejects further admissions while Load keeps serving residents.
	stopped atomic.Bool
	// ratioBits holds MaxCompressionRatio as math.Float64bits, so
	// SetMaxCompressionRatio can update it without a lock while Store
	// reads it concurrently on every call. totalRAMPages is retained to
	// let SetMaxPoolPercent recompute the pool ceiling the same way Open
	// does.
	ratioBits     atomic.Uint64
	totalRAMPages int64
}

// Open constructs a Cache from cfg, wiring alloc as the compressed-object
// allocator and slots/writer as the backing-store collaborator. pageSize
// is the fixed page size this cache serves (spec.md assumes one fixed
// size per deployment). totalRAMPages is the host's total page count,
// against which cfg.MaxPoolPercent computes the pool's page ceiling
// (spec.md §6). log may be nil, in which case a default WARN logger is
// used.
//
// If cfg.Enabled is false, Open still returns a usable Cache (spec.md
// §6: "if false, initialization returns 0 without registering
// callbacks") — callers honoring that contract should simply not invoke
// any frontend operation; this implementation does not special-case a
// disabled Cache further, since Go has no implicit callback table to
// skip registering.
func Open(cfg config.Config, alloc objpool.Allocator, slots backend.SlotAllocator, writer backend.Writer, pageSize int, totalRAMPages int64, log logging.Logger) (*Cache, error) {
	log = logging.OrDefault(log)
	counters := &metrics.Counters{}

	ceiling := totalRAMPages * int64(cfg.MaxPoolPercent) / 100
	pool := objpool.NewPool(alloc, ceiling)

	reg := compressor.NewRegistry()
	algo, err := reg.Resolve(cfg.Compressor)
	if err != nil {
		return nil, fmt.Errorf("zswap: %w: %v", ErrInvalid, err)
	}

	const contextPoolSize = 8
	ctxPool := scratch.NewContextPool(contextPoolSize, algo, pageSize)
	tmpPages := scratch.NewTempPagePool(cfg.TempPages, 2*pageSize)

	registry := store.NewRegistry(pool, counters)
	flusher := flush.NewEngine(slots, writer, pool, counters, log)
	flusher.SetMaxOutstanding(cfg.MaxOutstandingFlushes)

	c := &Cache{
		cfg:           cfg,
		registry:      registry,
		pool:          pool,
		ctxPool:       ctxPool,
		tmpPages:      tmpPages,
		flusher:       flusher,
		algo:          algo,
		flushCtxPool:  scratch.NewContextPool(4, algo, pageSize),
		counters:      counters,
		log:           log,
		totalRAMPages: totalRAMPages,
	}
	c.ratioBits.Store(math.Float64bits(cfg.MaxCompressionRatio))

	// Wire the logger's FatalHandler, RocksDB-style, so a fatal writeback
	// failure (flush.Engine.Attempt's Submit completion) transitions this
	// Cache to a stopped state instead of merely logging. Only
	// *logging.DefaultLogger exposes SetFatalHandler; a caller-supplied
	// Logger implementation is responsible for its own escalation.
	if dl, ok := log.(*logging.DefaultLogger); ok {
		dl.SetFatalHandler(func(string) { c.stopped.Store(true) })
	}

	return c, nil
}

// SetMaxPoolPercent updates the compressed-object pool's page ceiling at
// runtime, recomputed against the totalRAMPages Open was given. Spec.md
// §6: max_pool_percent is runtime-mutable. The new ceiling itself is
// applied atomically by objpool.Pool.SetCeiling.
func (c *Cache) SetMaxPoolPercent(percent int) {
	c.pool.SetCeiling(c.totalRAMPages * int64(percent) / 100)
}

// SetMaxCompressionRatio updates the too-big rejection threshold at
// runtime. Spec.md §6: max_compression_ratio is runtime-mutable. ratio is
// a fraction in (0, 1], matching config.Config.MaxCompressionRatio. Safe
// for concurrent use with Store, which reads the current value per call.
func (c *Cache) SetMaxCompressionRatio(ratio float64) {
	c.ratioBits.Store(math.Float64bits(ratio))
}

func (c *Cache) maxCompressionRatio() float64 {
	return math.Float64frombits(c.ratioBits.Load())
}

// InitStore registers storeID, creating its per-store tree/LRU state.
// Idempotent: re-initializing an already-registered store_id is a no-op.
// Must not sleep — it only allocates local Go state, matching spec.md
// §6's "called in non-blocking context" contract.
func (c *Cache) InitStore(storeID uint32) {
	c.registry.InitStore(storeID)
}

// Store admits page into the cache under (storeID, offset), replacing
// any prior entry at the same key. Implements spec.md §4.5.
func (c *Cache) Store(ctx context.Context, storeID uint32, offset uint64, page []byte) error {
	if c.stopped.Load() {
		return ErrStopped
	}

	ctx, span := telemetry.StartStoreSpan(ctx, storeID, offset)
	defer span.End()

	s, ok := c.registry.Lookup(storeID)
	if !ok {
		return ErrNoDevice
	}

	cctx, err := c.ctxPool.Acquire(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	n, compressErr := cctx.Compress(page)
	if compressErr != nil {
		c.ctxPool.Release(cctx)
		telemetry.RecordError(ctx, compressErr)
		return fmt.Errorf("%w: %v", ErrInvalid, compressErr)
	}

	ratio := c.maxCompressionRatio()
	maxLen := int(float64(len(page)) * ratio)
	if ratio > 0 && n > maxLen {
		c.ctxPool.Release(cctx)
		c.counters.RejectCompressPoor.Add(1)
		return ErrTooBig
	}
	compressed := cctx.Buf[:n]

	h, allocErr := c.pool.Allocate(n)
	if allocErr != nil {
		// Step 4: survive the context switch by copying compressed bytes
		// into a temp page, release the pin, and ask the flush engine to
		// make room before retrying.
		c.counters.FlushAttempted.Add(1)
		tmp, ok := c.tmpPages.Get()
		if !ok {
			c.ctxPool.Release(cctx)
			c.counters.RejectTmpPageFail.Add(1)
			return ErrNoMemoryTmpPage
		}
		copy(tmp, compressed)
		c.ctxPool.Release(cctx)

		fctx, fctxErr := c.flushCtxPool.Acquire(ctx)
		if fctxErr != nil {
			c.tmpPages.Put(tmp)
			c.counters.RejectZsmallocFail.Add(1)
			return fmt.Errorf("%w: %v", ErrNoMemoryPool, fctxErr)
		}
		_, drainErr := c.flusher.Drain(ctx, storeID, s, fctx, maxFlushVictims)
		c.flushCtxPool.Release(fctx)
		if drainErr != nil {
			c.log.Warnf("%sflush during store storeID=%d offset=%d: %v", logging.NSFlush, storeID, offset, drainErr)
		}

		h, allocErr = c.pool.Allocate(n)
		if allocErr != nil {
			c.tmpPages.Put(tmp)
			c.counters.RejectZsmallocFail.Add(1)
			return ErrNoMemoryPool
		}
		c.counters.SavedByFlush.Add(1)

		w, mapErr := c.pool.MapWrite(h)
		if mapErr != nil {
			c.pool.Free(h)
			c.tmpPages.Put(tmp)
			c.counters.RejectKmemcacheFail.Add(1)
			return fmt.Errorf("%w: %v", ErrNoMemorySlab, mapErr)
		}
		copy(w, tmp)
		c.pool.Unmap(h)
		c.tmpPages.Put(tmp)

		entry := &store.Entry{StoreID: storeID, Offset: offset, Handle: h, Length: n}
		s.Insert(entry)
		return nil
	}

	w, mapErr := c.pool.MapWrite(h)
	if mapErr != nil {
		c.pool.Free(h)
		c.ctxPool.Release(cctx)
		c.counters.RejectKmemcacheFail.Add(1)
		return fmt.Errorf("%w: %v", ErrNoMemorySlab, mapErr)
	}
	copy(w, compressed)
	c.pool.Unmap(h)
	c.ctxPool.Release(cctx)

	entry := &store.Entry{StoreID: storeID, Offset: offset, Handle: h, Length: n}
	s.Insert(entry)
	return nil
}

// Load fills dst with the decompressed bytes stored under (storeID,
// offset). Returns ErrNotFound if absent — a legitimate outcome when a
// concurrent flush removed the page. Implements spec.md §4.6.
func (c *Cache) Load(ctx context.Context, storeID uint32, offset uint64, dst []byte) error {
	ctx, span := telemetry.StartLoadSpan(ctx, storeID, offset)
	defer span.End()

	s, ok := c.registry.Lookup(storeID)
	if !ok {
		return ErrNoDevice
	}

	e, ok := s.BeginLoad(offset)
	if !ok {
		return ErrNotFound
	}

	compressed, mapErr := c.pool.MapRead(e.Handle)
	if mapErr != nil {
		s.EndLoad(e)
		telemetry.RecordError(ctx, mapErr)
		return fmt.Errorf("%w: %v", ErrInvalid, mapErr)
	}

	cctx, err := c.ctxPool.Acquire(ctx)
	if err != nil {
		c.pool.Unmap(e.Handle)
		s.EndLoad(e)
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	decompErr := cctx.Decompress(dst, compressed[:e.Length])
	c.ctxPool.Release(cctx)
	c.pool.Unmap(e.Handle)

	s.EndLoad(e)
	if decompErr != nil {
		telemetry.RecordError(ctx, decompErr)
		return fmt.Errorf("%w: %v", ErrInvalid, decompErr)
	}
	return nil
}

// InvalidatePage removes the entry at (storeID, offset), if present.
// Never fails — a miss is a legitimate outcome of a racing flush.
func (c *Cache) InvalidatePage(storeID uint32, offset uint64) {
	if s, ok := c.registry.Lookup(storeID); ok {
		s.InvalidatePage(offset)
	}
}

// InvalidateStore frees every resident page under storeID and removes
// the store from the registry.
func (c *Cache) InvalidateStore(storeID uint32) {
	c.registry.InvalidateStore(storeID)
}

// Counters returns the shared counter block for direct atomic reads.
func (c *Cache) Counters() *metrics.Counters { return c.counters }

// Snapshot returns a point-in-time copy of every counter spec.md §6
// exposes, merging metrics.Counters with the pool's and flush engine's
// own accounting.
func (c *Cache) Snapshot() metrics.Snapshot {
	return metrics.Snapshot{
		PoolPages:           c.pool.PagesInUse(),
		StoredPages:         c.counters.StoredPages.Load(),
		OutstandingFlushes:  c.flusher.Outstanding(),
		PoolLimitHit:        c.pool.LimitHit(),
		RejectCompressPoor:  c.counters.RejectCompressPoor.Load(),
		RejectTmpPageFail:   c.counters.RejectTmpPageFail.Load(),
		RejectFlushFail:     c.counters.RejectFlushFail.Load(),
		RejectZsmallocFail:  c.counters.RejectZsmallocFail.Load(),
		RejectKmemcacheFail: c.counters.RejectKmemcacheFail.Load(),
		FlushedPages:        c.counters.FlushedPages.Load(),
		FlushAttempted:      c.counters.FlushAttempted.Load(),
		SavedByFlush:        c.counters.SavedByFlush.Load(),
		DuplicateEntry:      c.counters.DuplicateEntry.Load(),
	}
}
