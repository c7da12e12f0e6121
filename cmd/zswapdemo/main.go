// End-to-end demo for the zswap compressed page cache.
//
// Exercises store/load/invalidate against an in-memory backing-store
// fake and forces a flush by configuring a tight pool ceiling, then
// prints the resulting counters.
//
// Run:
//
// ```bash
// ./bin/zswapdemo -pages=256 -page-size=4096 -pool-percent=20
// ```
//
// Reference: aalhour/rockyardkv cmd/smoketest/main.go for the
// "flag-driven, named-test-table, pass/fail summary" shape — trimmed
// here to a handful of scenarios exercising this module's operations
// rather than a full persistence/transaction/compaction matrix.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/riftstore/zswap"
	"github.com/riftstore/zswap/internal/backend"
	"github.com/riftstore/zswap/internal/config"
	"github.com/riftstore/zswap/internal/logging"
	"github.com/riftstore/zswap/internal/objpool"
)

var (
	numPages     = flag.Int("pages", 64, "Number of distinct offsets to exercise")
	pageSize     = flag.Int("page-size", 4096, "Fixed page size in bytes")
	poolPercent  = flag.Int("pool-percent", 20, "max_pool_percent configuration value")
	compressorFl = flag.String("compressor", "lzo", "compressor algorithm name")
	verbose      = flag.Bool("v", false, "Verbose output")
)

// fakeSlabAllocator is an in-memory objpool.Allocator for the demo,
// mirroring internal/objpool/fake_test.go's shape at main-package scope.
type fakeSlabAllocator struct {
	pageSize int
	objects  map[int][]byte
	next     int
}

func newFakeSlabAllocator(pageSize int) *fakeSlabAllocator {
	return &fakeSlabAllocator{pageSize: pageSize, objects: make(map[int][]byte)}
}

func (f *fakeSlabAllocator) Allocate(byteLen int) (objpool.Handle, int, error) {
	pages := (byteLen + f.pageSize - 1) / f.pageSize
	if pages == 0 {
		pages = 1
	}
	f.next++
	id := f.next
	f.objects[id] = make([]byte, byteLen)
	return id, pages, nil
}

func (f *fakeSlabAllocator) MapRead(h objpool.Handle) ([]byte, error) { return f.objects[h.(int)], nil }
func (f *fakeSlabAllocator) MapWrite(h objpool.Handle) ([]byte, error) {
	return f.objects[h.(int)], nil
}
func (f *fakeSlabAllocator) Unmap(objpool.Handle) {}
func (f *fakeSlabAllocator) Free(h objpool.Handle) int {
	buf, ok := f.objects[h.(int)]
	if !ok {
		return 0
	}
	pages := (len(buf) + f.pageSize - 1) / f.pageSize
	if pages == 0 {
		pages = 1
	}
	delete(f.objects, h.(int))
	return pages
}

func main() {
	flag.Parse()

	fmt.Println("=== zswap demo ===")
	fmt.Printf("pages=%d page-size=%d pool-percent=%d compressor=%s\n",
		*numPages, *pageSize, *poolPercent, *compressorFl)

	cfg := config.Default()
	cfg.Compressor = *compressorFl
	cfg.MaxPoolPercent = *poolPercent

	alloc := newFakeSlabAllocator(*pageSize)
	backingStore := backend.NewFake(*pageSize)
	log := logging.NewDefaultLogger(levelFor(*verbose))

	const demoTotalRAMPages = int64(1_000_000)
	cache, err := zswap.Open(cfg, alloc, backingStore, backingStore, *pageSize, demoTotalRAMPages, log)
	if err != nil {
		fatalf("Open failed: %v", err)
	}

	ctx := context.Background()
	const storeID = uint32(0)
	cache.InitStore(storeID)

	passed, failed := 0, 0
	run := func(name string, fn func() error) {
		start := time.Now()
		if err := fn(); err != nil {
			fmt.Printf("  FAILED %-28s %v (%v)\n", name, err, time.Since(start))
			failed++
			return
		}
		fmt.Printf("  ok     %-28s (%v)\n", name, time.Since(start))
		passed++
	}

	run("store/load round-trip", func() error {
		page := bytes.Repeat([]byte{0xAA}, *pageSize)
		if err := cache.Store(ctx, storeID, 7, page); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		got := make([]byte, *pageSize)
		if err := cache.Load(ctx, storeID, 7, got); err != nil {
			return fmt.Errorf("load: %w", err)
		}
		if !bytes.Equal(got, page) {
			return fmt.Errorf("round-trip mismatch")
		}
		return nil
	})

	run("invalidate after store", func() error {
		page := bytes.Repeat([]byte{0xBB}, *pageSize)
		if err := cache.Store(ctx, storeID, 8, page); err != nil {
			return err
		}
		cache.InvalidatePage(storeID, 8)
		buf := make([]byte, *pageSize)
		if err := cache.Load(ctx, storeID, 8, buf); err == nil {
			return fmt.Errorf("load after invalidate should fail")
		}
		return nil
	})

	run("duplicate store replaces", func() error {
		a := bytes.Repeat([]byte{0x01}, *pageSize)
		b := bytes.Repeat([]byte{0x02}, *pageSize)
		if err := cache.Store(ctx, storeID, 9, a); err != nil {
			return err
		}
		if err := cache.Store(ctx, storeID, 9, b); err != nil {
			return err
		}
		got := make([]byte, *pageSize)
		if err := cache.Load(ctx, storeID, 9, got); err != nil {
			return err
		}
		if !bytes.Equal(got, b) {
			return fmt.Errorf("expected duplicate replacement value")
		}
		if cache.Snapshot().DuplicateEntry != 1 {
			return fmt.Errorf("duplicate_entry = %d, want 1", cache.Snapshot().DuplicateEntry)
		}
		return nil
	})

	run("fill pool and force flush", func() error {
		// A handful of compressible pages against a 3-page ceiling should
		// exhaust the pool quickly and push the store path through the
		// flush retry branch at least once.
		const tinyTotalRAMPages = int64(15) // 3 pages at MaxPoolPercent=20
		alloc2 := newFakeSlabAllocator(*pageSize)
		backing2 := backend.NewFake(*pageSize)
		cache2, err := zswap.Open(cfg, alloc2, backing2, backing2, *pageSize, tinyTotalRAMPages, log)
		if err != nil {
			return err
		}
		cache2.InitStore(storeID)
		for i := range *numPages {
			page := bytes.Repeat([]byte{byte(i)}, *pageSize)
			_ = cache2.Store(ctx, storeID, uint64(i), page) // some admissions flush a victim to make room, not fail
		}
		snap := cache2.Snapshot()
		fmt.Printf("    flush_attempted=%d saved_by_flush=%d reject_zsmalloc_fail=%d\n",
			snap.FlushAttempted, snap.SavedByFlush, snap.RejectZsmallocFail)
		return nil
	})

	fmt.Println()
	snap := cache.Snapshot()
	fmt.Printf("stored_pages=%d pool_pages=%d pool_limit_hit=%d duplicate_entry=%d\n",
		snap.StoredPages, snap.PoolPages, snap.PoolLimitHit, snap.DuplicateEntry)
	fmt.Printf("flushed_pages=%d flush_attempted=%d saved_by_flush=%d outstanding_flushes=%d\n",
		snap.FlushedPages, snap.FlushAttempted, snap.SavedByFlush, snap.OutstandingFlushes)

	fmt.Println()
	fmt.Printf("Results: %d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func levelFor(verbose bool) logging.Level {
	if verbose {
		return logging.LevelDebug
	}
	return logging.LevelWarn
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "zswapdemo: "+format+"\n", args...)
	os.Exit(1)
}
