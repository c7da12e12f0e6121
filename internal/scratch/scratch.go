// Package scratch provides the per-execution-context compression
// scratch buffers and the shared temporary-page pool used when an
// eviction must survive a context switch mid-store.
//
// Reference: aalhour/rockyardkv internal/mempool (pool.go) for the
// general "pool of reusable fixed-size buffers" shape, generalized
// from byte-slice buckets to page-sized compressor.Context slots; and
// write_buffer_manager.go's sync.Cond-based stall for the idea of a
// caller blocking until a slot is free — adapted here to a channel
// semaphore since ContextPool wakes exactly one waiter per release.
package scratch

import (
	"context"
	"sync"

	"github.com/riftstore/zswap/internal/compressor"
)

// ContextPool is a fixed set of compressor.Context slots, one per
// logical execution context. Acquire blocks until a slot is free;
// Release returns it. This models spec.md §4.2/§9's "one
// worst-case-sized output buffer reserved per execution context,
// acquisition implicit from current context, release required on
// every exit path" — expressed in Go as an explicit scoped checkout
// since goroutines have no notion of a fixed "current CPU."
type ContextPool struct {
	slots chan *compressor.Context
}

// NewContextPool creates n pinned compressor.Context slots, each using
// algo and sized for pages up to maxPageSize bytes.
func NewContextPool(n int, algo *compressor.Algorithm, maxPageSize int) *ContextPool {
	if n <= 0 {
		n = 1
	}
	p := &ContextPool{slots: make(chan *compressor.Context, n)}
	for range n {
		p.slots <- compressor.NewContext(algo, maxPageSize)
	}
	return p
}

// Acquire blocks until a context is available, or ctx is done.
func (p *ContextPool) Acquire(ctx context.Context) (*compressor.Context, error) {
	select {
	case c := <-p.slots:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns c to the pool. The caller must not use c afterward.
func (p *ContextPool) Release(c *compressor.Context) {
	p.slots <- c
}

// TempPagePool is a bounded LIFO of page-sized scratch buffers, used to
// hold a compressed page's bytes across the window where a store must
// release its execution-context pin before it can safely block on
// eviction. Deliberately not a sync.Pool: sync.Pool may evict entries
// under GC pressure, which would make "tmppage-fail" a nondeterministic,
// unreproducible condition instead of the deterministic "N pages, LIFO,
// empty means fail" contract spec.md §4.2 requires.
type TempPagePool struct {
	mu       sync.Mutex
	free     [][]byte
	pageSize int
}

// DefaultTempPages is the default temp-page pool size from spec.md §4.2.
const DefaultTempPages = 16

// NewTempPagePool preallocates n page-sized buffers.
func NewTempPagePool(n, pageSize int) *TempPagePool {
	if n <= 0 {
		n = DefaultTempPages
	}
	p := &TempPagePool{pageSize: pageSize}
	for range n {
		p.free = append(p.free, make([]byte, pageSize))
	}
	return p
}

// Get pops a page from the pool. ok is false when the pool is empty —
// the caller must fail the store with a tmppage-fail error, never block.
func (p *TempPagePool) Get() (buf []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	buf = p.free[n-1]
	p.free = p.free[:n-1]
	return buf, true
}

// Put returns a page to the pool.
func (p *TempPagePool) Put(buf []byte) {
	if len(buf) != p.pageSize {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf)
}

// Len reports the number of currently free pages (for tests/metrics).
func (p *TempPagePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
