// Package objpool wraps an opaque-handle compressed-object allocator
// with the page-budget admission gate spec.md §4.3 requires.
//
// Reference: aalhour/rockyardkv write_buffer_manager.go for the
// atomic-counter admission-gate shape (compare current usage against a
// configured ceiling before admitting, count rejections) — that file's
// WriteBufferManager gates memtable memory; Pool gates compressed-object
// pages, same shape, different counter.
package objpool

import (
	"errors"
	"sync/atomic"
)

// Handle is an opaque reference into the underlying allocator. Its
// contents are defined entirely by the Allocator implementation; this
// package never interprets them.
type Handle any

// Allocator is the external, opaque-handle compressed-object allocator
// consumed by this package (spec.md §1's "compressed-object allocator…
// specified only by the interface it exposes"). A real implementation
// would back this with a slab/arena allocator; tests and the demo
// binary use in-memory fakes (see objpool/fake_test.go and
// cmd/zswapdemo/main.go).
type Allocator interface {
	// Allocate reserves space for byteLen compressed bytes and returns a
	// handle. pagesUsed is the number of page-frames the allocator
	// consumed to satisfy this request (may be 0 if the request was
	// satisfied from existing slack).
	Allocate(byteLen int) (h Handle, pagesUsed int, err error)
	MapRead(h Handle) ([]byte, error)
	MapWrite(h Handle) ([]byte, error)
	Unmap(h Handle)
	// Free releases h and returns the number of page-frames it released.
	Free(h Handle) (pagesFreed int)
}

// ErrNoSpace is returned when admitting the request would exceed the
// pool's page ceiling.
var ErrNoSpace = errors.New("objpool: no space (pool at ceiling)")

// Pool adds an atomic page-budget admission gate in front of Allocator.
type Pool struct {
	alloc      Allocator
	pagesInUse atomic.Int64
	ceiling    atomic.Int64

	limitHit atomic.Uint64
}

// NewPool creates a Pool backed by alloc with the given page ceiling.
func NewPool(alloc Allocator, ceilingPages int64) *Pool {
	p := &Pool{alloc: alloc}
	p.ceiling.Store(ceilingPages)
	return p
}

// SetCeiling updates the page ceiling at runtime (spec.md §6:
// max_pool_percent is runtime-mutable).
func (p *Pool) SetCeiling(ceilingPages int64) {
	p.ceiling.Store(ceilingPages)
}

// PagesInUse reports the current page-frame accounting.
func (p *Pool) PagesInUse() int64 { return p.pagesInUse.Load() }

// Ceiling reports the current page ceiling.
func (p *Pool) Ceiling() int64 { return p.ceiling.Load() }

// LimitHit reports how many allocations were rejected at the ceiling.
func (p *Pool) LimitHit() uint64 { return p.limitHit.Load() }

// Allocate admits a byteLen-byte compressed object if doing so would
// not push pagesInUse past the ceiling. Enforced on admission only.
// The check runs after the underlying allocator has reported how many
// page-frames it consumed: an over-ceiling object is freed again and
// ErrNoSpace is returned, so the underlying allocator grows briefly and
// pagesInUse can read above the ceiling until that rollback completes.
func (p *Pool) Allocate(byteLen int) (Handle, error) {
	// Underlying allocators that satisfy the request from existing slack
	// return pagesUsed=0, which never counts against the ceiling.
	h, pagesUsed, err := p.alloc.Allocate(byteLen)
	if err != nil {
		return nil, err
	}
	if pagesUsed > 0 {
		ceiling := p.ceiling.Load()
		newTotal := p.pagesInUse.Add(int64(pagesUsed))
		if ceiling > 0 && newTotal > ceiling {
			// Roll back: we overshot the ceiling, refuse the admission.
			p.pagesInUse.Add(-int64(pagesUsed))
			p.alloc.Free(h)
			p.limitHit.Add(1)
			return nil, ErrNoSpace
		}
	}
	return h, nil
}

// MapRead maps h for reading.
func (p *Pool) MapRead(h Handle) ([]byte, error) { return p.alloc.MapRead(h) }

// MapWrite maps h for writing.
func (p *Pool) MapWrite(h Handle) ([]byte, error) { return p.alloc.MapWrite(h) }

// Unmap releases a mapping obtained from MapRead/MapWrite.
func (p *Pool) Unmap(h Handle) { p.alloc.Unmap(h) }

// Free releases h and its page-frame accounting.
func (p *Pool) Free(h Handle) {
	freed := p.alloc.Free(h)
	if freed > 0 {
		p.pagesInUse.Add(-int64(freed))
	}
}
