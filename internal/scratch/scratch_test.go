package scratch

import (
	"context"
	"testing"

	"github.com/riftstore/zswap/internal/compressor"
)

func TestContextPoolAcquireRelease(t *testing.T) {
	reg := compressor.NewRegistry()
	algo, _ := reg.Resolve("lz4")
	pool := NewContextPool(2, algo, 4096)

	c1, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	c2, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if c1 == c2 {
		t.Error("expected two distinct contexts")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(ctx); err == nil {
		t.Error("expected Acquire to fail when pool is exhausted and ctx is done")
	}

	pool.Release(c1)
	c3, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}
	if c3 != c1 {
		t.Error("expected released context to be reused")
	}
	pool.Release(c2)
	pool.Release(c3)
}

func TestTempPagePoolExhaustion(t *testing.T) {
	p := NewTempPagePool(2, 4096)

	b1, ok := p.Get()
	if !ok {
		t.Fatal("expected first Get to succeed")
	}
	b2, ok := p.Get()
	if !ok {
		t.Fatal("expected second Get to succeed")
	}
	if _, ok := p.Get(); ok {
		t.Fatal("expected pool to be exhausted after 2 Gets from a 2-page pool")
	}

	p.Put(b1)
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
	p.Put(b2)
	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
}

func TestTempPagePoolDefaultSize(t *testing.T) {
	p := NewTempPagePool(0, 4096)
	if p.Len() != DefaultTempPages {
		t.Errorf("Len() = %d, want default %d", p.Len(), DefaultTempPages)
	}
}
