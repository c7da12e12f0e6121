package compressor

import (
	"bytes"
	"math/rand"
	"testing"
)

const pageSize = 4096

func roundTrip(t *testing.T, name string, data []byte) {
	t.Helper()
	reg := NewRegistry()
	algo, err := reg.Resolve(name)
	if err != nil {
		t.Fatalf("Resolve(%q) failed: %v", name, err)
	}

	ctx := NewContext(algo, pageSize)
	n, err := ctx.Compress(data)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	dst := make([]byte, len(data))
	if err := ctx.Decompress(dst, ctx.Buf[:n]); err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}

	if !bytes.Equal(dst, data) {
		t.Error("decompressed data should match original")
	}
}

func TestRoundTripAllAlgorithms(t *testing.T) {
	data := bytes.Repeat([]byte("zswap test page contents "), 164)[:pageSize]

	for _, name := range []string{"lz4", "snappy", "zstd", "deflate", "lzo"} {
		t.Run(name, func(t *testing.T) {
			roundTrip(t, name, data)
		})
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	reg := NewRegistry()
	algo, err := reg.Resolve("nonexistent-algorithm")
	if err != nil {
		t.Fatalf("Resolve should fall back to default, got error: %v", err)
	}
	if algo.Name != DefaultName {
		t.Errorf("expected fallback to %q, got %q", DefaultName, algo.Name)
	}
}

func TestLZOAliasesToLZ4(t *testing.T) {
	reg := NewRegistry()
	lzo, err := reg.Resolve("lzo")
	if err != nil {
		t.Fatalf("Resolve(lzo) failed: %v", err)
	}
	lz4, err := reg.Resolve("lz4")
	if err != nil {
		t.Fatalf("Resolve(lz4) failed: %v", err)
	}

	data := bytes.Repeat([]byte("A"), pageSize)
	dst1 := make([]byte, 2*pageSize)
	dst2 := make([]byte, 2*pageSize)

	n1, err := lzo.Compress(dst1, data)
	if err != nil {
		t.Fatalf("lzo compress: %v", err)
	}
	n2, err := lz4.Compress(dst2, data)
	if err != nil {
		t.Fatalf("lz4 compress: %v", err)
	}
	if !bytes.Equal(dst1[:n1], dst2[:n2]) {
		t.Error("lzo should produce identical output to lz4 (aliased codec)")
	}
}

func TestCompressIncompressibleLZ4FallsBackToPassthrough(t *testing.T) {
	// lz4.CompressBlock returns n=0 for input it cannot shrink. The
	// wrapper must not treat that as an error — the store path relies
	// on getting a length back so its own ratio check can reject the
	// page as too-big, rather than seeing a spurious compressor error.
	reg := NewRegistry()
	algo, err := reg.Resolve("lz4")
	if err != nil {
		t.Fatalf("Resolve(lz4) failed: %v", err)
	}
	ctx := NewContext(algo, pageSize)

	random := make([]byte, pageSize)
	rand.New(rand.NewSource(1)).Read(random)

	n, err := ctx.Compress(random)
	if err != nil {
		t.Fatalf("Compress on incompressible input should not error, got: %v", err)
	}
	if n != len(random) {
		t.Fatalf("Compress on incompressible input = %d bytes, want passthrough length %d", n, len(random))
	}
	// The passthrough bytes are not a real LZ4 block — callers never
	// decompress them, because a length equal to the original size
	// always fails the store's own compression-ratio check first
	// (see zswap.Store), rejecting the page as too-big before it ever
	// reaches the pool.
}
