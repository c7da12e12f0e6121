// Package compressor resolves a named compression algorithm to a
// compress/decompress pair and pins one resolved instance per execution
// context.
//
// Reference: aalhour/rockyardkv internal/compression (compression.go)
// — the compress/decompress switch and the LZ4/zstd/raw-deflate helpers
// are carried from there; this package restructures them behind a named
// registry instead of a byte-tagged enum, since the host selects an
// algorithm by name at boot and may need to fall back to a default.
package compressor

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultName is the algorithm the registry falls back to when the
// requested name is unavailable. It mirrors zswap's "lzo" default.
//
// No real LZO implementation exists in the corpus this module was
// built from, so "lzo" is wired to the same code path as "lz4" — the
// closest real fast/low-ratio LZ77-family codec available. See
// DESIGN.md for the full justification.
const DefaultName = "lzo"

// Algorithm is a compress/decompress pair for one named codec.
type Algorithm struct {
	Name       string
	Compress   func(dst, src []byte) (int, error)
	Decompress func(dst, src []byte) (int, error)
}

// Registry resolves algorithm names to Algorithm values.
type Registry struct {
	algorithms map[string]*Algorithm
}

// NewRegistry builds a registry with every algorithm this module ships.
func NewRegistry() *Registry {
	r := &Registry{algorithms: make(map[string]*Algorithm)}
	r.register(lz4Algorithm())
	r.register(snappyAlgorithm())
	r.register(zstdAlgorithm())
	r.register(deflateAlgorithm())
	// "lzo" has no real implementation in the corpus; alias it to lz4.
	lzo := lz4Algorithm()
	lzo.Name = DefaultName
	r.register(lzo)
	return r
}

func (r *Registry) register(a *Algorithm) {
	r.algorithms[a.Name] = a
}

// ErrAlgorithmNotAvailable is returned by Resolve when neither the
// requested name nor the default ("lzo") is registered.
var ErrAlgorithmNotAvailable = fmt.Errorf("compressor: algorithm not available")

// Resolve looks up name. On miss, it retries with DefaultName, matching
// spec.md §4.1's "retries with the default" behavior. A second miss is
// reported to the caller, who is expected to treat it as fatal
// (Registry itself never panics or exits).
func (r *Registry) Resolve(name string) (*Algorithm, error) {
	if a, ok := r.algorithms[name]; ok {
		return a, nil
	}
	if a, ok := r.algorithms[DefaultName]; ok {
		return a, nil
	}
	return nil, ErrAlgorithmNotAvailable
}

// MustResolve is Resolve but panics on failure — used only at
// Cache-construction time, mirroring the teacher's Logger.Fatalf
// contract: the condition is unrecoverable, but it is not this
// package's job to terminate the process.
func (r *Registry) MustResolve(name string) *Algorithm {
	a, err := r.Resolve(name)
	if err != nil {
		panic(fmt.Sprintf("compressor: %s unavailable and default %q also unavailable", name, DefaultName))
	}
	return a
}

// Context pins one resolved Algorithm plus its output scratch buffer to
// a single caller for the duration of a compression or decompression
// call — the "execution context" of spec.md §4.1/§9. Acquisition is
// explicit (NewContext), release is the caller's responsibility
// (normally scoped via scratch.ContextPool, see that package).
type Context struct {
	Algorithm *Algorithm
	Buf       []byte
}

// NewContext pins algo and allocates an output buffer sized to hold
// worst-case output for pages up to maxPageSize bytes.
func NewContext(algo *Algorithm, maxPageSize int) *Context {
	return &Context{
		Algorithm: algo,
		Buf:       make([]byte, 2*maxPageSize),
	}
}

// Compress compresses src into the context's scratch buffer and returns
// the number of bytes written. The caller must hold exclusive access to
// c for the duration of this call.
func (c *Context) Compress(src []byte) (int, error) {
	return c.Algorithm.Compress(c.Buf, src)
}

// Decompress decompresses src into dst and fails unless the output
// fills dst exactly.
func (c *Context) Decompress(dst, src []byte) error {
	n, err := c.Algorithm.Decompress(dst, src)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("compressor: decompressed %d bytes, want %d", n, len(dst))
	}
	return nil
}

// -----------------------------------------------------------------------
// Concrete algorithms, adapted from rockyardkv/internal/compression.
// -----------------------------------------------------------------------

func lz4Algorithm() *Algorithm {
	return &Algorithm{
		Name: "lz4",
		Compress: func(dst, src []byte) (int, error) {
			var ht [1 << 16]int
			n, err := lz4.CompressBlock(src, dst, ht[:])
			if err != nil {
				return 0, fmt.Errorf("lz4 compress block: %w", err)
			}
			if n == 0 {
				// CompressBlock returns n==0 when the block would not
				// shrink (its documented "incompressible" signal). Fall
				// back to an uncompressed copy so the length is still
				// len(src): the ratio check downstream then rejects it
				// as too-big on its own merits, instead of this helper
				// reporting a compressor error for non-compressor input.
				if len(src) > len(dst) {
					return 0, fmt.Errorf("lz4: incompressible input exceeds scratch buffer")
				}
				copy(dst, src)
				return len(src), nil
			}
			return n, nil
		},
		Decompress: func(dst, src []byte) (int, error) {
			n, err := lz4.UncompressBlock(src, dst)
			if err != nil {
				return 0, fmt.Errorf("lz4 uncompress block: %w", err)
			}
			return n, nil
		},
	}
}

func snappyAlgorithm() *Algorithm {
	return &Algorithm{
		Name: "snappy",
		Compress: func(dst, src []byte) (int, error) {
			out := snappy.Encode(dst[:0:len(dst)], src)
			if len(out) > len(dst) {
				return 0, fmt.Errorf("snappy: output exceeds scratch buffer")
			}
			copy(dst, out)
			return len(out), nil
		},
		Decompress: func(dst, src []byte) (int, error) {
			out, err := snappy.Decode(dst[:0:len(dst)], src)
			if err != nil {
				return 0, fmt.Errorf("snappy decode: %w", err)
			}
			copy(dst, out)
			return len(out), nil
		},
	}
}

func zstdAlgorithm() *Algorithm {
	return &Algorithm{
		Name: "zstd",
		Compress: func(dst, src []byte) (int, error) {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			if err != nil {
				return 0, fmt.Errorf("zstd encoder: %w", err)
			}
			out := enc.EncodeAll(src, dst[:0:len(dst)])
			_ = enc.Close()
			if len(out) > len(dst) {
				return 0, fmt.Errorf("zstd: output exceeds scratch buffer")
			}
			copy(dst, out)
			return len(out), nil
		},
		Decompress: func(dst, src []byte) (int, error) {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return 0, fmt.Errorf("zstd decoder: %w", err)
			}
			defer dec.Close()
			out, err := dec.DecodeAll(src, dst[:0:len(dst)])
			if err != nil {
				return 0, fmt.Errorf("zstd decode: %w", err)
			}
			return len(out), nil
		},
	}
}

// deflateAlgorithm uses raw DEFLATE (no zlib header), matching
// RocksDB's windowBits = -14 convention that the teacher documents.
func deflateAlgorithm() *Algorithm {
	return &Algorithm{
		Name: "deflate",
		Compress: func(dst, src []byte) (int, error) {
			var buf bytes.Buffer
			w, err := flate.NewWriter(&buf, flate.BestSpeed)
			if err != nil {
				return 0, fmt.Errorf("raw deflate writer: %w", err)
			}
			if _, err := w.Write(src); err != nil {
				return 0, fmt.Errorf("raw deflate write: %w", err)
			}
			if err := w.Close(); err != nil {
				return 0, fmt.Errorf("raw deflate close: %w", err)
			}
			if buf.Len() > len(dst) {
				return 0, fmt.Errorf("deflate: output exceeds scratch buffer")
			}
			copy(dst, buf.Bytes())
			return buf.Len(), nil
		},
		Decompress: func(dst, src []byte) (int, error) {
			r := flate.NewReader(bytes.NewReader(src))
			defer func() { _ = r.Close() }()
			n, err := io.ReadFull(r, dst)
			if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
				return 0, fmt.Errorf("raw deflate read: %w", err)
			}
			return n, nil
		},
	}
}
