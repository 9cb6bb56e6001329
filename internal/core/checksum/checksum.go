package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sync"
)

// Algorithm names a fingerprint hash
type Algorithm string

const (
	// SHA256 is the fingerprint algorithm used for content equality
	SHA256 Algorithm = "sha256"
)

// DefaultBufferSize is the chunk size used when none is given
const DefaultBufferSize = 32 * 1024

// New returns a fresh streaming hash for algo
func New(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algo)
	}
}

// Encode returns the hex form of a finished hash
func Encode(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Hasher fingerprints content through a pool of fixed-size buffers.
// It is safe for concurrent use.
type Hasher struct {
	algo Algorithm
	bufs sync.Pool
}

// NewHasher creates a hasher for algo reading bufferSize bytes at a time
func NewHasher(algo Algorithm, bufferSize int) (*Hasher, error) {
	if _, err := New(algo); err != nil {
		return nil, err
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	h := &Hasher{algo: algo}
	h.bufs.New = func() any {
		b := make([]byte, bufferSize)
		return &b
	}
	return h, nil
}

// Sum returns the fingerprint of everything r yields
func (h *Hasher) Sum(ctx context.Context, r io.Reader) (string, error) {
	_, sum, err := h.Copy(ctx, io.Discard, r)
	return sum, err
}

// Copy streams r into w and returns the number of bytes written with the
// fingerprint of the copied content. ctx is checked before every chunk.
func (h *Hasher) Copy(ctx context.Context, w io.Writer, r io.Reader) (int64, string, error) {
	hh, _ := New(h.algo)

	bp := h.bufs.Get().(*[]byte)
	defer h.bufs.Put(bp)

	// ctxReader also hides WriterTo so every chunk goes through the pooled buffer
	n, err := io.CopyBuffer(io.MultiWriter(w, hh), ctxReader{ctx: ctx, r: r}, *bp)
	if err != nil {
		return n, "", err
	}
	return n, Encode(hh), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
