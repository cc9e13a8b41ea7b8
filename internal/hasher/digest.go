package hasher

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/models"
)

// Supported digest algorithms.
const (
	AlgSHA256  = "sha256"
	AlgBlake2b = "blake2b"
)

// DefaultBlockSize is the digest block size used when none is configured.
const DefaultBlockSize = 4 << 20

// AbortFunc reports whether digesting must stop. It is checked once per block.
type AbortFunc func() (bool, error)

// Digester computes chunked content digests: one sub-digest per fixed-size
// block, concatenated. Empty input yields the digest of one empty block.
type Digester struct {
	newHash   func() (hash.Hash, error)
	alg       string
	blockSize int
}

// NewDigester creates a digester for alg with the given block size.
func NewDigester(alg string, blockSize int) (*Digester, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	var newHash func() (hash.Hash, error)
	switch alg {
	case "", AlgSHA256:
		alg = AlgSHA256
		newHash = func() (hash.Hash, error) { return sha256.New(), nil }
	case AlgBlake2b:
		newHash = func() (hash.Hash, error) { return blake2b.New256(nil) }
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", alg)
	}

	return &Digester{
		newHash:   newHash,
		alg:       alg,
		blockSize: blockSize,
	}, nil
}

// Algorithm returns the digest algorithm name.
func (d *Digester) Algorithm() string {
	return d.alg
}

// BlockSize returns the block size in bytes.
func (d *Digester) BlockSize() int {
	return d.blockSize
}

// Size returns the length of one sub-digest.
func (d *Digester) Size() int {
	// оба алгоритма дают 32 байта
	return 32
}

// Digest reads r to the end. If abort reports true before a block,
// Digest fails with core.ErrAborted.
func (d *Digester) Digest(r io.Reader, abort AbortFunc) (models.ContentHash, error) {
	h, err := d.newHash()
	if err != nil {
		return nil, fmt.Errorf("failed to create hash: %w", err)
	}

	buf := make([]byte, d.blockSize)
	var out models.ContentHash
	for {
		if abort != nil {
			stop, err := abort()
			if err != nil {
				return nil, fmt.Errorf("failed to check modification: %w", err)
			}
			if stop {
				return nil, core.ErrAborted
			}
		}

		n, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			if out == nil {
				h.Reset()
				out = h.Sum(out)
			}
			return out, nil
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("failed to read content: %w", err)
		}

		h.Reset()
		h.Write(buf[:n])
		out = h.Sum(out)

		if n < len(buf) {
			return out, nil
		}
	}
}
