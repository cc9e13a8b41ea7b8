// Package hasher computes and caches content hashes of branches and merges
// branches whose content turned out to be identical.
package hasher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/internal/trans"
)

// Versions is the part of version control used by the hasher.
type Versions interface {
	LocalVersion(tx storage.Tx, key models.VersionedKey) (crdt.Version, error)
	MergeBranch(t *trans.Trans, from, to models.VersionedKey) error
}

// Physical gives access to branch content.
type Physical interface {
	Locate(tx storage.Tx, key models.VersionedKey) (string, error)
	Open(file string) (io.ReadCloser, error)
	ModifiedSince(file string, mtime, length int64) (bool, error)
	Remove(file string) error
}

// Hasher computes content hashes, at most one computation per key at a time.
type Hasher struct {
	core     *core.Core
	tokens   *core.TokenManager
	txm      *trans.Manager
	branches storage.BranchStore
	versions Versions
	physical Physical
	digester *Digester
	logger   *slog.Logger

	group singleflight.Group
	// inflight ключи с активным вычислением, защищен core lock
	inflight map[models.VersionedKey]struct{}

	computations atomic.Int64
	waiters      atomic.Int32
}

// New creates a new Hasher.
func New(
	c *core.Core,
	tokens *core.TokenManager,
	txm *trans.Manager,
	branches storage.BranchStore,
	versions Versions,
	physical Physical,
	digester *Digester,
	logger *slog.Logger,
) *Hasher {
	return &Hasher{
		core:     c,
		tokens:   tokens,
		txm:      txm,
		branches: branches,
		versions: versions,
		physical: physical,
		digester: digester,
		logger:   logger,
		inflight: make(map[models.VersionedKey]struct{}),
	}
}

// ComputeHash returns the content hash of key, computing and caching it if needed.
//
// It must be called under the core lock and without an open transaction.
// While the digest runs the core lock is released. A caller finding a
// computation in flight for key waits for it and shares its result or error.
// If mergeBranches is set, sibling branches with an equal hash are merged
// into one survivor, the master branch if it is among them.
//
// Returns core.ErrNoResource if no hash token is available, core.ErrAborted
// if the content or version changed during hashing, and an error wrapping
// core.ErrNotFound if the branch disappeared.
func (h *Hasher) ComputeHash(ctx context.Context, key models.VersionedKey, mergeBranches bool) (models.ContentHash, error) {
	cached, err := h.cachedHash(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	sfKey := key.String()
	shared := func() (any, error) {
		return h.compute(context.WithoutCancel(ctx), key, mergeBranches)
	}

	if _, busy := h.inflight[key]; busy {
		return h.wait(ctx, key, h.group.DoChan(sfKey, shared))
	}

	tok, err := h.tokens.Acquire(core.CategoryHash, "hash "+sfKey)
	if err != nil {
		return nil, err
	}
	defer tok.Release()

	h.inflight[key] = struct{}{}
	defer delete(h.inflight, key)

	var result any
	err = tok.PseudoPause(ctx, func(context.Context) error {
		var err error
		result, err, _ = h.group.Do(sfKey, shared)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result.(models.ContentHash), nil
}

func (h *Hasher) wait(ctx context.Context, key models.VersionedKey, ch <-chan singleflight.Result) (models.ContentHash, error) {
	h.waiters.Add(1)
	defer h.waiters.Add(-1)

	h.logger.Debug("waiting for hash computation", "key", key)

	var res singleflight.Result
	err := h.core.PseudoPause(ctx, func(ctx context.Context) error {
		select {
		case res = <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Val.(models.ContentHash), nil
}

func (h *Hasher) cachedHash(ctx context.Context, key models.VersionedKey) (models.ContentHash, error) {
	var hash models.ContentHash
	err := h.txm.View(ctx, func(tx storage.Tx) error {
		info, err := h.branches.GetBranch(tx, key)
		if err != nil {
			return err
		}
		hash = info.Hash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read branch %s: %w", key, err)
	}
	return hash, nil
}

// compute runs without the core lock.
func (h *Hasher) compute(ctx context.Context, key models.VersionedKey, mergeBranches bool) (models.ContentHash, error) {
	var (
		info    *models.BranchInfo
		version crdt.Version
		file    string
	)
	err := h.txm.View(ctx, func(tx storage.Tx) error {
		var err error
		if info, err = h.branches.GetBranch(tx, key); err != nil {
			return err
		}
		if info.Hash != nil {
			return nil
		}
		if version, err = h.versions.LocalVersion(tx, key); err != nil {
			return err
		}
		file, err = h.physical.Locate(tx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", key, err)
	}
	// успел посчитать предыдущий вычислитель
	if info.Hash != nil {
		return info.Hash, nil
	}

	h.computations.Add(1)
	hash, err := h.digest(file, info)
	if err != nil {
		if errors.Is(err, core.ErrAborted) {
			h.logger.Info("hash computation aborted", "key", key)
		}
		return nil, err
	}

	err = h.core.Exec(func() error {
		return h.txm.Run(ctx, func(t *trans.Trans) error {
			return h.persist(t, key, file, info, version, hash, mergeBranches)
		})
	})
	if err != nil {
		return nil, err
	}

	h.logger.Debug("hash computed", "key", key, "hash", hash)
	return hash, nil
}

func (h *Hasher) digest(file string, info *models.BranchInfo) (models.ContentHash, error) {
	r, err := h.physical.Open(file)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return h.digester.Digest(r, func() (bool, error) {
		return h.physical.ModifiedSince(file, info.Mtime, info.Length)
	})
}

func (h *Hasher) persist(
	t *trans.Trans,
	key models.VersionedKey,
	file string,
	snapshot *models.BranchInfo,
	version crdt.Version,
	hash models.ContentHash,
	mergeBranches bool,
) error {
	tx := t.Tx()

	cur, err := h.branches.GetBranch(tx, key)
	if err != nil {
		return fmt.Errorf("branch %s vanished: %w", key, err)
	}
	if cur.Length != snapshot.Length || cur.Mtime != snapshot.Mtime {
		return fmt.Errorf("branch %s changed: %w", key, core.ErrAborted)
	}

	v, err := h.versions.LocalVersion(tx, key)
	if err != nil {
		return fmt.Errorf("failed to get local version: %w", err)
	}
	if !v.Equal(version) {
		return fmt.Errorf("version of %s advanced: %w", key, core.ErrAborted)
	}

	modified, err := h.physical.ModifiedSince(file, snapshot.Mtime, snapshot.Length)
	if err != nil {
		return fmt.Errorf("failed to check modification: %w", err)
	}
	if modified {
		return fmt.Errorf("content of %s modified: %w", key, core.ErrAborted)
	}

	cur.Hash = hash
	if err := h.branches.PutBranch(tx, cur); err != nil {
		return fmt.Errorf("failed to store hash: %w", err)
	}

	if mergeBranches {
		return h.mergeEqual(t, key.ObjectKey(), hash)
	}
	return nil
}

// mergeEqual сливает все ветки объекта с хешем hash в одну
func (h *Hasher) mergeEqual(t *trans.Trans, obj models.ObjectKey, hash models.ContentHash) error {
	tx := t.Tx()

	branches, err := h.branches.ListBranches(tx, obj)
	if err != nil {
		return fmt.Errorf("failed to list branches: %w", err)
	}

	var equal []*models.BranchInfo
	for _, b := range branches {
		if b.Hash == nil {
			if !b.Key.Branch.IsMaster() {
				return core.Invariantf("branch %s has no hash", b.Key)
			}
			continue
		}
		if b.Hash.Equal(hash) {
			equal = append(equal, b)
		}
	}
	if len(equal) < 2 {
		return nil
	}

	// ветки упорядочены по индексу, master первая
	survivor := equal[0]
	for _, b := range equal[1:] {
		if err := h.versions.MergeBranch(t, b.Key, survivor.Key); err != nil {
			return fmt.Errorf("failed to merge %s into %s: %w", b.Key, survivor.Key, err)
		}
		if err := h.branches.DeleteBranch(tx, b.Key); err != nil {
			return fmt.Errorf("failed to delete branch: %w", err)
		}

		file, err := h.physical.Locate(tx, b.Key)
		if err != nil {
			return err
		}
		t.OnCommit(func() {
			if err := h.physical.Remove(file); err != nil {
				h.logger.Warn("failed to remove merged branch", "file", file, "error", err)
			}
		})

		h.logger.Info("branches merged", "from", b.Key, "into", survivor.Key)
	}
	return nil
}
