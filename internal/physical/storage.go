// Package physical maps versioned keys to files of the sync root and gives
// access to their content and attributes.
//
// Layout under the root:
//
//	<store>/<path>                                master content of an object
//	.gophsync/branches/<store>/<object>.<branch>  conflict branches
package physical

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/iudanet/gophsync/internal/core"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
)

// MetaDir is the root-relative directory holding engine files.
const MetaDir = ".gophsync"

// ObjectReader resolves object ids to paths.
type ObjectReader interface {
	GetObject(tx storage.Tx, key models.ObjectKey) (*models.ObjectMeta, error)
}

// Attrs are the attributes tracked in BranchInfo.
type Attrs struct {
	Length int64
	Mtime  int64
}

// Storage is the physical storage of the sync root.
type Storage struct {
	fs      afero.Fs
	objects ObjectReader
	clock   clockwork.Clock
	root    string
}

// New creates physical storage rooted at root of fs.
func New(fs afero.Fs, root string, objects ObjectReader, clock clockwork.Clock) *Storage {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Storage{
		fs:      fs,
		objects: objects,
		clock:   clock,
		root:    filepath.Clean(root),
	}
}

// Root returns the sync root.
func (s *Storage) Root() string {
	return s.root
}

// Fs returns the underlying filesystem.
func (s *Storage) Fs() afero.Fs {
	return s.fs
}

// MasterPath returns the file of a store-relative path.
func (s *Storage) MasterPath(store models.StoreID, rel string) string {
	return filepath.Join(s.root, string(store), filepath.FromSlash(rel))
}

// BranchPath returns the file of a non-master content branch.
func (s *Storage) BranchPath(key models.VersionedKey) string {
	name := string(key.Object) + "." + strconv.FormatUint(uint64(key.Branch), 10)
	return filepath.Join(s.root, MetaDir, "branches", string(key.Store), name)
}

// Locate returns the file holding the content of key.
// Master content lives at the object's path, so tx is used to look it up.
func (s *Storage) Locate(tx storage.Tx, key models.VersionedKey) (string, error) {
	if key.Component != models.ComponentContent {
		return "", core.Invariantf("locating non-content key %s", key)
	}
	if !key.Branch.IsMaster() {
		return s.BranchPath(key), nil
	}

	obj, err := s.objects.GetObject(tx, key.ObjectKey())
	if err != nil {
		return "", fmt.Errorf("failed to locate %s: %w", key, err)
	}
	return s.MasterPath(obj.Store, obj.Path), nil
}

// Split is the inverse of MasterPath: it returns the store and the
// slash-separated relative path of a file under the root.
// ok is false for files outside stores or inside MetaDir.
func (s *Storage) Split(file string) (store models.StoreID, rel string, ok bool) {
	r, err := filepath.Rel(s.root, file)
	if err != nil {
		return "", "", false
	}
	r = filepath.ToSlash(r)
	if r == "." || strings.HasPrefix(r, "../") || r == ".." {
		return "", "", false
	}

	first, rest, found := strings.Cut(r, "/")
	if !found || first == MetaDir || rest == "" {
		return "", "", false
	}
	return models.StoreID(first), path.Clean(rest), true
}

// Stat returns the attributes of file.
func (s *Storage) Stat(file string) (Attrs, error) {
	info, err := s.fs.Stat(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Attrs{}, fmt.Errorf("%s: %w", file, core.ErrNotFound)
		}
		return Attrs{}, fmt.Errorf("failed to stat %s: %w", file, err)
	}
	return Attrs{Length: info.Size(), Mtime: info.ModTime().UnixNano()}, nil
}

// Length returns the size of file.
func (s *Storage) Length(file string) (int64, error) {
	attrs, err := s.Stat(file)
	if err != nil {
		return 0, err
	}
	return attrs.Length, nil
}

// Mtime returns the modification time of file in unix nanoseconds, or the
// current time if the file does not exist.
func (s *Storage) Mtime(file string) (int64, error) {
	attrs, err := s.Stat(file)
	if errors.Is(err, core.ErrNotFound) {
		return s.clock.Now().UnixNano(), nil
	}
	if err != nil {
		return 0, err
	}
	return attrs.Mtime, nil
}

// Open opens file for reading.
func (s *Storage) Open(file string) (io.ReadCloser, error) {
	f, err := s.fs.Open(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", file, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", file, err)
	}
	return f, nil
}

// ModifiedSince reports whether file no longer has the given mtime and length.
// A missing file counts as modified.
func (s *Storage) ModifiedSince(file string, mtime, length int64) (bool, error) {
	attrs, err := s.Stat(file)
	if errors.Is(err, core.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return attrs.Mtime != mtime || attrs.Length != length, nil
}

// WriteFile replaces the content of file, creating parent directories.
func (s *Storage) WriteFile(file string, data []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, file, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	return nil
}

// Rename moves file, creating parent directories of the destination.
func (s *Storage) Rename(from, to string) error {
	if err := s.fs.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := s.fs.Rename(from, to); err != nil {
		return fmt.Errorf("failed to rename %s: %w", from, err)
	}
	return nil
}

// Remove deletes file. Removing a missing file is not an error.
func (s *Storage) Remove(file string) error {
	if err := s.fs.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", file, err)
	}
	return nil
}
