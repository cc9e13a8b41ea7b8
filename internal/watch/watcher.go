// Package watch turns file system notifications under the sync root into
// engine calls.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/physical"
)

//go:generate moq -out watcher_mock.go . Handler

// RenameWindow is how long a rename waits for the create event of its
// destination before it is reported as a removal.
const RenameWindow = 100 * time.Millisecond

// Handler reacts to changes of master files.
type Handler interface {
	// FileWritten is called when a file was created or written
	FileWritten(ctx context.Context, store models.StoreID, rel string) error
	// FileRemoved is called when a file or directory was removed or renamed
	// out of its store
	FileRemoved(ctx context.Context, store models.StoreID, rel string) error
	// FileMoved is called when a file or directory was renamed inside its store
	FileMoved(ctx context.Context, store models.StoreID, from, to string) error
}

// Splitter maps absolute paths to store relative ones.
type Splitter interface {
	Split(file string) (store models.StoreID, rel string, ok bool)
}

// Watcher watches the sync root recursively. The metadata directory is skipped.
// A rename is reported by fsnotify as Rename of the old path followed by
// Create of the new one; the pair becomes one FileMoved call.
type Watcher struct {
	fsw         *fsnotify.Watcher
	splitter    Splitter
	handler     Handler
	clock       clockwork.Clock
	logger      *slog.Logger
	renameTimer clockwork.Timer
	root        string
	renamed     string // renamed путь, ожидающий Create назначения
}

// New creates a watcher of root and registers all existing directories.
func New(root string, splitter Splitter, handler Handler, clock clockwork.Clock, logger *slog.Logger) (*Watcher, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		splitter: splitter,
		handler:  handler,
		clock:    clock,
		logger:   logger,
		root:     root,
	}
	if err := w.addTree(root, nil); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run dispatches events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case <-w.renameExpired():
			w.flushRename(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) renameExpired() <-chan time.Time {
	if w.renameTimer == nil {
		return nil
	}
	return w.renameTimer.Chan()
}

// flushRename reports a rename without a matching create as a removal.
func (w *Watcher) flushRename(ctx context.Context) {
	from := w.takeRename()
	if from != "" {
		w.removed(ctx, from)
	}
}

func (w *Watcher) takeRename() string {
	if w.renameTimer != nil {
		w.renameTimer.Stop()
		w.renameTimer = nil
	}
	from := w.renamed
	w.renamed = ""
	return from
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	// события снятого наблюдения приходят без имени
	if ev.Name == "" || w.isMeta(ev.Name) {
		return
	}
	if w.renamed != "" && !ev.Has(fsnotify.Create) {
		w.flushRename(ctx)
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			// файл успели удалить
			w.flushRename(ctx)
			return
		}
		if from := w.takeRename(); from != "" {
			if w.moved(ctx, from, ev.Name, info.IsDir()) {
				return
			}
			w.removed(ctx, from)
		}
		if info.IsDir() {
			// файлы, созданные до регистрации каталога, сообщаем сразу
			if err := w.addTree(ev.Name, func(file string) { w.written(ctx, file) }); err != nil {
				w.logger.Warn("failed to watch directory", "dir", ev.Name, "error", err)
			}
			return
		}
		w.written(ctx, ev.Name)
	case ev.Has(fsnotify.Write):
		w.written(ctx, ev.Name)
	case ev.Has(fsnotify.Rename):
		w.renamed = ev.Name
		w.renameTimer = w.clock.NewTimer(RenameWindow)
	case ev.Has(fsnotify.Remove):
		w.removed(ctx, ev.Name)
	}
}

// moved reports a rename inside one store. Returns false when from and to
// belong to different stores.
func (w *Watcher) moved(ctx context.Context, from, to string, isDir bool) bool {
	fromStore, fromRel, ok := w.splitter.Split(from)
	if !ok {
		return false
	}
	toStore, toRel, ok := w.splitter.Split(to)
	if !ok || toStore != fromStore {
		return false
	}

	if isDir {
		// наблюдение за старым путем больше не действует
		_ = w.fsw.Remove(from)
		if err := w.addTree(to, nil); err != nil {
			w.logger.Warn("failed to watch directory", "dir", to, "error", err)
		}
	}
	if err := w.handler.FileMoved(ctx, fromStore, fromRel, toRel); err != nil {
		w.logger.Warn("failed to handle move", "store", fromStore, "from", fromRel, "to", toRel, "error", err)
	}
	return true
}

func (w *Watcher) written(ctx context.Context, file string) {
	store, rel, ok := w.splitter.Split(file)
	if !ok {
		return
	}
	if err := w.handler.FileWritten(ctx, store, rel); err != nil {
		w.logger.Warn("failed to handle write", "store", store, "path", rel, "error", err)
	}
}

func (w *Watcher) removed(ctx context.Context, file string) {
	store, rel, ok := w.splitter.Split(file)
	if !ok {
		return
	}
	if err := w.handler.FileRemoved(ctx, store, rel); err != nil {
		w.logger.Warn("failed to handle removal", "store", store, "path", rel, "error", err)
	}
}

// addTree watches dir and its subdirectories; onFile gets the files found.
func (w *Watcher) addTree(dir string, onFile func(file string)) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			if onFile != nil {
				onFile(p)
			}
			return nil
		}
		if w.isMeta(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) isMeta(p string) bool {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first == physical.MetaDir
}
