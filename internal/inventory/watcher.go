package inventory

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/assetsearch/pkg/types"
)

// DefaultDebounce is how long a file must be quiet before its change is reported
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports asset file changes under a Directory to a Sink.
// Creates and writes become AssetDiscovered; removes and renames become
// AssetRemoved. Bursts of events on one file are debounced.
type Watcher struct {
	dir      *Directory
	sink     Sink
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time // file path -> last event time
	known   map[string]types.AssetIdentity
}

// NewWatcher creates a watcher over dir
func NewWatcher(dir *Directory, sink Sink, debounce time.Duration) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		sink:     sink,
		watcher:  watcher,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		known:    make(map[string]types.AssetIdentity),
	}, nil
}

// Run watches until ctx is canceled, then closes the underlying watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	ids, err := w.dir.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		w.known[w.dir.FilePath(id)] = id
	}

	if err := w.addRecursive(w.dir.Root()); err != nil {
		return err
	}

	interval := max(w.debounce/2, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.dir.logger.Warn("watcher error", "err", err)

		case <-ticker.C:
			w.flush(time.Now())
		}
	}
}

// addRecursive adds a directory and all its subdirectories to the watch list
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path != w.dir.Root() && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.dir.logger.Warn("cannot watch directory", "path", path, "err", err)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
			w.markTree(event.Name)
			return
		}
	}
	if !w.dir.isAssetFile(event.Name) {
		return
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mark(event.Name)
	}
}

// markTree marks every asset file in a newly created directory
func (w *Watcher) markTree(root string) {
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err == nil && !entry.IsDir() && w.dir.isAssetFile(path) {
			w.mark(path)
		}
		return nil
	})
}

func (w *Watcher) mark(path string) {
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// flush reports files that have been quiet for the debounce interval. The
// file's presence on disk decides between discovered and removed.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if _, err := os.Stat(path); err != nil {
			if id, ok := w.known[path]; ok {
				delete(w.known, path)
				w.sink.AssetRemoved(id)
			}
			continue
		}

		id, err := w.dir.Identify(path)
		if err != nil {
			w.dir.logger.Warn("skipping changed asset", "path", path, "err", err)
			continue
		}
		if prev, ok := w.known[path]; ok && prev.Type != id.Type {
			w.sink.AssetRemoved(prev)
		}
		w.known[path] = id
		w.sink.AssetDiscovered(id)
	}
}
