package ontology

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration document when the file changes and
// purges the cache so subsequent reads observe the new graph.
type Watcher struct {
	path   string
	repo   *InMemoryRepository
	cache  *CachedRepository
	logger *log.Logger
}

// NewWatcher builds a Watcher over the given document path. cache may be nil.
func NewWatcher(path string, repo *InMemoryRepository, cache *CachedRepository, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[ontology] ", log.LstdFlags)
	}
	return &Watcher{path: path, repo: repo, cache: cache, logger: logger}
}

// Run blocks until the context is cancelled, reloading on every write to the
// watched file. A reload failure keeps the previous graph and is logged.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files rather than write in place.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	fresh, err := LoadFile(w.path)
	if err != nil {
		w.logger.Printf("reload failed, keeping previous graph: %v", err)
		return
	}
	fresh.mu.RLock()
	entities := fresh.entities
	fresh.mu.RUnlock()

	w.repo.mu.Lock()
	w.repo.entities = entities
	w.repo.mu.Unlock()

	if w.cache != nil {
		w.cache.Purge()
	}
	w.logger.Printf("reloaded %s (%d entities)", w.path, len(entities))
}
