package auth

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/livescore/pkg/logger"
)

// Watcher refreshes a CredentialStore as soon as its file changes, so a new
// key works before its first lookup. It runs as a supervised service.
type Watcher struct {
	store *CredentialStore
	log   logger.Logger
}

// NewWatcher returns a watcher for store's file.
func NewWatcher(store *CredentialStore) *Watcher {
	return &Watcher{store: store, log: logger.Named("credentials-watcher")}
}

// Serve watches the file's directory until ctx is canceled. Watching the
// directory keeps the watch alive across editors' rename-on-save.
func (w *Watcher) Serve(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credential watcher: %w", err)
	}
	defer fw.Close()

	path := filepath.Clean(w.store.Path())
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("credential watcher: %w", err)
	}
	w.log.Info(ctx, "watching credentials", logger.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Chmod) {
				continue
			}
			// Errors are logged by the store; the old keys stay active.
			_ = w.store.Refresh(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "watcher error", logger.Error(err))
		}
	}
}

func (w *Watcher) String() string { return "credentials-watcher" }
