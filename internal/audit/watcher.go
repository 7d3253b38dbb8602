package audit

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/muninn/internal/record"
)

// EventCallback is called for each record changed by a watcher-driven
// reconciliation. kind is one of "created", "updated", "deleted".
type EventCallback func(kind, id string)

const debounceWindow = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the store root and keeps the
// caches reconciled until ctx is cancelled. Bursts of file events are
// debounced into a single sync pass; cb (if non-nil) fires once per
// record the pass touched.
//
// New directories created at runtime are added to the watch list, so a
// first record of a new type is picked up like any other.
func (a *Auditor) Watch(ctx context.Context, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := a.store.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	a.logger.Info("watcher: started", slog.String("root", root))

	// syncTimer debounces event bursts into one reconciliation.
	var syncTimer *time.Timer
	var syncCh <-chan time.Time
	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(debounceWindow)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(debounceWindow)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			a.logger.Info("watcher: stopped")
			return nil

		case <-syncCh:
			res, err := a.Sync()
			if err != nil {
				a.logger.Warn("watcher: sync failed", slog.String("error", err.Error()))
				continue
			}
			if res.Changed() {
				a.logger.Debug("watcher: reconciled",
					slog.Int("added", res.EntriesAdded),
					slog.Int("updated", res.EntriesUpdated),
					slog.Int("removed", res.EntriesRemoved))
			}
			if cb != nil {
				for _, id := range res.AddedIDs {
					cb("created", id)
				}
				for _, id := range res.UpdatedIDs {
					cb("updated", id)
				}
				for _, id := range res.RemovedIDs {
					cb("deleted", id)
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			// New directories join the watch list immediately; any
			// records already inside them surface via the sync pass.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						a.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					scheduleSync()
					continue
				}
			}

			if !recordEvent(root, ev.Name) {
				continue
			}
			scheduleSync()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// recordEvent reports whether path is a record file inside one of the
// managed subtrees. Cache documents and temp files never trigger a
// sync, so a reconciliation cannot re-trigger itself.
func recordEvent(root, path string) bool {
	if !strings.HasSuffix(path, ".md") {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return strings.HasPrefix(rel, record.SubtreePermanent+"/") ||
		strings.HasPrefix(rel, record.SubtreeTemporary+"/")
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
