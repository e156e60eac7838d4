// Package dumpwatch watches a directory for newly captured dump files and
// ingests each one into internal/dumpindex automatically. Grounded
// directly on the teacher's internal/watcher.LogWatcher: fsnotify on the
// directory, a periodic poll as a fallback for filesystems that miss
// events, a done channel, sync.Once shutdown — generalized from "a new
// VRChat log rolled over" to "a new dump file landed."
package dumpwatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Ingester is the subset of *dumpindex.Repository this package depends
// on, kept as an interface so tests can substitute a fake without a real
// sqlite file.
type Ingester interface {
	Ingest(ctx context.Context, path string) error
}

// Watcher watches Dir for files matching *.dump and ingests each one.
type Watcher struct {
	Dir      string
	index    Ingester
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	onError  func(error)
}

// New creates a Watcher over dir. onError, if non-nil, receives every
// ingest/watch error; a nil onError silently drops them, matching the
// teacher's onError-is-optional watcher config.
func New(dir string, index Ingester, onError func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	return &Watcher{
		Dir:     dir,
		index:   index,
		watcher: fw,
		done:    make(chan struct{}),
		onError: onError,
	}, nil
}

// Start watches Dir and ingests every existing *.dump file once, then
// continues ingesting new arrivals until Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.Dir); err != nil {
		return errors.Wrapf(err, "watch directory %s", w.Dir)
	}

	w.ingestAll(ctx)
	go w.loop(ctx)
	return nil
}

// Stop ends the watch loop.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && isDumpFile(event.Name) {
				w.ingestOne(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		case <-ticker.C:
			// Periodic poll as fallback, the same role the teacher's
			// watchLoop ticker plays for filesystems that coalesce or
			// drop fsnotify events.
			w.ingestAll(ctx)
		}
	}
}

func (w *Watcher) ingestAll(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(w.Dir, "*.dump"))
	if err != nil {
		w.reportError(err)
		return
	}
	for _, path := range matches {
		w.ingestOne(ctx, path)
	}
}

func (w *Watcher) ingestOne(ctx context.Context, path string) {
	if err := w.index.Ingest(ctx, path); err != nil {
		w.reportError(err)
	}
}

func (w *Watcher) reportError(err error) {
	if w.onError != nil {
		w.onError(err)
		return
	}
	slog.Debug("dumpwatch error", "dir", w.Dir, "error", err)
}

func isDumpFile(path string) bool {
	return filepath.Ext(path) == ".dump"
}
