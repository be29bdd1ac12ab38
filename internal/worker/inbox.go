package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const defaultInboxQuiet = 2 * time.Second

// InboxWatcher enqueues documents dropped into a directory. The file name
// stem must be the policy id, e.g. "3f2c...e1.pdf". A file is enqueued only
// after it has seen no writes for the quiet period and is non-empty, so
// plain cp or curl -o writers are safe. Files ending in .part are ignored
// until renamed.
type InboxWatcher struct {
	dir   string
	queue JobEnqueuer
	quiet time.Duration
}

func NewInboxWatcher(dir string, q JobEnqueuer, quiet time.Duration) *InboxWatcher {
	if quiet <= 0 {
		quiet = defaultInboxQuiet
	}
	return &InboxWatcher{dir: dir, queue: q, quiet: quiet}
}

// Run watches until ctx is cancelled. Files already present are picked up first.
func (w *InboxWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	slog.InfoContext(ctx, "watching inbox", "dir", w.dir)

	// Each write replaces the path's timer; a fire whose seq is stale is dropped.
	type settle struct {
		path string
		seq  uint64
	}
	type pendingFile struct {
		timer *time.Timer
		seq   uint64
	}
	pending := make(map[string]*pendingFile)
	settled := make(chan settle)
	stop := make(chan struct{})
	var seq uint64
	defer func() {
		close(stop)
		for _, p := range pending {
			p.timer.Stop()
		}
	}()

	schedule := func(path string) {
		if ignoredInboxName(filepath.Base(path)) {
			return
		}
		if p, ok := pending[path]; ok {
			p.timer.Stop()
		}
		seq++
		s := settle{path: path, seq: seq}
		t := time.AfterFunc(w.quiet, func() {
			select {
			case settled <- s:
			case <-stop:
			}
		})
		pending[path] = &pendingFile{timer: t, seq: s.seq}
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			schedule(filepath.Join(w.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// A rename into the directory arrives as Create for the new name.
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				schedule(ev.Name)
			}
		case s := <-settled:
			if p, ok := pending[s.path]; !ok || p.seq != s.seq {
				continue
			}
			delete(pending, s.path)
			w.handle(ctx, s.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "inbox watcher error", "error", err)
		}
	}
}

func (w *InboxWatcher) handle(ctx context.Context, path string) {
	name := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		// Renamed away or removed before it settled.
		return
	}
	if info.Size() == 0 {
		// The next write reschedules it.
		return
	}

	policyID := PolicyIDFromFilename(name)
	if _, err := uuid.Parse(policyID); err != nil {
		slog.WarnContext(ctx, "ignoring inbox file without a policy id name", "file", name)
		return
	}

	if err := w.queue.Enqueue(ctx, Job{PolicyID: policyID, Path: path, DeleteAfter: true}); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue inbox file", "file", name, "error", err)
	}
}

func ignoredInboxName(name string) bool {
	return strings.HasSuffix(name, ".part") || strings.HasPrefix(name, ".")
}

func PolicyIDFromFilename(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
