package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/statusfile"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/pkg/logger"
)

const statusExt = ".status"

// Enqueuer accepts finalize requests.
type Enqueuer interface {
	Enqueue(recordingID, source string) bool
}

// StatusWatcher watches the work directory and queues a job for
// finalization once its status file reports a terminal status. Live job
// subdirectories are watched as they appear.
type StatusWatcher struct {
	store *store.Store
	queue Enqueuer

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewStatusWatcher(st *store.Store, q Enqueuer) *StatusWatcher {
	return &StatusWatcher{store: st, queue: q}
}

// Start begins watching. Calling Start on a running watcher is a no-op.
func (w *StatusWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	root := w.store.Dirs().Work
	if err := fw.Add(root); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch directory %s: %w", root, err)
	}
	// live jobs started before we came up
	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if e.IsDir() {
			if err := fw.Add(filepath.Join(root, e.Name())); err != nil {
				logger.Debugf("watch %s: %v", e.Name(), err)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, fw, w.done)

	logger.Infof("👀 Watching %s for finished jobs", root)
	return nil
}

// Stop closes the watcher and waits for the loop to exit.
func (w *StatusWatcher) Stop() {
	w.mu.Lock()
	fw, cancel, done := w.watcher, w.cancel, w.done
	w.watcher = nil
	w.mu.Unlock()
	if fw == nil {
		return
	}
	cancel()
	_ = fw.Close()
	<-done
}

func (w *StatusWatcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(ctx, fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warnf("⚠️ fsnotify watcher error: %v", err)
		}
	}
}

func (w *StatusWatcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.Add(event.Name); err != nil {
				logger.Debugf("watch %s: %v", event.Name, err)
			}
			return
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if !strings.HasSuffix(event.Name, statusExt) {
		return
	}
	w.CheckStatusFile(ctx, event.Name)
}

// CheckStatusFile queues the job owning statusPath if its latest status is
// terminal. It reports whether a task was queued.
func (w *StatusWatcher) CheckStatusFile(ctx context.Context, statusPath string) bool {
	latest, err := statusfile.ReadLatest(statusPath)
	if err != nil || !job.IsTerminal(latest[job.KeyStatus]) {
		return false
	}
	outputFile := strings.TrimSuffix(statusPath, statusExt)
	j, err := w.store.FindJobByOutputFile(ctx, outputFile)
	if err != nil {
		logger.Debugf("No job for %s: %v", filepath.Base(statusPath), err)
		return false
	}
	return w.queue.Enqueue(j.RecordingID, "watcher")
}
