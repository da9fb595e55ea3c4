// Package watcher runs the background loops that react to job state: the
// live watcher stops unwatched restreams and the status watcher queues jobs
// for finalization as soon as their worker reports a terminal status.
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/metrics"
	"github.com/m3u-dvr/internal/resolver"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/internal/tracker"
	"github.com/m3u-dvr/pkg/logger"
)

// LiveStopper stops a live job by recording ID.
type LiveStopper interface {
	StopByID(ctx context.Context, recordingID, trigger string) resolver.Result
}

// LiveWatcher stops live jobs nobody is watching anymore. One instance is
// shared by the whole process; Start may be called any number of times.
type LiveWatcher struct {
	viewers   *tracker.Viewers
	consumers *tracker.Consumers
	store     *store.Store
	stopper   LiveStopper
	interval  time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewLiveWatcher(viewers *tracker.Viewers, consumers *tracker.Consumers, st *store.Store, stopper LiveStopper, interval time.Duration) *LiveWatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &LiveWatcher{
		viewers:   viewers,
		consumers: consumers,
		store:     st,
		stopper:   stopper,
		interval:  interval,
	}
}

// Start launches the timer. It returns false if the watcher is already running.
func (w *LiveWatcher) Start() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return false
	}
	w.started = true

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)

	logger.Infof("👀 Live watcher started (every %s)", w.interval)
	return true
}

// Stop halts the timer and waits for an in-flight check.
func (w *LiveWatcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}

func (w *LiveWatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check runs one pass: every tracked live job with zero viewers is stopped
// and forgotten. It returns the IDs it asked to stop.
func (w *LiveWatcher) Check(ctx context.Context) []string {
	metrics.SetLiveViewers(len(w.viewers.ListActiveIDs()))
	if w.consumers != nil {
		metrics.SetActiveConsumers(w.consumers.Len())
	}

	var stopped []string
	for _, id := range w.viewers.Tracked() {
		if w.viewers.Count(id) > 0 {
			continue
		}
		if !w.autoStops(id) {
			w.viewers.Forget(id)
			continue
		}

		res := w.stopper.StopByID(ctx, id, "no-viewers")
		if !res.Success {
			logger.Warnf("⚠️ Failed to stop unwatched live job %s: %s", id, res.Error)
			if res.Code != resolver.CodeNotFound {
				continue
			}
		} else {
			logger.Infof("👀 No viewers left on %s, stopping", id)
			stopped = append(stopped, id)
		}
		w.viewers.Forget(id)
	}
	return stopped
}

// autoStops re-reads the job record; only live restreams are stopped.
func (w *LiveWatcher) autoStops(recordingID string) bool {
	j, err := w.store.LoadJob(recordingID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warnf("⚠️ Cannot load job %s: %v", recordingID, err)
		}
		return false
	}
	return j.Kind.AutoStops() && j.RecordingType == job.TypeHLSLive
}
