package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/resolver"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/internal/tracker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStopper struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeStopper) StopByID(_ context.Context, id, _ string) resolver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return resolver.Result{Success: true, RecordingID: id, Code: resolver.CodeOK}
}

func (f *fakeStopper) stopped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *fakeQueue) Enqueue(id, _ string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return true
}

func (q *fakeQueue) queued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	root := t.TempDir()
	st := store.New(store.Dirs{
		Cache: filepath.Join(root, "cache"),
		Jobs:  filepath.Join(root, "jobs"),
		Work:  filepath.Join(root, "work"),
		Media: filepath.Join(root, "media"),
	})
	require.NoError(t, st.EnsureDirs())
	return st
}

func saveJob(t *testing.T, st *store.Store, id string, kind job.Kind, recType, output string) job.Job {
	t.Helper()
	j := job.Job{
		RecordingID:   id,
		Kind:          kind,
		RecordingType: recType,
		Entry:         job.Entry{Name: id, URL: "http://x/" + id},
	}
	j.SetOutput(output)
	require.NoError(t, st.SaveJob(j))
	return j
}

func TestLiveWatcher_StopsUnwatchedLiveJobsOnly(t *testing.T) {
	st := newTestStore(t)
	work := st.Dirs().Work
	saveJob(t, st, "live-1", job.KindLive, job.TypeHLSLive, filepath.Join(work, "live-1", "index.m3u8"))
	saveJob(t, st, "live-2", job.KindLive, job.TypeHLSLive, filepath.Join(work, "live-2", "index.m3u8"))
	saveJob(t, st, "rec-1", job.KindRecording, job.TypeHLS, filepath.Join(work, "rec-1.ts"))

	now := time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC)
	viewers := tracker.NewViewers(15 * time.Second)
	viewers.SetClock(func() time.Time { return now })
	viewers.Track("live-1", "10.0.0.1")
	viewers.Track("live-2", "10.0.0.2")
	viewers.Track("rec-1", "10.0.0.3")

	stopper := &fakeStopper{}
	w := NewLiveWatcher(viewers, tracker.NewConsumers(), st, stopper, time.Hour)

	assert.Empty(t, w.Check(context.Background()))

	now = now.Add(20 * time.Second)
	viewers.Track("live-2", "10.0.0.2")

	assert.Equal(t, []string{"live-1"}, w.Check(context.Background()))
	assert.Equal(t, []string{"live-1"}, stopper.stopped())
	assert.Equal(t, []string{"live-2"}, viewers.Tracked(), "stopped and non-live IDs are forgotten")

	// a second pass does not stop again
	assert.Empty(t, w.Check(context.Background()))
	assert.Len(t, stopper.stopped(), 1)
}

func TestLiveWatcher_StartIsIdempotent(t *testing.T) {
	w := NewLiveWatcher(tracker.NewViewers(0), nil, newTestStore(t), &fakeStopper{}, 5*time.Millisecond)

	assert.True(t, w.Start())
	assert.False(t, w.Start())
	time.Sleep(20 * time.Millisecond)
	w.Stop()
	w.Stop()

	assert.True(t, w.Start(), "can be restarted after Stop")
	w.Stop()
}

func TestStatusWatcher_QueuesTerminalJobs(t *testing.T) {
	st := newTestStore(t)
	work := st.Dirs().Work
	dl := saveJob(t, st, "download-1", job.KindDownload, job.TypeDownload, filepath.Join(work, "download-1.mp4.part"))

	q := &fakeQueue{}
	w := NewStatusWatcher(st, q)
	require.NoError(t, w.Start())
	defer w.Stop()
	require.NoError(t, w.Start())

	require.NoError(t, os.WriteFile(dl.StatusFile, []byte("STATUS=downloading\n"), 0o644))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, q.queued())

	f, err := os.OpenFile(dl.StatusFile, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("STATUS=done\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		ids := q.queued()
		return len(ids) > 0 && ids[0] == "download-1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatusWatcher_WatchesNewLiveDirs(t *testing.T) {
	st := newTestStore(t)
	q := &fakeQueue{}
	w := NewStatusWatcher(st, q)
	require.NoError(t, w.Start())
	defer w.Stop()

	dir := filepath.Join(st.Dirs().Work, "live-9")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	live := saveJob(t, st, "live-9", job.KindLive, job.TypeHLSLive, filepath.Join(dir, "index.m3u8"))

	// give the watcher a moment to pick up the new directory
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(live.StatusFile, []byte("STATUS=live\nSTATUS=stopped\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, id := range q.queued() {
			if id == "live-9" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCheckStatusFile_UnknownJob(t *testing.T) {
	st := newTestStore(t)
	path := filepath.Join(st.Dirs().Work, "orphan.ts.status")
	require.NoError(t, os.WriteFile(path, []byte("STATUS=done\n"), 0o644))

	w := NewStatusWatcher(st, &fakeQueue{})
	assert.False(t, w.CheckStatusFile(context.Background(), path))
}
