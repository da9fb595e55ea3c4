package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/internal/executor"
	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/playlist"
	"github.com/m3u-dvr/internal/queue"
	"github.com/m3u-dvr/internal/resolver"
	"github.com/m3u-dvr/internal/service/cleanup"
	"github.com/m3u-dvr/internal/service/finalizer"
	"github.com/m3u-dvr/internal/service/usage"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/internal/tracker"
	"github.com/m3u-dvr/internal/version"
	"github.com/m3u-dvr/internal/watcher"
)

type testServer struct {
	router   *gin.Engine
	store    *store.Store
	queue    *queue.Queue
	launches *launches
}

type launches struct {
	mu      sync.Mutex
	scripts []string
}

func (l *launches) Launch(_ context.Context, script string, _ []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts = append(l.scripts, script)
	return nil
}

func (l *launches) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.scripts)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	st := store.New(store.Dirs{
		Cache: filepath.Join(root, "cache"),
		Jobs:  filepath.Join(root, "jobs"),
		Work:  filepath.Join(root, "work"),
		Media: filepath.Join(root, "media"),
	})
	require.NoError(t, st.EnsureDirs())

	cfg := &config.Config{
		Server: config.ServerConfig{BaseURL: "http://dvr:8080"},
		Scripts: config.ScriptsConfig{
			Record:   "/scripts/record.sh",
			Download: "/scripts/download.sh",
			Live:     "/scripts/live.sh",
			Movie:    "/scripts/movie.sh",
			Stop:     "/scripts/stop.sh",
		},
		Services: []config.ServiceConfig{
			{ID: "acme", Name: "Acme TV", ServerURL: "http://acme.tv", MaxConnections: 1},
		},
	}

	self := executor.OracleFunc(func(_ context.Context, pid int) bool { return pid == os.Getpid() })
	l := &launches{}
	consumers := tracker.NewConsumers()
	viewers := tracker.NewViewers(tracker.DefaultViewerTimeout)
	use := usage.New(cfg, st, consumers)

	live := resolver.NewLive(cfg, st, l, use)
	fin := finalizer.New(st, self, nil)
	q := queue.New(queue.ProcessorFunc(func(context.Context, *queue.Task) error { return nil }), 1, 0)
	t.Cleanup(q.Stop)

	lw := watcher.NewLiveWatcher(viewers, consumers, st, live, time.Hour)
	t.Cleanup(lw.Stop)

	h := New(Deps{
		Store:       st,
		Download:    resolver.NewDownload(cfg, st, l, use),
		Movie:       resolver.NewMovie(cfg, st, l, use),
		Live:        live,
		Schedule:    resolver.NewSchedule(cfg, st, l, use),
		Finalizer:   fin,
		Sweeper:     cleanup.New(st, self, fin, live, 6*time.Hour),
		DanglingAge: 24 * time.Hour,
		Queue:       q,
		Viewers:     viewers,
		Consumers:   consumers,
		Usage:       use,
		LiveWatcher: lw,
		Fetcher:     playlist.NewFetcher(config.PlaylistConfig{}),
		Cache:       playlist.NewCache(st),
		Oracle:      self,
	})
	r := gin.New()
	h.RegisterRoutes(r)
	return &testServer{router: r, store: st, queue: q, launches: l}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) cache(t *testing.T, name, url string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/cache", gin.H{
		"entry": job.Entry{Name: name, URL: url},
		"user":  "alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[job.CacheEntry](t, w).Key
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/version", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, version.Get().Version, decode[version.Info](t, w).Version)
}

func TestCache_PutAndGet(t *testing.T) {
	s := newTestServer(t)
	key := s.cache(t, "News", "http://acme.tv/live/news.m3u8")

	w := s.do(t, http.MethodGet, "/api/v1/cache/"+key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "News", decode[job.CacheEntry](t, w).Entry.Name)

	w = s.do(t, http.MethodGet, "/api/v1/cache/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cache", gin.H{"entry": gin.H{"name": "no url"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownload_StartPollFinalize(t *testing.T) {
	s := newTestServer(t)
	key := s.cache(t, "Big Movie", "http://cdn.example/big.mp4")

	w := s.do(t, http.MethodPost, "/api/v1/download", resolver.StartRequest{CacheKey: key})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	res := decode[resolver.Result](t, w)
	require.True(t, res.Success)
	assert.Equal(t, 1, s.launches.count())

	j, err := s.store.LoadJob(res.RecordingID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(j.OutputFile, []byte("media"), 0o644))
	require.NoError(t, os.WriteFile(j.StatusFile, []byte(fmt.Sprintf("STATUS=downloading\nPID=%d\n", os.Getpid())), 0o644))

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+res.RecordingID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[struct {
		Finalizing bool `json:"finalizing"`
	}](t, w)
	assert.False(t, status.Finalizing)

	require.NoError(t, os.WriteFile(j.StatusFile, []byte("STATUS=downloading\nSTATUS=done\n"), 0o644))
	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+res.RecordingID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"finalizing":true`)
	require.NotNil(t, s.queue.GetTask(res.RecordingID))

	w = s.do(t, http.MethodPost, "/api/v1/jobs/"+res.RecordingID+"/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+res.RecordingID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"finalized":true`)

	w = s.do(t, http.MethodGet, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		History []historyItem `json:"history"`
	}](t, w)
	require.Len(t, history.History, 1)
	assert.Equal(t, job.StatusDone, history.History[0].Status)
	assert.Equal(t, filepath.Join(s.store.Dirs().Media, "Big Movie.mp4"), history.History[0].FinalPath)

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+res.RecordingID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"done"`)
}

func TestStart_ErrorCodes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/download", resolver.StartRequest{CacheKey: "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/schedule", gin.H{"cacheKey": s.cache(t, "Show", "http://x/show.ts")})
	assert.Equal(t, http.StatusBadRequest, w.Code, "duration is required")

	w = s.do(t, http.MethodDelete, "/api/v1/download/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLive_ConflictAndViewers(t *testing.T) {
	s := newTestServer(t)
	key := s.cache(t, "News", "http://news.example/live.m3u8")

	w := s.do(t, http.MethodPost, "/api/v1/live", resolver.StartRequest{CacheKey: key})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decode[resolver.Result](t, w).RecordingID

	w = s.do(t, http.MethodPost, "/api/v1/live", resolver.StartRequest{CacheKey: key})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, id, decode[resolver.Result](t, w).RecordingID)

	w = s.do(t, http.MethodGet, "/api/v1/live/"+id+"/viewers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"viewers":1`)

	w = s.do(t, http.MethodPost, "/api/v1/live/"+id+"/heartbeat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"viewers":1`, "same client counts once")
}

func TestConsumers_Limit(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/consumers", gin.H{"consumerId": "tv-1", "serviceId": "acme"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/consumers", gin.H{"consumerId": "tv-2", "url": "http://acme.tv/ch/1"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/consumers", gin.H{"consumerId": "tv-1", "serviceId": "acme"})
	assert.Equal(t, http.StatusOK, w.Code, "an existing consumer may re-register")

	w = s.do(t, http.MethodGet, "/api/v1/services/acme/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	u := decode[usage.Usage](t, w)
	assert.Equal(t, 1, u.Consumers)
	assert.Equal(t, 1, u.Limit)

	w = s.do(t, http.MethodDelete, "/api/v1/consumers/tv-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/consumers", gin.H{"consumerId": "tv-3"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallback(t *testing.T) {
	s := newTestServer(t)
	key := s.cache(t, "Clip", "http://cdn.example/clip.mkv")
	w := s.do(t, http.MethodPost, "/api/v1/download", resolver.StartRequest{CacheKey: key})
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[resolver.Result](t, w).RecordingID
	j, err := s.store.LoadJob(id)
	require.NoError(t, err)

	w = s.do(t, http.MethodPost, "/api/v1/callback", gin.H{"outputFile": j.OutputFile, "status": "done"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"queued":true`)

	w = s.do(t, http.MethodPost, "/api/v1/callback", gin.H{"outputFile": "/nowhere.ts", "status": "done"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/callback", gin.H{"status": "done"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogs_Tail(t *testing.T) {
	s := newTestServer(t)
	key := s.cache(t, "Clip", "http://cdn.example/clip.mkv")
	w := s.do(t, http.MethodPost, "/api/v1/download", resolver.StartRequest{CacheKey: key})
	id := decode[resolver.Result](t, w).RecordingID
	j, err := s.store.LoadJob(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(j.LogFile, []byte("one\ntwo\nthree\n"), 0o644))

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+id+"/logs?tail=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[struct {
		Logs []string `json:"logs"`
	}](t, w)
	assert.Equal(t, []string{"two", "three"}, logs.Logs)

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+id+"/logs?tail=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/jobs/missing/logs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCleanupEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/cleanup/candidates?force=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cleanup/candidates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	w = s.do(t, http.MethodPost, "/api/v1/cleanup?force=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sweep"`)

	w = s.do(t, http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending"`)
}

func TestStatusFor(t *testing.T) {
	cases := map[resolver.Code]int{
		resolver.CodeOK:          http.StatusAccepted,
		resolver.CodeInvalid:     http.StatusBadRequest,
		resolver.CodeNotFound:    http.StatusNotFound,
		resolver.CodeConflict:    http.StatusConflict,
		resolver.CodeLimit:       http.StatusTooManyRequests,
		resolver.CodeSpawnFailed: http.StatusBadGateway,
		resolver.CodeInternal:    http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusFor(resolver.Result{Code: code}, http.StatusAccepted), code)
	}
}
