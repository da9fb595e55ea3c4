// Package resolver turns start and stop requests into job records and
// detached worker invocations. A job record is always written before its
// worker is launched, so the sweeper can reconcile any failure in between.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"

	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/internal/executor"
	"github.com/m3u-dvr/internal/fileops"
	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/metrics"
	"github.com/m3u-dvr/internal/service/usage"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/pkg/logger"
)

var (
	ErrInvalid  = errors.New("invalid request")
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already running")
)

// Code classifies a Result for the transport layer.
type Code string

const (
	CodeOK          Code = "ok"
	CodeInvalid     Code = "invalid"
	CodeNotFound    Code = "not_found"
	CodeConflict    Code = "conflict"
	CodeLimit       Code = "limit_reached"
	CodeSpawnFailed Code = "spawn_failed"
	CodeInternal    Code = "internal"
)

// Result is what every start and stop returns. Failures never escape as Go
// errors.
type Result struct {
	Success     bool   `json:"success"`
	RecordingID string `json:"recordingId,omitempty"`
	Error       string `json:"error,omitempty"`
	Code        Code   `json:"code"`
}

func succeeded(id string) Result {
	return Result{Success: true, RecordingID: id, Code: CodeOK}
}

func failed(code Code, err error) Result {
	return Result{Code: code, Error: err.Error()}
}

// Gate decides whether a service has room for another connection.
type Gate interface {
	ServiceFor(rawURL string) string
	Admit(ctx context.Context, serviceID string) error
}

// StartRequest is common to every kind. Entry, when given, is used instead
// of looking up CacheKey in the cache namespace.
type StartRequest struct {
	CacheKey string     `json:"cacheKey"`
	User     string     `json:"user"`
	Entry    *job.Entry `json:"entry,omitempty"`
}

type base struct {
	cfg      *config.Config
	store    *store.Store
	launcher executor.Launcher
	gate     Gate
	now      func() time.Time
}

func newBase(cfg *config.Config, st *store.Store, l executor.Launcher, gate Gate) base {
	return base{cfg: cfg, store: st, launcher: l, gate: gate, now: time.Now}
}

// SetClock replaces the time source used for IDs and timestamps.
func (b *base) SetClock(now func() time.Time) { b.now = now }

func quote(s string) string { return shellescape.Quote(s) }

// resolveEntry returns the playlist entry for the request.
func (b *base) resolveEntry(req StartRequest) (job.Entry, string, error) {
	user := req.User
	if req.Entry != nil {
		if req.Entry.URL == "" {
			return job.Entry{}, "", fmt.Errorf("entry url is required: %w", ErrInvalid)
		}
		return *req.Entry, user, nil
	}
	if req.CacheKey == "" {
		return job.Entry{}, "", fmt.Errorf("cacheKey is required: %w", ErrInvalid)
	}
	cached, err := b.store.GetCacheEntry(req.CacheKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return job.Entry{}, "", fmt.Errorf("cache entry %s: %w", req.CacheKey, ErrNotFound)
		}
		return job.Entry{}, "", err
	}
	if user == "" {
		user = cached.User
	}
	return cached.Entry, user, nil
}

// admit checks the service budget for entry; returns the service ID.
func (b *base) admit(ctx context.Context, entryURL string) (string, error) {
	if b.gate == nil {
		return "", nil
	}
	serviceID := b.gate.ServiceFor(entryURL)
	if err := b.gate.Admit(ctx, serviceID); err != nil {
		return serviceID, err
	}
	return serviceID, nil
}

// workerArgs builds the flag list every worker understands. Values are
// shell-quoted here; the worker receives them verbatim.
func (b *base) workerArgs(j job.Job, extra ...string) []string {
	source := j.Entry.URL
	if j.URL != "" {
		source = j.URL
	}
	args := []string{
		"--url", quote(source),
		"--outputFile", quote(j.OutputFile),
		"--user", quote(j.User),
		"--baseUrl", quote(b.cfg.Server.BaseURL),
		"--cacheKey", quote(j.CacheKey),
		"--loglevel", quote(b.logLevel()),
	}
	for i := 0; i+1 < len(extra); i += 2 {
		args = append(args, extra[i], quote(extra[i+1]))
	}
	return args
}

func (b *base) logLevel() string {
	if b.cfg.Scripts.LogLevel == "" {
		return "info"
	}
	return b.cfg.Scripts.LogLevel
}

// jobBuilder returns the job and its worker arguments for a recording ID.
type jobBuilder func(id string) (job.Job, []string, error)

// maxIDAttempts bounds the retries for IDs taken within the same millisecond.
const maxIDAttempts = 10

// persistAndLaunch writes the job record, then spawns the worker. A failed
// spawn leaves the record in place for the sweeper.
func (b *base) persistAndLaunch(ctx context.Context, kind job.Kind, id, script string, build jobBuilder) Result {
	j, args, err := b.reserve(id, build)
	if err != nil {
		logger.Errorf("❌ Failed to persist job %s: %v", id, err)
		metrics.IncJobStarted(string(kind), string(CodeInternal))
		return failed(CodeInternal, err)
	}

	if err := b.launcher.Launch(ctx, script, args); err != nil {
		logger.Errorf("❌ Failed to spawn worker for %s: %v", j.RecordingID, err)
		metrics.IncJobStarted(string(j.Kind), string(CodeSpawnFailed))
		return failed(CodeSpawnFailed, fmt.Errorf("spawn worker: %w", err))
	}

	logger.Infof("📥 Job started: %s (%s, %s)", j.RecordingID, j.Kind, j.Entry.Name)
	metrics.IncJobStarted(string(j.Kind), string(CodeOK))
	return succeeded(j.RecordingID)
}

// reserve saves the first free sequence variant of id.
func (b *base) reserve(id string, build jobBuilder) (job.Job, []string, error) {
	for n := 1; n <= maxIDAttempts; n++ {
		j, args, err := build(job.WithSequence(id, n))
		if err != nil {
			return job.Job{}, nil, err
		}
		err = b.store.SaveJob(j)
		if err == nil {
			return j, args, nil
		}
		if !errors.Is(err, store.ErrExists) {
			return job.Job{}, nil, err
		}
		logger.Debugf("recording ID %s taken, retrying", j.RecordingID)
	}
	return job.Job{}, nil, fmt.Errorf("no free recording ID for %s: %w", id, store.ErrExists)
}

// StopJob hands j to the detached stop helper. The effect shows up later as
// a status transition.
func (b *base) StopJob(ctx context.Context, j job.Job, trigger string) Result {
	args := []string{"--outputFile", quote(j.OutputFile)}
	if err := b.launcher.Launch(ctx, b.cfg.Scripts.Stop, args); err != nil {
		logger.Errorf("❌ Failed to spawn stop helper for %s: %v", j.RecordingID, err)
		return failed(CodeSpawnFailed, fmt.Errorf("spawn stop helper: %w", err))
	}
	logger.Infof("🛑 Stop requested: %s (%s)", j.RecordingID, trigger)
	metrics.IncJobStopped(string(j.Kind), trigger)
	return succeeded(j.RecordingID)
}

func (b *base) stopByCacheKey(ctx context.Context, cacheKey string, kinds ...job.Kind) Result {
	if cacheKey == "" {
		return failed(CodeInvalid, fmt.Errorf("cacheKey is required: %w", ErrInvalid))
	}
	j, err := b.store.FindJobByCacheKey(ctx, cacheKey, kinds...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failed(CodeNotFound, fmt.Errorf("no job for cache key %s: %w", cacheKey, ErrNotFound))
		}
		return failed(CodeInternal, err)
	}
	return b.StopJob(ctx, j, "request")
}

// startFailure maps an error from the preparation phase onto a Result.
func startFailure(kind job.Kind, err error) Result {
	code := CodeInternal
	switch {
	case errors.Is(err, ErrInvalid):
		code = CodeInvalid
	case errors.Is(err, ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, ErrConflict):
		code = CodeConflict
	case errors.Is(err, usage.ErrLimitReached):
		code = CodeLimit
	}
	metrics.IncJobStarted(string(kind), string(code))
	return failed(code, err)
}

// mediaExt returns the container extension of a URL, or fallback when the
// URL does not name a known media file. Playlists never name the download.
func mediaExt(rawURL, fallback string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == ".m3u8" || !fileops.IsMediaFile(ext) {
		return fallback
	}
	return ext
}

func seconds(n int) string { return strconv.Itoa(n) }
