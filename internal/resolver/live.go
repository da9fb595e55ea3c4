package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/internal/executor"
	"github.com/m3u-dvr/internal/fileops"
	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/store"
)

const livePlaylist = "index.m3u8"

// Live restreams a channel as HLS into the work directory. At most one live
// job exists per cache key.
type Live struct {
	base
}

func NewLive(cfg *config.Config, st *store.Store, l executor.Launcher, gate Gate) *Live {
	return &Live{base: newBase(cfg, st, l, gate)}
}

// Start launches a live worker for the request, or returns a conflict with
// the recording ID of the job already serving the same cache key.
func (l *Live) Start(ctx context.Context, req StartRequest) Result {
	if req.CacheKey != "" {
		existing, err := l.store.FindJobByCacheKey(ctx, req.CacheKey, job.KindLive)
		switch {
		case err == nil:
			res := startFailure(job.KindLive, fmt.Errorf("live stream for %s: %w", req.CacheKey, ErrConflict))
			res.RecordingID = existing.RecordingID
			return res
		case !errors.Is(err, store.ErrNotFound):
			return startFailure(job.KindLive, err)
		}
	}

	entry, user, err := l.resolveEntry(req)
	if err != nil {
		return startFailure(job.KindLive, err)
	}
	serviceID, err := l.admit(ctx, entry.URL)
	if err != nil {
		return startFailure(job.KindLive, err)
	}

	now := l.now()
	id := job.NewRecordingID(job.KindLive.Prefix(), now, entry.URL)
	return l.persistAndLaunch(ctx, job.KindLive, id, l.cfg.Scripts.Live, func(id string) (job.Job, []string, error) {
		j := job.Job{
			RecordingID:   id,
			Kind:          job.KindLive,
			CacheKey:      req.CacheKey,
			User:          user,
			Format:        "m3u8",
			RecordingType: job.TypeHLSLive,
			StartTime:     now,
			CreatedAt:     now,
			Entry:         entry,
			ServiceID:     serviceID,
		}
		workDir := filepath.Join(l.store.Dirs().Work, id)
		j.SetOutput(filepath.Join(workDir, livePlaylist))
		if err := fileops.EnsureDir(workDir); err != nil {
			return job.Job{}, nil, fmt.Errorf("create live work dir: %w", err)
		}
		return j, l.workerArgs(j), nil
	})
}

// Stop stops the live job started from cacheKey.
func (l *Live) Stop(ctx context.Context, cacheKey string) Result {
	return l.stopByCacheKey(ctx, cacheKey, job.KindLive)
}

// StopByID stops a live job by recording ID. Jobs of other kinds are
// refused so a watcher can never stop a recording.
func (l *Live) StopByID(ctx context.Context, recordingID, trigger string) Result {
	j, err := l.store.LoadJob(recordingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failed(CodeNotFound, fmt.Errorf("job %s: %w", recordingID, ErrNotFound))
		}
		return failed(CodeInternal, err)
	}
	if !j.Kind.AutoStops() {
		return failed(CodeInvalid, fmt.Errorf("job %s is a %s job: %w", recordingID, j.Kind, ErrInvalid))
	}
	return l.StopJob(ctx, j, trigger)
}
