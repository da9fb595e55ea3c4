package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/internal/executor"
	"github.com/m3u-dvr/internal/fileops"
	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/store"
)

const partSuffix = ".part"

// Download fetches a whole file (VOD entry or movie) through a worker.
type Download struct {
	base
	kind job.Kind
}

// NewDownload creates the resolver for plain downloads.
func NewDownload(cfg *config.Config, st *store.Store, l executor.Launcher, gate Gate) *Download {
	return &Download{base: newBase(cfg, st, l, gate), kind: job.KindDownload}
}

// NewMovie creates the resolver for movie downloads from a streaming
// service. Movies count against the service's connection budget.
func NewMovie(cfg *config.Config, st *store.Store, l executor.Launcher, gate Gate) *Download {
	return &Download{base: newBase(cfg, st, l, gate), kind: job.KindMovie}
}

// Start builds the job, persists it and launches the download worker.
func (d *Download) Start(ctx context.Context, req StartRequest) Result {
	entry, user, err := d.resolveEntry(req)
	if err != nil {
		return startFailure(d.kind, err)
	}

	var serviceID string
	if d.kind == job.KindMovie {
		if serviceID, err = d.admit(ctx, entry.URL); err != nil {
			return startFailure(d.kind, err)
		}
	} else if d.gate != nil {
		serviceID = d.gate.ServiceFor(entry.URL)
	}

	now := d.now()
	id := job.NewRecordingID(d.kind.Prefix(), now, entry.URL)
	return d.persistAndLaunch(ctx, d.kind, id, d.script(), func(id string) (job.Job, []string, error) {
		j := d.build(id, now, entry, req.CacheKey, user, serviceID)
		return j, d.workerArgs(j, "--format", j.Format), nil
	})
}

// Stop asks the worker downloading cacheKey to stop.
func (d *Download) Stop(ctx context.Context, cacheKey string) Result {
	return d.stopByCacheKey(ctx, cacheKey, d.kind)
}

func (d *Download) build(id string, now time.Time, entry job.Entry, cacheKey, user, serviceID string) job.Job {
	ext := mediaExt(entry.URL, ".mp4")
	dirs := d.store.Dirs()

	j := job.Job{
		RecordingID:     id,
		Kind:            d.kind,
		CacheKey:        cacheKey,
		User:            user,
		FinalOutputFile: filepath.Join(dirs.Media, fileops.SanitizeName(entry.Name)+ext),
		Format:          strings.TrimPrefix(ext, "."),
		RecordingType:   job.TypeDownload,
		StartTime:       now,
		CreatedAt:       now,
		Entry:           entry,
		ServiceID:       serviceID,
		URL:             entry.URL,
	}
	if d.kind == job.KindMovie {
		j.RecordingType = job.TypeMovie
	}
	j.SetOutput(filepath.Join(dirs.Work, id+ext+partSuffix))
	return j
}

func (d *Download) script() string {
	if d.kind == job.KindMovie && d.cfg.Scripts.Movie != "" {
		return d.cfg.Scripts.Movie
	}
	return d.cfg.Scripts.Download
}

func (d *Download) String() string { return fmt.Sprintf("resolver(%s)", d.kind) }
