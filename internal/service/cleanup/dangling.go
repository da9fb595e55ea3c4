package cleanup

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/m3u-dvr/internal/fileops"
	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/metrics"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/pkg/logger"
)

// Orphan classes pruned by DeleteOldDanglingJobs.
const (
	ClassCache     = "cache"
	ClassInfo      = "info"
	ClassWork      = "work"
	ClassMediaInfo = "media_info"
)

// DanglingReport counts deleted artifacts per class.
type DanglingReport map[string]int

// DeleteOldDanglingJobs removes artifacts older than age that no job record
// accounts for: cache entries, info records without media, work files
// and media sidecars without media. No status is inspected.
func (s *Sweeper) DeleteOldDanglingJobs(ctx context.Context, age time.Duration) (DanglingReport, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	owned := ownership(jobs)
	cutoff := s.now().Add(-age)

	var mu sync.Mutex
	report := DanglingReport{}
	count := func(class string, n int) {
		mu.Lock()
		report[class] += n
		mu.Unlock()
		metrics.AddDanglingDeleted(class, n)
	}

	dirs := s.store.Dirs()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.pruneFiles(gctx, dirs.Cache, cutoff, func(path string) bool {
			key := strings.TrimSuffix(filepath.Base(path), ".json")
			return strings.HasSuffix(path, ".json") && !owned.cacheKeys[key]
		})
		count(ClassCache, n)
		return err
	})
	g.Go(func() error {
		n, err := s.pruneInfos(gctx, cutoff)
		count(ClassInfo, n)
		return err
	})
	g.Go(func() error {
		n, err := s.pruneWork(gctx, dirs.Work, cutoff, owned.workPaths)
		count(ClassWork, n)
		return err
	})
	g.Go(func() error {
		n, err := s.pruneFiles(gctx, dirs.Media, cutoff, func(path string) bool {
			return strings.HasSuffix(path, ".json") && !fileops.Exists(strings.TrimSuffix(path, ".json"))
		})
		count(ClassMediaInfo, n)
		return err
	})

	err = g.Wait()
	total := 0
	for _, n := range report {
		total += n
	}
	if total > 0 {
		logger.Infof("🧹 Pruned %d dangling artifact(s): %v", total, map[string]int(report))
	}
	return report, err
}

type owners struct {
	cacheKeys map[string]bool
	workPaths map[string]bool
}

func ownership(jobs []store.JobFile) owners {
	o := owners{cacheKeys: map[string]bool{}, workPaths: map[string]bool{}}
	for _, jf := range jobs {
		j := jf.Job
		if j.CacheKey != "" {
			o.cacheKeys[j.CacheKey] = true
		}
		for _, p := range []string{j.OutputFile, j.LogFile, j.StatusFile} {
			o.workPaths[filepath.Clean(p)] = true
		}
		if j.Kind == job.KindLive {
			o.workPaths[filepath.Clean(filepath.Dir(j.OutputFile))] = true
		}
	}
	return o
}

func (s *Sweeper) pruneFiles(ctx context.Context, dir string, cutoff time.Time, orphan func(path string) bool) (int, error) {
	files, err := s.store.ListFiles(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if f.ModTime.After(cutoff) || !orphan(f.Path) {
			continue
		}
		if err := s.store.Delete(f.Path); err != nil {
			logger.Warnf("⚠️ %v", err)
			continue
		}
		n++
	}
	return n, nil
}

func (s *Sweeper) pruneInfos(ctx context.Context, cutoff time.Time) (int, error) {
	infos, err := s.store.ListInfos(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, inf := range infos {
		final := inf.Info.Job.FinalOutputFile
		// live jobs have no media and keep their info record
		if inf.ModTime.After(cutoff) || final == "" || fileops.Exists(final) {
			continue
		}
		if err := s.store.Delete(inf.Path); err != nil {
			logger.Warnf("⚠️ %v", err)
			continue
		}
		n++
	}
	return n, nil
}

func (s *Sweeper) pruneWork(ctx context.Context, dir string, cutoff time.Time, owned map[string]bool) (int, error) {
	entries, err := s.store.ListEntries(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if e.ModTime.After(cutoff) || owned[filepath.Clean(e.Path)] {
			continue
		}
		if err := fileops.RemoveAll(e.Path); err != nil {
			logger.Warnf("⚠️ Failed to remove %s: %v", e.Path, err)
			continue
		}
		n++
	}
	return n, nil
}
