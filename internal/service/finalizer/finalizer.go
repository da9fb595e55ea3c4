// Package finalizer turns a stopped job into its permanent form: media moved
// to the media namespace, an info record snapshotting logs and status, and
// no leftovers in the jobs, work or cache namespaces.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/m3u-dvr/internal/executor"
	"github.com/m3u-dvr/internal/fileops"
	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/metrics"
	"github.com/m3u-dvr/internal/queue"
	"github.com/m3u-dvr/internal/statusfile"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/pkg/logger"
)

// ErrNotTerminal is returned by Process while the worker is still running.
var ErrNotTerminal = errors.New("job has not reached a terminal status")

// Notifier is told about every finalized job.
type Notifier interface {
	JobFinished(ctx context.Context, name, recordingID, status, finalPath string) error
}

// Service finalizes jobs.
type Service struct {
	store    *store.Store
	oracle   executor.Oracle
	notifier Notifier
	now      func() time.Time
}

// New creates a finalizer. notifier may be nil.
func New(st *store.Store, oracle executor.Oracle, notifier Notifier) *Service {
	return &Service{store: st, oracle: oracle, notifier: notifier, now: time.Now}
}

// SetClock replaces the time source used for collision suffixes.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Finalize moves j's output to its permanent path and writes its info
// record. It returns false without error when the status or log file cannot
// be read; move and write failures are returned as errors and leave the job
// record in place.
func (s *Service) Finalize(ctx context.Context, j job.Job) (bool, error) {
	full, err := statusfile.ReadFull(j.StatusFile)
	if err != nil {
		logger.Warnf("⚠️ Cannot read status of %s: %v", j.RecordingID, err)
		return false, nil
	}
	logs, err := statusfile.ReadLog(j.LogFile)
	if err != nil {
		logger.Warnf("⚠️ Cannot read log of %s: %v", j.RecordingID, err)
		return false, nil
	}

	final, err := s.placeMedia(j)
	if err != nil {
		metrics.IncJobFinalized(string(j.Kind), "failed")
		return false, err
	}
	j.FinalOutputFile = final

	info := job.NewInfo(j, logs, full)
	if err := s.store.WriteJSON(s.store.InfoPath(j.RecordingID), info); err != nil {
		metrics.IncJobFinalized(string(j.Kind), "failed")
		return false, fmt.Errorf("write info record: %w", err)
	}
	if final != "" && fileops.Exists(final) {
		if err := s.store.WriteJSON(store.MediaInfoPath(final), info); err != nil {
			metrics.IncJobFinalized(string(j.Kind), "failed")
			return false, fmt.Errorf("write media info: %w", err)
		}
	}

	s.cleanup(j)

	status := lastStatus(full)
	metrics.IncJobFinalized(string(j.Kind), status)
	logger.Infof("✅ Finalized %s (%s) → %s", j.RecordingID, status, displayPath(final))
	s.notify(ctx, j, status, final)
	return true, nil
}

// placeMedia moves the working output to the permanent path, renaming on
// collision. It returns the path the media ended up at.
func (s *Service) placeMedia(j job.Job) (string, error) {
	final := j.FinalOutputFile
	if final == "" || !j.Kind.ProducesMedia() {
		return final, nil
	}
	if !fileops.Exists(j.OutputFile) {
		// worker died before producing anything
		return final, nil
	}
	if filepath.Clean(j.OutputFile) == filepath.Clean(final) {
		return final, nil
	}

	target := fileops.CollisionFreePath(final, s.now())
	if target != final {
		logger.Warnf("⚠️ %s already exists, saving as %s", filepath.Base(final), filepath.Base(target))
	}
	if err := fileops.EnsureDir(filepath.Dir(target)); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	if err := fileops.Move(j.OutputFile, target); err != nil {
		return "", fmt.Errorf("move %s to media: %w", filepath.Base(j.OutputFile), err)
	}
	logger.Infof("📦 Moved %s → %s", filepath.Base(j.OutputFile), target)
	return target, nil
}

// cleanup removes the job record, its work files and its cache entry.
// Failures are logged; the dangling sweep catches what is left.
func (s *Service) cleanup(j job.Job) {
	paths := []string{s.store.JobPath(j.RecordingID), j.LogFile, j.StatusFile}
	if j.Kind.CacheBacked() && j.CacheKey != "" {
		paths = append(paths, s.store.CachePath(j.CacheKey))
	}
	for _, p := range paths {
		if err := s.store.Delete(p); err != nil {
			logger.Warnf("⚠️ Failed to delete %s: %v", p, err)
		}
	}

	if j.Kind == job.KindLive {
		dir := filepath.Dir(j.OutputFile)
		if s.inWorkDir(dir) {
			if err := fileops.RemoveAll(dir); err != nil {
				logger.Warnf("⚠️ Failed to remove live dir %s: %v", dir, err)
			}
		}
	}
}

func (s *Service) inWorkDir(dir string) bool {
	work := filepath.Clean(s.store.Dirs().Work)
	rel, err := filepath.Rel(work, filepath.Clean(dir))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func (s *Service) notify(ctx context.Context, j job.Job, status, final string) {
	if s.notifier == nil || j.Kind == job.KindLive {
		return
	}
	if err := s.notifier.JobFinished(ctx, j.Entry.Name, j.RecordingID, status, final); err != nil {
		logger.Warnf("⚠️ Failed to send notification: %v", err)
	}
}

// Process implements queue.Processor. A job whose record is already gone
// counts as finalized.
func (s *Service) Process(ctx context.Context, task *queue.Task) error {
	j, err := s.store.LoadJob(task.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Debugf("Job %s already finalized", task.ID)
			return nil
		}
		return err
	}

	alive := func(pid int) bool { return s.oracle.IsAlive(ctx, pid) }
	snap, err := statusfile.Take(j, alive, 0)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if !snap.Terminal() {
		return fmt.Errorf("%s is %s: %w", task.ID, snap.Status, ErrNotTerminal)
	}
	if snap.Zombie {
		logger.Warnf("🧟 %s claims %s but pid %d is gone", task.ID, snap.ReportedAs, snap.PID)
	}

	ok, err := s.Finalize(ctx, j)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("finalize %s: status or log unreadable", task.ID)
	}
	return nil
}

// lastStatus is the final STATUS the worker wrote; a job that never reached
// a terminal status is reported as error.
func lastStatus(full map[string][]string) string {
	vals := full[job.KeyStatus]
	if len(vals) == 0 {
		return job.StatusError
	}
	st := vals[len(vals)-1]
	if !job.IsTerminal(st) {
		return job.StatusError
	}
	return st
}

func displayPath(p string) string {
	if p == "" {
		return "(no media)"
	}
	return p
}
