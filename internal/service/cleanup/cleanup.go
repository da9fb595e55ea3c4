// Package cleanup reconciles job records that were never finalized and
// prunes artifacts that outlived their jobs.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/m3u-dvr/internal/executor"
	"github.com/m3u-dvr/internal/fileops"
	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/metrics"
	"github.com/m3u-dvr/internal/resolver"
	"github.com/m3u-dvr/internal/statusfile"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/pkg/logger"
)

// Finalizer finalizes a single job.
type Finalizer interface {
	Finalize(ctx context.Context, j job.Job) (bool, error)
}

// Stopper asks a running worker to stop.
type Stopper interface {
	StopJob(ctx context.Context, j job.Job, trigger string) resolver.Result
}

// Report summarizes one sweep.
type Report struct {
	Candidates []job.Candidate `json:"candidates"`
	Finalized  int             `json:"finalized"`
	Deleted    int             `json:"deleted"`
	Failed     int             `json:"failed"`
}

// Sweeper classifies job records and acts on them.
type Sweeper struct {
	store     *store.Store
	oracle    executor.Oracle
	finalizer Finalizer
	stopper   Stopper
	minAge    time.Duration
	now       func() time.Time
}

// New creates a sweeper. stopper may be nil, in which case forced
// candidates are finalized without stopping their worker first.
func New(st *store.Store, oracle executor.Oracle, f Finalizer, stopper Stopper, minAge time.Duration) *Sweeper {
	return &Sweeper{
		store:     st,
		oracle:    oracle,
		finalizer: f,
		stopper:   stopper,
		minAge:    minAge,
		now:       time.Now,
	}
}

// SetClock replaces the time source used for the age gates.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// FindCandidates classifies every job record. Unless force is set, records
// that are already finalized or younger than the minimum age are skipped.
func (s *Sweeper) FindCandidates(ctx context.Context, force bool) ([]job.Candidate, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	now := s.now()
	var out []job.Candidate
	for _, jf := range jobs {
		j := jf.Job
		hasInfo := s.store.Exists(s.store.InfoPath(j.RecordingID))
		hasMedia := j.FinalOutputFile != "" && fileops.Exists(j.FinalOutputFile)

		if hasInfo && hasMedia && !force {
			continue
		}
		if !force && now.Sub(jf.ModTime) < s.minAge {
			continue
		}
		// scheduled recordings wait for their start with no output yet
		if j.StartTime.After(now) && !force {
			continue
		}

		latest, err := statusfile.ReadLatest(j.StatusFile)
		if err != nil {
			logger.Warnf("⚠️ Cannot read status of %s: %v", j.RecordingID, err)
			continue
		}
		status := latest[job.KeyStatus]
		pid := statusfile.PID(latest)
		alive := pid > 0 && s.oracle.IsAlive(ctx, pid)

		var reason job.Reason
		switch {
		case !hasInfo && !hasMedia && !fileops.Exists(j.OutputFile):
			reason = job.ReasonGhost
		case !alive && !job.IsTerminal(status):
			reason = job.ReasonZombie
		case job.IsTerminal(status):
			reason = job.ReasonDone
		case force:
			reason = job.ReasonForced
		default:
			continue
		}

		out = append(out, job.Candidate{Job: j, Reason: reason, FullPath: jf.Path})
	}
	return out, nil
}

// Sweep acts on every candidate. A failing candidate is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context, force bool) (Report, error) {
	candidates, err := s.FindCandidates(ctx, force)
	if err != nil {
		return Report{}, err
	}

	report := Report{Candidates: candidates}
	if len(candidates) == 0 {
		logger.Debugf("🧹 Nothing to sweep")
		return report, nil
	}
	logger.Infof("🧹 Sweeping %d job(s) (force=%v)", len(candidates), force)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		metrics.IncCleanupCandidate(string(c.Reason))
		switch c.Reason {
		case job.ReasonGhost:
			s.stopIfRunning(ctx, c.Job)
			if err := s.deleteGhost(c); err != nil {
				logger.Errorf("❌ Failed to delete ghost %s: %v", c.Job.RecordingID, err)
				report.Failed++
				continue
			}
			report.Deleted++
		case job.ReasonZombie, job.ReasonDone, job.ReasonForced:
			if c.Reason == job.ReasonZombie {
				logger.Warnf("🧟 %s stopped reporting, finalizing as failed", c.Job.RecordingID)
			}
			if c.Reason == job.ReasonForced {
				s.stopIfRunning(ctx, c.Job)
			}
			ok, err := s.finalizer.Finalize(ctx, c.Job)
			if err != nil || !ok {
				logger.Errorf("❌ Failed to finalize %s (%s): %v", c.Job.RecordingID, c.Reason, err)
				report.Failed++
				continue
			}
			report.Finalized++
		}
	}

	logger.Infof("🧹 Sweep done: %d finalized, %d deleted, %d failed",
		report.Finalized, report.Deleted, report.Failed)
	return report, nil
}

// deleteGhost removes a record that never produced anything.
func (s *Sweeper) deleteGhost(c job.Candidate) error {
	logger.Infof("👻 Removing ghost job %s", c.Job.RecordingID)
	for _, p := range []string{c.Job.LogFile, c.Job.StatusFile} {
		if err := s.store.Delete(p); err != nil {
			logger.Warnf("⚠️ %v", err)
		}
	}
	return s.store.Delete(c.FullPath)
}

func (s *Sweeper) stopIfRunning(ctx context.Context, j job.Job) {
	if s.stopper == nil {
		return
	}
	latest, err := statusfile.ReadLatest(j.StatusFile)
	if err != nil {
		return
	}
	pid := statusfile.PID(latest)
	if pid <= 0 || !s.oracle.IsAlive(ctx, pid) {
		return
	}
	if res := s.stopper.StopJob(ctx, j, "sweep"); !res.Success {
		logger.Warnf("⚠️ Could not stop %s before cleanup: %s", j.RecordingID, res.Error)
	}
}
