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

const defaultFormat = "ts"

// ScheduleRequest asks for a timed recording. A zero StartTime records now.
type ScheduleRequest struct {
	StartRequest
	StartTime time.Time `json:"startTime"`
	Duration  int       `json:"duration"` // seconds
	Format    string    `json:"format,omitempty"`
}

// Schedule records a channel for a fixed duration. The worker waits for
// StartTime itself, so the job exists from the moment it is scheduled.
type Schedule struct {
	base
}

func NewSchedule(cfg *config.Config, st *store.Store, l executor.Launcher, gate Gate) *Schedule {
	return &Schedule{base: newBase(cfg, st, l, gate)}
}

func (s *Schedule) Start(ctx context.Context, req ScheduleRequest) Result {
	if req.Duration <= 0 {
		return startFailure(job.KindRecording, fmt.Errorf("duration must be positive: %w", ErrInvalid))
	}
	entry, user, err := s.resolveEntry(req.StartRequest)
	if err != nil {
		return startFailure(job.KindRecording, err)
	}

	now := s.now()
	start := req.StartTime
	if start.IsZero() || start.Before(now) {
		start = now
	}
	format := strings.TrimPrefix(strings.ToLower(req.Format), ".")
	if format == "" {
		format = defaultFormat
	}
	recType := job.TypeFile
	if strings.HasSuffix(strings.ToLower(entry.URL), ".m3u8") {
		recType = job.TypeHLS
	}

	id := job.NewRecordingID(job.KindRecording.Prefix(), now, entry.URL)
	dirs := s.store.Dirs()
	title := fmt.Sprintf("%s %s", fileops.SanitizeName(entry.Name), start.Format("2006-01-02 15-04"))
	var serviceID string
	if s.gate != nil {
		serviceID = s.gate.ServiceFor(entry.URL)
	}

	return s.persistAndLaunch(ctx, job.KindRecording, id, s.cfg.Scripts.Record, func(id string) (job.Job, []string, error) {
		j := job.Job{
			RecordingID:     id,
			Kind:            job.KindRecording,
			CacheKey:        req.CacheKey,
			User:            user,
			FinalOutputFile: filepath.Join(dirs.Media, title+"."+format),
			Format:          format,
			RecordingType:   recType,
			StartTime:       start,
			CreatedAt:       now,
			Entry:           entry,
			Duration:        req.Duration,
			ServiceID:       serviceID,
		}
		j.SetOutput(filepath.Join(dirs.Work, id+"."+format))

		args := s.workerArgs(j,
			"--duration", seconds(req.Duration),
			"--format", format,
			"--startTime", start.Format(time.RFC3339),
		)
		return j, args, nil
	})
}

// Stop ends the recording scheduled from cacheKey, whether or not it has
// started capturing yet.
func (s *Schedule) Stop(ctx context.Context, cacheKey string) Result {
	return s.stopByCacheKey(ctx, cacheKey, job.KindRecording)
}
