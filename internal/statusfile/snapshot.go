package statusfile

import (
	"strconv"

	"github.com/m3u-dvr/internal/job"
)

// Snapshot is the poll-time view of a running job.
type Snapshot struct {
	Status       string            `json:"status"`
	ReportedAs   string            `json:"reportedAs,omitempty"`
	PID          int               `json:"pid,omitempty"`
	Alive        bool              `json:"alive"`
	Zombie       bool              `json:"zombie"`
	Progress     *float64          `json:"progress,omitempty"`
	Values       map[string]string `json:"values"`
	LastLogLines []string          `json:"lastLogLines"`
}

// Terminal reports whether the snapshot should lead to finalization.
func (s Snapshot) Terminal() bool {
	return job.IsTerminal(s.Status)
}

// PID parses the latest PID value; 0 when missing or malformed.
func PID(latest map[string]string) int {
	pid, err := strconv.Atoi(latest[job.KeyPID])
	if err != nil || pid < 0 {
		return 0
	}
	return pid
}

// Take reads the job's status and log files. An active status whose PID is
// not alive is reported as error, with the worker's own value kept in
// ReportedAs.
func Take(j job.Job, alive func(pid int) bool, tail int) (Snapshot, error) {
	latest, err := ReadLatest(j.StatusFile)
	if err != nil {
		return Snapshot{}, err
	}
	logs, err := ReadLog(j.LogFile)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Status: job.Normalize(latest[job.KeyStatus]),
		PID:    PID(latest),
		Values: latest,
	}
	if snap.PID > 0 && alive != nil {
		snap.Alive = alive(snap.PID)
	}
	if job.IsActive(snap.Status) && !snap.Alive {
		snap.Zombie = true
		snap.ReportedAs = snap.Status
		snap.Status = job.StatusError
	}
	if p, ok := ExtractLatestProgress(logs); ok {
		snap.Progress = &p
	}
	if tail > 0 && len(logs) > tail {
		logs = logs[len(logs)-tail:]
	}
	snap.LastLogLines = logs
	return snap, nil
}
