// Package job defines the durable records shared by the resolvers, the
// finalizer and the cleanup sweeper.
package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates what a job does.
type Kind string

const (
	KindRecording Kind = "recording"
	KindLive      Kind = "live"
	KindDownload  Kind = "download"
	KindMovie     Kind = "movie"
)

// Recording types as seen by the worker scripts.
const (
	TypeFile     = "file"
	TypeHLS      = "hls"
	TypeHLSLive  = "hls-live"
	TypeDownload = "download"
	TypeMovie    = "movie"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRecording, KindLive, KindDownload, KindMovie:
		return true
	}
	return false
}

// Prefix is the recording ID prefix for the kind.
func (k Kind) Prefix() string {
	switch k {
	case KindRecording:
		return "rec"
	case KindLive:
		return "live"
	case KindDownload:
		return "download"
	case KindMovie:
		return "movie"
	}
	return "job"
}

// AutoStops reports whether the job should be stopped once nobody watches it.
func (k Kind) AutoStops() bool {
	switch k {
	case KindLive:
		return true
	case KindRecording, KindDownload, KindMovie:
		return false
	}
	return false
}

// CacheBacked reports whether the job was started from an ephemeral cache
// entry that must be removed when the job is finalized.
func (k Kind) CacheBacked() bool {
	switch k {
	case KindLive, KindDownload, KindMovie:
		return true
	case KindRecording:
		return false
	}
	return false
}

// ProducesMedia reports whether a finalized job leaves a media file behind.
func (k Kind) ProducesMedia() bool {
	switch k {
	case KindLive:
		return false
	case KindRecording, KindDownload, KindMovie:
		return true
	}
	return false
}

// Entry is a denormalized copy of the playlist entry that spawned a job.
type Entry struct {
	Name  string `json:"name"`
	Group string `json:"group,omitempty"`
	Logo  string `json:"logo,omitempty"`
	URL   string `json:"url"`
	TvgID string `json:"tvgId,omitempty"`
}

// Job is the durable description of one recording, download or stream.
// It is written once before the worker starts and never modified afterwards.
type Job struct {
	RecordingID     string    `json:"recordingId"`
	Kind            Kind      `json:"kind"`
	CacheKey        string    `json:"cacheKey"`
	User            string    `json:"user"`
	OutputFile      string    `json:"outputFile"`
	FinalOutputFile string    `json:"finalOutputFile,omitempty"`
	LogFile         string    `json:"logFile"`
	StatusFile      string    `json:"statusFile"`
	Format          string    `json:"format,omitempty"`
	RecordingType   string    `json:"recordingType"`
	StartTime       time.Time `json:"startTime"`
	CreatedAt       time.Time `json:"createdAt"`
	Entry           Entry     `json:"entry"`
	ServiceID       string    `json:"serviceId,omitempty"`

	// Recording only.
	Duration int `json:"duration,omitempty"` // seconds
	// Download and movie only.
	URL string `json:"url,omitempty"`
}

// LogPath returns the worker log path derived from outputFile.
func LogPath(outputFile string) string { return outputFile + ".log" }

// StatusPath returns the worker status path derived from outputFile.
func StatusPath(outputFile string) string { return outputFile + ".status" }

// SetOutput sets the working output path and the co-located log and status paths.
func (j *Job) SetOutput(outputFile string) {
	j.OutputFile = outputFile
	j.LogFile = LogPath(outputFile)
	j.StatusFile = StatusPath(outputFile)
}

// Validate checks the invariants a job must satisfy before it is persisted.
func (j *Job) Validate() error {
	if j.RecordingID == "" {
		return fmt.Errorf("recordingId is required")
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if j.OutputFile == "" {
		return fmt.Errorf("outputFile is required")
	}
	if j.LogFile != LogPath(j.OutputFile) || j.StatusFile != StatusPath(j.OutputFile) {
		return fmt.Errorf("log and status files must sit next to outputFile")
	}
	if j.Entry.URL == "" {
		return fmt.Errorf("entry is required")
	}
	return nil
}

// Info is the terminal snapshot of a finished job.
type Info struct {
	Job    Job                     `json:"job"`
	Logs   []string                `json:"logs"`
	Status map[string]StatusValues `json:"status"`
}

// StatusValues is the history of one status key. A single value marshals as
// a plain string, more than one as an array.
type StatusValues []string

func (v StatusValues) MarshalJSON() ([]byte, error) {
	if len(v) == 1 {
		return json.Marshal(v[0])
	}
	return json.Marshal([]string(v))
}

func (v *StatusValues) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = StatusValues{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("status value: %w", err)
	}
	*v = many
	return nil
}

// Last returns the most recent value, or "" when there is none.
func (v StatusValues) Last() string {
	if len(v) == 0 {
		return ""
	}
	return v[len(v)-1]
}

// NewInfo builds an info record from a full status history.
func NewInfo(j Job, logs []string, full map[string][]string) Info {
	status := make(map[string]StatusValues, len(full))
	for k, vals := range full {
		status[k] = StatusValues(vals)
	}
	if logs == nil {
		logs = []string{}
	}
	return Info{Job: j, Logs: logs, Status: status}
}

// Reason classifies why the sweeper picked up a job.
type Reason string

const (
	ReasonGhost  Reason = "ghost"
	ReasonZombie Reason = "zombie"
	ReasonDone   Reason = "done"
	ReasonForced Reason = "forced"
)

// Candidate is one sweep classification. It is never persisted.
type Candidate struct {
	Job      Job    `json:"job"`
	Reason   Reason `json:"reason"`
	FullPath string `json:"fullPath"`
}

// CacheEntry is a playlist entry parked in the cache namespace until a job
// is started from it.
type CacheEntry struct {
	Key       string    `json:"key"`
	Entry     Entry     `json:"entry"`
	User      string    `json:"user,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
