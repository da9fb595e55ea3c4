package job

// Status keys written by the worker.
const (
	KeyStatus        = "STATUS"
	KeyPID           = "PID"
	KeyStartedAt     = "STARTED_AT"
	KeyExpectedStop  = "EXPECTED_STOP"
	KeyUser          = "USER"
	KeyOutputFile    = "OUTPUT_FILE"
	KeyContentLength = "CONTENT_LENGTH"
	KeyDuration      = "DURATION"
	KeyError         = "ERROR"
)

// Status tokens. The worker may write anything; these are the ones the
// server reasons about.
const (
	StatusPreparing   = "preparing"
	StatusRecording   = "recording"
	StatusLive        = "live"
	StatusDownloading = "downloading"
	StatusPackaging   = "packaging"
	StatusDone        = "done"
	StatusStopped     = "stopped"
	StatusError       = "error"
	StatusUnknown     = "unknown"
)

// IsTerminal reports whether status ends the job and triggers finalization.
func IsTerminal(status string) bool {
	switch status {
	case StatusDone, StatusStopped, StatusError:
		return true
	}
	return false
}

// IsActive reports whether status claims the worker is producing output.
// An active status paired with a dead PID marks a zombie.
func IsActive(status string) bool {
	switch status {
	case StatusRecording, StatusLive, StatusDownloading:
		return true
	}
	return false
}

// Normalize maps an absent status to "unknown".
func Normalize(status string) string {
	if status == "" {
		return StatusUnknown
	}
	return status
}
