package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m3u_dvr_jobs_started_total",
		Help: "Job start attempts by kind and result code",
	}, []string{"kind", "result"})

	jobsStoppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m3u_dvr_jobs_stopped_total",
		Help: "Stop requests handed to the stop helper by kind and trigger",
	}, []string{"kind", "trigger"})

	jobsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m3u_dvr_jobs_finalized_total",
		Help: "Finalized jobs by kind and outcome",
	}, []string{"kind", "outcome"})

	cleanupCandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m3u_dvr_cleanup_candidates_total",
		Help: "Cleanup candidates handled by classification",
	}, []string{"reason"})

	danglingDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m3u_dvr_dangling_artifacts_deleted_total",
		Help: "Orphaned artifacts deleted by the dangling sweep, by class",
	}, []string{"class"})

	liveViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "m3u_dvr_live_viewers",
		Help: "Live recordings with at least one active viewer",
	})

	activeConsumers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "m3u_dvr_active_consumers",
		Help: "Open player consumers across all services",
	})
)

// IncJobStarted records a start attempt.
func IncJobStarted(kind, result string) {
	jobsStartedTotal.WithLabelValues(label(kind), label(result)).Inc()
}

// IncJobStopped records a stop request. trigger is "request", "watcher" or "sweep".
func IncJobStopped(kind, trigger string) {
	jobsStoppedTotal.WithLabelValues(label(kind), label(trigger)).Inc()
}

// IncJobFinalized records a finalization. outcome is "ok" or "failed".
func IncJobFinalized(kind, outcome string) {
	jobsFinalizedTotal.WithLabelValues(label(kind), label(outcome)).Inc()
}

// IncCleanupCandidate records a handled sweep candidate.
func IncCleanupCandidate(reason string) {
	cleanupCandidatesTotal.WithLabelValues(label(reason)).Inc()
}

// AddDanglingDeleted records orphans removed by the dangling sweep.
func AddDanglingDeleted(class string, n int) {
	if n <= 0 {
		return
	}
	danglingDeletedTotal.WithLabelValues(label(class)).Add(float64(n))
}

// SetLiveViewers sets the number of watched live recordings.
func SetLiveViewers(n int) {
	liveViewers.Set(float64(n))
}

// SetActiveConsumers sets the number of open consumers.
func SetActiveConsumers(n int) {
	activeConsumers.Set(float64(n))
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
