package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var RecomputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "peer_recompute_duration_seconds",
	Help:    "Duration of recompute jobs by phase",
	Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
}, []string{"phase"})

var CalibrationScoresComputed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "peer_calibration_scores_computed_total",
	Help: "Number of reviewer calibration scores computed",
})

var SkippedEntities = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "peer_skipped_entities_total",
	Help: "Entities skipped during recompute because of data problems",
}, []string{"kind"})

var NoCompetentReviewers = promauto.NewCounter(prometheus.CounterOpts{
	Name: "peer_no_competent_reviewer_submissions_total",
	Help: "Submissions left ungraded because no competent reviewer contributed",
})

var GradebookPushes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "peer_gradebook_pushes_total",
	Help: "Grades pushed to the gradebook by outcome",
}, []string{"outcome"})

var LockWaits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "peer_instance_lock_total",
	Help: "Per-instance lock acquisitions by outcome",
}, []string{"outcome"})
