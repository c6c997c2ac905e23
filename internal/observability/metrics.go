// Package observability registers the service-level Prometheus metrics.
package observability

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	validationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fittrack",
		Subsystem: "validation",
		Name:      "candidates_total",
		Help:      "Activity candidates evaluated, labeled by activity type and outcome.",
	}, []string{"activity_type", "valid"})

	warningCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fittrack",
		Subsystem: "validation",
		Name:      "warnings_total",
		Help:      "Advisory warnings attached to evaluated candidates.",
	}, []string{"activity_type"})

	pointsHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fittrack",
		Subsystem: "scoring",
		Name:      "points_awarded",
		Help:      "Points awarded per credited activity.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
	}, []string{"activity_type", "source"})

	importItemCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fittrack",
		Subsystem: "import",
		Name:      "items_total",
		Help:      "Bulk import items processed, labeled by source and status.",
	}, []string{"source", "status"})

	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fittrack",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity persisted to storage.",
	})
)

func init() {
	prometheus.MustRegister(validationCounter, warningCounter, pointsHistogram, importItemCounter, activityPersistGauge)
}

// RecordValidation counts a validation outcome. Unknown types are bucketed
// under "unknown" to keep label cardinality bounded.
func RecordValidation(activityType string, valid bool, warnings int) {
	label := typeLabel(activityType)
	validationCounter.WithLabelValues(label, strconv.FormatBool(valid)).Inc()
	if warnings > 0 {
		warningCounter.WithLabelValues(label).Add(float64(warnings))
	}
}

// RecordPointsAwarded observes the points credited for one activity.
func RecordPointsAwarded(activityType, source string, points int) {
	pointsHistogram.WithLabelValues(typeLabel(activityType), source).Observe(float64(points))
}

// RecordImportItem counts a bulk import item outcome.
func RecordImportItem(source, status string) {
	importItemCounter.WithLabelValues(source, status).Inc()
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

var knownTypes = map[string]struct{}{
	"run": {}, "walk": {}, "workout": {}, "bike": {}, "swim": {}, "hike": {}, "yoga": {}, "other": {},
}

func typeLabel(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := knownTypes[t]; ok {
		return t
	}
	return "unknown"
}
