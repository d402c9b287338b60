package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordinator metrics
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_attempts_total",
			Help: "Total number of attendance attempts by trigger source and outcome",
		},
		[]string{"source", "outcome"},
	)

	AttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attendance_attempt_duration_seconds",
			Help:    "End-to-end attendance attempt duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
		},
		[]string{"source"},
	)

	LowConfidenceFixes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_low_confidence_fixes_total",
			Help: "Total number of submitted fixes with accuracy worse than 100m",
		},
	)

	// Trigger metrics
	PollingWakesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_polling_wakes_total",
			Help: "Total number of periodic background wakes",
		},
	)

	GeofenceEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_geofence_events_total",
			Help: "Total number of region events by type and decision",
		},
		[]string{"event", "decision"},
	)

	MonitoredRegions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "attendance_monitored_regions",
			Help: "Number of geofence regions currently registered",
		},
	)

	BackgroundRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "attendance_background_registered",
			Help: "Whether background attendance is registered (1 = registered, 0 = stopped)",
		},
	)

	// Worker metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_notifications_total",
			Help: "Total number of notification payloads by resolved target",
		},
		[]string{"target"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(AttemptsTotal)
	prometheus.MustRegister(AttemptDuration)
	prometheus.MustRegister(LowConfidenceFixes)
	prometheus.MustRegister(PollingWakesTotal)
	prometheus.MustRegister(GeofenceEventsTotal)
	prometheus.MustRegister(MonitoredRegions)
	prometheus.MustRegister(BackgroundRegistered)
	prometheus.MustRegister(NotificationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
