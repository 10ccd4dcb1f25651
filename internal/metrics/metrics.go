// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdr_events_total",
			Help: "Inbound platform events handled by the coordinator",
		},
		[]string{"kind"},
	)

	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdr_verdicts_total",
			Help: "Verdicts fired by detection rules",
		},
		[]string{"module", "rule"},
	)

	PunishmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdr_punishments_total",
			Help: "Punishments applied, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	AttributionMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdr_attribution_misses_total",
			Help: "Structural events with no usable audit entry",
		},
		[]string{"kind"},
	)

	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdr_role_restores_total",
			Help: "Role restore attempts by result",
		},
		[]string{"result"},
	)

	TrackedKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pdr_tracked_keys",
			Help: "Live sliding-window keys per tracker",
		},
		[]string{"tracker"},
	)

	HandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdr_handle_duration_seconds",
			Help:    "Time spent handling one verdict end to end",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"module"},
	)
)

func RecordEvent(kind string) {
	EventsTotal.WithLabelValues(kind).Inc()
}

func RecordVerdict(module, rule string) {
	VerdictsTotal.WithLabelValues(module, rule).Inc()
}

func RecordPunishment(action, outcome string) {
	PunishmentsTotal.WithLabelValues(action, outcome).Inc()
}

func RecordAttributionMiss(kind string) {
	AttributionMissesTotal.WithLabelValues(kind).Inc()
}

func RecordRestore(ok bool) {
	result := "failed"
	if ok {
		result = "restored"
	}
	RestoresTotal.WithLabelValues(result).Inc()
}

func SetTracked(tracker string, keys int) {
	TrackedKeys.WithLabelValues(tracker).Set(float64(keys))
}

func ObserveHandle(module string, started time.Time) {
	HandleDuration.WithLabelValues(module).Observe(time.Since(started).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
