// Package metrics records fetch pipeline activity in Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeNoop     = "noop"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// Metrics is the set of pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	fetches         *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	committedBytes  prometheus.Counter
	patchModules    prometheus.Counter
	fanoutArtifacts *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		fetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devbundle_fetch_total",
				Help: "Total number of primary bundle fetches by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		fetchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "devbundle_fetch_duration_seconds",
				Help: "Duration of primary bundle fetches including fan-out",
				Buckets: []float64{
					0.05, // warm delta
					0.1,
					0.25,
					0.5,
					1,
					2.5,
					5,
					10,
					30, // cold build
				},
			},
			[]string{"mode"},
		),
		committedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "devbundle_committed_bytes_total",
				Help: "Bytes renamed into place across all artifacts",
			},
		),
		patchModules: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "devbundle_patch_modules_total",
				Help: "Patch entries applied to the delta store",
			},
		),
		fanoutArtifacts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devbundle_fanout_artifacts_total",
				Help: "Additional artifacts fetched after a primary bundle",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveFetch records one finished primary fetch.
func (m *Metrics) ObserveFetch(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(mode, outcome).Inc()
	m.fetchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// AddCommitted records bytes published by a rename.
func (m *Metrics) AddCommitted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.committedBytes.Add(float64(n))
}

// AddPatchModules records applied patch entries.
func (m *Metrics) AddPatchModules(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.patchModules.Add(float64(n))
}

// ObserveFanout records the outcome of one additional artifact.
func (m *Metrics) ObserveFanout(outcome string) {
	if m == nil {
		return
	}
	m.fanoutArtifacts.WithLabelValues(outcome).Inc()
}
