package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/refresh"
)

// refreshMetrics records refresh cycle instrumentation
type refreshMetrics struct {
	fetches  *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newRefreshMetrics(reg prometheus.Registerer) *refreshMetrics {
	m := &refreshMetrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mypv_source_fetches_total",
			Help: "Source fetches by result (success or error)",
		}, []string{"device_name", "source", "result"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mypv_source_timeouts_total",
			Help: "Source fetches abandoned at the refresh cycle deadline",
		}, []string{"device_name", "source"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mypv_refresh_duration_seconds",
			Help:    "Wall-clock duration of refresh cycles",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 11),
		}, []string{"device_name"}),
	}
	reg.MustRegister(m.fetches, m.timeouts, m.duration)
	return m
}

// ObserveCycle implements refresh.Observer
func (m *refreshMetrics) ObserveCycle(device string, d time.Duration) {
	m.duration.WithLabelValues(device).Observe(d.Seconds())
}

// ObserveFetch implements refresh.Observer
func (m *refreshMetrics) ObserveFetch(device string, source refresh.SourceID, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(device, source.String(), result).Inc()
	if refresh.IsTimeout(err) {
		m.timeouts.WithLabelValues(device, source.String()).Inc()
	}
}
