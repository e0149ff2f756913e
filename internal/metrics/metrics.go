// Package metrics exposes Prometheus collectors for the ticker daemon.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal             *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	consecutiveFailures    prometheus.Gauge
	publishTotal           *prometheus.CounterVec
	lastPublishedTimestamp prometheus.Gauge
	driverDownloadsTotal   *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times;
// the observation helpers call it themselves.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticker_fetch_total",
				Help: "Total fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ticker_fetch_duration_seconds",
				Help:    "Histogram of full fetch attempt latencies, labeled by outcome.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 240},
			},
			[]string{"outcome"},
		)

		consecutiveFailures = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ticker_consecutive_failures",
				Help: "Current length of the consecutive fetch failure streak.",
			},
		)

		publishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticker_publish_total",
				Help: "Total publish calls, labeled by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		)

		lastPublishedTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ticker_last_published_timestamp_seconds",
				Help: "Unix time of the last confirmed channel rename.",
			},
		)

		driverDownloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticker_driver_downloads_total",
				Help: "Total chromedriver downloads, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// ObserveFetch records one fetch attempt outcome and its duration.
func ObserveFetch(success bool, duration time.Duration) {
	Init()
	outcome := outcomeLabel(success)
	fetchTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetConsecutiveFailures mirrors the failure streak gauge.
func SetConsecutiveFailures(n int64) {
	Init()
	consecutiveFailures.Set(float64(n))
}

// ObservePublish records one publish call by channel ("presence" or "rename").
func ObservePublish(channel string, success bool) {
	Init()
	publishTotal.WithLabelValues(channel, outcomeLabel(success)).Inc()
}

// SetLastPublished marks the time of a confirmed rename.
func SetLastPublished(t time.Time) {
	Init()
	lastPublishedTimestamp.Set(float64(t.Unix()))
}

// ObserveDriverDownload records a chromedriver acquisition outcome.
func ObserveDriverDownload(success bool) {
	Init()
	driverDownloadsTotal.WithLabelValues(outcomeLabel(success)).Inc()
}
