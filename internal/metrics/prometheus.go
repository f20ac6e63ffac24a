// internal/metrics/prometheus.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	DeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracewipe_deletions_total",
			Help: "Deletion executions by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	HistoryURLsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracewipe_history_urls_deleted_total",
			Help: "Individual history URLs deleted, equivalents included",
		},
	)

	RateLimitDeferrals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracewipe_rate_limit_deferrals_total",
			Help: "Deletions deferred to the retry buffer by the rate limiter",
		},
	)

	BufferPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracewipe_buffer_pending",
			Help: "Retry buffer entries awaiting confirmation",
		},
	)

	BufferFailed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracewipe_buffer_failed",
			Help: "Retry buffer entries frozen after exhausting attempts",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracewipe_sweep_duration_seconds",
			Help:    "Time spent on periodic full-history sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompiledRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracewipe_compiled_rules",
			Help: "Rules currently compiled into the evaluation cache",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracewipe_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct{}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) RecordDeletion(trigger, outcome string) {
	DeletionsTotal.WithLabelValues(trigger, outcome).Inc()
}

func (c *Collector) RecordHistoryDeleted(count int) {
	HistoryURLsDeleted.Add(float64(count))
}

func (c *Collector) RecordDeferral() {
	RateLimitDeferrals.Inc()
}

func (c *Collector) RecordSweep(duration time.Duration) {
	SweepDuration.Observe(duration.Seconds())
}

func (c *Collector) UpdateBufferDepth(pending, failed int) {
	BufferPending.Set(float64(pending))
	BufferFailed.Set(float64(failed))
}

func (c *Collector) UpdateCompiledRules(count int) {
	CompiledRules.Set(float64(count))
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}
