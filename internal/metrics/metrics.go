package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for ReachKit
type Metrics struct {
	// Dispatch counters
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec
	CampaignsSentTotal  *prometheus.CounterVec
	SendDurationSeconds *prometheus.HistogramVec

	// Webhook counters
	WebhookEventsTotal  *prometheus.CounterVec
	WebhookUnknownTotal prometheus.Counter

	// Queue gauges
	QueueSize          prometheus.Gauge
	QueueOldestSeconds prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reachkit_messages_sent_total",
				Help: "Total number of messages accepted by a provider gateway",
			},
			[]string{"provider"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reachkit_messages_failed_total",
				Help: "Total number of per-recipient send failures",
			},
			[]string{"provider", "error_code"},
		),
		CampaignsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reachkit_campaigns_sent_total",
				Help: "Total number of completed campaign dispatch runs",
			},
			[]string{"provider"},
		),
		SendDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reachkit_send_duration_seconds",
				Help:    "Duration of a single provider send call",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reachkit_webhook_events_total",
				Help: "Total number of processed webhook events",
			},
			[]string{"kind"},
		),
		WebhookUnknownTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reachkit_webhook_unknown_total",
				Help: "Total number of webhook events referencing unknown message ids",
			},
		),

		QueueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reachkit_queue_size",
				Help: "Number of scheduled dispatch jobs waiting in the queue",
			},
		),
		QueueOldestSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reachkit_queue_oldest_seconds",
				Help: "Age of the oldest queued dispatch job in seconds",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reachkit_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reachkit_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reachkit_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.CampaignsSentTotal,
		m.SendDurationSeconds,
		m.WebhookEventsTotal,
		m.WebhookUnknownTotal,
		m.QueueSize,
		m.QueueOldestSeconds,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncMessagesSent increments the sent message counter
func IncMessagesSent(provider string) {
	m := Global()
	if m != nil {
		m.MessagesSentTotal.WithLabelValues(provider).Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(provider, errorCode string) {
	m := Global()
	if m != nil {
		m.MessagesFailedTotal.WithLabelValues(provider, errorCode).Inc()
	}
}

// IncCampaignsSent increments the completed campaign counter
func IncCampaignsSent(provider string) {
	m := Global()
	if m != nil {
		m.CampaignsSentTotal.WithLabelValues(provider).Inc()
	}
}

// ObserveSendDuration records one provider send call duration
func ObserveSendDuration(provider string, seconds float64) {
	m := Global()
	if m != nil {
		m.SendDurationSeconds.WithLabelValues(provider).Observe(seconds)
	}
}

// IncWebhookEvents increments the webhook event counter
func IncWebhookEvents(kind string) {
	m := Global()
	if m != nil {
		m.WebhookEventsTotal.WithLabelValues(kind).Inc()
	}
}

// IncWebhookUnknown increments the unknown message id counter
func IncWebhookUnknown() {
	m := Global()
	if m != nil {
		m.WebhookUnknownTotal.Inc()
	}
}

// SetQueueSize sets the queued job gauge
func SetQueueSize(n int) {
	m := Global()
	if m != nil {
		m.QueueSize.Set(float64(n))
	}
}

// SetQueueOldest sets the oldest queued job age gauge
func SetQueueOldest(seconds float64) {
	m := Global()
	if m != nil {
		m.QueueOldestSeconds.Set(seconds)
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
