package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	rewardsMetricsOnce sync.Once
	rewardsRegistry    *RewardsMetrics

	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics

	webhookMetricsOnce sync.Once
	webhookRegistry    *WebhookMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "usv",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a JSON-RPC request. code is the JSON-RPC
// error code, or zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// RewardsMetrics tracks reward program instruction outcomes.
type RewardsMetrics struct {
	instructions *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	claimed      prometheus.Counter
	generated    prometheus.Counter
	transferred  prometheus.Counter
}

// Rewards returns the lazily-initialised reward program metrics.
func Rewards() *RewardsMetrics {
	rewardsMetricsOnce.Do(func() {
		rewardsRegistry = &RewardsMetrics{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "rewards",
				Name:      "instructions_total",
				Help:      "Reward instructions segmented by instruction and outcome code.",
			}, []string{"instruction", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "usv",
				Subsystem: "rewards",
				Name:      "instruction_duration_seconds",
				Help:      "Latency of reward instructions including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"instruction"}),
			claimed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "rewards",
				Name:      "claimed_base_units_total",
				Help:      "Reward base units paid out through claims.",
			}),
			generated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "rewards",
				Name:      "codes_generated_total",
				Help:      "Reward codes issued across all batches.",
			}),
			transferred: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "rewards",
				Name:      "partner_base_units_total",
				Help:      "Base units distributed through partner transfers.",
			}),
		}
		prometheus.MustRegister(
			rewardsRegistry.instructions,
			rewardsRegistry.latency,
			rewardsRegistry.claimed,
			rewardsRegistry.generated,
			rewardsRegistry.transferred,
		)
	})
	return rewardsRegistry
}

// ObserveInstruction records one instruction. outcome is "ok" or a stable
// error code.
func (m *RewardsMetrics) ObserveInstruction(instruction, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.instructions.WithLabelValues(instruction, outcome).Inc()
	m.latency.WithLabelValues(instruction).Observe(duration.Seconds())
}

// RecordClaim adds a claimed amount expressed in base units.
func (m *RewardsMetrics) RecordClaim(baseUnits float64) {
	if m == nil || baseUnits <= 0 {
		return
	}
	m.claimed.Add(baseUnits)
}

// RecordCodesGenerated adds issued codes.
func (m *RewardsMetrics) RecordCodesGenerated(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.generated.Add(float64(count))
}

// RecordPartnerTransfer adds a partner payout expressed in base units.
func (m *RewardsMetrics) RecordPartnerTransfer(baseUnits float64) {
	if m == nil || baseUnits <= 0 {
		return
	}
	m.transferred.Add(baseUnits)
}

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

// Events returns the metrics registry tracking committed ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Committed ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// WebhookMetrics tracks outbound webhook deliveries.
type WebhookMetrics struct {
	deliveries *prometheus.CounterVec
	dropped    prometheus.Counter
	latency    prometheus.Histogram
}

// Webhooks returns the lazily-initialised webhook delivery metrics.
func Webhooks() *WebhookMetrics {
	webhookMetricsOnce.Do(func() {
		webhookRegistry = &WebhookMetrics{
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "webhooks",
				Name:      "deliveries_total",
				Help:      "Webhook delivery attempts segmented by event type and outcome.",
			}, []string{"event", "outcome"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "webhooks",
				Name:      "dropped_total",
				Help:      "Webhook payloads dropped because the queue was full.",
			}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "usv",
				Subsystem: "webhooks",
				Name:      "delivery_duration_seconds",
				Help:      "Latency of webhook delivery attempts.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(webhookRegistry.deliveries, webhookRegistry.dropped, webhookRegistry.latency)
	})
	return webhookRegistry
}

// ObserveDelivery records one delivery attempt.
func (m *WebhookMetrics) ObserveDelivery(event string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.deliveries.WithLabelValues(event, outcome).Inc()
	m.latency.Observe(duration.Seconds())
}

// RecordDrop increments the dropped payload counter.
func (m *WebhookMetrics) RecordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
