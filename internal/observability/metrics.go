package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the delivery pipeline and the
// operational API.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	deliveriesSentTotal     *prometheus.CounterVec
	deliveriesFailedTotal   *prometheus.CounterVec
	deliveryDuration        *prometheus.HistogramVec
	relayConnectionsLive    prometheus.Gauge
	relayConnectionsIdle    prometheus.Gauge
	relayDegradedTotal      prometheus.Counter
	batchRetriesTotal       prometheus.Counter
	poisonJobsTotal         prometheus.Counter
	jobsInFlight            prometheus.Gauge
	resendRequestedTotal    prometheus.Counter
	retryRescheduledTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mail_courier",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mail_courier",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveriesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mail_courier",
				Name:      "deliveries_sent_total",
				Help:      "Total number of notifications delivered successfully, by provider.",
			},
			[]string{"provider"},
		),
		deliveriesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mail_courier",
				Name:      "deliveries_failed_total",
				Help:      "Total number of delivery attempts that failed, by provider and reason.",
			},
			[]string{"provider", "reason"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mail_courier",
				Name:      "delivery_duration_seconds",
				Help:      "Provider delivery duration in seconds grouped by provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider"},
		),
		relayConnectionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mail_courier",
			Name:      "relay_connections_live",
			Help:      "Current number of live SMTP relay connections owned by the pool.",
		}),
		relayConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mail_courier",
			Name:      "relay_connections_idle",
			Help:      "Current number of idle SMTP relay connections waiting in the pool.",
		}),
		relayDegradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mail_courier",
			Name:      "relay_degraded_acquires_total",
			Help:      "Total number of connections created beyond the pool limit after acquire retries were exhausted.",
		}),
		batchRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mail_courier",
			Name:      "batch_retries_total",
			Help:      "Total number of retry passes performed by the batched HTTP provider.",
		}),
		poisonJobsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mail_courier",
			Name:      "poison_jobs_total",
			Help:      "Total number of delivery jobs abandoned after exceeding the dequeue ceiling.",
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mail_courier",
			Name:      "jobs_in_flight",
			Help:      "Current number of delivery jobs being processed.",
		}),
		resendRequestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mail_courier",
			Name:      "resend_requested_total",
			Help:      "Total number of notifications reset for resend by operators.",
		}),
		retryRescheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mail_courier",
				Name:      "retry_rescheduled_total",
				Help:      "Total number of notifications re-enqueued for a later attempt.",
			},
			[]string{"application"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveriesSentTotal,
		m.deliveriesFailedTotal,
		m.deliveryDuration,
		m.relayConnectionsLive,
		m.relayConnectionsIdle,
		m.relayDegradedTotal,
		m.batchRetriesTotal,
		m.poisonJobsTotal,
		m.jobsInFlight,
		m.resendRequestedTotal,
		m.retryRescheduledTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDeliverySent(provider string) {
	if m == nil {
		return
	}
	m.deliveriesSentTotal.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) IncDeliveryFailed(provider string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.deliveriesFailedTotal.WithLabelValues(normalizeLabel(provider), reasonLabel).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.WithLabelValues(normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) SetRelayConnections(live int, idle int) {
	if m == nil {
		return
	}
	m.relayConnectionsLive.Set(float64(live))
	m.relayConnectionsIdle.Set(float64(idle))
}

func (m *Metrics) IncRelayDegradedAcquire() {
	if m == nil {
		return
	}
	m.relayDegradedTotal.Inc()
}

func (m *Metrics) IncBatchRetry() {
	if m == nil {
		return
	}
	m.batchRetriesTotal.Inc()
}

func (m *Metrics) IncPoisonJob() {
	if m == nil {
		return
	}
	m.poisonJobsTotal.Inc()
}

func (m *Metrics) IncJobInFlight() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

func (m *Metrics) DecJobInFlight() {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
}

func (m *Metrics) IncResendRequested() {
	if m == nil {
		return
	}
	m.resendRequestedTotal.Inc()
}

func (m *Metrics) IncRetryRescheduled(application string) {
	if m == nil {
		return
	}
	m.retryRescheduledTotal.WithLabelValues(normalizeLabel(application)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
