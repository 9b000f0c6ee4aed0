package service

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a lightweight summary of the collected metrics.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	StoreOperations          uint64    `json:"storeOperations"`
	AverageStoreDurationMs   float64   `json:"averageStoreDurationMs"`
	StoreErrors              uint64    `json:"storeErrors"`
	ActiveSubscriptions      int64     `json:"activeSubscriptions"`
	QuizSubmissions          uint64    `json:"quizSubmissions"`
	CertificatesIssued       uint64    `json:"certificatesIssued"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry             *prometheus.Registry
	handler              http.Handler
	requestDuration      *prometheus.HistogramVec
	requestTotal         *prometheus.CounterVec
	storeOperations      *prometheus.CounterVec
	storeDuration        *prometheus.HistogramVec
	subscriptionsActive  *prometheus.GaugeVec
	subscriptionEmits    *prometheus.CounterVec
	quizSubmissions      *prometheus.CounterVec
	certificatesIssued   prometheus.Counter
	requestCount         uint64
	requestDurationTotal uint64
	storeOpCount         uint64
	storeDurationTotal   uint64
	storeErrorCount      uint64
	activeSubscriptions  int64
	quizSubmissionCount  uint64
	certificateCount     uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	storeOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_transactions_total",
		Help: "Document store operations by type and outcome",
	}, []string{"op", "collection", "status"})

	storeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_transaction_duration_seconds",
		Help:    "Duration of document store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	subscriptionsActive := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "subscriptions_active",
		Help: "Live query subscriptions currently attached",
	}, []string{"kind"})

	subscriptionEmits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_emissions_total",
		Help: "Values pushed to subscribers",
	}, []string{"kind"})

	quizSubmissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_submissions_total",
		Help: "Graded quiz attempts",
	}, []string{"passed", "auto"})

	certificatesIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "certificates_issued_total",
		Help: "Completion certificates rendered and uploaded",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, storeOperations, storeDuration, subscriptionsActive, subscriptionEmits, quizSubmissions, certificatesIssued, goroutines)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		storeOperations:     storeOperations,
		storeDuration:       storeDuration,
		subscriptionsActive: subscriptionsActive,
		subscriptionEmits:   subscriptionEmits,
		quizSubmissions:     quizSubmissions,
		certificatesIssued:  certificatesIssued,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveStoreOperation implements store.Observer.
func (m *MetricsService) ObserveStoreOperation(op, collection, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.storeOperations.WithLabelValues(op, collection, status).Inc()
	m.storeDuration.WithLabelValues(op).Observe(duration.Seconds())
	atomic.AddUint64(&m.storeOpCount, 1)
	atomic.AddUint64(&m.storeDurationTotal, uint64(duration.Nanoseconds()))
	if status != "ok" && status != "not_found" {
		atomic.AddUint64(&m.storeErrorCount, 1)
	}
}

// SubscriptionOpened increments the live subscription gauge.
func (m *MetricsService) SubscriptionOpened(kind string) {
	if m == nil {
		return
	}
	m.subscriptionsActive.WithLabelValues(kind).Inc()
	atomic.AddInt64(&m.activeSubscriptions, 1)
}

// SubscriptionClosed decrements the live subscription gauge.
func (m *MetricsService) SubscriptionClosed(kind string) {
	if m == nil {
		return
	}
	m.subscriptionsActive.WithLabelValues(kind).Dec()
	atomic.AddInt64(&m.activeSubscriptions, -1)
}

// SubscriptionEmitted counts one value delivered to a subscriber.
func (m *MetricsService) SubscriptionEmitted(kind string) {
	if m == nil {
		return
	}
	m.subscriptionEmits.WithLabelValues(kind).Inc()
}

// QuizSubmitted counts a graded attempt.
func (m *MetricsService) QuizSubmitted(passed, auto bool) {
	if m == nil {
		return
	}
	m.quizSubmissions.WithLabelValues(strconv.FormatBool(passed), strconv.FormatBool(auto)).Inc()
	atomic.AddUint64(&m.quizSubmissionCount, 1)
}

// CertificateIssued counts an uploaded certificate.
func (m *MetricsService) CertificateIssued() {
	if m == nil {
		return
	}
	m.certificatesIssued.Inc()
	atomic.AddUint64(&m.certificateCount, 1)
}

// Snapshot returns aggregated metrics suitable for status endpoints.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	storeOps := atomic.LoadUint64(&m.storeOpCount)
	storeDuration := atomic.LoadUint64(&m.storeDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgStoreMs float64
	if storeOps > 0 {
		avgStoreMs = float64(storeDuration) / float64(storeOps) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		StoreOperations:          storeOps,
		AverageStoreDurationMs:   avgStoreMs,
		StoreErrors:              atomic.LoadUint64(&m.storeErrorCount),
		ActiveSubscriptions:      atomic.LoadInt64(&m.activeSubscriptions),
		QuizSubmissions:          atomic.LoadUint64(&m.quizSubmissionCount),
		CertificatesIssued:       atomic.LoadUint64(&m.certificateCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
