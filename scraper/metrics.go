package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the spider.
type Metrics struct {
	Registry              *prometheus.Registry
	RequestsTotal         *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	EntriesExtractedTotal prometheus.Counter
	SkippedItemsTotal     prometheus.Counter
	RetriesTotal          prometheus.Counter
	ErrorsTotal           *prometheus.CounterVec
	ExtractionErrorsTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spider_requests_total",
			Help: "Total HTTP requests issued, by page kind.",
		},
		[]string{"page_kind"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spider_request_duration_seconds",
			Help:    "HTTP request latency, by page kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"page_kind"},
	)
	entries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spider_entries_extracted_total",
			Help: "Catalog entries handed to the pipeline.",
		},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spider_skipped_items_total",
			Help: "Listing cards without a detail link.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spider_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spider_errors_total",
			Help: "Transport errors by type.",
		},
		[]string{"error_type"},
	)
	extractionErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spider_extraction_errors_total",
			Help: "Detail pages dropped because extraction failed, by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, entries, skipped, retries, errorsTotal, extractionErrors)

	return &Metrics{
		Registry:              registry,
		RequestsTotal:         requests,
		RequestDuration:       requestDuration,
		EntriesExtractedTotal: entries,
		SkippedItemsTotal:     skipped,
		RetriesTotal:          retries,
		ErrorsTotal:           errorsTotal,
		ExtractionErrorsTotal: extractionErrors,
	}
}

// IncRequest counts a request for a page kind.
func (m *Metrics) IncRequest(kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncEntries() {
	if m == nil {
		return
	}
	m.EntriesExtractedTotal.Inc()
}

func (m *Metrics) AddSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SkippedItemsTotal.Add(float64(n))
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError counts a transport error.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncExtractionError counts a dropped detail page.
func (m *Metrics) IncExtractionError(errorType string) {
	if m == nil {
		return
	}
	m.ExtractionErrorsTotal.WithLabelValues(errorType).Inc()
}
