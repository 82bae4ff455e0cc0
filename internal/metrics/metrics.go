// Package metrics exposes prometheus counters for source lookups, bulk updates and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the subset of Collector the tracker and server depend on.
type Recorder interface {
	RecordSourceFetch(source string, err error, d time.Duration)
	RecordBulkRun(category string, d time.Duration)
	RecordImport(ok bool)
	RecordHTTPStatus(statusCode int)
}

// Collector holds the registered metrics.
type Collector struct {
	sourceFetch   *prometheus.CounterVec
	sourceLatency *prometheus.HistogramVec
	bulkRuns      *prometheus.CounterVec
	bulkDuration  prometheus.Histogram
	imports       *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sourceFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noveltracker_source_fetch_total",
			Help: "Chapter source lookups by source and result.",
		}, []string{"source", "result"}),
		sourceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "noveltracker_source_fetch_latency_seconds",
			Help:    "Chapter source lookup latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		bulkRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noveltracker_bulk_runs_total",
			Help: "Update-all runs by result category.",
		}, []string{"category"}),
		bulkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "noveltracker_bulk_duration_seconds",
			Help:    "Update-all run duration.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noveltracker_epub_imports_total",
			Help: "EPUB imports by result.",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noveltracker_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.sourceFetch,
		c.sourceLatency,
		c.bulkRuns,
		c.bulkDuration,
		c.imports,
		c.httpStatus,
	)
	return c
}

func (c *Collector) RecordSourceFetch(source string, err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.sourceFetch.WithLabelValues(source, result).Inc()
	c.sourceLatency.WithLabelValues(source).Observe(d.Seconds())
}

func (c *Collector) RecordBulkRun(category string, d time.Duration) {
	c.bulkRuns.WithLabelValues(category).Inc()
	c.bulkDuration.Observe(d.Seconds())
}

func (c *Collector) RecordImport(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.imports.WithLabelValues(result).Inc()
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler serves the metrics in gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordSourceFetch(string, error, time.Duration) {}
func (Nop) RecordBulkRun(string, time.Duration)            {}
func (Nop) RecordImport(bool)                              {}
func (Nop) RecordHTTPStatus(int)                           {}
