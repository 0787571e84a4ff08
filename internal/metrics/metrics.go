// Package metrics exposes Prometheus counters for the pipeline and the ingestion service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cybervision"

// Forward results used as label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the Prometheus collectors. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	LinesRead        prometheus.Counter
	MalformedLines   prometheus.Counter
	AlertsClassified *prometheus.CounterVec
	AlertsDiscarded  prometheus.Counter
	Enrichments      *prometheus.CounterVec
	Forwards         *prometheus.CounterVec
	BufferErrors     prometheus.Counter
	CursorOffset     prometheus.Gauge
	Cycles           prometheus.Counter
	RecordsIngested  *prometheus.CounterVec
	IngestRejections prometheus.Counter
}

// New creates a Metrics instance registered on a fresh registry together
// with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LinesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Total number of complete lines read from the alert log",
		}),
		MalformedLines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_malformed_total",
			Help:      "Total number of lines that were not usable alert objects",
		}),
		AlertsClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_classified_total",
			Help:      "Total number of alerts that met a severity threshold",
		}, []string{"severity"}),
		AlertsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_discarded_total",
			Help:      "Total number of alerts below the high threshold",
		}),
		Enrichments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Total number of enrichment annotations by model",
		}, []string{"model"}),
		Forwards: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwards_total",
			Help:      "Total number of forward attempts by result",
		}, []string{"result"}),
		BufferErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_errors_total",
			Help:      "Total number of failed appends to the local buffer",
		}),
		CursorOffset: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_offset_bytes",
			Help:      "Current byte offset into the alert log",
		}),
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Total number of completed poll cycles",
		}),
		RecordsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Total number of records stored by the ingestion service",
		}, []string{"severity"}),
		IngestRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejections_total",
			Help:      "Total number of payloads rejected by the ingestion service",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveClassified increments the classified counter for severity.
func (m *Metrics) ObserveClassified(severity string) {
	m.AlertsClassified.WithLabelValues(severity).Inc()
}

// ObserveEnrichment increments the enrichment counter for model.
func (m *Metrics) ObserveEnrichment(model string) {
	m.Enrichments.WithLabelValues(model).Inc()
}

// ObserveForward records a forward attempt.
func (m *Metrics) ObserveForward(err error) {
	if err != nil {
		m.Forwards.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.Forwards.WithLabelValues(ResultSuccess).Inc()
}

// SetCursor updates the cursor gauge.
func (m *Metrics) SetCursor(offset int64) {
	m.CursorOffset.Set(float64(offset))
}
