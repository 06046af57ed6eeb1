// Package metrics holds the Prometheus collectors of the detection service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "product_detect"

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeEmpty   = "empty"
	OutcomeSkipped = "skipped"
)

// Metrics groups the service collectors
type Metrics struct {
	registry *prometheus.Registry

	DetectRequests     *prometheus.CounterVec
	DetectDuration     prometheus.Histogram
	RecognitionBatches *prometheus.CounterVec
	ProductsDetected   prometheus.Counter
	WorkflowTriggers   *prometheus.CounterVec
	WorkflowPolls      *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DetectRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detect_requests_total",
			Help:      "Detection requests by outcome.",
		}, []string{"outcome"}),
		DetectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_duration_seconds",
			Help:      "End-to-end duration of detection requests.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
		RecognitionBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_batches_total",
			Help:      "Recognition batches by outcome.",
		}, []string{"outcome"}),
		ProductsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_detected_total",
			Help:      "Unique products returned across all detection requests.",
		}),
		WorkflowTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_triggers_total",
			Help:      "Workflow trigger calls by outcome.",
		}, []string{"outcome"}),
		WorkflowPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_polls_total",
			Help:      "Workflow status polls by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.DetectRequests,
		m.DetectDuration,
		m.RecognitionBatches,
		m.ProductsDetected,
		m.WorkflowTriggers,
		m.WorkflowPolls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDetect records one finished detection request
func (m *Metrics) ObserveDetect(outcome string, elapsed time.Duration, products int) {
	if m == nil {
		return
	}
	m.DetectRequests.WithLabelValues(outcome).Inc()
	m.DetectDuration.Observe(elapsed.Seconds())
	m.ProductsDetected.Add(float64(products))
}

// ObserveBatch records one recognition batch
func (m *Metrics) ObserveBatch(outcome string) {
	if m == nil {
		return
	}
	m.RecognitionBatches.WithLabelValues(outcome).Inc()
}

// ObserveTrigger records one workflow trigger
func (m *Metrics) ObserveTrigger(outcome string) {
	if m == nil {
		return
	}
	m.WorkflowTriggers.WithLabelValues(outcome).Inc()
}

// ObservePoll records one workflow status poll
func (m *Metrics) ObservePoll(outcome string) {
	if m == nil {
		return
	}
	m.WorkflowPolls.WithLabelValues(outcome).Inc()
}
