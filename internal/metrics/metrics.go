// Package metrics turns transfer events into Prometheus metrics. There is no
// listener; the registry is written as a node-exporter textfile after a batch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/domain/event"
)

const namespace = "terabox_dl"

// Metrics implements event.EventHandler on a private registry
type Metrics struct {
	registry *prometheus.Registry

	sessionsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	retriesTotal    prometheus.Counter
	bytesTotal      *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	fileSize        prometheus.Histogram
	inProgress      prometheus.Gauge
	batchDuration   prometheus.Gauge
	batchFiles      *prometheus.GaugeVec
}

// Ensure Metrics implements event.EventHandler
var _ event.EventHandler = (*Metrics)(nil)

// New creates the metrics and registers them on a new registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished transfer sessions by final status and backend",
		},
		[]string{"status", "backend"},
	)
	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed attempts by error kind",
		},
		[]string{"kind"},
	)
	m.retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Attempts rescheduled after a recoverable error",
	})
	m.bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes of completed files by backend",
		},
		[]string{"backend"},
	)
	m.sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from first start to completion of a session",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"backend"},
	)
	m.fileSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "file_size_bytes",
		Help:      "Sizes of completed files",
		Buckets: []float64{
			1 << 10,
			1 << 20,
			10 << 20,
			100 << 20,
			1 << 30,
			10 << 30,
		},
	})
	m.inProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_in_progress",
		Help:      "Sessions currently transferring or verifying",
	})
	m.batchDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_batch_duration_seconds",
		Help:      "Wall time of the last finished batch",
	})
	m.batchFiles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_files",
			Help:      "Files of the last finished batch by outcome",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(
		m.sessionsTotal,
		m.errorsTotal,
		m.retriesTotal,
		m.bytesTotal,
		m.sessionDuration,
		m.fileSize,
		m.inProgress,
		m.batchDuration,
		m.batchFiles,
	)
	return m
}

// Registry returns the registry holding the metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handle updates the metrics from an event
func (m *Metrics) Handle(ev event.DomainEvent) error {
	switch e := ev.(type) {
	case event.SessionStatusChanged:
		m.observeTransition(e)
	case event.BatchCompleted:
		s := e.Summary
		m.batchDuration.Set(s.Elapsed.Seconds())
		m.batchFiles.WithLabelValues("completed").Set(float64(s.Completed))
		m.batchFiles.WithLabelValues("failed").Set(float64(s.Failed))
		m.batchFiles.WithLabelValues("cancelled").Set(float64(s.Cancelled))
	}
	return nil
}

func (m *Metrics) observeTransition(e event.SessionStatusChanged) {
	wasActive, isActive := e.From.IsActive(), e.To.IsActive()
	switch {
	case !wasActive && isActive:
		m.inProgress.Inc()
	case wasActive && !isActive:
		m.inProgress.Dec()
	}

	backend := string(e.Backend)
	if backend == "" {
		backend = "none"
	}

	switch {
	case e.To == domain.SessionStatusPending && e.ErrorKind != domain.ErrorKindNone:
		m.retriesTotal.Inc()
		m.errorsTotal.WithLabelValues(e.ErrorKind.String()).Inc()
	case e.To == domain.SessionStatusCompleted:
		m.sessionsTotal.WithLabelValues("completed", backend).Inc()
		m.bytesTotal.WithLabelValues(backend).Add(float64(e.Size))
		m.fileSize.Observe(float64(e.Size))
		m.sessionDuration.WithLabelValues(backend).Observe(e.Duration.Seconds())
	case e.To == domain.SessionStatusFailed && e.ErrorKind == domain.ErrorKindCancelled:
		m.sessionsTotal.WithLabelValues("cancelled", backend).Inc()
	case e.To == domain.SessionStatusFailed:
		m.sessionsTotal.WithLabelValues("failed", backend).Inc()
		m.errorsTotal.WithLabelValues(e.ErrorKind.String()).Inc()
	}
}

// HandledEvents returns the events the metrics subscribe to
func (m *Metrics) HandledEvents() []string {
	return []string{event.NameSessionStatusChanged, event.NameBatchCompleted}
}

// WriteTextfile writes all metrics in the text exposition format to path,
// atomically, for the node-exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
