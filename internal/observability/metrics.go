package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3leaps/imagequeue/pkg/manifest"
)

const namespace = "imagequeue"

// Metrics records job lifecycle events. It satisfies the Recorder interfaces of
// the gateway, orchestrator and poller packages.
type Metrics struct {
	jobsSubmitted     prometheus.Counter
	submissionsFailed *prometheus.CounterVec
	jobsFinished      *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	duplicates        prometheus.Counter
	deliveriesFailed  *prometheus.CounterVec
	batchesReceived   prometheus.Counter
	messagesReceived  prometheus.Counter
	receiveErrors     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted by the submission gateway.",
		}),
		submissionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_rejected_total",
			Help:      "Submissions rejected, by reason.",
		}, []string{"reason"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time spent processing one delivery to a terminal status.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"status"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_deliveries_total",
			Help:      "Deliveries acknowledged without work because the job was already terminal.",
		}),
		deliveriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Deliveries reported as failed, by reason.",
		}, []string{"reason"}),
		batchesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_batches_total",
			Help:      "Non-empty batches received by the poll loop.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_messages_total",
			Help:      "Messages received by the poll loop.",
		}),
		receiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_receive_errors_total",
			Help:      "Queue receive calls that failed.",
		}),
	}

	reg.MustRegister(
		m.jobsSubmitted,
		m.submissionsFailed,
		m.jobsFinished,
		m.jobDuration,
		m.duplicates,
		m.deliveriesFailed,
		m.batchesReceived,
		m.messagesReceived,
		m.receiveErrors,
	)
	return m
}

func (m *Metrics) JobSubmitted() { m.jobsSubmitted.Inc() }

func (m *Metrics) SubmissionRejected(reason string) {
	m.submissionsFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) JobFinished(status manifest.Status, elapsed time.Duration) {
	m.jobsFinished.WithLabelValues(string(status)).Inc()
	m.jobDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) DuplicateSkipped() { m.duplicates.Inc() }

func (m *Metrics) DeliveryFailed(reason string) {
	m.deliveriesFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) BatchReceived(n int) {
	m.batchesReceived.Inc()
	m.messagesReceived.Add(float64(n))
}

func (m *Metrics) ReceiveFailed() { m.receiveErrors.Inc() }

var (
	metricsMu sync.Mutex

	// Registry is the process registry served on /metrics. Nil until InitMetrics.
	Registry *prometheus.Registry

	// DefaultMetrics is registered on Registry. Nil until InitMetrics.
	DefaultMetrics *Metrics
)

// InitMetrics creates the process registry with Go runtime collectors and the
// job metrics. Calling it again replaces both.
func InitMetrics() *Metrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	Registry = reg
	DefaultMetrics = NewMetrics(reg)
	return DefaultMetrics
}

// MetricsHandler serves the process registry. It responds 503 until InitMetrics runs.
func MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metricsMu.Lock()
		reg := Registry
		metricsMu.Unlock()
		if reg == nil {
			http.Error(w, "metrics not initialized", http.StatusServiceUnavailable)
			return
		}
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
