package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics tracks per-stage job execution on a private registry.
type PipelineMetrics struct {
	registry *prometheus.Registry

	jobTotal    *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobInFlight *prometheus.GaugeVec
	queueLag    *prometheus.HistogramVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	jobTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "stage_jobs_total",
			Help:      "Total processed stage jobs by kind and status.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"stage", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds by kind and status.",
			Buckets:   prometheus.DefBuckets,
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"stage", "status"},
	)
	jobInFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "stage_jobs_in_flight",
			Help:      "Number of in-flight stage jobs by kind.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"stage"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"stage"},
	)

	registry.MustRegister(jobTotal, jobDuration, jobInFlight, queueLag)

	return &PipelineMetrics{
		registry:    registry,
		jobTotal:    jobTotal,
		jobDuration: jobDuration,
		jobInFlight: jobInFlight,
		queueLag:    queueLag,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartJob(stage string) {
	m.jobInFlight.WithLabelValues(stage).Inc()
}

func (m *PipelineMetrics) FinishJob(stage string, duration time.Duration, err error) {
	m.jobInFlight.WithLabelValues(stage).Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobTotal.WithLabelValues(stage, status).Inc()
	m.jobDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveQueueLag(stage string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(stage).Observe(lag.Seconds())
}
