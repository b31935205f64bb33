// Package metrics defines the Prometheus instrumentation for message
// handling and background jobs. All observe methods are nil-receiver safe so
// instrumentation can be disabled by passing nil.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for inbound message handling.
type PipelineMetrics struct {
	messagesTotal   *prometheus.CounterVec
	intentTotal     *prometheus.CounterVec
	handlingLatency *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibot",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Total inbound messages by final status",
		}, []string{"status"}),
		intentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibot",
			Subsystem: "pipeline",
			Name:      "intents_total",
			Help:      "Classified intents by source",
		}, []string{"intent", "used_llm"}),
		handlingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medibot",
			Subsystem: "pipeline",
			Name:      "handling_latency_seconds",
			Help:      "Latency of end-to-end message handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"intent"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.intentTotal, m.handlingLatency)
	return m
}

func (m *PipelineMetrics) ObserveMessage(status string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) ObserveIntent(intent string, usedLLM bool) {
	if m == nil {
		return
	}
	label := "false"
	if usedLLM {
		label = "true"
	}
	m.intentTotal.WithLabelValues(intent, label).Inc()
}

func (m *PipelineMetrics) ObserveHandlingLatency(intent string, seconds float64) {
	if m == nil {
		return
	}
	m.handlingLatency.WithLabelValues(intent).Observe(seconds)
}

// JobMetrics exposes counters for background job execution.
type JobMetrics struct {
	jobsTotal    *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec
	jobLatency   *prometheus.HistogramVec
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	m := &JobMetrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibot",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total jobs processed by queue and outcome",
		}, []string{"queue", "outcome"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibot",
			Subsystem: "jobs",
			Name:      "retries_total",
			Help:      "Total job retry re-enqueues",
		}, []string{"queue"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medibot",
			Subsystem: "jobs",
			Name:      "latency_seconds",
			Help:      "Latency of job handler execution",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.jobsTotal, m.retriesTotal, m.jobLatency)
	return m
}

func (m *JobMetrics) ObserveJob(queue, outcome string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(queue, outcome).Inc()
}

func (m *JobMetrics) ObserveRetry(queue string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(queue).Inc()
}

func (m *JobMetrics) ObserveJobLatency(queue string, seconds float64) {
	if m == nil {
		return
	}
	m.jobLatency.WithLabelValues(queue).Observe(seconds)
}
