package handlers

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BluceCao2018/funbenchmark.com/pkg/monitoring"
)

type BenchmarkMetrics struct {
	ResultSubmissions *prometheus.CounterVec
	MessageRequests   *prometheus.CounterVec
	ScoreRequests     *prometheus.CounterVec
}

// NewBenchmarkMetrics registers the benchmark counters on the service
// collector.
func NewBenchmarkMetrics(mc *monitoring.MetricsCollector) *BenchmarkMetrics {
	m := &BenchmarkMetrics{
		ResultSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "benchmark_result_submissions_total",
			Help: "Result submissions by test type and status",
		}, []string{"test_type", "status"}),
		MessageRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "benchmark_message_requests_total",
			Help: "Timed message operations by action and status",
		}, []string{"action", "status"}),
		ScoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "benchmark_score_requests_total",
			Help: "Continuous performance scoring requests by status",
		}, []string{"status"}),
	}
	mc.RegisterCustomMetric("benchmark_result_submissions_total", m.ResultSubmissions)
	mc.RegisterCustomMetric("benchmark_message_requests_total", m.MessageRequests)
	mc.RegisterCustomMetric("benchmark_score_requests_total", m.ScoreRequests)
	return m
}

func (m *BenchmarkMetrics) IncResult(testType, status string) {
	if m == nil || m.ResultSubmissions == nil {
		return
	}
	m.ResultSubmissions.WithLabelValues(testType, status).Inc()
}

func (m *BenchmarkMetrics) IncMessage(action, status string) {
	if m == nil || m.MessageRequests == nil {
		return
	}
	m.MessageRequests.WithLabelValues(action, status).Inc()
}

func (m *BenchmarkMetrics) IncScore(status string) {
	if m == nil || m.ScoreRequests == nil {
		return
	}
	m.ScoreRequests.WithLabelValues(status).Inc()
}
