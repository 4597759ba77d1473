package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	evaluationsTotal      *prometheus.CounterVec
	evaluationSeconds     *prometheus.HistogramVec
	questionEvaluations   *prometheus.CounterVec
	testCaseGenerations   *prometheus.CounterVec
	completionEventsTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the evaluation pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluations_total",
			Help: "Completed interview evaluations by track and status.",
		}, []string{"track", "status"})

		evaluationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evaluation_duration_seconds",
			Help:    "Wall time of a full interview evaluation.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"track"})

		questionEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "question_evaluations_total",
			Help: "Evaluated questions by type and outcome (ok, low_confidence, degraded).",
		}, []string{"type", "outcome"})

		testCaseGenerations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_case_generations_total",
			Help: "Test case generation runs by question type and source (llm, fallback).",
		}, []string{"type", "source"})

		completionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_completed_events_total",
			Help: "Interview completion events consumed from the message bus.",
		}, []string{"status"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			evaluationsTotal, evaluationSeconds, questionEvaluations,
			testCaseGenerations, completionEventsTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// Evaluations exposes the counter for finished interview evaluations.
func Evaluations() *prometheus.CounterVec {
	RegisterMetrics()
	return evaluationsTotal
}

// EvaluationDuration exposes the evaluation wall time histogram.
func EvaluationDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return evaluationSeconds
}

// QuestionEvaluations exposes the per-question outcome counter.
func QuestionEvaluations() *prometheus.CounterVec {
	RegisterMetrics()
	return questionEvaluations
}

// TestCaseGenerations exposes the test case generation counter.
func TestCaseGenerations() *prometheus.CounterVec {
	RegisterMetrics()
	return testCaseGenerations
}

// CompletionEvents exposes the counter for consumed completion events.
func CompletionEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return completionEventsTotal
}
