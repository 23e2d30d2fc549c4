package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	agentmetrics "agentcore/pkg/metrics"
)

// PrometheusRecorder exports observations under the names the metrics query
// service reads back.
type PrometheusRecorder struct {
	requests *prometheus.CounterVec   // model, mode, stage, status, error_type
	tokens   *prometheus.CounterVec   // model, mode, stage, type
	latency  *prometheus.HistogramVec // model, mode, stage
}

// NewPrometheusRecorder registers the model collectors with reg.
// A nil reg uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	stageLabels := []string{"model", "mode", "stage"}
	return &PrometheusRecorder{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: agentmetrics.MetricLLMRequestsTotal,
			Help: "Model requests by model, mode, stage and outcome.",
		}, append(stageLabels, "status", "error_type")),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: agentmetrics.MetricLLMTokensTotal,
			Help: "Prompt and completion tokens of successful model requests.",
		}, append(stageLabels, "type")),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    agentmetrics.MetricLLMRequestDuration,
			Help:    "Model request latency in seconds.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, stageLabels),
	}
}

// Observe records one request.
func (p *PrometheusRecorder) Observe(o Observation) {
	status := statusError
	if o.Succeeded() {
		status = statusSuccess
		p.tokens.WithLabelValues(o.Model, o.Mode, o.Stage, "prompt").Add(float64(o.PromptTokens))
		p.tokens.WithLabelValues(o.Model, o.Mode, o.Stage, "completion").Add(float64(o.CompletionTokens))
	}
	p.requests.WithLabelValues(o.Model, o.Mode, o.Stage, status, o.ErrorType).Inc()
	p.latency.WithLabelValues(o.Model, o.Mode, o.Stage).Observe(o.Duration.Seconds())
}
