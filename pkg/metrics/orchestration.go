package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agentcore/pkg/toolexec"
)

// Metric names read back by QueryService.
const (
	MetricRunsTotal           = "agent_runs_total"
	MetricRunDuration         = "agent_run_duration_seconds"
	MetricNodeHopsTotal       = "agent_node_hops_total"
	MetricToolCallsTotal      = "agent_tool_calls_total"
	MetricToolCallDuration    = "agent_tool_call_duration_seconds"
	MetricDeliveryCorrections = "agent_delivery_corrections_total"
	MetricReasoningRetries    = "agent_reasoning_retries_total"
	MetricEmptyRecoveries     = "agent_empty_recoveries_total"
	MetricQAReviewsTotal      = "agent_qa_reviews_total"
	MetricLLMRequestsTotal    = "llm_requests_total"
	MetricLLMTokensTotal      = "llm_tokens_total"
	MetricLLMRequestDuration  = "llm_request_duration_seconds"
)

// Orchestration records run-level metrics. All methods are safe on a nil
// receiver, which records nothing.
type Orchestration struct {
	runs                *prometheus.CounterVec
	runDuration         *prometheus.HistogramVec
	hops                *prometheus.CounterVec
	toolCalls           *prometheus.CounterVec
	toolDuration        *prometheus.HistogramVec
	deliveryCorrections *prometheus.CounterVec
	reasoningRetries    *prometheus.CounterVec
	emptyRecoveries     *prometheus.CounterVec
	qaReviews           *prometheus.CounterVec
}

var _ toolexec.Observer = (*Orchestration)(nil)

// NewOrchestration registers the collectors with reg. A nil reg uses the
// default registerer.
func NewOrchestration(reg prometheus.Registerer) *Orchestration {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Orchestration{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRunsTotal,
			Help: "Orchestration runs by mode and terminal status",
		}, []string{"mode", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricRunDuration,
			Help:    "Wall time of orchestration runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		hops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricNodeHopsTotal,
			Help: "Executed graph nodes by node id",
		}, []string{"node"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricToolCallsTotal,
			Help: "Tool calls by tool, terminal status and failure reason",
		}, []string{"tool", "status", "reason"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricToolCallDuration,
			Help:    "Duration of tool calls in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		deliveryCorrections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDeliveryCorrections,
			Help: "Delivery-gate corrections issued",
		}, []string{"mode"}),
		reasoningRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricReasoningRetries,
			Help: "Reasoning reformat requests issued",
		}, []string{"mode"}),
		emptyRecoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEmptyRecoveries,
			Help: "Empty model turns by recovery outcome",
		}, []string{"mode", "outcome"}),
		qaReviews: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricQAReviewsTotal,
			Help: "QA review stages by verdict, or skipped",
		}, []string{"stage", "verdict"}),
	}
}

// ObserveRun records a finished run.
func (o *Orchestration) ObserveRun(mode, status string, d time.Duration) {
	if o == nil {
		return
	}
	o.runs.WithLabelValues(mode, status).Inc()
	o.runDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveHop records one executed node.
func (o *Orchestration) ObserveHop(node string) {
	if o == nil {
		return
	}
	o.hops.WithLabelValues(node).Inc()
}

// ObserveToolCall records one terminal tool call.
func (o *Orchestration) ObserveToolCall(tool string, status toolexec.Status, reason string, d time.Duration) {
	if o == nil {
		return
	}
	o.toolCalls.WithLabelValues(tool, string(status), reason).Inc()
	if status != toolexec.StatusSkipped {
		o.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// DeliveryCorrection records a delivery-gate correction.
func (o *Orchestration) DeliveryCorrection(mode string) {
	if o == nil {
		return
	}
	o.deliveryCorrections.WithLabelValues(mode).Inc()
}

// ReasoningRetry records a reformat request.
func (o *Orchestration) ReasoningRetry(mode string) {
	if o == nil {
		return
	}
	o.reasoningRetries.WithLabelValues(mode).Inc()
}

// EmptyRecovery records how an empty turn was resolved: "recovered" or "fallback".
func (o *Orchestration) EmptyRecovery(mode, outcome string) {
	if o == nil {
		return
	}
	o.emptyRecoveries.WithLabelValues(mode, outcome).Inc()
}

// QAReview records one review stage. verdict is "skipped" when the stage failed.
func (o *Orchestration) QAReview(stage, verdict string) {
	if o == nil {
		return
	}
	o.qaReviews.WithLabelValues(stage, verdict).Inc()
}
