// Package metrics records orchestration metrics and reads aggregates back
// from a Prometheus server.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ModelUsage is token usage of one model.
type ModelUsage struct {
	Model            string `json:"model"`
	Requests         int64  `json:"requests"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// Summary aggregates activity over a time window.
//
//nolint:govet // field order follows the report layout
type Summary struct {
	Window              time.Duration    `json:"window"`
	Runs                map[string]int64 `json:"runs"`       // by status
	ToolCalls           map[string]int64 `json:"tool_calls"` // by status
	QAReviews           map[string]int64 `json:"qa_reviews"` // by verdict
	DeliveryCorrections int64            `json:"delivery_corrections"`
	ReasoningRetries    int64            `json:"reasoning_retries"`
	LLMErrors           int64            `json:"llm_errors"`
	Models              []ModelUsage     `json:"models"`
	Warnings            []string         `json:"warnings,omitempty"`
}

// QueryService reads metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// scalar runs a query expected to yield at most one sample.
func (q *QueryService) scalar(ctx context.Context, query string, s *Summary) (float64, error) {
	result, warnings, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to query %q: %w", query, err)
	}
	s.Warnings = append(s.Warnings, warnings...)
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// byLabel runs a query grouped by one label.
func (q *QueryService) byLabel(ctx context.Context, query string, label model.LabelName, s *Summary) (map[string]int64, error) {
	result, warnings, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", query, err)
	}
	s.Warnings = append(s.Warnings, warnings...)
	out := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			out[string(sample.Metric[label])] = int64(sample.Value)
		}
	}
	return out, nil
}

// Summary returns aggregated counts over the last window.
func (q *QueryService) Summary(ctx context.Context, window time.Duration) (*Summary, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	rng := model.Duration(window).String()
	s := &Summary{Window: window}

	var err error
	if s.Runs, err = q.byLabel(ctx,
		fmt.Sprintf(`sum by (status) (increase(%s[%s]))`, MetricRunsTotal, rng), "status", s); err != nil {
		return nil, err
	}
	if s.ToolCalls, err = q.byLabel(ctx,
		fmt.Sprintf(`sum by (status) (increase(%s[%s]))`, MetricToolCallsTotal, rng), "status", s); err != nil {
		return nil, err
	}
	if s.QAReviews, err = q.byLabel(ctx,
		fmt.Sprintf(`sum by (verdict) (increase(%s[%s]))`, MetricQAReviewsTotal, rng), "verdict", s); err != nil {
		return nil, err
	}

	counters := []struct {
		metric string
		dst    *int64
		filter string
	}{
		{MetricDeliveryCorrections, &s.DeliveryCorrections, ""},
		{MetricReasoningRetries, &s.ReasoningRetries, ""},
		{MetricLLMRequestsTotal, &s.LLMErrors, `{status="error"}`},
	}
	for _, c := range counters {
		v, err := q.scalar(ctx, fmt.Sprintf(`sum(increase(%s%s[%s]))`, c.metric, c.filter, rng), s)
		if err != nil {
			return nil, err
		}
		*c.dst = int64(v)
	}

	if s.Models, err = q.modelUsage(ctx, rng, s); err != nil {
		return nil, err
	}
	return s, nil
}

// modelUsage breaks token usage down by model.
func (q *QueryService) modelUsage(ctx context.Context, rng string, s *Summary) ([]ModelUsage, error) {
	requests, err := q.byLabel(ctx,
		fmt.Sprintf(`sum by (model) (increase(%s[%s]))`, MetricLLMRequestsTotal, rng), "model", s)
	if err != nil {
		return nil, err
	}
	prompt, err := q.byLabel(ctx,
		fmt.Sprintf(`sum by (model) (increase(%s{type="prompt"}[%s]))`, MetricLLMTokensTotal, rng), "model", s)
	if err != nil {
		return nil, err
	}
	completion, err := q.byLabel(ctx,
		fmt.Sprintf(`sum by (model) (increase(%s{type="completion"}[%s]))`, MetricLLMTokensTotal, rng), "model", s)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(requests))
	for name := range requests {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ModelUsage, 0, len(names))
	for _, name := range names {
		u := ModelUsage{
			Model:            name,
			Requests:         requests[name],
			PromptTokens:     prompt[name],
			CompletionTokens: completion[name],
		}
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		out = append(out, u)
	}
	return out, nil
}
