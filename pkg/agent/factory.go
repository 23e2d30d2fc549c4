package agent

import (
	"fmt"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"

	"agentcore/pkg/agent/internal/llmimpl/anthropic"
	"agentcore/pkg/agent/internal/llmimpl/google"
	"agentcore/pkg/agent/internal/llmimpl/ollama"
	"agentcore/pkg/agent/internal/llmimpl/openaiofficial"
	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/middleware/metrics"
	"agentcore/pkg/agent/middleware/resilience/circuit"
	"agentcore/pkg/agent/middleware/resilience/ratelimit"
	"agentcore/pkg/agent/middleware/resilience/retry"
	"agentcore/pkg/agent/middleware/resilience/timeout"
	"agentcore/pkg/agent/middleware/validation"
	"agentcore/pkg/config"
	"agentcore/pkg/logx"
)

// LLMClientFactory creates LLM clients with properly configured middleware chains.
type LLMClientFactory struct {
	config          config.Config
	metricsRecorder metrics.Recorder
	circuitBreaker  *circuit.Breaker
	logger          *logx.Logger
}

// NewLLMClientFactory creates a factory. reg receives the model metrics when
// metrics are enabled; a nil reg means the default registerer.
func NewLLMClientFactory(cfg config.Config, reg prometheus.Registerer) *LLMClientFactory {
	var recorder metrics.Recorder = metrics.Nop()
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder(reg)
	}
	logger := logx.NewLogger("llm-factory")
	breaker := circuit.New(circuit.DefaultConfig, circuit.OnStateChange(func(from, to circuit.State) {
		logger.Warn("⚡ Circuit for %s/%s: %s -> %s", cfg.Model.Provider, cfg.Model.Name, from, to)
	}))
	return &LLMClientFactory{
		config:          cfg,
		metricsRecorder: recorder,
		circuitBreaker:  breaker,
		logger:          logger,
	}
}

// CreateClient builds the configured provider wrapped in the middleware chain.
func (f *LLMClientFactory) CreateClient() (llm.LLMClient, error) {
	raw, err := f.rawClient()
	if err != nil {
		return nil, err
	}
	return f.Wrap(raw), nil
}

// Wrap applies the middleware chain to any client.
// Metrics -> PromptLog -> Validation -> Circuit -> Retry -> RateLimit -> Timeout -> raw
func (f *LLMClientFactory) Wrap(raw llm.LLMClient) llm.LLMClient {
	m := f.config.Model
	return llm.Chain(raw,
		metrics.Middleware(f.metricsRecorder, nil, f.logger),
		NewPromptLogger(promptLogConfig(f.config.Debug), f.logger).Middleware(),
		validation.Middleware(),
		circuit.Middleware(f.circuitBreaker),
		retry.Middleware(retry.NewPolicy(retry.FromModelConfig(m.Retry), nil)),
		ratelimit.Middleware(limiterOrNil(m.RateLimit)),
		timeout.Middleware(m.RequestTimeout.Std()),
	)
}

// limiterOrNil avoids handing a typed nil pointer to the interface parameter.
func limiterOrNil(cfg config.RateLimitConfig) ratelimit.Limiter {
	if l := ratelimit.NewLimiter(cfg); l != nil {
		return l
	}
	return nil
}

func (f *LLMClientFactory) rawClient() (llm.LLMClient, error) {
	m := f.config.Model
	if m.Provider == config.ProviderMock {
		return LoadMockScript(m.ScriptPath, m.Name)
	}

	apiKey, err := config.GetAPIKey(m.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", m.Provider, err)
	}

	switch m.Provider {
	case config.ProviderAnthropic:
		var opts []anthropicopt.RequestOption
		if m.BaseURL != "" {
			opts = append(opts, anthropicopt.WithBaseURL(m.BaseURL))
		}
		return anthropic.NewClaudeClientWithModel(apiKey, m.Name, opts...), nil
	case config.ProviderOpenAI:
		var opts []openaiopt.RequestOption
		if m.BaseURL != "" {
			opts = append(opts, openaiopt.WithBaseURL(m.BaseURL))
		}
		return openaiofficial.NewOfficialClientWithModel(apiKey, m.Name, opts...), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, m.Name, m.BaseURL), nil
	case config.ProviderOllama:
		host := m.BaseURL
		if host == "" {
			host = apiKey
		}
		return ollama.NewOllamaClientWithModel(host, m.Name), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", m.Provider)
	}
}
