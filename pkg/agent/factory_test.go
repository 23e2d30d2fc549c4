package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/config"
)

func mockConfig(t *testing.T, script string) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(script), 0644))

	cfg := config.Default()
	cfg.Model.Provider = config.ProviderMock
	cfg.Model.Name = "mock-model"
	cfg.Model.ScriptPath = path
	cfg.Model.Retry.MaxAttempts = 1
	return *cfg
}

func TestFactoryCreatesMockClient(t *testing.T) {
	cfg := mockConfig(t, "steps:\n  - content: hello\n")
	cfg.Metrics.Enabled = true
	reg := prometheus.NewRegistry()

	client, err := NewLLMClientFactory(cfg, reg).CreateClient()
	require.NoError(t, err)
	assert.Equal(t, "mock-model", client.GetModelName())

	resp, err := client.Complete(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)

	count, err := testutil.GatherAndCount(reg, "llm_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFactoryChainRejectsInvalidRequest(t *testing.T) {
	cfg := mockConfig(t, "steps:\n  - content: never\n")
	raw := NewMockLLMClient("raw", MockStep{Content: "never"})
	client := NewLLMClientFactory(cfg, prometheus.NewRegistry()).Wrap(raw)

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
	assert.Equal(t, 0, raw.CallCount(), "validation runs before the provider")
}

func TestFactoryRetriesTransientErrors(t *testing.T) {
	cfg := mockConfig(t, "steps:\n  - content: unused\n")
	cfg.Model.Retry.MaxAttempts = 3
	cfg.Model.Retry.InitialDelay = 0
	cfg.Model.Retry.MaxDelay = 0
	raw := NewMockLLMClient("raw",
		MockStep{Error: &MockStepError{Type: "transient", Message: "503"}},
		MockStep{Content: "recovered"},
	)
	client := NewLLMClientFactory(cfg, nil).Wrap(raw)

	resp, err := client.Complete(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 2, raw.CallCount())
}

func TestFactoryMissingAPIKey(t *testing.T) {
	config.SetDecryptedSecrets(nil)
	t.Setenv(config.EnvOpenAIAPIKey, "")

	cfg := config.Default()
	cfg.Model.Provider = config.ProviderOpenAI
	_, err := NewLLMClientFactory(*cfg, nil).CreateClient()
	assert.Error(t, err)
}

func TestFactoryBuildsProviders(t *testing.T) {
	config.SetDecryptedSecrets(nil)
	t.Setenv(config.EnvAnthropicAPIKey, "sk-a")
	t.Setenv(config.EnvOpenAIAPIKey, "sk-o")
	t.Setenv(config.EnvGoogleAPIKey, "g-key")
	t.Setenv(config.EnvOllamaHost, "http://localhost:11434")

	for _, provider := range []string{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGoogle, config.ProviderOllama} {
		t.Run(provider, func(t *testing.T) {
			cfg := config.Default()
			cfg.Model.Provider = provider
			cfg.Model.Name = "model-" + provider
			client, err := NewLLMClientFactory(*cfg, nil).CreateClient()
			require.NoError(t, err)
			assert.Equal(t, "model-"+provider, client.GetModelName())
		})
	}
}
