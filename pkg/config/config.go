// Package config loads, validates and serves the runtime configuration.
//
// Configuration lives at <projectDir>/.agentcore/config.(yaml|yml|json). A missing
// file is replaced by defaults and written back as JSON. The loaded config is held
// in a process-wide singleton and handed out by value.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"agentcore/pkg/logx"
)

const (
	// SchemaVersion is written into new config files.
	SchemaVersion = "1"

	// ProjectConfigDir holds config, secrets and the sqlite database.
	ProjectConfigDir = ".agentcore"
)

// Model providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
	ProviderMock      = "mock"
)

// Plan store backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageBadger = "badger"
)

// Environment variables consulted for credentials and overrides.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
	EnvProvider        = "AGENTCORE_PROVIDER"
	EnvModel           = "AGENTCORE_MODEL"
)

//nolint:gochecknoglobals // singleton config
var (
	config     *Config
	projectDir string
	logger     *logx.Logger
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// Duration is a time.Duration that reads and writes as "30s" in JSON and YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if numErr := json.Unmarshal(b, &n); numErr != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(n)
		return nil
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete runtime configuration.
type Config struct {
	SchemaVersion string              `json:"schema_version" yaml:"schema_version"`
	Model         ModelConfig         `json:"model" yaml:"model"`
	Orchestration OrchestrationConfig `json:"orchestration" yaml:"orchestration"`
	Scheduler     SchedulerConfig     `json:"scheduler" yaml:"scheduler"`
	QA            QAConfig            `json:"qa" yaml:"qa"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Metrics       MetricsConfig       `json:"metrics" yaml:"metrics"`
	Prompts       PromptsConfig       `json:"prompts" yaml:"prompts"`
	Events        EventsConfig        `json:"events" yaml:"events"`
	Debug         DebugConfig         `json:"debug" yaml:"debug"`
}

// ModelConfig selects the provider and shapes every model request.
type ModelConfig struct {
	Provider       string          `json:"provider" yaml:"provider" validate:"required,oneof=anthropic openai ollama google mock"`
	Name           string          `json:"name" yaml:"name" validate:"required"`
	BaseURL        string          `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	MaxTokens      int             `json:"max_tokens" yaml:"max_tokens" validate:"gte=1"`
	Temperature    float64         `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	RequestTimeout Duration        `json:"request_timeout" yaml:"request_timeout" validate:"gte=0"`
	Retry          RetryConfig     `json:"retry" yaml:"retry"`
	RateLimit      RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	// ScriptPath feeds the mock provider with canned responses.
	ScriptPath string `json:"script_path,omitempty" yaml:"script_path,omitempty" validate:"required_if=Provider mock"`
}

// RetryConfig controls the retry middleware.
type RetryConfig struct {
	MaxAttempts   int      `json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	InitialDelay  Duration `json:"initial_delay" yaml:"initial_delay" validate:"gte=0"`
	MaxDelay      Duration `json:"max_delay" yaml:"max_delay" validate:"gte=0"`
	BackoffFactor float64  `json:"backoff_factor" yaml:"backoff_factor" validate:"gte=1"`
}

// RateLimitConfig bounds outbound model requests. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `json:"burst" yaml:"burst" validate:"gte=0"`
}

// OrchestrationConfig holds the graph and handler budgets.
type OrchestrationConfig struct {
	MaxNodeHops            int  `json:"max_node_hops" yaml:"max_node_hops" validate:"gte=1"`
	MaxToolIterations      int  `json:"max_tool_iterations" yaml:"max_tool_iterations" validate:"gte=1"`
	MaxReasoningRetries    int  `json:"max_reasoning_retries" yaml:"max_reasoning_retries" validate:"gte=0"`
	MaxDeliveryCorrections int  `json:"max_delivery_corrections" yaml:"max_delivery_corrections" validate:"gte=0"`
	ReasoningRequired      bool `json:"reasoning_required" yaml:"reasoning_required"`
	PlanWithModel          bool `json:"plan_with_model" yaml:"plan_with_model"`
	HistoryTokenBudget     int  `json:"history_token_budget" yaml:"history_token_budget" validate:"gte=0"`
}

// SchedulerConfig bounds tool batch execution.
type SchedulerConfig struct {
	MaxConcurrency int      `json:"max_concurrency" yaml:"max_concurrency" validate:"gte=1"`
	OutputLimit    int      `json:"output_limit" yaml:"output_limit" validate:"gte=256"`
	CallTimeout    Duration `json:"call_timeout" yaml:"call_timeout" validate:"gte=0"`
}

// QAConfig controls the advisory review pass.
type QAConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	Timeout         Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
	MaxToolRounds   int      `json:"max_tool_rounds" yaml:"max_tool_rounds" validate:"gte=0"`
	AppendToHistory bool     `json:"append_to_history" yaml:"append_to_history"`
}

// StorageConfig selects the plan store backend.
type StorageConfig struct {
	Backend string `json:"backend" yaml:"backend" validate:"oneof=memory sqlite badger"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// MetricsConfig controls prometheus registration and the query client.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	PrometheusURL string `json:"prometheus_url,omitempty" yaml:"prometheus_url,omitempty" validate:"omitempty,url"`
}

// PromptsConfig points at an optional prompt catalog override.
type PromptsConfig struct {
	CatalogPath string `json:"catalog_path,omitempty" yaml:"catalog_path,omitempty"`
	Watch       bool   `json:"watch" yaml:"watch"`
}

// EventsConfig optionally mirrors run records onto NATS.
type EventsConfig struct {
	NATSURL       string `json:"nats_url,omitempty" yaml:"nats_url,omitempty" validate:"omitempty,url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix" validate:"required"`
}

// DebugConfig mirrors the logx debug switches.
type DebugConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Domains     []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	LLMMessages bool     `json:"llm_messages" yaml:"llm_messages"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{
		SchemaVersion: SchemaVersion,
		Model: ModelConfig{
			Provider: ProviderAnthropic,
			Name:     "claude-sonnet-4-5",
		},
		Storage:       StorageConfig{Backend: StorageMemory},
		Orchestration: correctionBudgets(),
	}
	applyDefaults(cfg)
	return cfg
}

// correctionBudgets holds the defaults for budgets where an explicit zero is
// meaningful. They are applied before a file is parsed, not after.
func correctionBudgets() OrchestrationConfig {
	return OrchestrationConfig{MaxReasoningRetries: 2, MaxDeliveryCorrections: 2}
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}

	m := &cfg.Model
	if m.MaxTokens == 0 {
		m.MaxTokens = 4096
	}
	if m.RequestTimeout == 0 {
		m.RequestTimeout = Duration(3 * time.Minute)
	}
	if m.Retry.MaxAttempts == 0 {
		m.Retry.MaxAttempts = 3
	}
	if m.Retry.InitialDelay == 0 {
		m.Retry.InitialDelay = Duration(time.Second)
	}
	if m.Retry.MaxDelay == 0 {
		m.Retry.MaxDelay = Duration(30 * time.Second)
	}
	if m.Retry.BackoffFactor == 0 {
		m.Retry.BackoffFactor = 2.0
	}

	o := &cfg.Orchestration
	if o.MaxNodeHops == 0 {
		o.MaxNodeHops = 64
	}
	if o.MaxToolIterations == 0 {
		o.MaxToolIterations = 10
	}
	// correction budgets are seeded before parsing; zero disables them
	if o.HistoryTokenBudget == 0 {
		o.HistoryTokenBudget = 100000
	}

	s := &cfg.Scheduler
	if s.MaxConcurrency == 0 {
		s.MaxConcurrency = 4
	}
	if s.OutputLimit == 0 {
		s.OutputLimit = 16 * 1024
	}
	if s.CallTimeout == 0 {
		s.CallTimeout = Duration(60 * time.Second)
	}

	if cfg.QA.Timeout == 0 {
		cfg.QA.Timeout = Duration(90 * time.Second)
	}
	if cfg.QA.MaxToolRounds == 0 {
		cfg.QA.MaxToolRounds = 3
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageMemory
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "agentcore"
	}
}

// applyEnvOverrides lets the environment pick the provider and model.
func applyEnvOverrides(cfg *Config) {
	if p := os.Getenv(EnvProvider); p != "" {
		cfg.Model.Provider = strings.ToLower(p)
	}
	if m := os.Getenv(EnvModel); m != "" {
		cfg.Model.Name = m
	}
}

//nolint:gochecknoglobals // validator caches struct metadata
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				if fe.Param() != "" {
					msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
				} else {
					msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
				}
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Storage.Backend != StorageMemory && cfg.Storage.Path == "" {
		return fmt.Errorf("invalid config: storage.path is required for backend %q", cfg.Storage.Backend)
	}
	if cfg.Model.Retry.MaxDelay < cfg.Model.Retry.InitialDelay {
		return fmt.Errorf("invalid config: retry.max_delay must be >= retry.initial_delay")
	}
	return nil
}

// GetConfig returns the current config by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting replaces the global config. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// GetProjectDir returns the directory passed to LoadConfig.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// LoadConfig loads <projectDir>/.agentcore/config.{yaml,yml,json} into the singleton.
//
// A missing file produces a default config that is saved as JSON. A file that exists
// but does not parse is an error so user edits are never overwritten.
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = inputProjectDir
	configPath, found := findConfigFile(projectDir)
	if !found {
		getLogger().Info("📝 Config file not found, creating defaults at %s", configPath)
		cfg := Default()
		applyEnvOverrides(cfg)
		if err := Validate(cfg); err != nil {
			return fmt.Errorf("default config validation failed: %w", err)
		}
		if err := SaveConfig(cfg, projectDir); err != nil {
			return fmt.Errorf("failed to save initial config: %w", err)
		}
		config = cfg
		return nil
	}

	getLogger().Info("📝 Loading config from %s", configPath)
	cfg, err := LoadFile(configPath)
	if err != nil {
		return err
	}
	config = cfg
	getLogger().Info("✅ Config loaded and validated")
	return nil
}

// LoadFile parses, defaults and validates a single config file without touching the singleton.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Config{Orchestration: correctionBudgets()}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes cfg to <projectDir>/.agentcore/config.json.
func SaveConfig(cfg *Config, dir string) error {
	configPath := filepath.Join(dir, ProjectConfigDir, "config.json")
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func findConfigFile(dir string) (string, bool) {
	base := filepath.Join(dir, ProjectConfigDir)
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		p := filepath.Join(base, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return filepath.Join(base, "config.json"), false
}

// UpdateQA replaces the QA section and persists the config.
func UpdateQA(qa QAConfig) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	next := *config
	next.QA = qa
	applyDefaults(&next)
	if err := Validate(&next); err != nil {
		return err
	}
	config = &next
	if projectDir == "" {
		return nil
	}
	return SaveConfig(config, projectDir)
}

// GetAPIKey returns the credential for a provider. Ollama returns its host URL.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	case ProviderMock:
		return "", nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}
