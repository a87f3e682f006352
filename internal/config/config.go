// Package config loads and merges the application's YAML configuration
// tree: channels, rate limits, guardrail severities, the knowledge
// store path, model client settings, agent-to-agent policy, and the
// ambient observability/doctor/skills settings.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kavymi/meepo/internal/guardrail"
	"github.com/kavymi/meepo/internal/intersession"
	"github.com/kavymi/meepo/internal/session"
)

// Config is the root of the application's configuration tree.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	ModelClient   ModelClientConfig   `yaml:"model_client"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Guardrail     GuardrailConfig     `yaml:"guardrail"`
	Channels      ChannelsConfig      `yaml:"channels"`
	AgentToAgent  intersession.Config `yaml:"agent_to_agent"`
	Observability ObservabilityConfig `yaml:"observability"`
	Doctor        DoctorConfig        `yaml:"doctor"`
	Skills        SkillsConfig        `yaml:"skills"`
	GatewayAuth   GatewayAuthConfig   `yaml:"gateway_auth"`
}

// ServerConfig configures the optional loopback HTTP control surface
// that exposes doctor results and Prometheus metrics.
type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}

// ModelClientConfig selects and configures the model backend. Backend
// is "anthropic" or "bedrock"; the unused section is simply left zero.
type ModelClientConfig struct {
	Backend      string        `yaml:"backend"`
	Model        string        `yaml:"model"`
	MaxTokens    int           `yaml:"max_tokens"`
	MaxTurns     int           `yaml:"max_turns"`
	AnthropicKey string        `yaml:"anthropic_api_key"`
	AnthropicURL string        `yaml:"anthropic_base_url"`
	BedrockRegn  string        `yaml:"bedrock_region"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// KnowledgeConfig configures the SQLite-backed knowledge store.
type KnowledgeConfig struct {
	DBPath            string `yaml:"db_path"`
	EnableGraphExpand bool   `yaml:"enable_graph_expand"`
	EnableCorrective  bool   `yaml:"enable_corrective"`
	EnableEmbeddings  bool   `yaml:"enable_embeddings"`
}

// RateLimitConfig configures the per-sender sliding window limiter.
type RateLimitConfig struct {
	MaxMessages int           `yaml:"max_messages"`
	Window      time.Duration `yaml:"window"`
}

// GuardrailConfig configures the content-safety pipeline's blocking
// threshold.
type GuardrailConfig struct {
	BlockSeverity string `yaml:"block_severity"` // "low", "medium", "high", "critical"
}

// Severity translates BlockSeverity into guardrail.Severity, defaulting
// to High to match guardrail.Pipeline's own default.
func (g GuardrailConfig) Severity() guardrail.Severity {
	switch g.BlockSeverity {
	case "low":
		return guardrail.SeverityLow
	case "medium":
		return guardrail.SeverityMedium
	case "critical":
		return guardrail.SeverityCritical
	case "high":
		return guardrail.SeverityHigh
	default:
		return guardrail.SeverityHigh
	}
}

// ChannelsConfig lists per-channel-type enablement and visibility.
type ChannelsConfig struct {
	Enabled    []string           `yaml:"enabled"`
	Visibility session.Visibility `yaml:"visibility"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	LogLevel        string  `yaml:"log_level"`
	LogFormat       string  `yaml:"log_format"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	TracingEnabled  bool    `yaml:"tracing_enabled"`
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	Environment     string  `yaml:"environment"`
	SamplingRate    float64 `yaml:"sampling_rate"`
}

// DoctorConfig configures the health-check subcommand's targets.
type DoctorConfig struct {
	APIKeyEnvVar string `yaml:"api_key_env_var"`
	StateDir     string `yaml:"state_dir"`
}

// SkillsConfig configures where installed skills are tracked.
type SkillsConfig struct {
	SkillsDir string `yaml:"skills_dir"`
}

// GatewayAuthConfig configures bearer-token verification for the
// loopback control surface.
type GatewayAuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SigningKey   string `yaml:"signing_key"`
	ExpectedAud  string `yaml:"expected_audience"`
}

// Load reads the YAML file at path into a Config, applying defaults for
// any zero-valued fields that need one.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadWithOverlay reads a base config file and a second overlay file
// (e.g. a per-agent template) and deep-merges the overlay on top of the
// base: maps merge key by key, scalars and lists in the overlay replace
// the base's value outright.
func LoadWithOverlay(basePath, overlayPath string) (*Config, error) {
	baseRaw, err := readRawMap(basePath)
	if err != nil {
		return nil, fmt.Errorf("config: read base %s: %w", basePath, err)
	}
	if overlayPath == "" {
		cfg, err := decodeRaw(baseRaw)
		if err != nil {
			return nil, err
		}
		applyDefaults(cfg)
		return cfg, nil
	}

	overlayRaw, err := readRawMap(overlayPath)
	if err != nil {
		return nil, fmt.Errorf("config: read overlay %s: %w", overlayPath, err)
	}

	merged := mergeMaps(baseRaw, overlayRaw)
	cfg, err := decodeRaw(merged)
	if err != nil {
		return nil, fmt.Errorf("config: parse merged config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func readRawMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// mergeMaps recursively merges src into dst, overlaying scalar and list
// values but merging nested maps key by key.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

func decode(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("expected a single YAML document")
	}
	return &cfg, nil
}

func decodeRaw(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize merged config: %w", err)
	}
	return decode(payload)
}

func applyDefaults(cfg *Config) {
	if cfg.ModelClient.Backend == "" {
		cfg.ModelClient.Backend = "anthropic"
	}
	if cfg.ModelClient.MaxTokens <= 0 {
		cfg.ModelClient.MaxTokens = 4096
	}
	if cfg.ModelClient.MaxTurns <= 0 {
		cfg.ModelClient.MaxTurns = 8
	}
	if cfg.RateLimit.MaxMessages <= 0 {
		cfg.RateLimit.MaxMessages = 20
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "meepo"
	}
	if cfg.Observability.SamplingRate <= 0 {
		cfg.Observability.SamplingRate = 1.0
	}
	if cfg.Doctor.APIKeyEnvVar == "" {
		cfg.Doctor.APIKeyEnvVar = "ANTHROPIC_API_KEY"
	}
}
