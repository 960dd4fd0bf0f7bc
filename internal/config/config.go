// Package config loads Wilson's on-disk configuration: the default
// model, context-window and compaction thresholds, loop iteration
// caps, swarm root directory, and tool policy profile. Following the
// teacher's convention, environment variables override file values
// after parsing and defaults are applied before validation.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is Wilson's top-level configuration structure.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Loop    LoopConfig    `yaml:"loop"`
	Tools   ToolsConfig   `yaml:"tools"`
	Swarm   SwarmConfig   `yaml:"swarm"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LLMConfig configures the Anthropic backend.
type LLMConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxTokens    int           `yaml:"max_tokens"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	SystemPrompt string        `yaml:"system_prompt"`
}

// LoopConfig configures the agent loop's state machine limits.
type LoopConfig struct {
	// MaxDepth is the hard iteration cap. Default: 15.
	MaxDepth int `yaml:"max_depth"`

	// SoftHintDepths is defaulted to [5, 10] and validated. The agent loop
	// does not read it: its guidance depths (5 and 10) are fixed in
	// agentloop.
	SoftHintDepths []int `yaml:"soft_hint_depths"`

	// ReflectionInterval is defaulted to 5 and validated. The agent loop
	// does not read it: its reflection prompt interval (every 5 depths) is
	// fixed in agentloop.
	ReflectionInterval int `yaml:"reflection_interval"`

	// ContextWindowTokens bounds the history size before compaction runs.
	ContextWindowTokens int `yaml:"context_window_tokens"`

	// CompactionThreshold is the fraction of ContextWindowTokens at which
	// compaction triggers. Default: 0.8.
	CompactionThreshold float64 `yaml:"compaction_threshold"`
}

// ToolsConfig configures the tool runtime.
type ToolsConfig struct {
	// PolicyProfile selects one of policy.Policy's pre-configured access
	// levels: "coding", "messaging", "full", or "minimal".
	PolicyProfile string `yaml:"policy_profile"`

	// MaxParamsBytes is defaulted to 10 MiB and validated. The tool
	// runtime does not read it.
	MaxParamsBytes int64 `yaml:"max_params_bytes"`

	// ExecutionTimeout is defaulted to 2 minutes. The tool dispatcher does
	// not read it and uses its own per-call timeout (30s by default).
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
}

// SwarmConfig configures the swarm orchestrator's shared directory.
type SwarmConfig struct {
	// RootDir is the directory holding goal-queue.jsonl,
	// completion-queue.jsonl, state.json, messages.jsonl, and lock.
	RootDir string `yaml:"root_dir"`

	// LockTimeout bounds how long a process waits to acquire the swarm
	// lock before giving up.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// PollInterval is how often worker/validator loops poll the queue.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxRetries bounds per-task validator requeue attempts.
	MaxRetries int `yaml:"max_retries"`
}

// LoggingConfig holds the structured logger's settings. They are defaulted
// and validated; main.go builds the default logger as a text handler at
// info level and does not apply them.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

// Load reads and parses the configuration file at path, applies
// WILSON_* environment overrides, fills in defaults, and validates
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}

	if cfg.Loop.MaxDepth == 0 {
		cfg.Loop.MaxDepth = 15
	}
	if len(cfg.Loop.SoftHintDepths) == 0 {
		cfg.Loop.SoftHintDepths = []int{5, 10}
	}
	if cfg.Loop.ReflectionInterval == 0 {
		cfg.Loop.ReflectionInterval = 5
	}
	if cfg.Loop.ContextWindowTokens == 0 {
		cfg.Loop.ContextWindowTokens = 180000
	}
	if cfg.Loop.CompactionThreshold == 0 {
		cfg.Loop.CompactionThreshold = 0.8
	}

	if cfg.Tools.PolicyProfile == "" {
		cfg.Tools.PolicyProfile = "coding"
	}
	if cfg.Tools.MaxParamsBytes == 0 {
		cfg.Tools.MaxParamsBytes = 10 << 20
	}
	if cfg.Tools.ExecutionTimeout == 0 {
		cfg.Tools.ExecutionTimeout = 2 * time.Minute
	}

	if cfg.Swarm.RootDir == "" {
		cfg.Swarm.RootDir = ".wilson/swarm"
	}
	if cfg.Swarm.LockTimeout == 0 {
		cfg.Swarm.LockTimeout = 5 * time.Second
	}
	if cfg.Swarm.PollInterval == 0 {
		cfg.Swarm.PollInterval = 2 * time.Second
	}
	if cfg.Swarm.MaxRetries == 0 {
		cfg.Swarm.MaxRetries = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "wilson"
	}
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("WILSON_ANTHROPIC_API_KEY")); value != "" {
		cfg.LLM.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("WILSON_MODEL")); value != "" {
		cfg.LLM.DefaultModel = value
	}
	if value := strings.TrimSpace(os.Getenv("WILSON_MAX_DEPTH")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Loop.MaxDepth = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("WILSON_SWARM_ROOT")); value != "" {
		cfg.Swarm.RootDir = value
	}
	if value := strings.TrimSpace(os.Getenv("WILSON_TOOL_PROFILE")); value != "" {
		cfg.Tools.PolicyProfile = value
	}
	if value := strings.TrimSpace(os.Getenv("WILSON_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("WILSON_METRICS_ADDR")); value != "" {
		cfg.Metrics.Addr = value
	}
}

// ValidationError reports one or more configuration problems found during
// Load's final validation pass.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.LLM.MaxTokens <= 0 {
		issues = append(issues, "llm.max_tokens must be > 0")
	}
	if cfg.LLM.MaxRetries < 0 {
		issues = append(issues, "llm.max_retries must be >= 0")
	}

	if cfg.Loop.MaxDepth <= 0 {
		issues = append(issues, "loop.max_depth must be > 0")
	}
	if cfg.Loop.ReflectionInterval <= 0 {
		issues = append(issues, "loop.reflection_interval must be > 0")
	}
	if cfg.Loop.CompactionThreshold <= 0 || cfg.Loop.CompactionThreshold > 1 {
		issues = append(issues, "loop.compaction_threshold must be in (0, 1]")
	}
	for _, d := range cfg.Loop.SoftHintDepths {
		if d <= 0 || d > cfg.Loop.MaxDepth {
			issues = append(issues, fmt.Sprintf("loop.soft_hint_depths entry %d must be in (0, max_depth]", d))
		}
	}

	if !validPolicyProfile(cfg.Tools.PolicyProfile) {
		issues = append(issues, "tools.policy_profile must be \"coding\", \"messaging\", \"full\", or \"minimal\"")
	}
	if cfg.Tools.MaxParamsBytes <= 0 {
		issues = append(issues, "tools.max_params_bytes must be > 0")
	}

	if strings.TrimSpace(cfg.Swarm.RootDir) == "" {
		issues = append(issues, "swarm.root_dir must not be empty")
	}
	if cfg.Swarm.MaxRetries < 0 {
		issues = append(issues, "swarm.max_retries must be >= 0")
	}

	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, "logging.level must be \"debug\", \"info\", \"warn\", or \"error\"")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validPolicyProfile(profile string) bool {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "coding", "messaging", "full", "minimal":
		return true
	default:
		return false
	}
}

func validLogLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
