package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_model: claude-sonnet-4-20250514
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Loop.MaxDepth != 15 {
		t.Errorf("expected default max_depth=15, got %d", cfg.Loop.MaxDepth)
	}
	if cfg.Tools.PolicyProfile != "coding" {
		t.Errorf("expected default policy_profile=coding, got %q", cfg.Tools.PolicyProfile)
	}
	if cfg.Swarm.RootDir != ".wilson/swarm" {
		t.Errorf("expected default swarm root, got %q", cfg.Swarm.RootDir)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level=info, got %q", cfg.Logging.Level)
	}
}

func TestLoadValidatesCompactionThreshold(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: test-key
loop:
  compaction_threshold: 1.5
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "compaction_threshold") {
		t.Fatalf("expected compaction_threshold error, got %v", err)
	}
}

func TestLoadValidatesSoftHintDepths(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: test-key
loop:
  max_depth: 10
  soft_hint_depths: [5, 20]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "soft_hint_depths") {
		t.Fatalf("expected soft_hint_depths error, got %v", err)
	}
}

func TestLoadValidatesPolicyProfile(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: test-key
tools:
  policy_profile: nope
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "policy_profile") {
		t.Fatalf("expected policy_profile error, got %v", err)
	}
}

func TestLoadValidatesLogLevel(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: test-key
logging:
  level: verbose
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("expected logging.level error, got %v", err)
	}
}

func TestLoadEnvOverridesAPIKey(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: file-key
`)

	t.Setenv("WILSON_ANTHROPIC_API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env override to win, got %q", cfg.LLM.APIKey)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wilson.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
