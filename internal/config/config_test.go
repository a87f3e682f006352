package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kavymi/meepo/internal/guardrail"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "meepo.yaml", `
knowledge:
  db_path: /tmp/meepo.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ModelClient.Backend != "anthropic" {
		t.Fatalf("expected anthropic default backend, got %q", cfg.ModelClient.Backend)
	}
	if cfg.ModelClient.MaxTurns != 8 || cfg.ModelClient.MaxTokens != 4096 {
		t.Fatalf("unexpected model defaults: %+v", cfg.ModelClient)
	}
	if cfg.RateLimit.MaxMessages != 20 || cfg.RateLimit.Window != time.Minute {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Observability.LogLevel != "info" || cfg.Observability.LogFormat != "json" {
		t.Fatalf("unexpected observability defaults: %+v", cfg.Observability)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "meepo.yaml", `
knowledge:
  db_path: /tmp/meepo.db
  no_such_option: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestGuardrailSeverityMapping(t *testing.T) {
	cases := map[string]guardrail.Severity{
		"low":      guardrail.SeverityLow,
		"medium":   guardrail.SeverityMedium,
		"high":     guardrail.SeverityHigh,
		"critical": guardrail.SeverityCritical,
		"":         guardrail.SeverityHigh,
		"bogus":    guardrail.SeverityHigh,
	}
	for in, want := range cases {
		if got := (GuardrailConfig{BlockSeverity: in}).Severity(); got != want {
			t.Errorf("severity %q: got %v, want %v", in, got, want)
		}
	}
}

func TestLoadWithOverlayDeepMerges(t *testing.T) {
	base := writeConfig(t, "base.yaml", `
model_client:
  model: claude-sonnet-4-5
  max_turns: 4
knowledge:
  db_path: /tmp/base.db
  enable_corrective: false
rate_limit:
  max_messages: 10
`)
	overlay := writeConfig(t, "overlay.yaml", `
knowledge:
  enable_corrective: true
rate_limit:
  max_messages: 3
`)

	cfg, err := LoadWithOverlay(base, overlay)
	if err != nil {
		t.Fatalf("load with overlay: %v", err)
	}

	// Overlay scalars overwrite.
	if !cfg.Knowledge.EnableCorrective {
		t.Fatal("expected overlay to enable corrective retrieval")
	}
	if cfg.RateLimit.MaxMessages != 3 {
		t.Fatalf("expected overlay rate limit, got %d", cfg.RateLimit.MaxMessages)
	}

	// Sibling keys in merged maps survive.
	if cfg.Knowledge.DBPath != "/tmp/base.db" {
		t.Fatalf("expected base db_path to survive merge, got %q", cfg.Knowledge.DBPath)
	}
	if cfg.ModelClient.Model != "claude-sonnet-4-5" || cfg.ModelClient.MaxTurns != 4 {
		t.Fatalf("expected untouched base model settings, got %+v", cfg.ModelClient)
	}
}

func TestLoadWithOverlayEmptyOverlayPath(t *testing.T) {
	base := writeConfig(t, "base.yaml", `
knowledge:
  db_path: /tmp/base.db
`)
	cfg, err := LoadWithOverlay(base, "")
	if err != nil {
		t.Fatalf("load without overlay: %v", err)
	}
	if cfg.Knowledge.DBPath != "/tmp/base.db" {
		t.Fatalf("unexpected config: %+v", cfg.Knowledge)
	}
}
