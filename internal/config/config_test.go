package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "desk.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDeskConfig_Full(t *testing.T) {
	path := writeConfig(t, `
version: 1
desk:
  width_cm: 100
  height_cm: 60
  paper_offset_x_cm: 10
  paper_offset_y_cm: 12
api:
  port: 9000
  tls_cert: /etc/desk/cert.pem
  tls_key: /etc/desk/key.pem
mqtt:
  enabled: true
  base_topic: desk1
paths:
  safety_rules: /etc/desk/safety_rules.json
  program_dir: /var/lib/desk/programs
timing:
  execution_loop_delay: 20ms
  safety_max_wait: 10s
`)

	cfg, err := LoadDeskConfig(path)
	if err != nil {
		t.Fatalf("LoadDeskConfig failed: %v", err)
	}

	if cfg.Desk.WidthCM != 100 || cfg.Desk.HeightCM != 60 {
		t.Errorf("desk dims = %vx%v, want 100x60", cfg.Desk.WidthCM, cfg.Desk.HeightCM)
	}
	if cfg.APIPort() != 9000 {
		t.Errorf("APIPort() = %d, want 9000", cfg.APIPort())
	}
	if cfg.API.TLSCert != "/etc/desk/cert.pem" || cfg.API.TLSKey != "/etc/desk/key.pem" {
		t.Errorf("tls pair = %q/%q, want the configured paths", cfg.API.TLSCert, cfg.API.TLSKey)
	}
	if cfg.BaseTopic() != "desk1" {
		t.Errorf("BaseTopic() = %q, want desk1", cfg.BaseTopic())
	}
	if got := cfg.Timing.ExecutionLoopDelay.Std(); got != 20*time.Millisecond {
		t.Errorf("execution_loop_delay = %v, want 20ms", got)
	}
	if got := cfg.Timing.SafetyMaxWait.Std(); got != 10*time.Second {
		t.Errorf("safety_max_wait = %v, want 10s", got)
	}
	// Fields left out of the timing block fall back to defaults.
	if got := cfg.Timing.SafetyCheckInterval.Std(); got != 100*time.Millisecond {
		t.Errorf("safety_check_interval default = %v, want 100ms", got)
	}
}

func TestLoadDeskConfig_Defaults(t *testing.T) {
	cfg, err := LoadDeskConfig(writeConfig(t, "version: 1\n"))
	if err != nil {
		t.Fatalf("LoadDeskConfig failed: %v", err)
	}

	if cfg.Desk.ID != "desk-01" {
		t.Errorf("default desk id = %q, want desk-01", cfg.Desk.ID)
	}
	if cfg.Desk.WidthCM != 120 || cfg.Desk.HeightCM != 80 {
		t.Errorf("default desk dims = %vx%v, want 120x80", cfg.Desk.WidthCM, cfg.Desk.HeightCM)
	}
	if cfg.Desk.PaperOffsetX != 15 || cfg.Desk.PaperOffsetY != 15 {
		t.Errorf("default paper offset = (%v,%v), want (15,15)", cfg.Desk.PaperOffsetX, cfg.Desk.PaperOffsetY)
	}
	if cfg.APIPort() != 8090 {
		t.Errorf("default APIPort() = %d, want 8090", cfg.APIPort())
	}
	if cfg.BaseTopic() != "scratchdesk" {
		t.Errorf("default BaseTopic() = %q, want scratchdesk", cfg.BaseTopic())
	}
	if cfg.Paths.SafetyRules != "config/safety_rules.json" {
		t.Errorf("default safety_rules path = %q", cfg.Paths.SafetyRules)
	}
	if got := cfg.Timing.JoinTimeoutExecution.Std(); got != 2*time.Second {
		t.Errorf("join_timeout_execution default = %v, want 2s", got)
	}
}

func TestLoadDeskConfig_BadVersion(t *testing.T) {
	if _, err := LoadDeskConfig(writeConfig(t, "version: 2\n")); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestLoadDeskConfig_BadDuration(t *testing.T) {
	path := writeConfig(t, `
version: 1
timing:
  execution_loop_delay: fast
`)
	if _, err := LoadDeskConfig(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}
