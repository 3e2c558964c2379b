package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Generation.MaxRetries != 3 {
		t.Fatalf("expected 3 retries by default, got %d", cfg.Generation.MaxRetries)
	}
	if cfg.Generation.RetryStepMS != 1000 {
		t.Fatalf("expected 1000ms retry step, got %d", cfg.Generation.RetryStepMS)
	}
	if cfg.Cache.Mode != "unbounded" {
		t.Fatalf("expected unbounded cache, got %s", cfg.Cache.Mode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NARRATOR_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("NARRATOR_BUS_USERNAME", "alice")
	t.Setenv("NARRATOR_BUS_PASSWORD", "secret")
	t.Setenv("NARRATOR_BUS_TLS_INSECURE", "true")
	t.Setenv("NARRATOR_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("NARRATOR_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("NARRATOR_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("NARRATOR_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("NARRATOR_CACHE_MODE", "lru")
	t.Setenv("NARRATOR_CACHE_MAX_ENTRIES", "64")
	t.Setenv("NARRATOR_GENERATION_MODE", "gemini")
	t.Setenv("NARRATOR_GENERATION_API_KEY", "key-123")
	t.Setenv("NARRATOR_GENERATION_MAX_RETRIES", "5")
	t.Setenv("NARRATOR_SPEECH_USER_ID", "user-9")
	t.Setenv("NARRATOR_AUDIO_MAX_BYTES", "1024")
	t.Setenv("NARRATOR_ABORT_SUPERSEDED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.Cache.Mode != "lru" || cfg.Cache.MaxEntries != 64 {
		t.Fatalf("expected cache override, got %+v", cfg.Cache)
	}
	if cfg.Generation.Mode != "gemini" || cfg.Generation.APIKey != "key-123" {
		t.Fatalf("expected generation override, got %+v", cfg.Generation)
	}
	if cfg.Generation.MaxRetries != 5 {
		t.Fatalf("expected retries override")
	}
	if cfg.Speech.UserID != "user-9" {
		t.Fatalf("expected speech user override")
	}
	if cfg.Audio.MaxBytes != 1024 {
		t.Fatalf("expected audio max bytes override")
	}
	if cfg.Narrator.AbortSuperseded {
		t.Fatalf("expected abort superseded override false")
	}
}

func TestLoadYAMLAndTOML(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "narrator.yaml")
	yamlDoc := "runtime_name: yaml-runtime\ngeneration:\n  max_retries: 1\ncache:\n  mode: ttl\n  max_entries: 10\n  ttl_seconds: 5\n"
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.RuntimeName != "yaml-runtime" || cfg.Generation.MaxRetries != 1 || cfg.Cache.Mode != "ttl" {
		t.Fatalf("unexpected yaml config: %+v", cfg)
	}

	tomlPath := filepath.Join(dir, "narrator.toml")
	tomlDoc := "runtime_name = \"toml-runtime\"\n\n[speech]\nmode = \"playht\"\napi_key = \"secret\"\n"
	if err := os.WriteFile(tomlPath, []byte(tomlDoc), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	cfg, err = Load(tomlPath)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.RuntimeName != "toml-runtime" || cfg.Speech.Mode != "playht" || cfg.Speech.APIKey != "secret" {
		t.Fatalf("unexpected toml config: %+v", cfg)
	}
	if cfg.Speech.OutputFormat != "mp3" {
		t.Fatalf("expected defaults preserved, got %q", cfg.Speech.OutputFormat)
	}
}

func TestValidateRejectsUnknownModes(t *testing.T) {
	t.Setenv("NARRATOR_GENERATION_MODE", "openai")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown generation mode")
	}
}

func TestValidateRejectsNegativeRetries(t *testing.T) {
	t.Setenv("NARRATOR_GENERATION_MAX_RETRIES", "-1")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for negative retries")
	}
}

func TestValidateRejectsShortHeartbeatTimeout(t *testing.T) {
	t.Setenv("NARRATOR_NODE_HEARTBEAT_INTERVAL_MS", "1000")
	t.Setenv("NARRATOR_NODE_HEARTBEAT_TIMEOUT_MS", "500")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for heartbeat timeout below interval")
	}
}

func TestValidateTraceExporter(t *testing.T) {
	t.Setenv("NARRATOR_TELEMETRY_TRACE_EXPORTER", "otlp")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for otlp exporter without endpoint")
	}
	t.Setenv("NARRATOR_TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	if _, err := Load(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Setenv("NARRATOR_TELEMETRY_TRACE_EXPORTER", "jaeger")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown trace exporter")
	}
}
