package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if cfg.Pipeline.BatchSize != 50 || cfg.Pipeline.HistoryWindow != 5 || cfg.Pipeline.HistoryRetention != 100 {
		t.Errorf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.DispatchTimeout != 10*time.Second {
		t.Errorf("DispatchTimeout = %v, want 10s", cfg.Pipeline.DispatchTimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ECGMON_LISTEN_ADDR", ":9000")
	t.Setenv("ECGMON_BATCH_SIZE", "25")
	t.Setenv("ECGMON_DISPATCH_TIMEOUT", "2.5")
	t.Setenv("ECGMON_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("LLM_PROVIDER", "Ollama")
	t.Setenv("LLM_RETRIES", "2")
	t.Setenv("LLM_RATE_PER_SEC", "0.5")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Pipeline.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.DispatchTimeout != 2500*time.Millisecond {
		t.Errorf("DispatchTimeout = %v, want 2.5s", cfg.Pipeline.DispatchTimeout)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 3s", cfg.Server.ShutdownTimeout)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("Provider = %q, want ollama", cfg.LLM.Provider)
	}
	if cfg.LLM.Retries != 2 || cfg.LLM.RatePerSec != 0.5 {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "ECGMON_HISTORY_WINDOW=3\nLLM_MODEL=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// Process environment takes precedence over the file
	t.Setenv("LLM_MODEL", "from-env")
	// Keys the file sets must not leak into other tests
	t.Setenv("ECGMON_HISTORY_WINDOW", "")
	os.Unsetenv("ECGMON_HISTORY_WINDOW")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Pipeline.HistoryWindow != 3 {
		t.Errorf("HistoryWindow = %d, want 3 from file", cfg.Pipeline.HistoryWindow)
	}
	if cfg.LLM.Model != "from-env" {
		t.Errorf("Model = %q, want from-env", cfg.LLM.Model)
	}
}

func TestLoadMalformed(t *testing.T) {
	t.Setenv("ECGMON_BATCH_SIZE", "fifty")
	t.Setenv("LLM_RETRIES", "x")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err == nil {
		t.Fatal("expected error for malformed values")
	}
	for _, key := range []string{"ECGMON_BATCH_SIZE", "LLM_RETRIES"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero batch", func(c *Config) { c.Pipeline.BatchSize = 0 }},
		{"zero window", func(c *Config) { c.Pipeline.HistoryWindow = 0 }},
		{"retention below window", func(c *Config) { c.Pipeline.HistoryRetention = 2 }},
		{"zero timeout", func(c *Config) { c.Pipeline.DispatchTimeout = 0 }},
		{"negative inflight", func(c *Config) { c.Pipeline.MaxInFlight = -1 }},
		{"inverted limits", func(c *Config) { c.Pipeline.ValueMin = 10; c.Pipeline.ValueMax = 5 }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "claude" }},
		{"negative retries", func(c *Config) { c.LLM.Retries = -1 }},
		{"mqtt without topic", func(c *Config) { c.MQTT.Broker = "localhost:1883"; c.MQTT.Topic = "" }},
		{"kafka without topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.Topic = "" }},
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
