package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Pipeline PipelineConfig `json:"pipeline"`
	LLM      LLMConfig      `json:"llm"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Kafka    KafkaConfig    `json:"kafka"`
	Log      LogConfig      `json:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	ListenAddr      string        `json:"listen_addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// PipelineConfig sizes the ingest pipeline
type PipelineConfig struct {
	BatchSize        int           `json:"batch_size"`
	HistoryWindow    int           `json:"history_window"`    // entries returned by the history endpoint
	HistoryRetention int           `json:"history_retention"` // entries kept in memory
	DispatchTimeout  time.Duration `json:"dispatch_timeout"`
	MaxInFlight      int           `json:"max_inflight"` // 0 = unlimited
	ValueMin         int64         `json:"value_min"`
	ValueMax         int64         `json:"value_max"`
}

// LLMConfig selects and tunes the summarization service
type LLMConfig struct {
	Provider   string  `json:"provider"` // "openai" or "ollama"
	Endpoint   string  `json:"endpoint,omitempty"`
	Model      string  `json:"model,omitempty"`
	APIKey     string  `json:"-"`
	MaxTokens  int     `json:"max_tokens"`
	Retries    int     `json:"retries"`
	RatePerSec float64 `json:"rate_per_sec"` // 0 = unlimited
}

// MQTTConfig enables the MQTT sample source when Broker is set
type MQTTConfig struct {
	Broker   string `json:"broker,omitempty"` // host:port
	Topic    string `json:"topic"`
	ClientID string `json:"client_id"`
}

// KafkaConfig enables the result sink when Brokers is non-empty
type KafkaConfig struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic"`
}

// LogConfig controls the application log and the JSONL event log
type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file,omitempty"`
	EventsFile string `json:"events_file,omitempty"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8000",
			ShutdownTimeout: 15 * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchSize:        50,
			HistoryWindow:    5,
			HistoryRetention: 100,
			DispatchTimeout:  10 * time.Second,
			MaxInFlight:      0,
			ValueMin:         0,
			ValueMax:         4095,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			MaxTokens: 200,
		},
		MQTT: MQTTConfig{
			Topic:    "ecg/samples",
			ClientID: "ecgmon",
		},
		Kafka: KafkaConfig{
			Topic: "ecg-analysis",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional .env file and the
// process environment, in that order of precedence (environment wins).
// Missing env files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv.Load never overrides variables already set
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto c. Malformed values are
// reported together.
func (c *Config) ApplyEnv() error {
	e := &envReader{}

	c.Server.ListenAddr = e.getString("ECGMON_LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.ShutdownTimeout = e.getDuration("ECGMON_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Pipeline.BatchSize = e.getInt("ECGMON_BATCH_SIZE", c.Pipeline.BatchSize)
	c.Pipeline.HistoryWindow = e.getInt("ECGMON_HISTORY_WINDOW", c.Pipeline.HistoryWindow)
	c.Pipeline.HistoryRetention = e.getInt("ECGMON_HISTORY_RETENTION", c.Pipeline.HistoryRetention)
	c.Pipeline.DispatchTimeout = e.getDuration("ECGMON_DISPATCH_TIMEOUT", c.Pipeline.DispatchTimeout)
	c.Pipeline.MaxInFlight = e.getInt("ECGMON_MAX_INFLIGHT", c.Pipeline.MaxInFlight)
	c.Pipeline.ValueMin = e.getInt64("ECGMON_VALUE_MIN", c.Pipeline.ValueMin)
	c.Pipeline.ValueMax = e.getInt64("ECGMON_VALUE_MAX", c.Pipeline.ValueMax)

	c.LLM.Provider = strings.ToLower(e.getString("LLM_PROVIDER", c.LLM.Provider))
	c.LLM.Endpoint = e.getString("LLM_ENDPOINT", c.LLM.Endpoint)
	c.LLM.Model = e.getString("LLM_MODEL", c.LLM.Model)
	c.LLM.APIKey = e.getString("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.MaxTokens = e.getInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Retries = e.getInt("LLM_RETRIES", c.LLM.Retries)
	c.LLM.RatePerSec = e.getFloat("LLM_RATE_PER_SEC", c.LLM.RatePerSec)

	c.MQTT.Broker = e.getString("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = e.getString("MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.ClientID = e.getString("MQTT_CLIENT_ID", c.MQTT.ClientID)

	c.Kafka.Brokers = e.getList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = e.getString("KAFKA_TOPIC", c.Kafka.Topic)

	c.Log.Level = e.getString("LOG_LEVEL", c.Log.Level)
	c.Log.File = e.getString("LOG_FILE", c.Log.File)
	c.Log.EventsFile = e.getString("EVENTS_FILE", c.Log.EventsFile)

	return errors.Join(e.errs...)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.Pipeline.HistoryWindow < 1 {
		return fmt.Errorf("history window must be at least 1")
	}
	if c.Pipeline.HistoryRetention < c.Pipeline.HistoryWindow {
		return fmt.Errorf("history retention (%d) must be at least the window (%d)",
			c.Pipeline.HistoryRetention, c.Pipeline.HistoryWindow)
	}
	if c.Pipeline.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive")
	}
	if c.Pipeline.MaxInFlight < 0 {
		return fmt.Errorf("max in-flight must not be negative")
	}
	if c.Pipeline.ValueMin > c.Pipeline.ValueMax {
		return fmt.Errorf("value min (%d) exceeds value max (%d)", c.Pipeline.ValueMin, c.Pipeline.ValueMax)
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown LLM provider %q (want openai or ollama)", c.LLM.Provider)
	}
	if c.LLM.Retries < 0 {
		return fmt.Errorf("LLM retries must not be negative")
	}
	if c.LLM.RatePerSec < 0 {
		return fmt.Errorf("LLM rate must not be negative")
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return fmt.Errorf("MQTT topic is required when a broker is set")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("Kafka topic is required when brokers are set")
	}
	return nil
}

// Helper functions for environment variables

type envReader struct {
	errs []error
}

func (e *envReader) getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) getInt(key string, def int) int {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) getInt64(key string, def int64) int64 {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) getFloat(key string, def float64) float64 {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

// getDuration accepts Go duration strings ("10s") or bare seconds ("10").
func (e *envReader) getDuration(key string, def time.Duration) time.Duration {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *envReader) getList(key string, def []string) []string {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
