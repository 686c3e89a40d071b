// Package config provides configuration management for relay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/tidwall/sjson"
)

const appName = "relay"

// Model client backends.
const (
	BackendFantasy = "fantasy"
	BackendOpenAI  = "openai"
)

// DefaultModel is the model used when a client does not pick one.
const DefaultModel = "openai/gpt-4.1-mini"

// DefaultModels is the model list offered to clients before any catalog
// refresh.
var DefaultModels = []string{
	"openai/gpt-4.1-mini",
	"openai/gpt-4.1",
	"openai/gpt-4o-mini",
	"anthropic/claude-3.5-haiku",
	"anthropic/claude-sonnet-4",
	"google/gemini-2.5-flash",
	"meta-llama/llama-3.3-70b-instruct",
	"mistralai/mistral-small-3.2-24b-instruct",
	"deepseek/deepseek-chat-v3-0324",
}

// Config is the top-level configuration structure.
type Config struct {
	Server  ServerConfig  `json:"server"`
	LLM     LLMConfig     `json:"llm"`
	Worker  WorkerConfig  `json:"worker"`
	Catalog CatalogConfig `json:"catalog"`
	Log     LogConfig     `json:"log"`
	Options Options       `json:"options"`
}

// ServerConfig holds the HTTP listener settings and the address CLI
// commands talk to.
type ServerConfig struct {
	Addr            string   `json:"addr" env:"RELAY_ADDR"`
	URL             string   `json:"url" env:"RELAY_URL"`
	AllowedOrigins  []string `json:"allowed_origins,omitempty" env:"RELAY_ALLOWED_ORIGINS" envSeparator:","`
	ShutdownTimeout Duration `json:"shutdown_timeout" env:"RELAY_SHUTDOWN_TIMEOUT"`
}

// LLMConfig selects and configures the model client.
//
//nolint:govet // Field order is intentional for JSON readability.
type LLMConfig struct {
	Backend      string   `json:"backend" env:"RELAY_LLM_BACKEND"`
	BaseURL      string   `json:"base_url" env:"OPENROUTER_BASE_URL"`
	APIKey       string   `json:"api_key,omitempty" env:"OPENROUTER_API_KEY"`
	DefaultModel string   `json:"default_model" env:"RELAY_DEFAULT_MODEL"`
	TitleModel   string   `json:"title_model" env:"RELAY_TITLE_MODEL"`
	Referrer     string   `json:"referrer,omitempty" env:"OPENROUTER_REFERRER"`
	AppTitle     string   `json:"app_title,omitempty" env:"OPENROUTER_TITLE"`
	Timeout      Duration `json:"timeout" env:"RELAY_LLM_TIMEOUT"`
}

// WorkerConfig sizes the processing pool and the recovery sweep.
type WorkerConfig struct {
	Workers          int      `json:"workers" env:"RELAY_WORKERS"`
	QueueSize        int      `json:"queue_size" env:"RELAY_QUEUE_SIZE"`
	RecoverySchedule string   `json:"recovery_schedule" env:"RELAY_RECOVERY_SCHEDULE"`
	RecoveryGrace    Duration `json:"recovery_grace" env:"RELAY_RECOVERY_GRACE"`
}

// CatalogConfig controls the model list served to clients.
type CatalogConfig struct {
	Models     []string `json:"models" env:"RELAY_MODELS" envSeparator:","`
	CatwalkURL string   `json:"catwalk_url,omitempty" env:"RELAY_CATWALK_URL"`
}

// LogConfig controls log and telemetry files.
type LogConfig struct {
	Level      string `json:"level" env:"RELAY_LOG_LEVEL"`
	MaxSizeMB  int    `json:"max_size_mb" env:"RELAY_LOG_MAX_SIZE_MB"`
	MaxBackups int    `json:"max_backups" env:"RELAY_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"RELAY_LOG_MAX_AGE_DAYS"`
	Telemetry  bool   `json:"telemetry" env:"RELAY_TELEMETRY"`
}

// Options holds optional settings.
type Options struct {
	DataDir string `json:"data_directory,omitempty" env:"RELAY_DATA_DIR"`
	Debug   bool   `json:"debug,omitempty" env:"RELAY_DEBUG"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			URL:             "http://localhost:8000",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		LLM: LLMConfig{
			Backend:      BackendFantasy,
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: DefaultModel,
			TitleModel:   DefaultModel,
			Referrer:     "https://github.com/guilhermegouw/relay",
			AppTitle:     "relay",
			Timeout:      Duration(60 * time.Second),
		},
		Worker: WorkerConfig{
			Workers:          4,
			QueueSize:        128,
			RecoverySchedule: "@every 1m",
			RecoveryGrace:    Duration(2 * time.Minute),
		},
		Catalog: CatalogConfig{
			Models: append([]string(nil), DefaultModels...),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.LLM.Backend {
	case BackendFantasy, BackendOpenAI:
	default:
		return fmt.Errorf("llm.backend: unknown backend %q (want %q or %q)", c.LLM.Backend, BackendFantasy, BackendOpenAI)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url must be set")
	}
	if c.Worker.Workers < 1 {
		return fmt.Errorf("worker.workers must be at least 1, got %d", c.Worker.Workers)
	}
	if c.Worker.QueueSize < 1 {
		return fmt.Errorf("worker.queue_size must be at least 1, got %d", c.Worker.QueueSize)
	}
	return nil
}

// DataDir returns the data directory path from configuration.
func (c *Config) DataDir() string {
	if c.Options.DataDir != "" {
		return c.Options.DataDir
	}
	return filepath.Join(xdg.DataHome, appName)
}

// DBPath returns the SQLite database file path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir(), appName+".db")
}

// LogDir returns the directory for log and telemetry files.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir(), "logs")
}

// SetConfigField updates a single field in the global config file using
// JSON path notation.
func SetConfigField(key string, value any) error {
	return SetFileField(GlobalConfigPath(), key, value)
}

// SetFileField updates a single field in the config file at path. Only the
// named field is touched; the rest of the file is kept byte for byte.
func SetFileField(path, key string, value any) error {
	//nolint:gosec // G304: path is the trusted config location.
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading config file: %w", err)
		}
		data = []byte("{}")
	}

	newData, err := sjson.Set(string(data), key, value)
	if err != nil {
		return fmt.Errorf("setting config field %q: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	//nolint:gosec // 0o600 is intentionally restrictive; the file may hold an API key.
	if err := os.WriteFile(path, []byte(newData), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ParseValue converts a command-line value to the JSON type it most likely
// denotes: integer, true/false, or string.
func ParseValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// Duration is a time.Duration that reads and writes as "90s" in JSON and
// environment variables.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}
