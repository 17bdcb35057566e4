// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// MaxScoringTimeout is the hard ceiling on a model-assisted completeness check.
const MaxScoringTimeout = 10 * time.Second

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Server() ServerConfig
	Scoring() ScoringConfig
	Capture() CaptureConfig

	SetScoringLLMEnabled(bool)
	SetCaptureCommitByDefault(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	ScoringCfg  ScoringConfig  `mapstructure:"scoring" yaml:"scoring"`
	CaptureCfg  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Scoring() ScoringConfig   { return c.ScoringCfg }
func (c *Config) Capture() CaptureConfig   { return c.CaptureCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetScoringLLMEnabled(b bool)      { c.ScoringCfg.LLMEnabled = b }
func (c *Config) SetCaptureCommitByDefault(b bool) { c.CaptureCfg.CommitByDefault = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL selects
// the in-memory graph store.
type DatabaseConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ScoringConfig configures completeness scoring.
type ScoringConfig struct {
	// LLMEnabled allows the model-assisted pass. The rule-based score is always computed.
	LLMEnabled        bool           `mapstructure:"llm_enabled" yaml:"llm_enabled"`
	Timeout           time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64        `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int            `mapstructure:"burst" yaml:"burst"`
	LLM               LLMModelConfig `mapstructure:"llm" yaml:"llm"`
}

// CaptureConfig configures the decision capture workflow.
type CaptureConfig struct {
	// MinScore is the completeness score at or above which a capture is accepted.
	MinScore        int  `mapstructure:"min_score" yaml:"min_score"`
	CommitByDefault bool `mapstructure:"commit_by_default" yaml:"commit_by_default"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	// ProviderGemini talks to the Gemini REST API directly.
	ProviderGemini LLMProvider = "gemini"
	// ProviderGenAI uses the Google GenAI SDK.
	ProviderGenAI LLMProvider = "genai"
)

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// Configured reports whether enough is set to build a client.
func (m LLMModelConfig) Configured() bool {
	return m.Provider != "" && m.Model != ""
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "contextgraph")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.request_timeout", "30s")

	// -- Scoring --
	v.SetDefault("scoring.llm_enabled", false)
	v.SetDefault("scoring.timeout", "10s")
	v.SetDefault("scoring.requests_per_second", 2.0)
	v.SetDefault("scoring.burst", 4)
	v.SetDefault("scoring.llm.provider", "")
	v.SetDefault("scoring.llm.model", "gemini-2.5-flash")
	v.SetDefault("scoring.llm.api_timeout", "10s")
	v.SetDefault("scoring.llm.temperature", 0.2)
	v.SetDefault("scoring.llm.max_tokens", 1024)

	// -- Capture --
	v.SetDefault("capture.min_score", 50)
	v.SetDefault("capture.commit_by_default", true)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("scoring.llm.api_key", "CONTEXTGRAPH_LLM_API_KEY")
	_ = v.BindEnv("database.url", "CONTEXTGRAPH_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.DatabaseCfg.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must not be negative")
	}
	if c.ServerCfg.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is a required configuration field")
	}
	if c.ServerCfg.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be a positive duration")
	}
	if err := c.ScoringCfg.Validate(); err != nil {
		return fmt.Errorf("scoring configuration invalid: %w", err)
	}
	if c.CaptureCfg.MinScore < 0 || c.CaptureCfg.MinScore > 100 {
		return fmt.Errorf("capture.min_score must be between 0 and 100")
	}
	return nil
}

// Validate checks the ScoringConfig settings. A missing model is not an
// error: scoring simply stays rule-based.
func (s *ScoringConfig) Validate() error {
	if s.Timeout <= 0 || s.Timeout > MaxScoringTimeout {
		return fmt.Errorf("timeout must be a positive duration no longer than %s", MaxScoringTimeout)
	}
	if s.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if s.RequestsPerSecond > 0 && s.Burst <= 0 {
		return fmt.Errorf("burst must be positive when requests_per_second is set")
	}
	switch s.LLM.Provider {
	case "", ProviderGemini, ProviderGenAI:
	default:
		return fmt.Errorf("unknown llm.provider %q", s.LLM.Provider)
	}
	return nil
}
