package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Places     PlacesConfig     `yaml:"places" mapstructure:"places"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Agent      AgentConfig      `yaml:"agent" mapstructure:"agent"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PlacesConfig holds Google Places API settings.
type PlacesConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BrowserConfig holds headless browser service settings.
type BrowserConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	WaitMS  int    `yaml:"wait_ms" mapstructure:"wait_ms"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	FlashModel  string `yaml:"flash_model" mapstructure:"flash_model"`
	VisionModel string `yaml:"vision_model" mapstructure:"vision_model"`
}

// OpenAIConfig holds OpenAI API settings (cleaner fallback).
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	AgentModel string `yaml:"agent_model" mapstructure:"agent_model"`
}

// PipelineConfig configures extraction behavior.
type PipelineConfig struct {
	Phase1Threshold float64 `yaml:"phase1_threshold" mapstructure:"phase1_threshold"`
	Phase2Threshold float64 `yaml:"phase2_threshold" mapstructure:"phase2_threshold"`
	Phase3Threshold float64 `yaml:"phase3_threshold" mapstructure:"phase3_threshold"`
	MaxCostUSD      float64 `yaml:"max_cost_usd" mapstructure:"max_cost_usd"`
	MaxDurationSecs int     `yaml:"max_duration_secs" mapstructure:"max_duration_secs"`
	RegistryPath    string  `yaml:"registry_path" mapstructure:"registry_path"`
	NoCleaner       bool    `yaml:"no_cleaner" mapstructure:"no_cleaner"`
}

// AgentConfig configures the Phase 4 browser agent.
type AgentConfig struct {
	MaxSteps int `yaml:"max_steps" mapstructure:"max_steps"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentTargets int `yaml:"max_concurrent_targets" mapstructure:"max_concurrent_targets"`
}

// MonitoringConfig configures background health checks and alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	MinAvgQualityScore   float64 `yaml:"min_avg_quality_score" mapstructure:"min_avg_quality_score"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TABLEIQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "tableiq.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_targets", 5)
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("browser.base_url", "http://localhost:9221")
	v.SetDefault("browser.wait_ms", 1500)
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.flash_model", "gemini-2.0-flash")
	v.SetDefault("gemini.vision_model", "gemini-2.5-pro")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("anthropic.agent_model", "claude-haiku-4-5-20251001")
	v.SetDefault("pipeline.phase1_threshold", 0.4)
	v.SetDefault("pipeline.phase2_threshold", 0.6)
	v.SetDefault("pipeline.phase3_threshold", 0.8)
	v.SetDefault("pipeline.max_cost_usd", 2.00)
	v.SetDefault("pipeline.max_duration_secs", 300)
	v.SetDefault("agent.max_steps", 12)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.cost_threshold_usd", 50.0)
	v.SetDefault("monitoring.min_avg_quality_score", 0.3)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks configuration for a given run mode. Extraction needs
// API credentials; serving additionally needs a usable port.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkCommon := func() {
		if c.Pipeline.Phase1Threshold < 0 || c.Pipeline.Phase1Threshold > 1 ||
			c.Pipeline.Phase2Threshold < 0 || c.Pipeline.Phase2Threshold > 1 ||
			c.Pipeline.Phase3Threshold < 0 || c.Pipeline.Phase3Threshold > 1 {
			problems = append(problems, "pipeline thresholds must be between 0 and 1")
		}
		if c.Pipeline.MaxCostUSD <= 0 {
			problems = append(problems, "pipeline.max_cost_usd must be > 0")
		}
		if c.Batch.MaxConcurrentTargets < 1 || c.Batch.MaxConcurrentTargets > 50 {
			problems = append(problems, "batch.max_concurrent_targets must be between 1 and 50")
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	}

	switch mode {
	case "extract", "batch":
		checkCommon()
	case "serve":
		checkCommon()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
