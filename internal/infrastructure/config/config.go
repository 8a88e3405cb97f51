package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the application configuration.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Firecrawl FirecrawlConfig `mapstructure:"firecrawl"`
	YouTube   YouTubeConfig   `mapstructure:"youtube"`
	Karakeep  KarakeepConfig  `mapstructure:"karakeep"`
	Sync      SyncConfig      `mapstructure:"sync"`
}

// APIConfig configures the HTTP API ingress.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// TelegramConfig configures the bot ingress.
type TelegramConfig struct {
	BotToken string  `mapstructure:"bot_token"`
	AllowIDs []int64 `mapstructure:"allow_ids"`
	Enabled  bool    `mapstructure:"enabled"`
}

// DatabaseConfig selects the GORM dialect and DSN.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// DebugPayloads enables logging of sanitized request payloads.
	DebugPayloads bool `mapstructure:"debug_payloads"`
}

// LLMProviderConfig configures one LLM provider backend.
type LLMProviderConfig struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"` // openrouter (default) | openai | anthropic
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	// OrgID is sent as OpenAI-Organization when set (openai type only).
	OrgID string `mapstructure:"org_id"`
	// ProviderOrder is an ordered routing allowlist (openrouter type only).
	ProviderOrder []string `mapstructure:"provider_order"`
}

// LLMConfig configures the chat orchestrator.
type LLMConfig struct {
	Provider          LLMProviderConfig `mapstructure:"provider"`
	Model             string            `mapstructure:"model"`
	FallbackModels    []string          `mapstructure:"fallback_models"`
	Temperature       float64           `mapstructure:"temperature"`
	MaxTokens         int               `mapstructure:"max_tokens"`
	MaxRetries        int               `mapstructure:"max_retries"`
	RequestTimeout    time.Duration     `mapstructure:"request_timeout"`
	RetryBaseWait     time.Duration     `mapstructure:"retry_base_wait"`
	RetryMaxWait      time.Duration     `mapstructure:"retry_max_wait"`
	StructuredOutputs bool              `mapstructure:"structured_outputs"`
	MaxConcurrent     int64             `mapstructure:"max_concurrent"`
	MaxResponseBytes  int64             `mapstructure:"max_response_bytes"`

	Breaker BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the shared circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// FirecrawlConfig configures the content-extraction client.
type FirecrawlConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxKeepalive     int           `mapstructure:"max_keepalive"`
	KeepaliveExpiry  time.Duration `mapstructure:"keepalive_expiry"`
	MaxResponseMB    int           `mapstructure:"max_response_mb"`
	Formats          []string      `mapstructure:"formats"`
	CreditWarning    int           `mapstructure:"credit_warning"`
	CreditCritical   int           `mapstructure:"credit_critical"`
	RemoveBase64     bool          `mapstructure:"remove_base64_images"`
	BlockAds         bool          `mapstructure:"block_ads"`
	SkipTLSVerify    bool          `mapstructure:"skip_tls_verification"`
	MaxAgeMillis     int64         `mapstructure:"max_age_ms"`
}

// YouTubeConfig configures the transcript/download pipeline.
type YouTubeConfig struct {
	StorageRoot       string        `mapstructure:"storage_root"`
	MaxStorageMB      int64         `mapstructure:"max_storage_mb"`
	AutoCleanup       bool          `mapstructure:"auto_cleanup"`
	RetentionDays     int           `mapstructure:"retention_days"`
	Quality           string        `mapstructure:"quality"` // "1080p" etc.
	Languages         []string      `mapstructure:"languages"`
	TranscriptTimeout time.Duration `mapstructure:"transcript_timeout"`
	DownloadTimeout   time.Duration `mapstructure:"download_timeout"`
	TranscriptAPIURL  string        `mapstructure:"transcript_api_url"`
}

// KarakeepConfig configures the remote bookmark service client.
type KarakeepConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig configures the bidirectional sync orchestrator.
type SyncConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	SyncTag    string        `mapstructure:"sync_tag"`
	ReadTag    string        `mapstructure:"read_tag"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	// CronSpec schedules periodic full syncs; empty disables the scheduler.
	CronSpec string `mapstructure:"cron_spec"`
}

// Load reads configuration with layered precedence:
// defaults → global ~/.bsr/config.yaml → local ./config.yaml → BSR_* env vars.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: global config (API keys, provider credentials)
	globalDir := filepath.Join(os.Getenv("HOME"), ".bsr")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: project-local overrides
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	// Layer 3: environment variables
	v.SetEnvPrefix("BSR")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects out-of-range parameters at construction time.
func (c *Config) Validate() error {
	f := &c.Firecrawl
	if f.APIKey != "" {
		if f.Timeout <= 0 || f.Timeout > 300*time.Second {
			return fmt.Errorf("firecrawl.timeout must be in (0s, 300s], got %s", f.Timeout)
		}
		if f.MaxRetries < 0 || f.MaxRetries > 10 {
			return fmt.Errorf("firecrawl.max_retries must be in [0, 10], got %d", f.MaxRetries)
		}
		if f.MaxConnections < 1 || f.MaxConnections > 100 {
			return fmt.Errorf("firecrawl.max_connections must be in [1, 100], got %d", f.MaxConnections)
		}
		if f.MaxKeepalive < 1 || f.MaxKeepalive > 50 {
			return fmt.Errorf("firecrawl.max_keepalive must be in [1, 50], got %d", f.MaxKeepalive)
		}
		if f.KeepaliveExpiry < time.Second || f.KeepaliveExpiry > 300*time.Second {
			return fmt.Errorf("firecrawl.keepalive_expiry must be in [1s, 300s], got %s", f.KeepaliveExpiry)
		}
		if f.MaxResponseMB < 1 || f.MaxResponseMB > 1024 {
			return fmt.Errorf("firecrawl.max_response_mb must be in [1, 1024], got %d", f.MaxResponseMB)
		}
	}
	if c.LLM.MaxConcurrent < 1 || c.LLM.MaxConcurrent > 100 {
		return fmt.Errorf("llm.max_concurrent must be in [1, 100], got %d", c.LLM.MaxConcurrent)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2], got %g", c.LLM.Temperature)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 18080)
	v.SetDefault("api.mode", "local")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "bsr.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("llm.provider.type", "openrouter")
	v.SetDefault("llm.model", "openai/gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.request_timeout", "60s")
	v.SetDefault("llm.retry_base_wait", "2s")
	v.SetDefault("llm.retry_max_wait", "30s")
	v.SetDefault("llm.structured_outputs", true)
	v.SetDefault("llm.max_concurrent", 10)
	v.SetDefault("llm.max_response_bytes", 10*1024*1024)
	v.SetDefault("llm.breaker.failure_threshold", 5)
	v.SetDefault("llm.breaker.success_threshold", 2)
	v.SetDefault("llm.breaker.timeout", "60s")

	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev")
	v.SetDefault("firecrawl.timeout", "60s")
	v.SetDefault("firecrawl.max_retries", 3)
	v.SetDefault("firecrawl.max_connections", 10)
	v.SetDefault("firecrawl.max_keepalive", 5)
	v.SetDefault("firecrawl.keepalive_expiry", "90s")
	v.SetDefault("firecrawl.max_response_mb", 10)
	v.SetDefault("firecrawl.formats", []string{"markdown"})
	v.SetDefault("firecrawl.remove_base64_images", true)
	v.SetDefault("firecrawl.block_ads", true)
	v.SetDefault("firecrawl.max_age_ms", 3600000)

	v.SetDefault("youtube.storage_root", "downloads")
	v.SetDefault("youtube.max_storage_mb", 10240)
	v.SetDefault("youtube.auto_cleanup", true)
	v.SetDefault("youtube.retention_days", 14)
	v.SetDefault("youtube.quality", "1080p")
	v.SetDefault("youtube.languages", []string{"en"})
	v.SetDefault("youtube.transcript_timeout", "30s")
	v.SetDefault("youtube.download_timeout", "600s")

	v.SetDefault("karakeep.timeout", "30s")

	v.SetDefault("sync.sync_tag", "bsr")
	v.SetDefault("sync.read_tag", "bsr-read")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.base_delay", "500ms")
	v.SetDefault("sync.max_delay", "5s")
}
