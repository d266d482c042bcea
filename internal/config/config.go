// Package config loads and validates enricher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Run       RunConfig       `mapstructure:"run"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Translate TranslateConfig `mapstructure:"translate"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Events    EventsConfig    `mapstructure:"events"`
}

// RunConfig controls the batch loop.
type RunConfig struct {
	StartID   int64 `mapstructure:"start_id"`
	BatchSize int   `mapstructure:"batch_size"`
}

// FetcherConfig configures page loading.
type FetcherConfig struct {
	Engine            string        `mapstructure:"engine"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	UserAgent         string        `mapstructure:"user_agent"`
	ExecPath          string        `mapstructure:"exec_path"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
	Headful           bool          `mapstructure:"headful"`
	// HostRPS throttles loads of one host across pipelines; zero disables it.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// LLMConfig configures the chat completions client.
type LLMConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Temperature       *float64      `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// TranslateConfig toggles the translation stage.
type TranslateConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	MaxChars int  `mapstructure:"max_chars"`
}

// ExtractConfig sizes the extraction prompt.
type ExtractConfig struct {
	MaxChars int `mapstructure:"max_chars"`
}

// DBConfig controls access to the companies table.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls the ops HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ArtifactsConfig selects where unparseable model responses are archived.
type ArtifactsConfig struct {
	Provider string               `mapstructure:"provider"`
	Prefix   string               `mapstructure:"prefix"`
	Local    LocalArtifactsConfig `mapstructure:"local"`
	GCS      GCSArtifactsConfig   `mapstructure:"gcs"`
}

// LocalArtifactsConfig is the filesystem archive.
type LocalArtifactsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSArtifactsConfig is the bucket archive.
type GCSArtifactsConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// EventsConfig selects where enrichment events go.
type EventsConfig struct {
	Provider       string        `mapstructure:"provider"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	PubSub         PubSubConfig  `mapstructure:"pubsub"`
}

// PubSubConfig names the events topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Provider and engine names.
const (
	ProviderNone   = "none"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
	ProviderPubSub = "pubsub"

	EngineHeadless = "headless"
	EngineStatic   = "static"
)

// LoadDotEnv reads KEY=VALUE pairs from path into the environment without overriding
// variables already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from the optional file at path and the environment.
// Variables use the ENRICHER_ prefix; OPENAI_API_KEY and PRISMA_URL are also honored.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENRICHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	if err := v.BindEnv("llm.api_key", "ENRICHER_LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return fmt.Errorf("bind llm.api_key: %w", err)
	}
	if err := v.BindEnv("db.dsn", "ENRICHER_DB_DSN", "PRISMA_URL"); err != nil {
		return fmt.Errorf("bind db.dsn: %w", err)
	}
	// No default, so an unset temperature stays nil.
	if err := v.BindEnv("llm.temperature", "ENRICHER_LLM_TEMPERATURE"); err != nil {
		return fmt.Errorf("bind llm.temperature: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.start_id", 0)
	v.SetDefault("run.batch_size", 7)
	v.SetDefault("fetcher.engine", EngineHeadless)
	v.SetDefault("fetcher.navigation_timeout", 20*time.Second)
	v.SetDefault("fetcher.read_timeout", 20*time.Second)
	v.SetDefault("fetcher.settle_delay", 2*time.Second)
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.exec_path", "")
	v.SetDefault("fetcher.no_sandbox", false)
	v.SetDefault("fetcher.headful", false)
	v.SetDefault("fetcher.host_rps", 0.0)
	v.SetDefault("fetcher.host_burst", 1)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.requests_per_second", 0.0)
	v.SetDefault("translate.enabled", true)
	v.SetDefault("translate.max_chars", 1500)
	v.SetDefault("extract.max_chars", 7000)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "companies")
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("db.migrate", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("artifacts.provider", ProviderNone)
	v.SetDefault("artifacts.prefix", "model-responses")
	v.SetDefault("artifacts.local.base_dir", "artifacts")
	v.SetDefault("artifacts.gcs.bucket", "")
	v.SetDefault("events.provider", ProviderNone)
	v.SetDefault("events.publish_timeout", 10*time.Second)
	v.SetDefault("events.pubsub.project_id", "")
	v.SetDefault("events.pubsub.topic_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Run.StartID < 0 {
		return fmt.Errorf("run.start_id must be >= 0")
	}
	if c.Run.BatchSize <= 0 {
		return fmt.Errorf("run.batch_size must be > 0")
	}
	if c.Fetcher.Engine != EngineHeadless && c.Fetcher.Engine != EngineStatic {
		return fmt.Errorf("fetcher.engine must be %q or %q, got %q", EngineHeadless, EngineStatic, c.Fetcher.Engine)
	}
	if c.Fetcher.NavigationTimeout <= 0 || c.Fetcher.ReadTimeout <= 0 {
		return fmt.Errorf("fetcher.navigation_timeout and fetcher.read_timeout must be > 0")
	}
	if c.Fetcher.SettleDelay < 0 {
		return fmt.Errorf("fetcher.settle_delay must be >= 0")
	}
	if c.Fetcher.HostRPS < 0 {
		return fmt.Errorf("fetcher.host_rps must be >= 0")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be > 0")
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must be >= 0")
	}
	if c.Translate.MaxChars <= 0 || c.Extract.MaxChars <= 0 {
		return fmt.Errorf("translate.max_chars and extract.max_chars must be > 0")
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics are enabled")
	}
	switch c.Artifacts.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if strings.TrimSpace(c.Artifacts.Local.BaseDir) == "" {
			return fmt.Errorf("artifacts.local.base_dir must be set for the local provider")
		}
	case ProviderGCS:
		if c.Artifacts.GCS.Bucket == "" {
			return fmt.Errorf("artifacts.gcs.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown artifacts.provider %q", c.Artifacts.Provider)
	}
	if c.Events.PublishTimeout < 0 {
		return fmt.Errorf("events.publish_timeout must be >= 0")
	}
	switch c.Events.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.Events.PubSub.ProjectID == "" || c.Events.PubSub.TopicID == "" {
			return fmt.Errorf("events.pubsub.project_id and events.pubsub.topic_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown events.provider %q", c.Events.Provider)
	}
	return nil
}

// ValidateRun checks the values only the run command needs.
func (c Config) ValidateRun() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set (or PRISMA_URL)")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key must be set (or OPENAI_API_KEY)")
	}
	return nil
}
