package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/insight/internal/aggregate"
	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/logger"
	"github.com/ppiankov/insight/internal/source"
	"github.com/ppiankov/insight/internal/timeline"
)

const (
	DefaultConfigFile       = "config.yaml"
	DefaultEnvFile          = ".env"
	DefaultStoragePath      = ".insight/insight.db"
	DefaultRetainDays       = 30
	DefaultTimeout          = 30 * time.Second
	DefaultPerSourceTimeout = 10 * time.Second
	DefaultMaxTimeout       = 5 * time.Minute
	DefaultBriefingTimeout  = 2 * time.Minute
	DefaultLimit            = 10
	DefaultMaxContentChars  = 1500
	DefaultProvider         = ProviderNone
)

// Briefing providers.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	Sources   SourcesConfig   `yaml:"sources"`
	Engine    EngineConfig    `yaml:"engine"`
	Briefing  BriefingConfig  `yaml:"briefing"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   logger.Config   `yaml:"logging"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Dir is the directory the config was loaded from.
	Dir string `yaml:"-"`
}

type SourcesConfig struct {
	RSS      PlatformConfig `yaml:"rss"`
	YouTube  PlatformConfig `yaml:"youtube"`
	Reddit   PlatformConfig `yaml:"reddit"`
	HN       HNConfig       `yaml:"hn"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// PlatformConfig is the common shape of every platform block. A platform
// is enabled unless enabled: false is set explicitly.
type PlatformConfig struct {
	Enabled *bool    `yaml:"enabled"`
	Sources []string `yaml:"sources"`
}

// IsEnabled reports whether the platform should be fetched.
func (p PlatformConfig) IsEnabled() bool {
	return (p.Enabled == nil || *p.Enabled) && len(p.Sources) > 0
}

type HNConfig struct {
	PlatformConfig `yaml:",inline"`
	MinPoints      int `yaml:"min_points"`
}

type TelegramConfig struct {
	PlatformConfig `yaml:",inline"`
	APIIDEnv       string `yaml:"api_id_env"`
	APIHashEnv     string `yaml:"api_hash_env"`
	SessionDir     string `yaml:"session_dir"`
	Script         string `yaml:"script"`
	PythonPath     string `yaml:"python_path"`

	// Resolved from env vars at load time.
	APIID   string `yaml:"-"`
	APIHash string `yaml:"-"`
}

type EngineConfig struct {
	Timeout          Duration `yaml:"timeout"`
	PerSourceTimeout Duration `yaml:"per_source_timeout"`
	MaxTimeout       Duration `yaml:"max_timeout"`
	Concurrency      int      `yaml:"concurrency"`
	Limit            int      `yaml:"limit"`
	Order            string   `yaml:"order"`
	IncludeUndated   bool     `yaml:"include_undated"`
	MaxContentChars  int      `yaml:"max_content_chars"`
}

type BriefingConfig struct {
	Provider        string   `yaml:"provider"`
	Model           string   `yaml:"model"`
	APIKeyEnv       string   `yaml:"api_key_env"`
	Endpoint        string   `yaml:"endpoint"`
	MaxTokens       int      `yaml:"max_tokens"`
	Timeout         Duration `yaml:"timeout"`
	DuplicatePolicy string   `yaml:"duplicate_policy"`
	MaxContentChars int      `yaml:"max_content_chars"`

	// Resolved from env var at load time.
	APIKey string `yaml:"-"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
	RecordRuns *bool  `yaml:"record_runs"`
}

// RecordsRuns reports whether run history is written. Defaults to true.
func (s StorageConfig) RecordsRuns() bool {
	return s.RecordRuns == nil || *s.RecordRuns
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

type TelemetryConfig struct {
	MetricsFile string `yaml:"metrics_file"`
}

// Load reads config.yaml from dir, loads dir/.env, applies defaults,
// resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Dir = dir

	if err := loadEnvFile(filepath.Join(dir, DefaultEnvFile)); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads KEY=value pairs from path without overriding variables
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Engine.Timeout.Duration == 0 {
		cfg.Engine.Timeout.Duration = DefaultTimeout
	}
	if cfg.Engine.PerSourceTimeout.Duration == 0 {
		cfg.Engine.PerSourceTimeout.Duration = DefaultPerSourceTimeout
	}
	if cfg.Engine.MaxTimeout.Duration == 0 {
		cfg.Engine.MaxTimeout.Duration = DefaultMaxTimeout
	}
	if cfg.Engine.Limit == 0 {
		cfg.Engine.Limit = DefaultLimit
	}
	if cfg.Engine.Order == "" {
		cfg.Engine.Order = string(timeline.Descending)
	}
	if cfg.Briefing.Provider == "" {
		cfg.Briefing.Provider = DefaultProvider
	}
	if cfg.Briefing.Timeout.Duration == 0 {
		cfg.Briefing.Timeout.Duration = DefaultBriefingTimeout
	}
	if cfg.Briefing.DuplicatePolicy == "" {
		cfg.Briefing.DuplicatePolicy = string(briefing.FirstWins)
	}
	if cfg.Briefing.MaxContentChars == 0 {
		cfg.Briefing.MaxContentChars = DefaultMaxContentChars
	}
	if len(cfg.Sources.HN.Sources) == 0 && cfg.Sources.HN.MinPoints > 0 {
		cfg.Sources.HN.Sources = []string{"top"}
	}
	cfg.Logging.SetDefaults()
}

func resolveEnv(cfg *Config) {
	if cfg.Sources.Telegram.APIIDEnv != "" {
		cfg.Sources.Telegram.APIID = os.Getenv(cfg.Sources.Telegram.APIIDEnv)
	}
	if cfg.Sources.Telegram.APIHashEnv != "" {
		cfg.Sources.Telegram.APIHash = os.Getenv(cfg.Sources.Telegram.APIHashEnv)
	}
	if cfg.Briefing.APIKeyEnv != "" {
		cfg.Briefing.APIKey = os.Getenv(cfg.Briefing.APIKeyEnv)
	}
}

var hnLists = map[string]bool{"top": true, "new": true, "best": true}

func validate(cfg *Config) error {
	e := cfg.Engine
	if e.Timeout.Duration < 0 || e.PerSourceTimeout.Duration < 0 || e.MaxTimeout.Duration < 0 {
		return errors.New("engine: timeouts must not be negative")
	}
	if e.Concurrency < 0 {
		return fmt.Errorf("engine.concurrency: must not be negative, got %d", e.Concurrency)
	}
	if e.Limit < 0 {
		return fmt.Errorf("engine.limit: must not be negative, got %d", e.Limit)
	}
	switch timeline.Order(e.Order) {
	case timeline.Ascending, timeline.Descending:
	default:
		return fmt.Errorf("engine.order: unknown order %q (want asc or desc)", e.Order)
	}

	switch cfg.Briefing.Provider {
	case ProviderNone, ProviderOpenAI, ProviderGemini:
		// valid
	default:
		return fmt.Errorf("briefing.provider: unknown provider %q (want none, openai, or gemini)", cfg.Briefing.Provider)
	}
	if _, err := briefing.ParseDuplicatePolicy(cfg.Briefing.DuplicatePolicy); err != nil {
		return fmt.Errorf("briefing.duplicate_policy: %w", err)
	}

	if cfg.Sources.HN.MinPoints < 0 {
		return fmt.Errorf("sources.hn.min_points: must not be negative, got %d", cfg.Sources.HN.MinPoints)
	}
	for _, list := range cfg.Sources.HN.Sources {
		if !hnLists[list] {
			return fmt.Errorf("sources.hn: unknown list %q (want top, new, or best)", list)
		}
	}
	return nil
}

// EnabledSources returns the enabled platforms and their sources in a fixed
// platform order.
func (c *Config) EnabledSources(context.Context) ([]aggregate.PlatformSources, error) {
	var out []aggregate.PlatformSources
	add := func(platform string, p PlatformConfig) {
		if p.IsEnabled() {
			out = append(out, aggregate.PlatformSources{
				Platform: platform,
				Sources:  append([]string(nil), p.Sources...),
			})
		}
	}
	add(source.PlatformRSS, c.Sources.RSS)
	add(source.PlatformYouTube, c.Sources.YouTube)
	add(source.PlatformReddit, c.Sources.Reddit)
	add(source.PlatformHN, c.Sources.HN.PlatformConfig)
	add(source.PlatformTelegram, c.Sources.Telegram.PlatformConfig)
	return out, nil
}

// TelegramScript returns the collector script path, resolving the default
// location next to the config directory.
func (c *Config) TelegramScript() string {
	if c.Sources.Telegram.Script != "" {
		return c.Sources.Telegram.Script
	}
	return filepath.Join(c.Dir, "..", "scripts", "collector_telegram.py")
}
