// Package config loads and validates sitecrawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/export"
)

// EnvPrefix is prepended to every environment override, e.g.
// SITECRAWLER_CRAWL_MAX_DEPTH=5.
const EnvPrefix = "SITECRAWLER"

// Storage backends accepted by storage.backend.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Browser BrowserConfig `mapstructure:"browser"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Output  OutputConfig  `mapstructure:"output"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// CrawlConfig holds the default per-crawl settings.
type CrawlConfig struct {
	MaxDepth                   int           `mapstructure:"max_depth"`
	MaxPages                   int           `mapstructure:"max_pages"`
	RespectRobots              bool          `mapstructure:"respect_robots"`
	IncludeSubdomains          bool          `mapstructure:"include_subdomains"`
	ExcludePatterns            []string      `mapstructure:"exclude_patterns"`
	UserAgent                  string        `mapstructure:"user_agent"`
	RequestDelay               time.Duration `mapstructure:"request_delay"`
	Timeout                    time.Duration `mapstructure:"timeout"`
	MaxRetries                 int           `mapstructure:"max_retries"`
	EnablePatternNormalization bool          `mapstructure:"enable_pattern_normalization"`
	MaxSamplesPerPattern       int           `mapstructure:"max_samples_per_pattern"`
	Concurrency                int           `mapstructure:"concurrency"`
}

// BrowserConfig configures browser rendering.
type BrowserConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Headless       bool   `mapstructure:"headless"`
	WaitUntil      string `mapstructure:"wait_until"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
	AutoDetectSPA  bool   `mapstructure:"auto_detect_spa"`
	MaxParallel    int    `mapstructure:"max_parallel"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Workers         int           `mapstructure:"workers"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// OutputConfig selects result formats.
type OutputConfig struct {
	// Format is used by the crawl command.
	Format string `mapstructure:"format"`
	// Path, when set, receives the crawl command's output through the blob
	// store instead of stdout.
	Path string `mapstructure:"path"`
	// Exports are written to the blob store after every API job.
	Exports []string `mapstructure:"exports"`
}

// StorageConfig selects the export blob store.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres. An empty DSN disables it.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	PagesTable      string        `mapstructure:"pages_table"`
	JobsTable       string        `mapstructure:"jobs_table"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// PubSubConfig holds publish-subscribe settings. An empty project disables
// it.
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	PagesTopic      string `mapstructure:"pages_topic"`
	CompletionTopic string `mapstructure:"completion_topic"`
}

// flagKeys maps CLI flag names to configuration keys. Only flags the user
// actually set are bound, so unset flags never mask file or env values.
var flagKeys = map[string]string{
	"max-depth":          "crawl.max_depth",
	"max-pages":          "crawl.max_pages",
	"include-subdomains": "crawl.include_subdomains",
	"exclude":            "crawl.exclude_patterns",
	"user-agent":         "crawl.user_agent",
	"delay":              "crawl.request_delay",
	"timeout":            "crawl.timeout",
	"max-retries":        "crawl.max_retries",
	"max-samples":        "crawl.max_samples_per_pattern",
	"concurrency":        "crawl.concurrency",
	"browser":            "browser.enabled",
	"format":             "output.format",
	"output":             "output.path",
	"port":               "server.port",
	"workers":            "server.workers",
	"dev-logs":           "logging.development",
}

// negatedFlags are boolean "--no-x" flags that clear a key.
var negatedFlags = map[string]string{
	"no-robots":     "crawl.respect_robots",
	"no-patterns":   "crawl.enable_pattern_normalization",
	"no-spa-detect": "browser.auto_detect_spa",
}

// Load builds a Config from defaults, an optional file, the environment and
// changed flags, in increasing priority. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := applyFlags(v, flags); err != nil {
			return Config{}, err
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

func applyFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if key, ok := flagKeys[f.Name]; ok {
			if bindErr := v.BindPFlag(key, f); bindErr != nil {
				err = fmt.Errorf("bind flag %s: %w", f.Name, bindErr)
			}
			return
		}
		if key, ok := negatedFlags[f.Name]; ok && f.Value.String() == "true" {
			v.Set(key, false)
		}
	})
	return err
}

func setDefaults(v *viper.Viper) {
	def := crawler.DefaultConfig("")
	v.SetDefault("crawl.max_depth", def.MaxDepth)
	v.SetDefault("crawl.max_pages", def.MaxPages)
	v.SetDefault("crawl.respect_robots", def.RespectRobots)
	v.SetDefault("crawl.include_subdomains", def.IncludeSubdomains)
	v.SetDefault("crawl.exclude_patterns", []string{})
	v.SetDefault("crawl.user_agent", def.UserAgent)
	v.SetDefault("crawl.request_delay", def.RequestDelay)
	v.SetDefault("crawl.timeout", def.Timeout)
	v.SetDefault("crawl.max_retries", def.MaxRetries)
	v.SetDefault("crawl.enable_pattern_normalization", def.EnablePatternNormalization)
	v.SetDefault("crawl.max_samples_per_pattern", def.MaxSamplesPerPattern)
	v.SetDefault("crawl.concurrency", def.Concurrency)
	v.SetDefault("browser.enabled", def.Browser.Enabled)
	v.SetDefault("browser.headless", def.Browser.Headless)
	v.SetDefault("browser.wait_until", def.Browser.WaitUntil)
	v.SetDefault("browser.viewport_width", def.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", def.Browser.ViewportHeight)
	v.SetDefault("browser.auto_detect_spa", def.Browser.AutoDetectSPA)
	v.SetDefault("browser.max_parallel", def.Browser.MaxParallel)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.workers", 2)
	v.SetDefault("server.queue_depth", 64)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("output.format", string(export.FormatJSON))
	v.SetDefault("output.path", "")
	v.SetDefault("output.exports", []string{string(export.FormatJSON)})
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local_dir", "data/exports")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "crawls")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.pages_table", "crawl_pages")
	v.SetDefault("db.jobs_table", "crawl_jobs")
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.pages_topic", "crawl-pages")
	v.SetDefault("pubsub.completion_topic", "crawl-completions")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be > 0")
	}
	if c.Server.QueueDepth <= 0 {
		return fmt.Errorf("server.queue_depth must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := export.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format must be one of json, yaml, text, markdown, graph: %w", err)
	}
	if _, err := c.ExportFormats(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendLocal:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Storage.Backend == BackendLocal && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set when storage.backend is local")
	}
	if c.DB.DSN != "" && c.DB.MaxConns <= 0 {
		return fmt.Errorf("db.max_conns must be > 0")
	}
	// Crawl settings are checked against a placeholder target; the real
	// target arrives per crawl.
	if err := c.CrawlConfig("https://placeholder.invalid").Validate(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	return nil
}

// ExportFormats parses output.exports.
func (c Config) ExportFormats() ([]export.Format, error) {
	formats := make([]export.Format, 0, len(c.Output.Exports))
	for _, name := range c.Output.Exports {
		f, err := export.ParseFormat(name)
		if err != nil {
			return nil, fmt.Errorf("output.exports must list known formats: %w", err)
		}
		formats = append(formats, f)
	}
	return formats, nil
}

// CrawlConfig returns the configured crawl settings for target.
func (c Config) CrawlConfig(target string) crawler.Config {
	excludes := append([]string(nil), c.Crawl.ExcludePatterns...)
	return crawler.Config{
		TargetURL:                  target,
		MaxDepth:                   c.Crawl.MaxDepth,
		MaxPages:                   c.Crawl.MaxPages,
		RespectRobots:              c.Crawl.RespectRobots,
		IncludeSubdomains:          c.Crawl.IncludeSubdomains,
		ExcludePatterns:            excludes,
		UserAgent:                  c.Crawl.UserAgent,
		RequestDelay:               c.Crawl.RequestDelay,
		Timeout:                    c.Crawl.Timeout,
		MaxRetries:                 c.Crawl.MaxRetries,
		EnablePatternNormalization: c.Crawl.EnablePatternNormalization,
		MaxSamplesPerPattern:       c.Crawl.MaxSamplesPerPattern,
		Concurrency:                c.Crawl.Concurrency,
		Browser: crawler.BrowserConfig{
			Enabled:        c.Browser.Enabled,
			Headless:       c.Browser.Headless,
			WaitUntil:      c.Browser.WaitUntil,
			ViewportWidth:  c.Browser.ViewportWidth,
			ViewportHeight: c.Browser.ViewportHeight,
			AutoDetectSPA:  c.Browser.AutoDetectSPA,
			MaxParallel:    c.Browser.MaxParallel,
		},
	}
}
