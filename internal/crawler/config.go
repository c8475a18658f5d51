package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/sitecrawler/internal/scope"
	"github.com/JakeFAU/sitecrawler/internal/urlutil"
)

// Defaults applied by DefaultConfig.
const (
	DefaultMaxDepth   = 3
	DefaultUserAgent  = "sitecrawler/0.1"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultMaxSamples = 3
)

// Browser wait conditions accepted by BrowserConfig.WaitUntil.
const (
	WaitLoad             = "load"
	WaitDOMContentLoaded = "domcontentloaded"
	WaitNetworkIdle      = "networkidle"
	WaitCommit           = "commit"
)

// BrowserConfig controls browser rendering.
type BrowserConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Headless       bool   `json:"headless" yaml:"headless"`
	WaitUntil      string `json:"wait_until" yaml:"wait_until"`
	ViewportWidth  int    `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int    `json:"viewport_height" yaml:"viewport_height"`
	AutoDetectSPA  bool   `json:"auto_detect_spa" yaml:"auto_detect_spa"`
	MaxParallel    int    `json:"max_parallel" yaml:"max_parallel"`
}

// Config holds the settings for one crawl. It is not modified once the crawl
// starts.
type Config struct {
	TargetURL                  string
	MaxDepth                   int
	MaxPages                   int // 0 means unbounded
	RespectRobots              bool
	IncludeSubdomains          bool
	ExcludePatterns            []string
	UserAgent                  string
	RequestDelay               time.Duration
	Timeout                    time.Duration
	MaxRetries                 int
	EnablePatternNormalization bool
	MaxSamplesPerPattern       int
	Concurrency                int
	Browser                    BrowserConfig
}

// DefaultConfig returns the stock crawl settings for target.
func DefaultConfig(target string) Config {
	return Config{
		TargetURL:                  target,
		MaxDepth:                   DefaultMaxDepth,
		RespectRobots:              true,
		UserAgent:                  DefaultUserAgent,
		Timeout:                    DefaultTimeout,
		MaxRetries:                 DefaultMaxRetries,
		EnablePatternNormalization: true,
		MaxSamplesPerPattern:       DefaultMaxSamples,
		Concurrency:                1,
		Browser: BrowserConfig{
			Headless:       true,
			WaitUntil:      WaitNetworkIdle,
			ViewportWidth:  1280,
			ViewportHeight: 720,
			AutoDetectSPA:  true,
			MaxParallel:    1,
		},
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.TargetURL == "" {
		return errors.New("target_url must be set")
	}
	if _, err := urlutil.Canonicalize(c.TargetURL); err != nil {
		return fmt.Errorf("target_url: %w", err)
	}
	if c.MaxDepth < 0 {
		return errors.New("max_depth must be >= 0")
	}
	if c.MaxPages < 0 {
		return errors.New("max_pages must be >= 0")
	}
	if c.RequestDelay < 0 {
		return errors.New("request_delay must be >= 0")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	if c.EnablePatternNormalization && c.MaxSamplesPerPattern < 1 {
		return errors.New("max_samples_per_pattern must be >= 1")
	}
	if c.Concurrency < 1 {
		return errors.New("concurrency must be >= 1")
	}
	if _, err := scope.New(c.TargetURL, c.IncludeSubdomains, c.ExcludePatterns); err != nil {
		return fmt.Errorf("exclude_patterns: %w", err)
	}
	switch c.Browser.WaitUntil {
	case "", WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle, WaitCommit:
	default:
		return fmt.Errorf("browser.wait_until %q is not one of load, domcontentloaded, networkidle, commit", c.Browser.WaitUntil)
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return errors.New("browser viewport must be >= 0")
	}
	if c.Browser.MaxParallel < 0 {
		return errors.New("browser.max_parallel must be >= 0")
	}
	return nil
}

// configWire is the serialized form of Config. Durations travel as seconds.
type configWire struct {
	TargetURL                  string        `json:"target_url" yaml:"target_url"`
	MaxDepth                   int           `json:"max_depth" yaml:"max_depth"`
	MaxPages                   int           `json:"max_pages" yaml:"max_pages"`
	RespectRobots              bool          `json:"respect_robots" yaml:"respect_robots"`
	IncludeSubdomains          bool          `json:"include_subdomains" yaml:"include_subdomains"`
	ExcludePatterns            []string      `json:"exclude_patterns" yaml:"exclude_patterns"`
	UserAgent                  string        `json:"user_agent" yaml:"user_agent"`
	RequestDelay               float64       `json:"request_delay" yaml:"request_delay"`
	Timeout                    float64       `json:"timeout" yaml:"timeout"`
	MaxRetries                 int           `json:"max_retries" yaml:"max_retries"`
	EnablePatternNormalization bool          `json:"enable_pattern_normalization" yaml:"enable_pattern_normalization"`
	MaxSamplesPerPattern       int           `json:"max_samples_per_pattern" yaml:"max_samples_per_pattern"`
	Concurrency                int           `json:"concurrency" yaml:"concurrency"`
	Browser                    BrowserConfig `json:"browser" yaml:"browser"`
}

func (c Config) wire() configWire {
	excludes := c.ExcludePatterns
	if excludes == nil {
		excludes = []string{}
	}
	return configWire{
		TargetURL:                  c.TargetURL,
		MaxDepth:                   c.MaxDepth,
		MaxPages:                   c.MaxPages,
		RespectRobots:              c.RespectRobots,
		IncludeSubdomains:          c.IncludeSubdomains,
		ExcludePatterns:            excludes,
		UserAgent:                  c.UserAgent,
		RequestDelay:               c.RequestDelay.Seconds(),
		Timeout:                    c.Timeout.Seconds(),
		MaxRetries:                 c.MaxRetries,
		EnablePatternNormalization: c.EnablePatternNormalization,
		MaxSamplesPerPattern:       c.MaxSamplesPerPattern,
		Concurrency:                c.Concurrency,
		Browser:                    c.Browser,
	}
}

func (w configWire) config() Config {
	return Config{
		TargetURL:                  w.TargetURL,
		MaxDepth:                   w.MaxDepth,
		MaxPages:                   w.MaxPages,
		RespectRobots:              w.RespectRobots,
		IncludeSubdomains:          w.IncludeSubdomains,
		ExcludePatterns:            w.ExcludePatterns,
		UserAgent:                  w.UserAgent,
		RequestDelay:               seconds(w.RequestDelay),
		Timeout:                    seconds(w.Timeout),
		MaxRetries:                 w.MaxRetries,
		EnablePatternNormalization: w.EnablePatternNormalization,
		MaxSamplesPerPattern:       w.MaxSamplesPerPattern,
		Concurrency:                w.Concurrency,
		Browser:                    w.Browser,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// MarshalJSON encodes durations as seconds.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.wire())
}

// UnmarshalJSON decodes over the receiver, so fields missing from data keep
// their current values.
func (c *Config) UnmarshalJSON(data []byte) error {
	w := c.wire()
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode crawl config: %w", err)
	}
	*c = w.config()
	return nil
}

// MarshalYAML encodes durations as seconds.
func (c Config) MarshalYAML() (any, error) {
	return c.wire(), nil
}
