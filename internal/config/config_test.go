package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/export"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil)
	require.NoError(t, err)

	crawl := cfg.CrawlConfig("https://example.com")
	def := crawler.DefaultConfig("https://example.com")
	def.ExcludePatterns = []string{}
	crawl.ExcludePatterns = []string{}
	require.Equal(t, def, crawl)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, BackendLocal, cfg.Storage.Backend)
	require.Equal(t, "json", cfg.Output.Format)
	formats, err := cfg.ExportFormats()
	require.NoError(t, err)
	require.Equal(t, []export.Format{export.FormatJSON}, formats)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawl:
  max_depth: 5
  max_pages: 50
  respect_robots: false
  exclude_patterns: ["/private/*"]
  request_delay: 500ms
  timeout: 45s
  concurrency: 4
browser:
  enabled: true
  wait_until: load
server:
  port: 9090
  workers: 3
auth:
  enabled: true
  api_key: secret
output:
  format: markdown
  exports: [json, graph]
storage:
  backend: gcs
  gcs_bucket: bucket
db:
  dsn: postgres://localhost/crawl
pubsub:
  project_id: proj
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	crawl := cfg.CrawlConfig("https://example.com")
	require.Equal(t, 5, crawl.MaxDepth)
	require.Equal(t, 50, crawl.MaxPages)
	require.False(t, crawl.RespectRobots)
	require.Equal(t, []string{"/private/*"}, crawl.ExcludePatterns)
	require.Equal(t, 500*time.Millisecond, crawl.RequestDelay)
	require.Equal(t, 45*time.Second, crawl.Timeout)
	require.Equal(t, 4, crawl.Concurrency)
	require.True(t, crawl.Browser.Enabled)
	require.Equal(t, crawler.WaitLoad, crawl.Browser.WaitUntil)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "gcs", cfg.Storage.Backend)
	require.Equal(t, "postgres://localhost/crawl", cfg.DB.DSN)
	require.Equal(t, "crawl-pages", cfg.PubSub.PagesTopic)
	formats, err := cfg.ExportFormats()
	require.NoError(t, err)
	require.Equal(t, []export.Format{export.FormatJSON, export.FormatGraph}, formats)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SITECRAWLER_CRAWL_MAX_DEPTH", "7")
	t.Setenv("SITECRAWLER_DB_DSN", "postgres://env/crawl")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Crawl.MaxDepth)
	require.Equal(t, "postgres://env/crawl", cfg.DB.DSN)
}

func TestLoadFlagOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "crawl:\n  max_depth: 5\n  max_pages: 9\n")

	flags := pflag.NewFlagSet("crawl", pflag.ContinueOnError)
	flags.Int("max-depth", 3, "")
	flags.Int("max-pages", 0, "")
	flags.Bool("no-robots", false, "")
	flags.Bool("no-patterns", false, "")
	flags.StringArray("exclude", nil, "")
	flags.Duration("delay", 0, "")
	require.NoError(t, flags.Parse([]string{
		"--max-depth=1", "--no-robots", "--exclude=/a/*", "--exclude=/b/*", "--delay=2s",
	}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Crawl.MaxDepth)
	require.Equal(t, 9, cfg.Crawl.MaxPages, "unset flags must not mask file values")
	require.False(t, cfg.Crawl.RespectRobots)
	require.True(t, cfg.Crawl.EnablePatternNormalization)
	require.Equal(t, []string{"/a/*", "/b/*"}, cfg.Crawl.ExcludePatterns)
	require.Equal(t, 2*time.Second, cfg.Crawl.RequestDelay)
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		body string
		want string
	}{
		"auth without key":   {"auth:\n  enabled: true\n", "auth.api_key must be set"},
		"gcs without bucket": {"storage:\n  backend: gcs\n", "storage.gcs_bucket must be set"},
		"unknown backend":    {"storage:\n  backend: s3\n", "storage.backend must be one of"},
		"bad format":         {"output:\n  format: pdf\n", "output.format must be one of"},
		"bad export":         {"output:\n  exports: [csv]\n", "output.exports must list known formats"},
		"negative depth":     {"crawl:\n  max_depth: -1\n", "crawl: max_depth must be >= 0"},
		"bad glob":           {"crawl:\n  exclude_patterns: [\"[unterminated\"]\n", "crawl: exclude_patterns"},
		"zero workers":       {"server:\n  workers: 0\n", "server.workers must be > 0"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.body), nil)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.ErrorContains(t, err, "read config")
}
