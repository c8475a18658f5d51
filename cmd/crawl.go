package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/export"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl in the
// foreground and prints or stores the result.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site and print the result",
		Long: `Crawls the site rooted at <url> breadth-first and writes the result in
the chosen format to stdout, or to --output through the configured blob store.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCommand,
	}

	def := crawler.DefaultConfig("")
	f := cmd.Flags()
	f.Int("max-depth", def.MaxDepth, "maximum link depth from the target")
	f.Int("max-pages", def.MaxPages, "maximum pages to store (0 = unbounded)")
	f.Bool("no-robots", false, "ignore robots.txt")
	f.Bool("include-subdomains", false, "treat subdomains of the target as in scope")
	f.StringArray("exclude", nil, "glob of paths to skip (repeatable)")
	f.String("user-agent", def.UserAgent, "User-Agent header and robots.txt agent")
	f.Duration("delay", def.RequestDelay, "minimum spacing between requests")
	f.Duration("timeout", def.Timeout, "per-request timeout")
	f.Int("max-retries", def.MaxRetries, "retries after a transient failure")
	f.Bool("no-patterns", false, "disable URL pattern sampling")
	f.Int("max-samples", def.MaxSamplesPerPattern, "pages fetched per URL pattern")
	f.Int("concurrency", def.Concurrency, "parallel fetch workers")
	f.Bool("browser", false, "render pages in headless Chrome")
	f.Bool("no-spa-detect", false, "with --browser, render every page instead of only detected SPAs")
	f.String("format", string(export.FormatJSON), "output format: json, yaml, text, markdown, graph")
	f.StringP("output", "o", "", "store the result at this blob path instead of printing it")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	format, err := export.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	result, err := appInstance.Runner().Run(cmd.Context(), "", cfg.CrawlConfig(args[0]))
	if err != nil {
		return err
	}
	logger.Info("crawl finished",
		zap.String("crawl_id", result.ID),
		zap.Int("pages", len(result.Pages)),
		zap.Bool("canceled", result.Canceled),
	)

	body, err := export.Render(result, format)
	if err != nil {
		return err
	}
	if cfg.Output.Path == "" {
		if _, err := cmd.OutOrStdout().Write(body); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		return nil
	}
	uri, err := appInstance.BlobStore().PutObject(cmd.Context(), cfg.Output.Path, format.ContentType(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	logger.Info("result stored", zap.String("uri", uri))
	fmt.Fprintln(cmd.ErrOrStderr(), uri)
	return nil
}
