package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl job API",
		Long: `Starts the HTTP API and a pool of workers. Crawls submitted to
POST /v1/crawls run in the background; results are exported to the
configured blob store and served from /v1/crawls/{id}/result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP listen port")
	cmd.Flags().Int("workers", 2, "concurrent crawl jobs")
	return cmd
}
