// Package cli provides the tidyctl command-line interface.
package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/internal/client"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

type globalOptions struct {
	server  string
	apiKey  string
	timeout time.Duration
}

func (o *globalOptions) client() *client.Client {
	return client.New(o.server, o.apiKey,
		client.WithHTTPClient(&http.Client{Timeout: o.timeout}))
}

// NewRootCmd builds the tidyctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "tidyctl",
		Short: "Submit CSV files to a tidyflow server and collect the results",
		Long: `tidyctl uploads a dataset, starts the cleaning pipeline, waits for it
to finish and downloads the cleaned CSV and the report.

The server address and API key default to TIDYFLOW_URL and
TIDYFLOW_API_KEY.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.server, "server", envOr("TIDYFLOW_URL", "http://localhost:8080"), "tidyflow server URL")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("TIDYFLOW_API_KEY"), "API key sent as a bearer token")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "per-request timeout")

	root.AddCommand(
		newRunCmd(opts),
		newStartCmd(opts),
		newStatusCmd(opts),
		newDownloadCmd(opts),
		newReportCmd(opts),
		newResubmitCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}
