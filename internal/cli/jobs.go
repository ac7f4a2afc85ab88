package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiranshivaraju/tidyflow/internal/client"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		outPath    string
		reportPath string
		maxWait    time.Duration
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <file.csv>",
		Short: "Clean a CSV file end to end",
		Long: `Upload a CSV file, run the cleaning pipeline and save both outputs.

Examples:
  tidyctl run sales.csv
  tidyctl run sales.csv --out clean.csv --report notes.md
  tidyctl run sales.csv --max-wait 30m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if outPath == "" {
				outPath = stem + "_cleaned.csv"
			}
			if reportPath == "" {
				reportPath = stem + "_report.md"
			}

			out := cmd.OutOrStdout()
			c := opts.client()
			poller := client.NewPoller(c,
				client.WithInterval(interval),
				client.WithMaxWait(maxWait),
				client.OnStatus(func(j *models.Job) { fmt.Fprintln(out, statusLine(j)) }),
			)

			job, err := poller.Submit(cmd.Context(), filepath.Base(path), data)
			if err != nil {
				var failed *client.JobFailedError
				if errors.As(err, &failed) {
					fmt.Fprintln(out, hint("resubmit with: tidyctl resubmit "+failed.JobID.String()))
				}
				return err
			}

			cleaned, err := c.Download(cmd.Context(), job.ID)
			if err != nil {
				return fmt.Errorf("download cleaned data: %w", err)
			}
			if err := os.WriteFile(outPath, cleaned, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			report, err := c.Report(cmd.Context(), job.ID)
			if err != nil {
				return fmt.Errorf("download report: %w", err)
			}
			if err := os.WriteFile(reportPath, report, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", reportPath, err)
			}

			fmt.Fprintf(out, "Job %s\n", job.ID)
			fmt.Fprintf(out, "  Cleaned data: %s\n", outPath)
			fmt.Fprintf(out, "  Report:       %s\n", reportPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "where to write the cleaned CSV (default <name>_cleaned.csv)")
	cmd.Flags().StringVar(&reportPath, "report", "", "where to write the report (default <name>_report.md)")
	cmd.Flags().DurationVar(&maxWait, "max-wait", client.DefaultMaxWait, "give up waiting after this long")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "delay between status reads")
	return cmd
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current status of a job",
		Long: `Show the current status of a job.

Examples:
  tidyctl status 1f0c...        # human readable
  tidyctl status 1f0c... -o yaml
  tidyctl status 1f0c... -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			job, err := opts.client().Status(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}
			return printJob(cmd.OutOrStdout(), job, format)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newDownloadCmd(opts *globalOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download the cleaned CSV of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			data, err := opts.client().Download(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("download: %w", err)
			}
			if outPath == "" {
				outPath = id.String() + "_cleaned.csv"
			}
			return writeOutput(cmd.OutOrStdout(), outPath, data)
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", `output file, "-" for stdout (default <id>_cleaned.csv)`)
	return cmd
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "report <job-id>",
		Short: "Print the cleaning report of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			data, err := opts.client().Report(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("report: %w", err)
			}
			return writeOutput(cmd.OutOrStdout(), outPath, data)
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "-", `output file, "-" for stdout`)
	return cmd
}

func newResubmitCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resubmit <job-id>",
		Short: "Create a new job from the input of a failed one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			up, err := opts.client().Resubmit(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("resubmit: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created job %s (%s)\n", up.JobID, up.Status)
			fmt.Fprintln(cmd.OutOrStdout(), hint("start it with: tidyctl start "+up.JobID.String()))
			return nil
		},
	}
}

func newStartCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <job-id>",
		Short: "Start the pipeline for a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			job, err := opts.client().Start(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusLine(job))
			return nil
		},
	}
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "-" || path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "Wrote %s (%d bytes)\n", path, len(data))
	return nil
}

func printJob(w io.Writer, job *models.Job, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	case "yaml":
		// Round-trip through JSON so keys match the API.
		raw, err := json.Marshal(job)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		fmt.Fprintf(w, "Job: %s\n", job.ID)
		fmt.Fprintf(w, "  Status: %s\n", statusLine(job))
		if job.OriginalFilename != "" {
			fmt.Fprintf(w, "  File: %s\n", job.OriginalFilename)
		}
		fmt.Fprintf(w, "  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Fprintf(w, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
		}
		if job.CompletedAt != nil {
			fmt.Fprintf(w, "  Finished: %s\n", job.CompletedAt.Format(time.RFC3339))
			if job.StartedAt != nil {
				fmt.Fprintf(w, "  Duration: %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Millisecond))
			}
		}
		if job.Error != nil {
			fmt.Fprintf(w, "  Error: %s: %s\n", job.Error.Kind, job.Error.Message)
			if job.Error.Stage != "" {
				fmt.Fprintf(w, "  Failed stage: %s\n", job.Error.Stage)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}
