package main

import (
	"fmt"
	"io"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-books-spider/config"
)

var dsnPassword = regexp.MustCompile(`(://[^:/@]+:)[^@]+@`)

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "base_url: %s\n", cfg.BaseURL)
	fmt.Fprintf(w, "max_pages: %d\n", cfg.MaxPages)
	fmt.Fprintf(w, "parallelism: %d\n", cfg.Parallelism)
	fmt.Fprintf(w, "delay: %s\n", cfg.Delay)
	fmt.Fprintf(w, "random_delay: %s\n", cfg.RandomDelay)
	fmt.Fprintf(w, "timeout: %s\n", cfg.Timeout)
	fmt.Fprintf(w, "max_retries: %d\n", cfg.MaxRetries)
	fmt.Fprintf(w, "retry_backoff: %s\n", cfg.RetryBackoff)
	fmt.Fprintf(w, "retry_backoff_max: %s\n", cfg.RetryBackoffMax)
	fmt.Fprintf(w, "respect_robots_txt: %t\n", cfg.RespectRobotsTxt)
	fmt.Fprintf(w, "output_format: %s\n", cfg.OutputFormat)
	fmt.Fprintf(w, "output_file: %s\n", cfg.OutputFile)
	fmt.Fprintf(w, "pipeline_buffer_size: %d\n", cfg.PipelineBufferSize)
	fmt.Fprintf(w, "batch_size: %d\n", cfg.BatchSize)
	fmt.Fprintf(w, "dedupe_max_size: %d\n", cfg.DedupeMaxSize)
	fmt.Fprintf(w, "metrics_addr: %q\n", cfg.MetricsAddr)
	fmt.Fprintf(w, "mongo_uri: %s\n", redact(cfg.MongoURI))
	fmt.Fprintf(w, "mongo_database: %s\n", cfg.MongoDatabase)
	fmt.Fprintf(w, "mongo_collection: %s\n", cfg.MongoCollection)
	fmt.Fprintf(w, "postgres_dsn: %q\n", redact(cfg.PostgresDSN))
	fmt.Fprintf(w, "postgres_table: %s\n", cfg.PostgresTable)
}

// redact hides the password in a connection URL.
func redact(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, "${1}***@")
}
