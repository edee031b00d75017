package config

import (
	"fmt"
	"net/url"
	"time"
)

// Output formats understood by the pipeline writers.
const (
	FormatCSV      = "csv"
	FormatJSON     = "json"
	FormatDual     = "dual"
	FormatMongo    = "mongo"
	FormatPostgres = "postgres"
)

// Config holds spider configuration.
type Config struct {
	BaseURL          string        `mapstructure:"base_url"`
	MaxPages         int           `mapstructure:"max_pages"`
	Parallelism      int           `mapstructure:"parallelism"`
	Delay            time.Duration `mapstructure:"delay"`
	RandomDelay      time.Duration `mapstructure:"random_delay"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max"`
	UserAgent        string        `mapstructure:"user_agent"`
	Verbose          bool          `mapstructure:"verbose"`
	RespectRobotsTxt bool          `mapstructure:"respect_robots_txt"`

	OutputFile   string `mapstructure:"output_file"`
	OutputFormat string `mapstructure:"output_format"` // csv, json, dual, mongo, or postgres

	PipelineBufferSize int `mapstructure:"pipeline_buffer_size"`
	BatchSize          int `mapstructure:"batch_size"`
	DedupeMaxSize      int `mapstructure:"dedupe_max_size"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	MongoURI        string `mapstructure:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection"`

	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://books.toscrape.com/",
		MaxPages:           50,
		Parallelism:        16,
		Delay:              0,
		RandomDelay:        0,
		Timeout:            10 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:            false,
		RespectRobotsTxt:   false,
		OutputFile:         "output/books.csv",
		OutputFormat:       FormatCSV,
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
		MetricsAddr:        "",
		MongoURI:           "mongodb://localhost:27017",
		MongoDatabase:      "books",
		MongoCollection:    "catalog_entries",
		PostgresDSN:        "",
		PostgresTable:      "catalog_entries",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	switch c.OutputFormat {
	case FormatCSV, FormatJSON, FormatDual:
		if c.OutputFile == "" {
			return fmt.Errorf("output file cannot be empty")
		}
	case FormatMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" || c.MongoCollection == "" {
			return fmt.Errorf("mongo output requires uri, database, and collection")
		}
	case FormatPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres output requires a dsn")
		}
		if !validIdentifier(c.PostgresTable) {
			return fmt.Errorf("postgres table %q is not a plain identifier", c.PostgresTable)
		}
	default:
		return fmt.Errorf("output format must be csv, json, dual, mongo, or postgres")
	}

	return nil
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
