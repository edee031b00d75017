package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPER_MAX_PAGES.
const EnvPrefix = "SCRAPER"

// Load layers defaults, an optional YAML file, and SCRAPER_* environment
// variables, in increasing priority. An empty path searches ./books-spider.yaml
// and ./configs/books-spider.yaml and tolerates their absence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("books-spider")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("base_url", cfg.BaseURL)
	v.SetDefault("max_pages", cfg.MaxPages)
	v.SetDefault("parallelism", cfg.Parallelism)
	v.SetDefault("delay", cfg.Delay)
	v.SetDefault("random_delay", cfg.RandomDelay)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("max_retries", cfg.MaxRetries)
	v.SetDefault("retry_backoff", cfg.RetryBackoff)
	v.SetDefault("retry_backoff_max", cfg.RetryBackoffMax)
	v.SetDefault("user_agent", cfg.UserAgent)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("respect_robots_txt", cfg.RespectRobotsTxt)

	v.SetDefault("output_file", cfg.OutputFile)
	v.SetDefault("output_format", cfg.OutputFormat)

	v.SetDefault("pipeline_buffer_size", cfg.PipelineBufferSize)
	v.SetDefault("batch_size", cfg.BatchSize)
	v.SetDefault("dedupe_max_size", cfg.DedupeMaxSize)

	v.SetDefault("metrics_addr", cfg.MetricsAddr)

	v.SetDefault("mongo_uri", cfg.MongoURI)
	v.SetDefault("mongo_database", cfg.MongoDatabase)
	v.SetDefault("mongo_collection", cfg.MongoCollection)

	v.SetDefault("postgres_dsn", cfg.PostgresDSN)
	v.SetDefault("postgres_table", cfg.PostgresTable)
}
