package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-books-spider/config"
)

// NewWriter builds the sink selected by cfg.OutputFormat.
func NewWriter(ctx context.Context, cfg *config.Config) (OutputWriter, error) {
	switch cfg.OutputFormat {
	case config.FormatJSON:
		return NewJSONWriter(cfg.OutputFile)
	case config.FormatCSV:
		return NewCSVWriter(cfg.OutputFile)
	case config.FormatDual:
		jsonFilename := strings.TrimSuffix(cfg.OutputFile, ".csv") + ".jsonl"
		return NewDualWriter(cfg.OutputFile, jsonFilename)
	case config.FormatMongo:
		return NewMongoWriter(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	case config.FormatPostgres:
		return NewPostgresWriter(ctx, cfg.PostgresDSN, cfg.PostgresTable, cfg.Parallelism)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

// Destination describes where a writer built from cfg stores entries.
func Destination(cfg *config.Config) string {
	switch cfg.OutputFormat {
	case config.FormatMongo:
		return cfg.MongoDatabase + "." + cfg.MongoCollection
	case config.FormatPostgres:
		return "postgres table " + cfg.PostgresTable
	case config.FormatDual:
		return cfg.OutputFile + " + " + strings.TrimSuffix(cfg.OutputFile, ".csv") + ".jsonl"
	default:
		return cfg.OutputFile
	}
}
