package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aluiziolira/go-books-spider/models"
)

// MongoWriter upserts entries into a MongoDB collection keyed by UPC.
type MongoWriter struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// NewMongoWriter connects, pings, and ensures a unique index on upc.
func NewMongoWriter(ctx context.Context, uri, database, collection string) (*MongoWriter, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "upc", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(connectCtx, index); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb create upc index: %w", err)
	}

	return &MongoWriter{
		client:     client,
		collection: coll,
		timeout:    30 * time.Second,
	}, nil
}

func (w *MongoWriter) Write(entries []*models.CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	result, err := w.collection.BulkWrite(ctx, upsertModels(entries), options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("mongodb bulk upsert: %w", err)
	}

	slog.Debug("mongodb batch upserted",
		slog.Int("entries", len(entries)),
		slog.Int64("upserted", result.UpsertedCount),
		slog.Int64("modified", result.ModifiedCount),
	)
	return nil
}

func (w *MongoWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.client.Disconnect(ctx)
}

// Validate checks the server is still reachable after the crawl.
func (w *MongoWriter) Validate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongodb ping: %w", err)
	}
	return nil
}

func upsertModels(entries []*models.CatalogEntry) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, 0, len(entries))
	for _, entry := range entries {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "upc", Value: entry.UPC}}).
			SetReplacement(entry).
			SetUpsert(true))
	}
	return writes
}
