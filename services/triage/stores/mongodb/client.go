// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mongodb provides the operational document store client.
//
// Failure logs and error messages live in a MongoDB collection with a
// full-text index over `error_message` and `full_log`. The client
// serves two callers: the fusion retriever's text-search source and the
// sparse index builder's corpus export.
package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/sparse"
)

var tracer = otel.Tracer("aleutian.triage.mongodb")

// Config configures the operational store client.
type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = "triage"
	}
	if c.Collection == "" {
		c.Collection = "failure_logs"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Client wraps the MongoDB collection holding failure logs.
//
// # Thread Safety
//
// Safe for concurrent use; the driver manages its own connection pool.
type Client struct {
	coll    *mongo.Collection
	timeout time.Duration
	logger  *slog.Logger
}

// failureDoc mirrors the stored document shape.
type failureDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	BuildID       string             `bson:"build_id,omitempty"`
	ErrorMessage  string             `bson:"error_message,omitempty"`
	FullLog       string             `bson:"full_log,omitempty"`
	ErrorCategory string             `bson:"error_category,omitempty"`
	TestName      string             `bson:"test_name,omitempty"`
	Timestamp     time.Time          `bson:"timestamp,omitempty"`
	Score         float64            `bson:"score,omitempty"`
}

// NewClient connects and pings the store.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	conn, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := conn.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	logger.Info("operational store connected",
		"database", cfg.Database, "collection", cfg.Collection)
	return &Client{
		coll:    conn.Database(cfg.Database).Collection(cfg.Collection),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Close disconnects the underlying driver client.
func (c *Client) Close(ctx context.Context) error {
	return c.coll.Database().Client().Disconnect(ctx)
}

// TextSearch runs a $text query sorted by text score. The optional
// category narrows on error_category.
func (c *Client) TextSearch(ctx context.Context, query, category string, limit int) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "TextSearch")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	filter := bson.M{"$text": bson.M{"$search": query}}
	if category != "" {
		filter["error_category"] = category
	}

	opts := options.Find().
		SetProjection(bson.M{
			"score":          bson.M{"$meta": "textScore"},
			"build_id":       1,
			"error_message":  1,
			"full_log":       1,
			"error_category": 1,
			"test_name":      1,
			"timestamp":      1,
		}).
		SetSort(bson.D{{Key: "score", Value: bson.M{"$meta": "textScore"}}}).
		SetLimit(int64(limit))

	cursor, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb text search: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []failureDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb decode: %w", err)
	}

	results := make([]datatypes.SearchResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, datatypes.SearchResult{
			ID:    doc.identifier(),
			Score: doc.Score,
			Text:  doc.text(),
			Metadata: map[string]any{
				"build_id":       doc.BuildID,
				"error_category": doc.ErrorCategory,
				"test_name":      doc.TestName,
				"timestamp":      doc.Timestamp,
			},
		})
	}
	return results, nil
}

func (d *failureDoc) identifier() string {
	if d.BuildID != "" {
		return d.BuildID
	}
	return d.ID.Hex()
}

// text prefers the error message, falling back to the raw log.
func (d *failureDoc) text() string {
	if d.ErrorMessage != "" {
		if d.FullLog != "" {
			return d.ErrorMessage + "\n" + d.FullLog
		}
		return d.ErrorMessage
	}
	return d.FullLog
}

// =============================================================================
// Corpus export for the sparse index builder
// =============================================================================

// Name implements sparse.CorpusSource.
func (c *Client) Name() string { return datatypes.SourceMongo }

// Export streams every failure document as a corpus entry.
func (c *Client) Export(ctx context.Context) ([]sparse.CorpusDocument, error) {
	ctx, span := tracer.Start(ctx, "Export")
	defer span.End()

	cursor, err := c.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongodb export: %w", err)
	}
	defer cursor.Close(ctx)

	var out []sparse.CorpusDocument
	for cursor.Next(ctx) {
		var doc failureDoc
		if err := cursor.Decode(&doc); err != nil {
			c.logger.Warn("skipping undecodable document", "error", err)
			continue
		}
		text := doc.text()
		if text == "" {
			continue
		}
		out = append(out, sparse.CorpusDocument{
			DocID: doc.identifier(),
			Text:  text,
			Metadata: map[string]any{
				"error_category": doc.ErrorCategory,
				"test_name":      doc.TestName,
			},
		})
	}
	if err := cursor.Err(); err != nil {
		return out, fmt.Errorf("mongodb export cursor: %w", err)
	}
	return out, nil
}

var _ sparse.CorpusSource = (*Client)(nil)
