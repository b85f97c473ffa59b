// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package postgres provides the relational store client: full-text
// ranked search over historical failure analyses, and the HITL review
// queue.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
)

var tracer = otel.Tracer("aleutian.triage.postgres")

// Config configures the relational store client.
type Config struct {
	DSN     string
	Timeout time.Duration
}

// Client wraps the SQL connection pool.
//
// # Thread Safety
//
// Safe for concurrent use; database/sql pools connections.
type Client struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient opens and pings the database.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	logger.Info("relational store connected")
	return &Client{db: db, timeout: cfg.Timeout, logger: logger}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error { return c.db.Close() }

// RankFilters narrows a RankSearch.
type RankFilters struct {
	Category      string
	DateFrom      time.Time
	MinConfidence float64
}

// RankSearch runs a ts_rank full-text query over the failure_analysis
// table and returns results ordered by rank.
func (c *Client) RankSearch(ctx context.Context, query string, filters RankFilters, limit int) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "RankSearch")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`
		SELECT doc_id, error_category, root_cause, fix_recommendation, confidence,
		       ts_rank(search_vector, plainto_tsquery('english', $1)) AS rank
		FROM failure_analysis
		WHERE search_vector @@ plainto_tsquery('english', $1)`)

	args := []any{query}
	if filters.Category != "" {
		args = append(args, filters.Category)
		fmt.Fprintf(&sb, " AND error_category = $%d", len(args))
	}
	if !filters.DateFrom.IsZero() {
		args = append(args, filters.DateFrom)
		fmt.Fprintf(&sb, " AND created_at >= $%d", len(args))
	}
	if filters.MinConfidence > 0 {
		args = append(args, filters.MinConfidence)
		fmt.Fprintf(&sb, " AND confidence >= $%d", len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY rank DESC LIMIT $%d", len(args))

	rows, err := c.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("rank search: %w", err)
	}
	defer rows.Close()

	var results []datatypes.SearchResult
	for rows.Next() {
		var (
			docID, category  string
			rootCause, fix   sql.NullString
			confidence, rank float64
		)
		if err := rows.Scan(&docID, &category, &rootCause, &fix, &confidence, &rank); err != nil {
			return nil, fmt.Errorf("rank search scan: %w", err)
		}
		text := rootCause.String
		if fix.String != "" {
			text = text + "\n" + fix.String
		}
		results = append(results, datatypes.SearchResult{
			ID:    docID,
			Score: rank,
			Text:  text,
			Metadata: map[string]any{
				"error_category": category,
				"confidence":     confidence,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rank search rows: %w", err)
	}
	return results, nil
}
