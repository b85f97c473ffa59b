// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval implements the Fusion-RAG retriever: four sources
// queried in parallel, fused with reciprocal rank fusion, reranked by
// a cross-encoder.
package retrieval

import (
	"context"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/sparse"
	"github.com/AleutianAI/AleutianTriage/services/triage/stores/mongodb"
	"github.com/AleutianAI/AleutianTriage/services/triage/stores/postgres"
	"github.com/AleutianAI/AleutianTriage/services/triage/weaviate"
)

// Filters narrow a retrieval across all sources that support them.
type Filters struct {
	Category      string
	MinConfidence float64
}

// Source is one ranked retrieval backend.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, filters Filters, k int) ([]datatypes.SearchResult, error)
}

// =============================================================================
// Dense source
// =============================================================================

// DenseSource adapts the vector store. Both namespaces are searched
// and merged by best score, so curated docs and historical cases
// compete in one ranking.
type DenseSource struct {
	client *weaviate.Client
}

// NewDenseSource wraps a weaviate client.
func NewDenseSource(client *weaviate.Client) *DenseSource {
	return &DenseSource{client: client}
}

func (s *DenseSource) Name() string { return datatypes.SourceDense }

func (s *DenseSource) Search(ctx context.Context, query string, filters Filters, k int) ([]datatypes.SearchResult, error) {
	var filter map[string]string
	if filters.Category != "" {
		filter = map[string]string{"error_category": filters.Category}
	}

	var merged []datatypes.SearchResult
	seen := make(map[string]int)
	var lastErr error
	for _, ns := range s.client.Namespaces() {
		results, err := s.client.Search(ctx, ns, query, k, filter)
		if err != nil {
			lastErr = err
			continue
		}
		for _, r := range results {
			if idx, dup := seen[r.ID]; dup {
				if r.Score > merged[idx].Score {
					merged[idx] = r
				}
				continue
			}
			seen[r.ID] = len(merged)
			merged = append(merged, r)
		}
	}
	if merged == nil && lastErr != nil {
		return nil, lastErr
	}

	sortByScore(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// =============================================================================
// Sparse source
// =============================================================================

// SparseSource adapts the BM25 index.
type SparseSource struct {
	client *sparse.Client
}

// NewSparseSource wraps a sparse client.
func NewSparseSource(client *sparse.Client) *SparseSource {
	return &SparseSource{client: client}
}

func (s *SparseSource) Name() string { return datatypes.SourceSparse }

func (s *SparseSource) Search(ctx context.Context, query string, filters Filters, k int) ([]datatypes.SearchResult, error) {
	results, err := s.client.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if filters.Category == "" {
		return results, nil
	}
	// BM25 has no query-time filters; apply category post-hoc.
	filtered := results[:0]
	for _, r := range results {
		if cat, ok := r.Metadata["error_category"].(string); !ok || cat == filters.Category {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// =============================================================================
// Operational store source
// =============================================================================

// MongoSource adapts the operational store's full-text search.
type MongoSource struct {
	client *mongodb.Client
}

// NewMongoSource wraps a mongodb client.
func NewMongoSource(client *mongodb.Client) *MongoSource {
	return &MongoSource{client: client}
}

func (s *MongoSource) Name() string { return datatypes.SourceMongo }

func (s *MongoSource) Search(ctx context.Context, query string, filters Filters, k int) ([]datatypes.SearchResult, error) {
	return s.client.TextSearch(ctx, query, filters.Category, k)
}

// =============================================================================
// Relational source
// =============================================================================

// RelationalSource adapts the Postgres ts_rank query over historical
// analyses.
type RelationalSource struct {
	client *postgres.Client
}

// NewRelationalSource wraps a postgres client.
func NewRelationalSource(client *postgres.Client) *RelationalSource {
	return &RelationalSource{client: client}
}

func (s *RelationalSource) Name() string { return datatypes.SourceRelational }

func (s *RelationalSource) Search(ctx context.Context, query string, filters Filters, k int) ([]datatypes.SearchResult, error) {
	return s.client.RankSearch(ctx, query, postgres.RankFilters{
		Category:      filters.Category,
		MinConfidence: filters.MinConfidence,
	}, k)
}

var (
	_ Source = (*DenseSource)(nil)
	_ Source = (*SparseSource)(nil)
	_ Source = (*MongoSource)(nil)
	_ Source = (*RelationalSource)(nil)
)
