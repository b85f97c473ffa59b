// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/expand"
)

var tracer = otel.Tracer("aleutian.triage.retrieval")

// ErrNoSources is returned at construction when no retrieval source is
// available at all.
var ErrNoSources = errors.New("retrieval: no sources configured")

// Config tunes the fusion retriever.
type Config struct {
	// RRFK is the reciprocal-rank-fusion constant.
	RRFK int
	// RetrieveK is the candidate pool passed to the reranker; TopK is
	// the final result count.
	RetrieveK int
	TopK      int
	// Workers bounds the source/variant fan-out.
	Workers int
}

// DefaultConfig matches the documented retrieval defaults.
func DefaultConfig() Config {
	return Config{RRFK: 60, RetrieveK: 50, TopK: 5, Workers: 4}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.RRFK <= 0 {
		c.RRFK = def.RRFK
	}
	if c.RetrieveK <= 0 {
		c.RetrieveK = def.RetrieveK
	}
	if c.TopK <= 0 {
		c.TopK = def.TopK
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
}

// Fusion runs multi-source retrieval with rank fusion and reranking.
//
// # Thread Safety
//
// Safe for concurrent use; per-call state is local.
type Fusion struct {
	sources  []Source
	expander *expand.Expander
	reranker Reranker
	config   Config
	logger   *slog.Logger
}

// NewFusion builds the retriever. At least one source is required; a
// nil reranker disables reranking and returns RRF order.
func NewFusion(sources []Source, expander *expand.Expander, reranker Reranker, cfg Config, logger *slog.Logger) (*Fusion, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if expander == nil {
		expander = expand.NewExpander(0)
	}

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	logger.Info("fusion retriever ready",
		"sources", names,
		"rrf_k", cfg.RRFK,
		"rerank_enabled", reranker != nil)
	return &Fusion{
		sources:  sources,
		expander: expander,
		reranker: reranker,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Retrieve runs the full pipeline: expand, fan out, merge variants,
// fuse ranks, rerank, resolve. Returns at most TopK documents. A run
// where every source fails returns an empty slice, not an error.
func (f *Fusion) Retrieve(ctx context.Context, query string, filters Filters, expandQuery bool) []datatypes.Document {
	ctx, span := tracer.Start(ctx, "Retrieve")
	defer span.End()

	variants := []string{query}
	if expandQuery {
		variants = f.expander.Expand(query, filters.Category, true)
	}

	perSource := f.fanOut(ctx, variants, filters)
	if len(perSource) == 0 {
		f.logger.Warn("retrieval returned nothing from any source", "query_len", len(query))
		return nil
	}

	fused := f.fuse(perSource)
	if len(fused) > f.config.RetrieveK {
		fused = fused[:f.config.RetrieveK]
	}

	fused = f.rerank(ctx, query, fused)
	if len(fused) > f.config.TopK {
		fused = fused[:f.config.TopK]
	}
	return fused
}

// fanOut queries every (source, variant) pair with bounded parallelism
// and merges variants per source by maximum score.
func (f *Fusion) fanOut(ctx context.Context, variants []string, filters Filters) map[string][]datatypes.SearchResult {
	type keyed struct {
		source  string
		results []datatypes.SearchResult
	}

	var mu sync.Mutex
	collected := make([]keyed, 0, len(f.sources)*len(variants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.Workers)
	for _, source := range f.sources {
		for _, variant := range variants {
			source, variant := source, variant
			g.Go(func() error {
				results, err := source.Search(gctx, variant, filters, f.config.RetrieveK)
				if err != nil {
					// A dead source degrades to an empty ranking.
					f.logger.Warn("retrieval source failed",
						"source", source.Name(), "error", err)
					return nil
				}
				mu.Lock()
				collected = append(collected, keyed{source: source.Name(), results: results})
				mu.Unlock()
				return nil
			})
		}
	}
	// Errors are swallowed per task; Wait only propagates ctx cancellation.
	_ = g.Wait()

	merged := make(map[string]map[string]datatypes.SearchResult)
	for _, entry := range collected {
		byID, ok := merged[entry.source]
		if !ok {
			byID = make(map[string]datatypes.SearchResult)
			merged[entry.source] = byID
		}
		for _, r := range entry.results {
			if existing, dup := byID[r.ID]; !dup || r.Score > existing.Score {
				byID[r.ID] = r
			}
		}
	}

	perSource := make(map[string][]datatypes.SearchResult, len(merged))
	for source, byID := range merged {
		list := make([]datatypes.SearchResult, 0, len(byID))
		for _, r := range byID {
			list = append(list, r)
		}
		sortByScore(list)
		perSource[source] = list
	}
	return perSource
}

// fuse applies reciprocal rank fusion across the per-source rankings:
// each document scores sum(1/(k + rank)) over the sources that ranked
// it, rank starting at 1.
func (f *Fusion) fuse(perSource map[string][]datatypes.SearchResult) []datatypes.Document {
	docs := make(map[string]*datatypes.Document)

	// Deterministic source order keeps provenance lists stable.
	sourceNames := make([]string, 0, len(perSource))
	for name := range perSource {
		sourceNames = append(sourceNames, name)
	}
	sort.Strings(sourceNames)

	for _, sourceName := range sourceNames {
		for rank, result := range perSource[sourceName] {
			doc, ok := docs[result.ID]
			if !ok {
				doc = &datatypes.Document{
					ID:          result.ID,
					Text:        result.Text,
					Metadata:    result.Metadata,
					SourceRanks: make(map[string]int),
				}
				docs[result.ID] = doc
			}
			doc.Sources = append(doc.Sources, sourceName)
			doc.SourceRanks[sourceName] = rank + 1
			doc.RRFScore += 1.0 / float64(f.config.RRFK+rank+1)
			if result.Score > doc.Score {
				doc.Score = result.Score
			}
			// Content resolution for a fused document: every source
			// returns its text inline, so the longest variant stands
			// in for the canonical content. Sources that truncate or
			// snippet lose to whichever source carried the full text.
			if len(result.Text) > len(doc.Text) {
				doc.Text = result.Text
			}
		}
	}

	fused := make([]datatypes.Document, 0, len(docs))
	for _, doc := range docs {
		fused = append(fused, *doc)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].RRFScore != fused[j].RRFScore {
			return fused[i].RRFScore > fused[j].RRFScore
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}

// rerank scores the candidate pool with the cross-encoder and sorts by
// that score. Any reranker failure falls back to RRF order.
func (f *Fusion) rerank(ctx context.Context, query string, docs []datatypes.Document) []datatypes.Document {
	if f.reranker == nil || len(docs) == 0 {
		return docs
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}
	scores, err := f.reranker.Rerank(ctx, query, texts)
	if err != nil || len(scores) != len(docs) {
		f.logger.Warn("reranker unavailable, keeping RRF order", "error", err)
		return docs
	}

	for i := range docs {
		score := scores[i]
		docs[i].RerankScore = &score
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return *docs[i].RerankScore > *docs[j].RerankScore
	})
	return docs
}

func sortByScore(results []datatypes.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
