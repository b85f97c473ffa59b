// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package verify

import (
	"context"
	"log/slog"
	"math"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/web"
)

// Web fallback confidence heuristics. External evidence can lift a
// very-low answer, but never above the cap: web snippets are weaker
// evidence than the curated indexes.
const (
	webBaseBoost      = 0.15
	webConfidenceCap  = 0.85
	webMinImprovement = 0.10
)

// WebFallback is the outcome of a web-search rescue attempt.
type WebFallback struct {
	Improved      bool                  `json:"improved"`
	NewConfidence float64               `json:"new_confidence,omitempty"`
	Delta         float64               `json:"improvement_delta"`
	Query         string                `json:"query"`
	Sources       []datatypes.WebSource `json:"sources,omitempty"`
}

// SearchWeb runs an external search for the failure and estimates the
// confidence lift from the results. Returns (fallback, nil) even when
// the search finds nothing useful; a non-nil error means the provider
// itself failed.
func SearchWeb(ctx context.Context, searcher web.Searcher, failure datatypes.FailureRecord, category string, confidence float64, logger *slog.Logger) (WebFallback, error) {
	ctx, span := tracer.Start(ctx, "WebFallback")
	defer span.End()

	if logger == nil {
		logger = slog.Default()
	}

	query := web.BuildQuery(failure.ErrorMessage, category)
	fallback := WebFallback{Query: query}

	results, err := searcher.Search(ctx, query)
	if err != nil {
		return fallback, err
	}
	if len(results) == 0 {
		logger.Warn("web fallback found no results",
			"failure_id", failure.ID, "provider", searcher.Provider())
		return fallback, nil
	}

	for _, r := range results {
		fallback.Sources = append(fallback.Sources, datatypes.WebSource{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Snippet,
		})
	}

	estimated := estimateWebConfidence(confidence, results)
	fallback.Delta = estimated - confidence
	if fallback.Delta > webMinImprovement {
		fallback.Improved = true
		fallback.NewConfidence = estimated
	}

	logger.Info("web fallback completed",
		"failure_id", failure.ID,
		"provider", searcher.Provider(),
		"results", len(results),
		"improved", fallback.Improved,
		"estimated_confidence", estimated)
	return fallback, nil
}

// estimateWebConfidence applies the base boost plus bonuses for result
// count and snippet quality, capped.
func estimateWebConfidence(original float64, results []web.Result) float64 {
	boost := webBaseBoost

	switch {
	case len(results) >= 5:
		boost += 0.10
	case len(results) >= 3:
		boost += 0.05
	default:
		boost += 0.02
	}

	var snippetLen int
	var snippets int
	for _, r := range results {
		if r.Snippet != "" {
			snippetLen += len(r.Snippet)
			snippets++
		}
	}
	if snippets == 0 {
		return original
	}
	avg := snippetLen / snippets
	switch {
	case avg > 200:
		boost += 0.08
	case avg > 100:
		boost += 0.05
	default:
		boost += 0.02
	}

	return math.Min(webConfidenceCap, original+boost)
}
