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
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/weaviate"
)

// Correction limits. Correction is a bounded rescue attempt, not a
// second analysis run.
const (
	// DefaultCorrectionAttempts bounds the rescue loop when no
	// configured budget overrides it.
	DefaultCorrectionAttempts = 2
	// correctionMinDelta is the improvement required before a corrected
	// result replaces the original.
	correctionMinDelta = 0.05
	// correctionTarget is the confidence that ends further attempts.
	correctionTarget = ThresholdMedium
	// componentConcernThreshold marks a component as driving the low
	// score, which steers query expansion.
	componentConcernThreshold = 0.70
	// correctionRetrieveK is the per-attempt document budget, split
	// across both index namespaces.
	correctionRetrieveK = 10
)

// exceptionTermPattern pulls error-type identifiers for expansion.
var exceptionTermPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]+Error\b|\b\w+Exception\b`)

// correctionCategoryTerms are the alternative phrasings mixed into the
// expanded query, by category. The first attempt uses two; the second
// uses all of them.
var correctionCategoryTerms = map[string][]string{
	"CODE_ERROR":       {"code error", "programming bug", "software defect", "implementation issue"},
	"INFRA_ERROR":      {"infrastructure problem", "deployment issue", "service down", "connection error"},
	"CONFIG_ERROR":     {"configuration problem", "settings error", "environment variable", "config file"},
	"DEPENDENCY_ERROR": {"dependency issue", "package error", "library missing", "import error"},
	"TEST_ERROR":       {"test failure", "test case error", "assertion failed", "test setup"},
	datatypes.CategoryUnknown: {"error", "failure", "problem", "issue"},
}

// DocFetcher retrieves supporting documents for corrected answers. The
// dense index client satisfies this.
type DocFetcher interface {
	Search(ctx context.Context, namespace, query string, k int, filter map[string]string) ([]datatypes.SearchResult, error)
}

var _ DocFetcher = (*weaviate.Client)(nil)

// Correction is the outcome of one correction run.
type Correction struct {
	Improved      bool                 `json:"improved"`
	NewConfidence float64              `json:"new_confidence,omitempty"`
	Delta         float64              `json:"improvement_delta"`
	Attempts      int                  `json:"attempts"`
	ExpandedQuery string               `json:"expanded_query,omitempty"`
	Documents     []datatypes.Document `json:"-"`
}

// CorrectorStatistics summarizes correction outcomes since start.
type CorrectorStatistics struct {
	Attempts   int     `json:"total_attempts"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	HitRate    float64 `json:"success_rate"`
}

// Corrector rescues low-confidence answers by expanding the query
// around the weak scoring dimensions and re-retrieving a larger pool
// of documents from both index namespaces.
//
// # Thread Safety
//
// Safe for concurrent use.
type Corrector struct {
	fetcher     DocFetcher
	maxAttempts int
	logger      *slog.Logger

	mu         sync.Mutex
	attempts   int
	successful int
	failed     int
}

// NewCorrector builds a corrector over the given document fetcher.
// A non-positive maxAttempts falls back to the default budget.
func NewCorrector(fetcher DocFetcher, maxAttempts int, logger *slog.Logger) *Corrector {
	if maxAttempts <= 0 {
		maxAttempts = DefaultCorrectionAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Corrector{fetcher: fetcher, maxAttempts: maxAttempts, logger: logger}
}

// Correct attempts to lift the answer's confidence above the
// self-correction band. It keeps the best attempt and reports
// Improved only when the gain exceeds the minimum delta.
func (c *Corrector) Correct(ctx context.Context, answer datatypes.Answer, components datatypes.ComponentScores, confidence float64, failure datatypes.FailureRecord) Correction {
	ctx, span := tracer.Start(ctx, "SelfCorrect")
	defer span.End()

	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	concerns := lowComponents(components)
	c.logger.Info("attempting self-correction",
		"failure_id", failure.ID,
		"confidence", confidence,
		"low_components", concerns)

	best := Correction{Attempts: c.maxAttempts, Delta: 0}
	bestConfidence := confidence

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}

		query := c.expandQuery(failure.ErrorMessage, answer.ErrorCategory, concerns, attempt)
		docs := c.retrieve(ctx, query, correctionRetrieveK)
		if len(docs) == 0 {
			c.logger.Warn("correction retrieval found nothing", "attempt", attempt)
			continue
		}

		estimated := estimateConfidence(confidence, docs)
		c.logger.Debug("correction attempt scored",
			"attempt", attempt,
			"docs", len(docs),
			"estimated_confidence", estimated)

		if estimated > bestConfidence+correctionMinDelta {
			bestConfidence = estimated
			best.Improved = true
			best.NewConfidence = estimated
			best.Delta = estimated - confidence
			best.ExpandedQuery = truncate(query, 200)
			best.Documents = docs
			if estimated >= correctionTarget {
				break
			}
		}
	}

	c.mu.Lock()
	if best.Improved {
		c.successful++
	} else {
		c.failed++
	}
	c.mu.Unlock()

	if best.Improved {
		c.logger.Info("self-correction improved confidence",
			"failure_id", failure.ID,
			"from", confidence,
			"to", best.NewConfidence)
	} else {
		c.logger.Warn("self-correction could not improve confidence",
			"failure_id", failure.ID)
	}
	return best
}

// Statistics reports correction outcomes since process start.
func (c *Corrector) Statistics() CorrectorStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := CorrectorStatistics{
		Attempts:   c.attempts,
		Successful: c.successful,
		Failed:     c.failed,
	}
	if stats.Attempts > 0 {
		stats.HitRate = math.Round(float64(stats.Successful)/float64(stats.Attempts)*1000) / 10
	}
	return stats
}

// expandQuery widens the original error message with category
// phrasings and terms targeted at the weak dimensions. The second
// attempt expands more aggressively than the first.
func (c *Corrector) expandQuery(errorMessage, category string, concerns []string, attempt int) string {
	var terms []string

	categoryTerms, ok := correctionCategoryTerms[category]
	if !ok {
		categoryTerms = correctionCategoryTerms[datatypes.CategoryUnknown]
	}
	take := 2
	if attempt > 1 {
		take = len(categoryTerms)
	}
	terms = append(terms, categoryTerms[:take]...)

	for _, concern := range concerns {
		switch concern {
		case "relevance":
			terms = append(terms, "how to fix "+strings.ToLower(strings.ReplaceAll(category, "_", " ")))
		case "grounding":
			terms = append(terms, category+" documentation", category+" examples")
		case "completeness":
			terms = append(terms, "root cause analysis", "step by step fix", "verification steps")
		}
	}

	if exceptions := exceptionTermPattern.FindAllString(errorMessage, -1); len(exceptions) > 0 {
		if len(exceptions) > 2 {
			exceptions = exceptions[:2]
		}
		terms = append(terms, exceptions...)
	}

	return strings.TrimSpace(errorMessage + " " + strings.Join(terms, " "))
}

// retrieve pulls half the document budget from each namespace, then
// keeps the top scores overall. A dead namespace degrades to the other.
func (c *Corrector) retrieve(ctx context.Context, query string, k int) []datatypes.Document {
	if c.fetcher == nil {
		return nil
	}

	half := k / 2
	var docs []datatypes.Document
	for _, namespace := range []string{weaviate.NamespaceDocs, weaviate.NamespaceCases} {
		results, err := c.fetcher.Search(ctx, namespace, query, half, nil)
		if err != nil {
			c.logger.Warn("correction namespace query failed",
				"namespace", namespace, "error", err)
			continue
		}
		source := datatypes.SourceDense
		for _, r := range results {
			docs = append(docs, datatypes.Document{
				ID:       r.ID,
				Text:     r.Text,
				Metadata: r.Metadata,
				Sources:  []string{source},
				Score:    r.Score,
			})
		}
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
	if len(docs) > k {
		docs = docs[:k]
	}
	return docs
}

// estimateConfidence is the heuristic lift from a correction attempt:
// highly similar documents grant a larger boost, and a full retrieval
// pool adds a little more. Capped at 1.0.
func estimateConfidence(original float64, docs []datatypes.Document) float64 {
	if len(docs) == 0 {
		return original
	}

	var sum float64
	for _, doc := range docs {
		sum += doc.Score
	}
	avg := sum / float64(len(docs))

	var boost float64
	switch {
	case avg > 0.80:
		boost = 0.15
	case avg > 0.70:
		boost = 0.10
	default:
		boost = 0.05
	}
	if len(docs) >= 8 {
		boost += 0.05
	}
	return math.Min(1.0, original+boost)
}

func lowComponents(components datatypes.ComponentScores) []string {
	var low []string
	for _, entry := range []struct {
		name  string
		score float64
	}{
		{"relevance", components.Relevance},
		{"consistency", components.Consistency},
		{"grounding", components.Grounding},
		{"completeness", components.Completeness},
		{"classification", components.Classification},
	} {
		if entry.score < componentConcernThreshold {
			low = append(low, entry.name)
		}
	}
	return low
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
