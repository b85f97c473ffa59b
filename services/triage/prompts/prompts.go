// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompts serves the reasoning, observation, and answer prompt
// templates used by the analysis loop. Templates are data-driven:
// fetched from the dense index by document-type metadata, cached in
// memory, and backed by embedded literals when retrieval fails.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/weaviate"
)

// ============================================================================
// CONSTANTS AND ERRORS
// ============================================================================

// Template document types stored in the dense index.
const (
	DocTypeReasoning   = "reasoning_template"
	DocTypeFewShot     = "few_shot_example"
	DocTypeObservation = "observation_template"
	DocTypeAnswer      = "answer_generation_template"
)

// CategoryGlobal marks templates shared across every error category.
const CategoryGlobal = "GLOBAL"

// DefaultCacheTTL is how long a fetched template is served from memory.
const DefaultCacheTTL = 30 * time.Minute

// MaxFewShotExamples bounds how many exemplars a prompt carries.
const MaxFewShotExamples = 2

// observationResultLimit caps tool output embedded in a prompt.
const observationResultLimit = 1000

// ErrTemplateUnavailable is returned when neither the dense store nor
// the embedded fallback yields a usable template.
var ErrTemplateUnavailable = errors.New("prompts: no template available")

// ============================================================================
// TYPES
// ============================================================================

// ReasoningExample is a single few-shot exemplar for the reason node.
type ReasoningExample struct {
	ErrorSummary string
	Thought      string
	Action       string
	Reasoning    string
}

// Fetcher is the slice of the dense client the store needs.
type Fetcher interface {
	FetchByDocType(ctx context.Context, namespace, docType, category string, k int) ([]datatypes.SearchResult, error)
}

var _ Fetcher = (*weaviate.Client)(nil)

type cacheEntry struct {
	template  string
	examples  []ReasoningExample
	fetchedAt time.Time
}

// Store fetches prompt templates with a TTL cache.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent refreshes of the same key may
// overlap; the last write wins, which is harmless because refresh is
// idempotent over the same backing data.
type Store struct {
	fetcher Fetcher
	ttl     time.Duration
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	// now is swapped in tests to control TTL expiry.
	now func() time.Time
}

// NewStore builds a template store. A nil fetcher disables the dense
// path and serves embedded fallbacks only.
func NewStore(fetcher Fetcher, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// ============================================================================
// PUBLIC API
// ============================================================================

// ClassificationPrompt renders the category-classification prompt for
// the given failure summary and the currently valid category set.
func (s *Store) ClassificationPrompt(categories []string, errorInfo string) string {
	sorted := append([]string(nil), categories...)
	sort.Strings(sorted)
	return strings.NewReplacer(
		"{categories}", strings.Join(sorted, ", "),
		"{error_info}", errorInfo,
	).Replace(fallbackClassificationTemplate)
}

// ReasoningPrompt renders the category-specific reasoning prompt,
// optionally prefixed with few-shot exemplars. A missing category
// template falls back to the GLOBAL template, then to the embedded
// defaults.
func (s *Store) ReasoningPrompt(ctx context.Context, category, errorInfo, contextSummary string, includeExamples bool) (string, error) {
	template, ok := s.fetchTemplate(ctx, DocTypeReasoning, category)
	if !ok {
		template, ok = s.fetchTemplate(ctx, DocTypeReasoning, CategoryGlobal)
	}
	if !ok {
		template, ok = fallbackReasoningTemplates[category]
		if !ok {
			template, ok = fallbackReasoningTemplates[datatypes.CategoryUnknown]
		}
		if !ok {
			return "", fmt.Errorf("%w: reasoning for %s", ErrTemplateUnavailable, category)
		}
	}

	prompt := strings.NewReplacer(
		"{error_info}", errorInfo,
		"{context_summary}", contextSummary,
	).Replace(template)

	if includeExamples {
		if examples := s.FewShotExamples(ctx, category, MaxFewShotExamples); len(examples) > 0 {
			prompt = FormatExamples(examples) + "\n" + prompt
		}
	}
	return prompt, nil
}

// FewShotExamples returns up to max exemplars for the category, ordered
// by their stored example index.
func (s *Store) FewShotExamples(ctx context.Context, category string, max int) []ReasoningExample {
	if max <= 0 {
		max = MaxFewShotExamples
	}
	examples, ok := s.fetchExamples(ctx, category)
	if !ok {
		examples = fallbackFewShotExamples[category]
	}
	if len(examples) > max {
		examples = examples[:max]
	}
	return examples
}

// ObservationPrompt renders the global observation-analysis prompt.
// Tool output is truncated to keep the prompt bounded.
func (s *Store) ObservationPrompt(ctx context.Context, toolName, toolResults string, currentConfidence float64) (string, error) {
	template, ok := s.fetchTemplate(ctx, DocTypeObservation, CategoryGlobal)
	if !ok {
		template = fallbackObservationTemplate
	}
	if len(toolResults) > observationResultLimit {
		toolResults = toolResults[:observationResultLimit]
	}
	return strings.NewReplacer(
		"{tool_name}", toolName,
		"{tool_results}", toolResults,
		"{current_confidence}", fmt.Sprintf("%.2f", currentConfidence),
	).Replace(template), nil
}

// AnswerPrompt renders the global answer-generation prompt.
func (s *Store) AnswerPrompt(ctx context.Context, category, allContext, reasoningHistory string) (string, error) {
	template, ok := s.fetchTemplate(ctx, DocTypeAnswer, CategoryGlobal)
	if !ok {
		template = fallbackAnswerTemplate
	}
	return strings.NewReplacer(
		"{error_category}", category,
		"{all_context}", allContext,
		"{reasoning_history}", reasoningHistory,
	).Replace(template), nil
}

// FormatExamples renders exemplars for inclusion in a prompt.
func FormatExamples(examples []ReasoningExample) string {
	if len(examples) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("**Examples of Good Reasoning:**\n\n")
	for i, ex := range examples {
		fmt.Fprintf(&b, "Example %d:\nError: %s\nThought: %s\nAction: %s\nReasoning: %s\n\n",
			i+1, ex.ErrorSummary, ex.Thought, ex.Action, ex.Reasoning)
	}
	return b.String()
}

// ClearCache drops every cached template, forcing the next request to
// refetch.
func (s *Store) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.mu.Unlock()
}

// ============================================================================
// FETCH AND CACHE
// ============================================================================

func (s *Store) fetchTemplate(ctx context.Context, docType, category string) (string, bool) {
	key := docType + "_" + category
	if entry, ok := s.cached(key); ok {
		return entry.template, entry.template != ""
	}
	if s.fetcher == nil {
		return "", false
	}

	results, err := s.fetcher.FetchByDocType(ctx, weaviate.NamespaceDocs, docType, category, 1)
	if err != nil {
		s.logger.Warn("template fetch failed, using fallback",
			"doc_type", docType, "category", category, "error", err)
		return "", false
	}

	template := ""
	if len(results) > 0 {
		template, _ = results[0].Metadata["template_content"].(string)
	}
	// Negative results are cached too so an empty category does not hit
	// the store on every node.
	s.storeEntry(key, cacheEntry{template: template})
	return template, template != ""
}

func (s *Store) fetchExamples(ctx context.Context, category string) ([]ReasoningExample, bool) {
	key := DocTypeFewShot + "_" + category
	if entry, ok := s.cached(key); ok {
		return entry.examples, len(entry.examples) > 0
	}
	if s.fetcher == nil {
		return nil, false
	}

	results, err := s.fetcher.FetchByDocType(ctx, weaviate.NamespaceDocs, DocTypeFewShot, category, 50)
	if err != nil {
		s.logger.Warn("few-shot fetch failed, using fallback",
			"category", category, "error", err)
		return nil, false
	}

	type indexed struct {
		index   int
		example ReasoningExample
	}
	collected := make([]indexed, 0, len(results))
	for _, r := range results {
		collected = append(collected, indexed{
			index: metadataInt(r.Metadata, "example_index"),
			example: ReasoningExample{
				ErrorSummary: metadataString(r.Metadata, "error_summary"),
				Thought:      metadataString(r.Metadata, "thought"),
				Action:       metadataString(r.Metadata, "action"),
				Reasoning:    metadataString(r.Metadata, "reasoning"),
			},
		})
	}
	sort.SliceStable(collected, func(i, j int) bool { return collected[i].index < collected[j].index })

	examples := make([]ReasoningExample, len(collected))
	for i, c := range collected {
		examples[i] = c.example
	}
	s.storeEntry(key, cacheEntry{examples: examples})
	return examples, len(examples) > 0
}

func (s *Store) cached(key string) (cacheEntry, bool) {
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if !ok || s.now().Sub(entry.fetchedAt) >= s.ttl {
		return cacheEntry{}, false
	}
	return entry, true
}

func (s *Store) storeEntry(key string, entry cacheEntry) {
	entry.fetchedAt = s.now()
	s.mu.Lock()
	s.cache[key] = entry
	s.mu.Unlock()
}

func metadataString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func metadataInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}
