// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/stores/mongodb"
	"github.com/AleutianAI/AleutianTriage/services/triage/stores/postgres"
	"github.com/AleutianAI/AleutianTriage/services/triage/weaviate"
	"github.com/AleutianAI/AleutianTriage/services/triage/web"
)

// ErrNoResults marks a tool call that ran but found nothing useful.
var ErrNoResults = errors.New("tools: no results")

// resultLimit bounds how many hits a store-backed tool reports.
const resultLimit = 5

// ============================================================================
// INDEX TOOLS
// ============================================================================

// IndexSearcher is the dense-index surface the retrieval tools use.
type IndexSearcher interface {
	Search(ctx context.Context, namespace, query string, k int, filter map[string]string) ([]datatypes.SearchResult, error)
}

var _ IndexSearcher = (*weaviate.Client)(nil)

// KnowledgeSearchTool searches the curated documentation namespace.
type KnowledgeSearchTool struct {
	Index IndexSearcher
}

func (t *KnowledgeSearchTool) Name() string { return ToolKnowledgeSearch }

func (t *KnowledgeSearchTool) Run(ctx context.Context, req Request) (string, error) {
	return searchNamespace(ctx, t.Index, weaviate.NamespaceDocs, req)
}

// CaseSearchTool searches the historical-cases namespace.
type CaseSearchTool struct {
	Index IndexSearcher
}

func (t *CaseSearchTool) Name() string { return ToolCaseSearch }

func (t *CaseSearchTool) Run(ctx context.Context, req Request) (string, error) {
	return searchNamespace(ctx, t.Index, weaviate.NamespaceCases, req)
}

func searchNamespace(ctx context.Context, index IndexSearcher, namespace string, req Request) (string, error) {
	var filter map[string]string
	if req.Category != "" && req.Category != datatypes.CategoryUnknown {
		filter = map[string]string{"error_category": req.Category}
	}
	results, err := index.Search(ctx, namespace, req.Query, resultLimit, filter)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoResults, namespace)
	}
	return formatSearchResults(results), nil
}

// ============================================================================
// STORE TOOLS
// ============================================================================

// MongoLogsTool queries raw execution logs.
type MongoLogsTool struct {
	Store *mongodb.Client
}

func (t *MongoLogsTool) Name() string { return ToolMongoLogs }

func (t *MongoLogsTool) Run(ctx context.Context, req Request) (string, error) {
	results, err := t.Store.TextSearch(ctx, req.Query, req.Category, resultLimit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w in execution logs", ErrNoResults)
	}
	return formatSearchResults(results), nil
}

// MongoFailuresTool queries recorded failures without a category
// filter, surfacing cross-category repeats.
type MongoFailuresTool struct {
	Store *mongodb.Client
}

func (t *MongoFailuresTool) Name() string { return ToolMongoQueryFailures }

func (t *MongoFailuresTool) Run(ctx context.Context, req Request) (string, error) {
	results, err := t.Store.TextSearch(ctx, req.Query, "", resultLimit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w in recorded failures", ErrNoResults)
	}
	return formatSearchResults(results), nil
}

// PostgresHistoryTool queries past analysis outcomes for the failure.
type PostgresHistoryTool struct {
	Store *postgres.Client
}

func (t *PostgresHistoryTool) Name() string { return ToolPostgresHistory }

func (t *PostgresHistoryTool) Run(ctx context.Context, req Request) (string, error) {
	results, err := t.Store.RankSearch(ctx, req.Query, postgres.RankFilters{Category: req.Category}, resultLimit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w in analysis history", ErrNoResults)
	}
	return formatSearchResults(results), nil
}

// PostgresSimilarTool finds previously analyzed errors resembling the
// current one, restricted to confident past answers.
type PostgresSimilarTool struct {
	Store *postgres.Client
}

func (t *PostgresSimilarTool) Name() string { return ToolPostgresSimilar }

func (t *PostgresSimilarTool) Run(ctx context.Context, req Request) (string, error) {
	results, err := t.Store.RankSearch(ctx, req.Query, postgres.RankFilters{MinConfidence: 0.70}, resultLimit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w among similar errors", ErrNoResults)
	}
	return formatSearchResults(results), nil
}

// ============================================================================
// LLM TOOLS
// ============================================================================

// LLMCodeAnalysisTool asks the model for a focused read of the stack
// trace and error message.
type LLMCodeAnalysisTool struct {
	Client llm.Client
}

func (t *LLMCodeAnalysisTool) Name() string { return ToolLLMCodeAnalysis }

func (t *LLMCodeAnalysisTool) Run(ctx context.Context, req Request) (string, error) {
	prompt := fmt.Sprintf(
		"Analyze this %s failure. Identify the failing code path and the most likely defect.\n\nError:\n%s\n\nStack trace:\n%s",
		req.Category, req.Failure.ErrorMessage, req.Failure.StackTrace)
	return t.Client.Generate(ctx, prompt, llm.GenerationParams{Temperature: llm.Temperature(0.2)})
}

// LLMExplainTool asks the model for a plain-language explanation of
// the failure for the observation step.
type LLMExplainTool struct {
	Client llm.Client
}

func (t *LLMExplainTool) Name() string { return ToolLLMExplain }

func (t *LLMExplainTool) Run(ctx context.Context, req Request) (string, error) {
	prompt := fmt.Sprintf(
		"Explain this %s failure in plain terms and list likely causes.\n\nError:\n%s",
		req.Category, req.Failure.ErrorMessage)
	return t.Client.Generate(ctx, prompt, llm.GenerationParams{Temperature: llm.Temperature(0.2)})
}

// ============================================================================
// WEB TOOL
// ============================================================================

// WebSearchTool searches the public web, the final fallback source.
type WebSearchTool struct {
	Searcher web.Searcher
}

func (t *WebSearchTool) Name() string { return ToolWebSearch }

func (t *WebSearchTool) Run(ctx context.Context, req Request) (string, error) {
	query := web.BuildQuery(req.Failure.ErrorMessage, req.Category)
	results, err := t.Searcher.Search(ctx, query)
	if err != nil {
		return "", err
	}
	snippets := web.Snippets(results)
	if len(snippets) == 0 {
		return "", fmt.Errorf("%w on the web", ErrNoResults)
	}
	return strings.Join(snippets, "\n"), nil
}

// ============================================================================
// FORMATTING
// ============================================================================

func formatSearchResults(results []datatypes.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d] (score %.3f) %s", i+1, r.Score, strings.TrimSpace(r.Text))
	}
	return b.String()
}

var (
	_ Tool = (*KnowledgeSearchTool)(nil)
	_ Tool = (*CaseSearchTool)(nil)
	_ Tool = (*MongoLogsTool)(nil)
	_ Tool = (*MongoFailuresTool)(nil)
	_ Tool = (*PostgresHistoryTool)(nil)
	_ Tool = (*PostgresSimilarTool)(nil)
	_ Tool = (*LLMCodeAnalysisTool)(nil)
	_ Tool = (*LLMExplainTool)(nil)
	_ Tool = (*WebSearchTool)(nil)
)
