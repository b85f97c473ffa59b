// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools provides the data-gathering tools available to the
// analysis loop, the registry that routes them by error category, and
// the executor that runs them with retries, fallbacks, and a
// run-scoped result cache.
package tools

import (
	"context"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
)

// Request carries the inputs a tool needs for one invocation.
type Request struct {
	Failure  datatypes.FailureRecord
	Category string
	// Query is the free-text search string derived from the failure.
	Query string
}

// Tool executes one data-gathering action for a failure under
// analysis. Run returns a textual result suitable for feeding back
// into an observation prompt.
type Tool interface {
	Name() string
	Run(ctx context.Context, req Request) (string, error)
}

// Kind groups tools for routing decisions.
type Kind string

const (
	// KindRetrieval tools query the knowledge and case indexes.
	KindRetrieval Kind = "retrieval"
	// KindCode tools inspect source repositories.
	KindCode Kind = "code"
	// KindLogs tools query operational logs.
	KindLogs Kind = "logs"
	// KindHistory tools query past analysis outcomes.
	KindHistory Kind = "history"
	// KindLLM tools run model-driven deep analysis.
	KindLLM Kind = "llm"
	// KindWeb tools search the public web as a last resort.
	KindWeb Kind = "web"
)

// Canonical tool names.
const (
	ToolKnowledgeSearch    = "knowledge_search"
	ToolCaseSearch         = "case_search"
	ToolGithubGetFile      = "github_get_file"
	ToolGithubSearchCode   = "github_search_code"
	ToolGithubListFiles    = "github_list_files"
	ToolMongoLogs          = "mongodb_logs"
	ToolMongoQueryFailures = "mongodb_query_failures"
	ToolPostgresHistory    = "postgres_history"
	ToolPostgresSimilar    = "postgres_similar_errors"
	ToolLLMCodeAnalysis    = "llm_code_analysis"
	ToolLLMExplain         = "llm_explain"
	ToolWebSearch          = "web_search"
)

// alternatives maps a failed tool to the fallback tried in its place.
// Web search has no alternative; it is the last resort.
var alternatives = map[string]string{
	ToolGithubGetFile:      ToolGithubSearchCode,
	ToolKnowledgeSearch:    ToolWebSearch,
	ToolCaseSearch:         ToolWebSearch,
	ToolMongoLogs:          ToolPostgresHistory,
	ToolPostgresHistory:    ToolMongoLogs,
	ToolMongoQueryFailures: ToolPostgresSimilar,
}

// AlternativeFor returns the substitute for a failed tool, or "" when
// none exists.
func AlternativeFor(name string) string {
	return alternatives[name]
}
