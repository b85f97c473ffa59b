// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/telemetry"
)

// ============================================================================
// METADATA
// ============================================================================

// useForAll marks a tool useful for every category.
const useForAll = "ALL"

// ToolMetadata describes a registered tool for routing purposes.
type ToolMetadata struct {
	Name        string
	Kind        Kind
	Description string
	// Cost in USD per call; Latency is the expected seconds per call.
	Cost    float64
	Latency float64
	// UseFor lists the categories the tool serves, or the ALL marker.
	UseFor []string
	// AlwaysRun tools execute every run regardless of category.
	AlwaysRun bool
	// Priority orders selected tools; lower runs first.
	Priority     int
	ParallelSafe bool

	totalCalls      int64
	successfulCalls int64
	failedCalls     int64
	totalLatency    float64
}

// ToolStats is a snapshot of one tool's execution counters.
type ToolStats struct {
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	SuccessRate     float64
	AvgLatency      float64
}

// RoutingDecision records one include/skip choice for later analysis.
type RoutingDecision struct {
	Tool       string
	Used       bool
	Rationale  string
	Confidence float64
	Iteration  int
	Timestamp  time.Time
}

// RoutingStats aggregates routing behavior across a registry's life.
type RoutingStats struct {
	TotalDecisions      int
	GithubUsed          int
	GithubSkipped       int
	InfraSkippedGithub  int
	ConfigSkippedGithub int
}

// defaultToolSet is the standard tool catalog.
func defaultToolSet() []ToolMetadata {
	return []ToolMetadata{
		{Name: ToolKnowledgeSearch, Kind: KindRetrieval, Description: "Search curated documentation for error patterns and solutions",
			Cost: 0.002, Latency: 0.5, UseFor: []string{useForAll}, AlwaysRun: true, Priority: 1, ParallelSafe: true},
		{Name: ToolCaseSearch, Kind: KindRetrieval, Description: "Search past error cases from historical test failures",
			Cost: 0.002, Latency: 0.5, UseFor: []string{useForAll}, AlwaysRun: true, Priority: 1, ParallelSafe: true},
		{Name: ToolGithubGetFile, Kind: KindCode, Description: "Fetch a source file from the repository",
			Latency: 1.0, UseFor: []string{"CODE_ERROR", "TEST_ERROR"}, Priority: 3, ParallelSafe: true},
		{Name: ToolGithubSearchCode, Kind: KindCode, Description: "Search for code patterns across the repository",
			Latency: 2.0, UseFor: []string{"CODE_ERROR"}, Priority: 4, ParallelSafe: true},
		{Name: ToolGithubListFiles, Kind: KindCode, Description: "List files in a directory to understand structure",
			Latency: 0.8, UseFor: []string{"CODE_ERROR", "DEPENDENCY_ERROR"}, Priority: 4, ParallelSafe: true},
		{Name: ToolMongoLogs, Kind: KindLogs, Description: "Query test execution logs",
			Latency: 0.3, UseFor: []string{"INFRA_ERROR", "CONFIG_ERROR", "TEST_ERROR"}, Priority: 2, ParallelSafe: true},
		{Name: ToolMongoQueryFailures, Kind: KindLogs, Description: "Query similar failures from recorded test results",
			Latency: 0.4, UseFor: []string{"CODE_ERROR", "INFRA_ERROR", "CONFIG_ERROR", "TEST_ERROR"}, Priority: 2, ParallelSafe: true},
		{Name: ToolPostgresHistory, Kind: KindHistory, Description: "Query historical analysis for this test",
			Latency: 0.3, UseFor: []string{"CODE_ERROR", "INFRA_ERROR", "CONFIG_ERROR", "DEPENDENCY_ERROR", "TEST_ERROR"}, Priority: 2, ParallelSafe: true},
		{Name: ToolPostgresSimilar, Kind: KindHistory, Description: "Find similar errors analyzed in the past",
			Latency: 0.4, UseFor: []string{"CODE_ERROR", "INFRA_ERROR", "CONFIG_ERROR", "DEPENDENCY_ERROR"}, Priority: 2, ParallelSafe: true},
		{Name: ToolLLMCodeAnalysis, Kind: KindLLM, Description: "Deep model-driven code analysis for complex bugs",
			Cost: 0.01, Latency: 2.0, UseFor: []string{"CODE_ERROR"}, Priority: 3},
		{Name: ToolLLMExplain, Kind: KindLLM, Description: "Generate detailed model-driven explanations",
			Cost: 0.005, Latency: 1.5, UseFor: []string{"CODE_ERROR", "INFRA_ERROR", "CONFIG_ERROR"}, Priority: 4},
		{Name: ToolWebSearch, Kind: KindWeb, Description: "Search the web for error patterns and solutions",
			Latency: 3.0, UseFor: []string{"CODE_ERROR", "INFRA_ERROR", "CONFIG_ERROR", "DEPENDENCY_ERROR"}, Priority: 10, ParallelSafe: true},
	}
}

// ============================================================================
// REGISTRY
// ============================================================================

// CategorySource discovers the valid error categories from the dense
// indexes.
type CategorySource interface {
	DiscoverCategories(ctx context.Context) ([]string, error)
}

// Registry routes tools by error category with data-driven category
// discovery and context-aware gating.
//
// Routing implements the 80/20 rule for code inspection: repository
// tools run only for code errors where retrieval alone left
// confidence below 0.75.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	source   CategorySource
	cacheTTL time.Duration
	logger   *slog.Logger

	mu           sync.Mutex
	tools        map[string]*ToolMetadata
	categories   []string
	discoveredAt time.Time
	decisions    []RoutingDecision
	stats        RoutingStats

	now func() time.Time
}

// NewRegistry builds a registry over the standard tool catalog. A nil
// source disables discovery; only the UNKNOWN category validates.
func NewRegistry(source CategorySource, cacheTTL time.Duration, logger *slog.Logger) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		source:   source,
		cacheTTL: cacheTTL,
		logger:   logger,
		tools:    make(map[string]*ToolMetadata),
		now:      time.Now,
	}
	for _, meta := range defaultToolSet() {
		meta := meta
		r.tools[meta.Name] = &meta
	}
	logger.Info("tool registry initialized", "tools", len(r.tools))
	return r
}

// Metadata returns the descriptor for a tool, or nil if unregistered.
func (r *Registry) Metadata(name string) *ToolMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tools[name]
}

// AvailableCategories returns the discovered category set, refreshing
// from the source when the cache has expired. Discovery failure falls
// back to the UNKNOWN sentinel so analysis can proceed.
func (r *Registry) AvailableCategories(ctx context.Context, forceRefresh bool) []string {
	r.mu.Lock()
	if !forceRefresh && len(r.categories) > 0 && r.now().Sub(r.discoveredAt) < r.cacheTTL {
		cached := append([]string(nil), r.categories...)
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	categories := []string{datatypes.CategoryUnknown}
	if r.source != nil {
		discovered, err := r.source.DiscoverCategories(ctx)
		if err != nil {
			r.logger.Warn("category discovery failed, using UNKNOWN fallback", "error", err)
		} else if len(discovered) > 0 {
			categories = discovered
			if !contains(categories, datatypes.CategoryUnknown) {
				categories = append(categories, datatypes.CategoryUnknown)
			}
			sort.Strings(categories)
		}
	}

	r.mu.Lock()
	r.categories = categories
	r.discoveredAt = r.now()
	r.mu.Unlock()

	r.logger.Info("categories refreshed", "categories", categories)
	return append([]string(nil), categories...)
}

// ToolsFor returns the tool names to run for the category, ordered by
// priority. Unknown categories degrade to the retrieval-first UNKNOWN
// path rather than failing.
func (r *Registry) ToolsFor(ctx context.Context, category string, confidence float64, iteration int, used []string) []string {
	available := r.AvailableCategories(ctx, false)
	if !contains(available, category) {
		r.logger.Warn("unrecognized category, routing as UNKNOWN", "category", category)
		category = datatypes.CategoryUnknown
	}

	usedSet := make(map[string]bool, len(used))
	for _, name := range used {
		usedSet[name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var selected []string
	for name, tool := range r.tools {
		if usedSet[name] {
			continue
		}
		if tool.AlwaysRun {
			selected = append(selected, name)
			continue
		}
		applies := contains(tool.UseFor, useForAll) ||
			contains(tool.UseFor, category) ||
			category == datatypes.CategoryUnknown
		if !applies {
			continue
		}
		if r.shouldUseLocked(tool, category, confidence, iteration, usedSet) {
			selected = append(selected, name)
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		ti, tj := r.tools[selected[i]], r.tools[selected[j]]
		if ti.Priority != tj.Priority {
			return ti.Priority < tj.Priority
		}
		return selected[i] < selected[j]
	})

	r.logger.Info("tools selected",
		"category", category,
		"confidence", confidence,
		"iteration", iteration,
		"tools", selected)
	return selected
}

// shouldUseLocked applies the context-aware gates. Caller holds r.mu.
func (r *Registry) shouldUseLocked(tool *ToolMetadata, category string, confidence float64, iteration int, used map[string]bool) bool {
	r.stats.TotalDecisions++

	switch tool.Kind {
	case KindCode:
		if category != "CODE_ERROR" && category != "TEST_ERROR" {
			if category == "INFRA_ERROR" {
				r.stats.InfraSkippedGithub++
			} else if category == "CONFIG_ERROR" {
				r.stats.ConfigSkippedGithub++
			}
			r.recordDecisionLocked(tool.Name, false,
				fmt.Sprintf("%s does not need code inspection", category), confidence, iteration)
			return false
		}
		if confidence >= 0.75 {
			r.stats.GithubSkipped++
			r.recordDecisionLocked(tool.Name, false,
				fmt.Sprintf("retrieval sufficient (%.2f >= 0.75)", confidence), confidence, iteration)
			return false
		}
		r.stats.GithubUsed++
		r.recordDecisionLocked(tool.Name, true,
			fmt.Sprintf("code error with low confidence (%.2f < 0.75)", confidence), confidence, iteration)
		return true

	case KindLogs:
		switch category {
		case "INFRA_ERROR", "CONFIG_ERROR", "TEST_ERROR":
			return true
		case "CODE_ERROR":
			return confidence < 0.60
		default:
			return category == datatypes.CategoryUnknown
		}

	case KindHistory:
		return iteration == 1 || confidence < 0.70

	case KindLLM:
		retrievalDone := used[ToolKnowledgeSearch] || used[ToolCaseSearch]
		if !retrievalDone {
			return false
		}
		if category == "CODE_ERROR" && confidence < 0.75 {
			codeDone := used[ToolGithubGetFile] || used[ToolGithubSearchCode] || used[ToolGithubListFiles]
			if !codeDone {
				// Inspect the code before spending on deep analysis.
				return false
			}
		}
		return confidence < 0.65

	case KindWeb:
		return confidence < 0.50 && len(used) >= 3 && iteration >= 3

	default:
		return true
	}
}

func (r *Registry) recordDecisionLocked(tool string, usedTool bool, rationale string, confidence float64, iteration int) {
	outcome := "skip"
	if usedTool {
		outcome = "use"
	}
	telemetry.RoutingDecisions.WithLabelValues(tool, outcome).Inc()
	r.decisions = append(r.decisions, RoutingDecision{
		Tool:       tool,
		Used:       usedTool,
		Rationale:  rationale,
		Confidence: confidence,
		Iteration:  iteration,
		Timestamp:  r.now(),
	})
	r.logger.Info("routing decision",
		"tool", tool,
		"decision", strings.ToUpper(outcome),
		"rationale", rationale)
}

// RoutingStatistics returns aggregate routing counters and the most
// recent decisions.
func (r *Registry) RoutingStatistics() (RoutingStats, []RoutingDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recent := r.decisions
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	return r.stats, append([]RoutingDecision(nil), recent...)
}

// ResetRouting clears routing counters and decisions for a new run.
func (r *Registry) ResetRouting() {
	r.mu.Lock()
	r.decisions = nil
	r.stats = RoutingStats{}
	r.mu.Unlock()
}

// RecordExecution updates a tool's execution counters.
func (r *Registry) RecordExecution(name string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tool, ok := r.tools[name]
	if !ok {
		r.logger.Warn("execution recorded for unknown tool", "tool", name)
		return
	}
	tool.totalCalls++
	tool.totalLatency += latency.Seconds()
	if success {
		tool.successfulCalls++
	} else {
		tool.failedCalls++
	}
	if tool.totalCalls%10 == 0 {
		r.logger.Info("tool metrics",
			"tool", name,
			"calls", tool.totalCalls,
			"success_rate", float64(tool.successfulCalls)/float64(tool.totalCalls),
			"avg_latency_s", tool.totalLatency/float64(tool.totalCalls))
	}
}

// Statistics returns execution counters for every tool that has run.
func (r *Registry) Statistics() map[string]ToolStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make(map[string]ToolStats)
	for name, tool := range r.tools {
		if tool.totalCalls == 0 {
			continue
		}
		stats[name] = ToolStats{
			TotalCalls:      tool.totalCalls,
			SuccessfulCalls: tool.successfulCalls,
			FailedCalls:     tool.failedCalls,
			SuccessRate:     float64(tool.successfulCalls) / float64(tool.totalCalls),
			AvgLatency:      tool.totalLatency / float64(tool.totalCalls),
		}
	}
	return stats
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
