// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent runs the seven-node analysis state machine for one
// failing test: classify, then a bounded reason/select/execute/observe
// loop, then answer synthesis and verification.
//
// Each node degrades rather than aborts: a failed LLM call falls back
// to keyword heuristics or registry-driven tool selection, and a run
// that exhausts its iteration budget still synthesizes an answer from
// whatever was gathered.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/prompts"
	"github.com/AleutianAI/AleutianTriage/services/triage/retrieval"
	"github.com/AleutianAI/AleutianTriage/services/triage/telemetry"
	"github.com/AleutianAI/AleutianTriage/services/triage/tools"
	"github.com/AleutianAI/AleutianTriage/services/triage/verify"
)

var tracer = otel.Tracer("aleutian.triage.agent")

// actionDone is the reasoning sentinel for "stop gathering".
const actionDone = "DONE"

// Node temperatures. Classification is deterministic, reasoning gets a
// little room, answer synthesis stays close to the evidence.
const (
	tempClassify float32 = 0.0
	tempReason   float32 = 0.2
	tempAnswer   float32 = 0.1
)

// Prompt input limits, in bytes.
const (
	classifyMessageLimit = 500
	classifyLogLimit     = 1000
	reasonMessageLimit   = 300
	contextSnippetLimit  = 300
)

// ErrMissingDependency is returned by New for absent required wiring.
var ErrMissingDependency = errors.New("agent: llm client, prompt store, registry, executor, and verifier are required")

// referencedFilePattern finds source file mentions for multi-file
// detection.
var referencedFilePattern = regexp.MustCompile(`[\w./\\-]+\.(?:go|py|java|js|ts|rb|cpp)\b`)

// fallbackKeywords drive keyword classification when the LLM call
// fails. Checked in this order.
var fallbackKeywords = []struct {
	category string
	keywords []string
}{
	{"CODE_ERROR", []string{"syntaxerror", "nullpointerexception", "attributeerror",
		"typeerror", "undefined", "nameerror", "indexerror", "keyerror", "valueerror",
		"nil pointer", "panic:"}},
	{"INFRA_ERROR", []string{"outofmemoryerror", "networkerror", "connectiontimeout",
		"socketexception", "heap space", "disk full", "connection refused", "no space left"}},
	{"CONFIG_ERROR", []string{"configurationexception", "invalidconfiguration",
		"permission denied", "access denied", "environment variable", "configuration", "config"}},
	{"DEPENDENCY_ERROR", []string{"modulenotfounderror", "importerror", "version conflict",
		"classnotfoundexception", "package not found", "cannot find module", "dependency"}},
	{"TEST_ERROR", []string{"assertionerror", "expectationfailed", "test failed",
		"assertion failed", "expected", "actual"}},
}

// Retriever is the fused multi-source retrieval entry point. The
// fusion retriever satisfies this.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filters retrieval.Filters, expandQuery bool) []datatypes.Document
}

var _ Retriever = (*retrieval.Fusion)(nil)

// Verifier routes a synthesized answer by confidence band.
type Verifier interface {
	Verify(ctx context.Context, answer datatypes.Answer, docs []datatypes.Document, failure datatypes.FailureRecord) *datatypes.VerificationResult
}

var _ Verifier = (*verify.Verifier)(nil)

// Config tunes the analysis loop.
type Config struct {
	// MaxIterations bounds the reason/act loop.
	MaxIterations int
	// ConfidenceTarget ends the loop early once reasoning reports it.
	ConfidenceTarget float64
}

// DefaultConfig matches the documented loop defaults.
func DefaultConfig() Config {
	return Config{MaxIterations: 5, ConfidenceTarget: 0.85}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.ConfidenceTarget <= 0 {
		c.ConfidenceTarget = def.ConfidenceTarget
	}
}

// Report is the full outcome of one analysis run: the verification
// result plus the reasoning trail for audit.
type Report struct {
	Result    *datatypes.VerificationResult `json:"result"`
	Reasoning []ReasoningStep               `json:"reasoning_history"`
	Actions   []ActionRecord                `json:"actions"`
	// Routing is a snapshot of the shared registry's cumulative
	// routing statistics at run end, not a per-run count.
	Routing tools.RoutingStats `json:"routing_stats"`
}

// Agent is the analysis state machine.
//
// # Thread Safety
//
// Safe for concurrent Analyze calls; per-run state is local. The
// shared registry, executor, and verifier are themselves safe.
type Agent struct {
	llm       llm.Client
	prompts   *prompts.Store
	registry  *tools.Registry
	executor  *tools.Executor
	retriever Retriever
	verifier  Verifier
	config    Config
	logger    *slog.Logger
}

// New wires the agent. The retriever may be nil, in which case the
// retrieval tools degrade to failures and routing finds alternatives.
func New(client llm.Client, store *prompts.Store, registry *tools.Registry, executor *tools.Executor, retriever Retriever, verifier Verifier, cfg Config, logger *slog.Logger) (*Agent, error) {
	if client == nil || store == nil || registry == nil || executor == nil || verifier == nil {
		return nil, ErrMissingDependency
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if retriever == nil {
		logger.Warn("agent running without fused retrieval, evidence will be tool output only")
	}
	return &Agent{
		llm:       client,
		prompts:   store,
		registry:  registry,
		executor:  executor,
		retriever: retriever,
		verifier:  verifier,
		config:    cfg,
		logger:    logger,
	}, nil
}

// Analyze runs the full state machine for one failure and returns the
// verified outcome with its reasoning trail.
func (a *Agent) Analyze(ctx context.Context, failure datatypes.FailureRecord) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Analyze")
	defer span.End()

	if strings.TrimSpace(failure.ErrorMessage) == "" {
		return nil, errors.New("agent: failure error message required")
	}

	state := newState(failure)
	// Retry budgets and the result cache are scoped to this run; the
	// shared executor stays untouched so concurrent runs cannot cross
	// each other's state.
	state.exec = a.executor.Fresh()
	a.logger.Info("analysis started", "failure_id", failure.ID)

	a.classify(ctx, state)

	for state.Iteration < a.config.MaxIterations {
		a.reason(ctx, state)
		if state.Confidence >= a.config.ConfidenceTarget {
			a.logger.Info("confidence target reached", "confidence", state.Confidence)
			break
		}
		if !state.NeedsMoreInfo || state.NextAction == actionDone {
			break
		}

		a.selectTool(ctx, state)
		if state.NextAction == actionDone {
			break
		}

		a.execute(ctx, state)
		a.observe(ctx, state)
	}

	a.answer(ctx, state)

	result := a.verifier.Verify(ctx, a.buildAnswer(state), state.Documents, failure)
	telemetry.AnalysisRuns.WithLabelValues(string(result.Status)).Inc()
	telemetry.AnalysisIterations.Observe(float64(state.Iteration))

	routing, _ := a.registry.RoutingStatistics()
	a.logger.Info("analysis complete",
		"failure_id", failure.ID,
		"status", string(result.Status),
		"confidence", result.Confidence,
		"iterations", state.Iteration,
		"tools_used", len(state.Actions),
		"routing_decisions", routing.TotalDecisions)

	return &Report{
		Result:    result,
		Reasoning: state.Reasoning,
		Actions:   state.Actions,
		Routing:   routing,
	}, nil
}

// =============================================================================
// Node 1: classification
// =============================================================================

func (a *Agent) classify(ctx context.Context, s *State) {
	ctx, span := tracer.Start(ctx, "Classify")
	defer span.End()

	categories := a.registry.AvailableCategories(ctx, false)
	errorInfo := fmt.Sprintf("ERROR MESSAGE:\n%s\n\nLOG CONTEXT:\n%s",
		clip(s.Failure.ErrorMessage, classifyMessageLimit),
		clip(s.Failure.LogContext, classifyLogLimit))
	prompt := a.prompts.ClassificationPrompt(categories, errorInfo)

	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	raw, err := a.llm.Generate(ctx, prompt, llm.GenerationParams{Temperature: llm.Temperature(tempClassify)})
	if err == nil {
		err = llm.ExtractJSONObject(raw, &parsed)
	}
	if err != nil {
		s.Category = fallbackClassification(s.Failure.ErrorMessage)
		s.ClassificationConfidence = 0.5
		a.logger.Warn("classification degraded to keyword matching",
			"category", s.Category, "error", err)
	} else {
		s.Category = validCategory(parsed.Category, categories)
		s.ClassificationConfidence = clamp01(parsed.Confidence)
		a.logger.Info("failure classified",
			"category", s.Category,
			"confidence", s.ClassificationConfidence)
	}

	s.ReferencedFiles = referencedFiles(s.Failure.ErrorMessage + "\n" + s.Failure.StackTrace)
	s.MultiFile = len(s.ReferencedFiles) > 1
	if s.MultiFile {
		a.logger.Info("multi-file failure detected", "files", len(s.ReferencedFiles))
	}
}

// =============================================================================
// Node 2: reasoning
// =============================================================================

func (a *Agent) reason(ctx context.Context, s *State) {
	ctx, span := tracer.Start(ctx, "Reason")
	defer span.End()

	s.Iteration++
	errorInfo := fmt.Sprintf("Error Category: %s\nIteration: %d/%d\nError Message: %s",
		s.Category, s.Iteration, a.config.MaxIterations,
		clip(s.Failure.ErrorMessage, reasonMessageLimit))

	prompt, err := a.prompts.ReasoningPrompt(ctx, s.Category, errorInfo, s.contextSummary(), true)
	if err != nil {
		a.logger.Error("no reasoning template available", "error", err)
		a.fallbackReasoning(ctx, s)
		return
	}

	var parsed struct {
		Thought       string  `json:"thought"`
		Confidence    float64 `json:"confidence"`
		NeedsMoreInfo *bool   `json:"needs_more_info"`
		NextAction    string  `json:"next_action"`
		Reasoning     string  `json:"reasoning"`
	}
	raw, err := a.llm.Generate(ctx, prompt, llm.GenerationParams{Temperature: llm.Temperature(tempReason)})
	if err == nil {
		err = llm.ExtractJSONObject(raw, &parsed)
	}
	if err != nil {
		a.logger.Warn("reasoning degraded to registry selection", "error", err)
		a.fallbackReasoning(ctx, s)
		return
	}

	s.Thought = parsed.Thought
	s.Confidence = clamp01(parsed.Confidence)
	s.NextAction = parsed.NextAction
	s.NeedsMoreInfo = parsed.NeedsMoreInfo == nil || *parsed.NeedsMoreInfo

	s.Reasoning = append(s.Reasoning, ReasoningStep{
		Iteration:     s.Iteration,
		Thought:       parsed.Thought,
		Confidence:    s.Confidence,
		NeedsMoreInfo: s.NeedsMoreInfo,
		NextAction:    parsed.NextAction,
		Reasoning:     parsed.Reasoning,
	})
	a.logger.Info("reasoning step",
		"iteration", s.Iteration,
		"confidence", s.Confidence,
		"next_action", s.NextAction,
		"needs_more_info", s.NeedsMoreInfo)
}

// fallbackReasoning keeps the loop moving on LLM failure: pick the
// registry's top recommendation and keep gathering for the first few
// iterations.
func (a *Agent) fallbackReasoning(ctx context.Context, s *State) {
	s.NextAction = ""
	recommended := a.registry.ToolsFor(ctx, s.Category, s.Confidence, s.Iteration, s.toolsUsed())
	for _, tool := range recommended {
		if a.has(tool) {
			s.NextAction = tool
			break
		}
	}
	if s.NextAction == "" {
		s.NextAction = actionDone
	}
	s.NeedsMoreInfo = s.Iteration < 3
	s.Reasoning = append(s.Reasoning, ReasoningStep{
		Iteration:     s.Iteration,
		Thought:       "reasoning unavailable, continuing with recommended tools",
		Confidence:    s.Confidence,
		NeedsMoreInfo: s.NeedsMoreInfo,
		NextAction:    s.NextAction,
	})
}

// =============================================================================
// Node 3: tool selection
// =============================================================================

func (a *Agent) selectTool(ctx context.Context, s *State) {
	used := s.toolsUsed()

	// Honor the reasoning proposal when it names a runnable, unused tool.
	if s.NextAction != "" && s.NextAction != actionDone &&
		a.has(s.NextAction) && !containsString(used, s.NextAction) {
		return
	}

	for _, tool := range a.registry.ToolsFor(ctx, s.Category, s.Confidence, s.Iteration, used) {
		if a.has(tool) && !containsString(used, tool) {
			s.NextAction = tool
			a.logger.Debug("registry selected tool", "tool", tool)
			return
		}
	}

	s.NextAction = actionDone
	s.NeedsMoreInfo = false
	a.logger.Info("tool selection exhausted")
}

// has reports whether the agent can run the named tool. Retrieval
// tools run through the fusion retriever rather than the executor.
func (a *Agent) has(name string) bool {
	if name == tools.ToolKnowledgeSearch || name == tools.ToolCaseSearch {
		return a.retriever != nil
	}
	return a.executor.Has(name)
}

// =============================================================================
// Node 4: tool execution
// =============================================================================

func (a *Agent) execute(ctx context.Context, s *State) {
	ctx, span := tracer.Start(ctx, "ExecuteTool")
	defer span.End()

	name := s.NextAction
	s.NextAction = ""
	start := time.Now()

	record := ActionRecord{Iteration: s.Iteration, Tool: name}

	switch name {
	case tools.ToolKnowledgeSearch, tools.ToolCaseSearch:
		docs := a.retriever.Retrieve(ctx, s.Failure.ErrorMessage,
			retrieval.Filters{Category: s.Category}, true)
		telemetry.RetrievalDocuments.Observe(float64(len(docs)))
		s.addDocuments(docs)
		s.ToolOutputs[name] = formatDocuments(docs)
		record.Success = true
	default:
		result, err := s.exec.Execute(ctx, name, tools.Request{
			Failure:  s.Failure,
			Category: s.Category,
			Query:    s.Failure.ErrorMessage,
		})
		if err != nil {
			record.Error = err.Error()
			a.logger.Warn("tool execution failed", "tool", name, "error", err)
		} else {
			record.Success = true
			record.Cached = result.Cached
			record.Substituted = result.Substituted
			s.ToolOutputs[result.Tool] = result.Output
		}
	}

	record.DurationMS = time.Since(start).Milliseconds()
	s.Actions = append(s.Actions, record)
}

// =============================================================================
// Node 5: observation
// =============================================================================

func (a *Agent) observe(ctx context.Context, s *State) {
	ctx, span := tracer.Start(ctx, "Observe")
	defer span.End()

	if len(s.Actions) == 0 {
		return
	}
	last := s.Actions[len(s.Actions)-1]

	obs := Observation{Iteration: s.Iteration, Tool: last.Tool, Success: last.Success}
	if !last.Success {
		obs.Findings = "Tool failed: " + last.Error
		s.Observations = append(s.Observations, obs)
		return
	}

	results := s.ToolOutputs[last.Tool]
	prompt, err := a.prompts.ObservationPrompt(ctx, last.Tool, results, s.Confidence)
	if err == nil {
		var parsed struct {
			Observation      string   `json:"observation"`
			ConfidenceChange float64  `json:"confidence_change"`
			KeyFindings      []string `json:"key_findings"`
			ReadyToAnswer    bool     `json:"ready_to_answer"`
		}
		raw, gerr := a.llm.Generate(ctx, prompt, llm.GenerationParams{Temperature: llm.Temperature(tempReason)})
		if gerr == nil {
			gerr = llm.ExtractJSONObject(raw, &parsed)
		}
		if gerr == nil {
			obs.Findings = parsed.Observation
			obs.KeyFindings = parsed.KeyFindings
			// Advisory only; the reason node owns the confidence.
			obs.ConfidenceChange = parsed.ConfidenceChange
			obs.ReadyToAnswer = parsed.ReadyToAnswer
		} else {
			err = gerr
		}
	}
	if obs.Findings == "" {
		obs.Findings = fmt.Sprintf("%s returned %d chars of results", last.Tool, len(results))
		if err != nil {
			a.logger.Warn("observation degraded to summary", "tool", last.Tool, "error", err)
		}
	}

	s.Observations = append(s.Observations, obs)
	a.logger.Info("observation recorded", "tool", last.Tool, "findings", clip(obs.Findings, 120))
}

// =============================================================================
// Node 6: answer synthesis
// =============================================================================

func (a *Agent) answer(ctx context.Context, s *State) {
	ctx, span := tracer.Start(ctx, "Answer")
	defer span.End()

	history, _ := json.MarshalIndent(s.Reasoning, "", "  ")
	prompt, err := a.prompts.AnswerPrompt(ctx, s.Category, a.answerContext(s), string(history))

	var parsed struct {
		RootCause         string   `json:"root_cause"`
		FixRecommendation string   `json:"fix_recommendation"`
		Confidence        float64  `json:"confidence"`
		Evidence          []string `json:"evidence"`
		AdditionalNotes   string   `json:"additional_notes"`
	}
	if err == nil {
		var raw string
		raw, err = a.llm.Generate(ctx, prompt, llm.GenerationParams{Temperature: llm.Temperature(tempAnswer)})
		if err == nil {
			err = llm.ExtractJSONObject(raw, &parsed)
		}
	}
	if err != nil {
		a.logger.Error("answer synthesis failed", "error", err)
		s.RootCause = "Unable to generate root cause analysis"
		s.FixRecommendation = "Please review the failure manually"
		s.Confidence = 0.3
		return
	}

	s.RootCause = parsed.RootCause
	s.FixRecommendation = parsed.FixRecommendation
	s.Confidence = clamp01(parsed.Confidence)
	s.Evidence = parsed.Evidence
	s.AdditionalNotes = parsed.AdditionalNotes
	a.logger.Info("answer synthesized", "confidence", s.Confidence)
}

// answerContext assembles the evidence block for the answer prompt:
// top documents first, then per-tool outputs.
func (a *Agent) answerContext(s *State) string {
	var parts []string

	if len(s.Documents) > 0 {
		parts = append(parts, "SIMILAR ERROR DOCUMENTATION:")
		docs := s.Documents
		if len(docs) > 3 {
			docs = docs[:3]
		}
		for _, doc := range docs {
			parts = append(parts, fmt.Sprintf("- [%s] %s", doc.ID, clip(doc.Text, contextSnippetLimit)))
		}
	}

	for _, tool := range sortedKeys(s.ToolOutputs) {
		if tool == tools.ToolKnowledgeSearch || tool == tools.ToolCaseSearch {
			continue // already covered by the document block
		}
		parts = append(parts, "", strings.ToUpper(tool)+" RESULTS:",
			clip(s.ToolOutputs[tool], contextSnippetLimit))
	}

	if len(parts) == 0 {
		return "Limited information available"
	}
	return strings.Join(parts, "\n")
}

// buildAnswer converts final state into the answer handed to the
// verifier, attaching the closest retrieved cases.
func (a *Agent) buildAnswer(s *State) datatypes.Answer {
	answer := datatypes.Answer{
		ErrorCategory:            s.Category,
		ClassificationConfidence: s.ClassificationConfidence,
		RootCause:                s.RootCause,
		FixRecommendation:        s.FixRecommendation,
		Confidence:               s.Confidence,
		Iterations:               s.Iteration,
		ToolsUsed:                s.toolsUsed(),
	}
	docs := s.Documents
	if len(docs) > 3 {
		docs = docs[:3]
	}
	for _, doc := range docs {
		similar := datatypes.SimilarCase{ID: doc.ID, Similarity: doc.Score}
		if res, ok := doc.Metadata["resolution"].(string); ok {
			similar.Resolution = res
		}
		answer.SimilarCases = append(answer.SimilarCases, similar)
	}
	return answer
}

// =============================================================================
// Helpers
// =============================================================================

func fallbackClassification(errorMessage string) string {
	lower := strings.ToLower(errorMessage)
	for _, entry := range fallbackKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(lower, keyword) {
				return entry.category
			}
		}
	}
	return datatypes.CategoryUnknown
}

func validCategory(category string, known []string) string {
	for _, k := range known {
		if category == k {
			return category
		}
	}
	return datatypes.CategoryUnknown
}

func referencedFiles(text string) []string {
	matches := referencedFilePattern.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	var files []string
	for _, m := range matches {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		files = append(files, m)
	}
	return files
}

func formatDocuments(docs []datatypes.Document) string {
	if len(docs) == 0 {
		return "No documents found"
	}
	var b strings.Builder
	for i, doc := range docs {
		fmt.Fprintf(&b, "[%d] (score %.3f) %s\n", i+1, doc.Score, clip(doc.Text, contextSnippetLimit))
	}
	return strings.TrimRight(b.String(), "\n")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsString(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
