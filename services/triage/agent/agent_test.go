// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/prompts"
	"github.com/AleutianAI/AleutianTriage/services/triage/retrieval"
	"github.com/AleutianAI/AleutianTriage/services/triage/tools"
)

// fakeLLM routes responses by prompt kind. Reasoning responses are
// popped from a queue so tests can script the loop.
type fakeLLM struct {
	classify     string
	classifyErr  error
	reasonQueue  []string
	observation  string
	answer       string
	answerErr    error
	reasonCalls  int
	observeCalls int
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	switch {
	case strings.Contains(prompt, "You are classifying a test failure"):
		return f.classify, f.classifyErr
	case strings.Contains(prompt, "**Observation Analysis**"):
		f.observeCalls++
		if f.observation == "" {
			return "", errors.New("observation unavailable")
		}
		return f.observation, nil
	case strings.Contains(prompt, "**Generate Final Answer**"):
		return f.answer, f.answerErr
	default: // reasoning
		f.reasonCalls++
		if len(f.reasonQueue) == 0 {
			return "", errors.New("reasoning exhausted")
		}
		next := f.reasonQueue[0]
		f.reasonQueue = f.reasonQueue[1:]
		return next, nil
	}
}

type fakeRetriever struct {
	docs  []datatypes.Document
	calls int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, _ retrieval.Filters, _ bool) []datatypes.Document {
	f.calls++
	return f.docs
}

type fakeVerifier struct {
	answer datatypes.Answer
	docs   []datatypes.Document
	status datatypes.VerificationStatus
}

func (f *fakeVerifier) Verify(_ context.Context, answer datatypes.Answer, docs []datatypes.Document, _ datatypes.FailureRecord) *datatypes.VerificationResult {
	f.answer = answer
	f.docs = docs
	status := f.status
	if status == "" {
		status = datatypes.StatusPass
	}
	return &datatypes.VerificationResult{
		Status:     status,
		Confidence: answer.Confidence,
		Answer:     answer,
	}
}

type fakeCategorySource struct{ categories []string }

func (f *fakeCategorySource) DiscoverCategories(context.Context) ([]string, error) {
	return f.categories, nil
}

type staticTool struct {
	name   string
	output string
	err    error
}

func (t *staticTool) Name() string { return t.name }

func (t *staticTool) Run(context.Context, tools.Request) (string, error) {
	return t.output, t.err
}

type countingTool struct {
	name  string
	calls int
}

func (t *countingTool) Name() string { return t.name }

func (t *countingTool) Run(context.Context, tools.Request) (string, error) {
	t.calls++
	return "log lines", nil
}

func reasonStep(confidence float64, needsMore bool, next string) string {
	return fmt.Sprintf(`{"thought":"looking at %s","confidence":%.2f,"needs_more_info":%t,"next_action":%q,"reasoning":"because"}`,
		next, confidence, needsMore, next)
}

func newTestAgent(t *testing.T, client llm.Client, retriever Retriever, verifier Verifier, impls []tools.Tool) (*Agent, *tools.Registry) {
	t.Helper()
	source := &fakeCategorySource{categories: []string{
		"CODE_ERROR", "INFRA_ERROR", "CONFIG_ERROR", "DEPENDENCY_ERROR", "TEST_ERROR",
	}}
	registry := tools.NewRegistry(source, 0, nil)
	executor := tools.NewExecutor(registry, impls, tools.RetryPolicy{}, nil)
	store := prompts.NewStore(nil, 0, nil)

	a, err := New(client, store, registry, executor, retriever, verifier, Config{}, nil)
	require.NoError(t, err)
	return a, registry
}

func analysisFailure() datatypes.FailureRecord {
	return datatypes.FailureRecord{
		ID:           "build-7",
		ErrorMessage: "AssertionError: expected 200, got 401 in auth/middleware.go",
	}
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, nil, Config{}, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestAnalyze_RequiresErrorMessage(t *testing.T) {
	a, _ := newTestAgent(t, &fakeLLM{}, nil, &fakeVerifier{}, nil)
	_, err := a.Analyze(context.Background(), datatypes.FailureRecord{ID: "x"})
	assert.Error(t, err)
}

func TestAnalyze_SingleIterationHappyPath(t *testing.T) {
	client := &fakeLLM{
		classify: `{"category":"CODE_ERROR","confidence":0.92,"reasoning":"assertion in code"}`,
		reasonQueue: []string{
			reasonStep(0.40, true, tools.ToolKnowledgeSearch),
			reasonStep(0.82, false, actionDone),
		},
		observation: `{"observation":"found prior fixes","confidence_change":0.2,"key_findings":["auth header missing"],"ready_to_answer":true}`,
		answer:      `{"root_cause":"Auth middleware rejects requests without bearer tokens","fix_recommendation":"Attach the token in the test client and verify with the auth suite","confidence":0.82,"evidence":["doc-1"]}`,
	}
	retriever := &fakeRetriever{docs: []datatypes.Document{
		{ID: "doc-1", Text: "token missing from request", Score: 0.91},
	}}
	verifier := &fakeVerifier{}

	a, _ := newTestAgent(t, client, retriever, verifier, nil)
	report, err := a.Analyze(context.Background(), analysisFailure())
	require.NoError(t, err)

	assert.Equal(t, datatypes.StatusPass, report.Result.Status)
	assert.Equal(t, "CODE_ERROR", verifier.answer.ErrorCategory)
	assert.InDelta(t, 0.92, verifier.answer.ClassificationConfidence, 1e-9)
	assert.InDelta(t, 0.82, verifier.answer.Confidence, 1e-9)
	assert.Equal(t, []string{tools.ToolKnowledgeSearch}, verifier.answer.ToolsUsed)
	require.Len(t, verifier.docs, 1)
	assert.Equal(t, "doc-1", verifier.docs[0].ID)
	require.Len(t, verifier.answer.SimilarCases, 1)
	assert.Equal(t, "doc-1", verifier.answer.SimilarCases[0].ID)
	assert.Equal(t, 1, retriever.calls)
	assert.Len(t, report.Reasoning, 2)
	require.Len(t, report.Actions, 1)
	assert.True(t, report.Actions[0].Success)
}

func TestAnalyze_ClassificationFallsBackToKeywords(t *testing.T) {
	client := &fakeLLM{
		classifyErr: errors.New("model offline"),
		classify:    "ignored",
		reasonQueue: []string{reasonStep(0.50, false, actionDone)},
		answer:      `{"root_cause":"x","fix_recommendation":"y","confidence":0.5}`,
	}
	verifier := &fakeVerifier{}
	a, _ := newTestAgent(t, client, &fakeRetriever{}, verifier, nil)

	_, err := a.Analyze(context.Background(), analysisFailure())
	require.NoError(t, err)

	assert.Equal(t, "TEST_ERROR", verifier.answer.ErrorCategory)
	assert.InDelta(t, 0.5, verifier.answer.ClassificationConfidence, 1e-9)
}

func TestAnalyze_UnknownCategoryFromModelIsSanitized(t *testing.T) {
	client := &fakeLLM{
		classify:    `{"category":"MADE_UP_ERROR","confidence":0.99}`,
		reasonQueue: []string{reasonStep(0.50, false, actionDone)},
		answer:      `{"root_cause":"x","fix_recommendation":"y","confidence":0.5}`,
	}
	verifier := &fakeVerifier{}
	a, _ := newTestAgent(t, client, &fakeRetriever{}, verifier, nil)

	_, err := a.Analyze(context.Background(), analysisFailure())
	require.NoError(t, err)
	assert.Equal(t, datatypes.CategoryUnknown, verifier.answer.ErrorCategory)
}

func TestAnalyze_ConfidenceTargetStopsLoop(t *testing.T) {
	client := &fakeLLM{
		classify:    `{"category":"CODE_ERROR","confidence":0.9}`,
		reasonQueue: []string{reasonStep(0.90, true, tools.ToolKnowledgeSearch)},
		answer:      `{"root_cause":"x","fix_recommendation":"y","confidence":0.9}`,
	}
	retriever := &fakeRetriever{}
	a, _ := newTestAgent(t, client, retriever, &fakeVerifier{}, nil)

	report, err := a.Analyze(context.Background(), analysisFailure())
	require.NoError(t, err)

	// High confidence on the first reasoning pass: no tool ever runs.
	assert.Zero(t, retriever.calls)
	assert.Empty(t, report.Actions)
	assert.Len(t, report.Reasoning, 1)
}

func TestAnalyze_BudgetExhaustionStillAnswers(t *testing.T) {
	keepGoing := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		keepGoing = append(keepGoing, reasonStep(0.40, true, ""))
	}
	client := &fakeLLM{
		classify:    `{"category":"TEST_ERROR","confidence":0.8}`,
		reasonQueue: keepGoing,
		answer:      `{"root_cause":"flaky auth fixture","fix_recommendation":"pin the fixture and verify","confidence":0.55}`,
	}
	impls := []tools.Tool{
		&staticTool{name: tools.ToolMongoLogs, output: "log lines"},
		&staticTool{name: tools.ToolPostgresHistory, output: "past analyses"},
		&staticTool{name: tools.ToolMongoQueryFailures, output: "failures"},
		&staticTool{name: tools.ToolPostgresSimilar, output: "similar"},
	}
	verifier := &fakeVerifier{status: datatypes.StatusHITL}
	a, _ := newTestAgent(t, client, &fakeRetriever{}, verifier, impls)

	report, err := a.Analyze(context.Background(), analysisFailure())
	require.NoError(t, err)

	assert.Equal(t, 5, verifier.answer.Iterations)
	assert.LessOrEqual(t, len(report.Actions), 5)
	assert.NotEmpty(t, verifier.answer.RootCause)
	assert.Equal(t, datatypes.StatusHITL, report.Result.Status)
}

func TestAnalyze_ToolExhaustionEndsLoop(t *testing.T) {
	// Only the two retrieval tools are runnable; after both are used
	// the selector runs dry and the loop ends before the budget.
	steps := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		steps = append(steps, reasonStep(0.40, true, ""))
	}
	client := &fakeLLM{
		classify:    `{"category":"DEPENDENCY_ERROR","confidence":0.7}`,
		reasonQueue: steps,
		answer:      `{"root_cause":"x","fix_recommendation":"y","confidence":0.4}`,
	}
	a, _ := newTestAgent(t, client, &fakeRetriever{}, &fakeVerifier{}, nil)

	report, err := a.Analyze(context.Background(), analysisFailure())
	require.NoError(t, err)

	used := make(map[string]bool)
	for _, action := range report.Actions {
		assert.False(t, used[action.Tool], "tool %s ran twice", action.Tool)
		used[action.Tool] = true
	}
	assert.Less(t, report.Result.Answer.Iterations, 5)
}

func TestAnalyze_RunsDoNotShareToolCache(t *testing.T) {
	client := &fakeLLM{
		classify: `{"category":"TEST_ERROR","confidence":0.8}`,
		reasonQueue: []string{
			reasonStep(0.40, true, tools.ToolMongoLogs),
			reasonStep(0.90, false, actionDone),
			reasonStep(0.40, true, tools.ToolMongoLogs),
			reasonStep(0.90, false, actionDone),
		},
		observation: `{"observation":"logs reviewed","confidence_change":0.1,"key_findings":[],"ready_to_answer":false}`,
		answer:      `{"root_cause":"x","fix_recommendation":"y","confidence":0.9}`,
	}
	tool := &countingTool{name: tools.ToolMongoLogs}
	a, _ := newTestAgent(t, client, &fakeRetriever{}, &fakeVerifier{}, []tools.Tool{tool})

	// Identical failures in successive runs must each hit the tool:
	// the result cache and retry budgets are scoped to a single run.
	for i := 0; i < 2; i++ {
		report, err := a.Analyze(context.Background(), analysisFailure())
		require.NoError(t, err)
		require.Len(t, report.Actions, 1)
		assert.False(t, report.Actions[0].Cached)
	}
	assert.Equal(t, 2, tool.calls)
}

func TestAnalyze_AnswerFailureDegrades(t *testing.T) {
	client := &fakeLLM{
		classify:    `{"category":"CODE_ERROR","confidence":0.9}`,
		reasonQueue: []string{reasonStep(0.50, false, actionDone)},
		answerErr:   errors.New("model offline"),
	}
	verifier := &fakeVerifier{}
	a, _ := newTestAgent(t, client, &fakeRetriever{}, verifier, nil)

	_, err := a.Analyze(context.Background(), analysisFailure())
	require.NoError(t, err)

	assert.InDelta(t, 0.3, verifier.answer.Confidence, 1e-9)
	assert.Contains(t, verifier.answer.RootCause, "Unable to generate")
}

func TestAnalyze_ObservationFailureDegradesToSummary(t *testing.T) {
	client := &fakeLLM{
		classify: `{"category":"CODE_ERROR","confidence":0.9}`,
		reasonQueue: []string{
			reasonStep(0.40, true, tools.ToolKnowledgeSearch),
			reasonStep(0.50, false, actionDone),
		},
		answer: `{"root_cause":"x","fix_recommendation":"y","confidence":0.5}`,
	}
	retriever := &fakeRetriever{docs: []datatypes.Document{{ID: "d", Text: "t", Score: 0.8}}}
	a, _ := newTestAgent(t, client, retriever, &fakeVerifier{}, nil)

	_, err := a.Analyze(context.Background(), analysisFailure())
	require.NoError(t, err)
	assert.Equal(t, 1, client.observeCalls)
}

func TestFallbackClassification(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"panic: runtime error: invalid memory address", "CODE_ERROR"},
		{"OutOfMemoryError: Java heap space", "INFRA_ERROR"},
		{"permission denied reading /etc/app", "CONFIG_ERROR"},
		{"ModuleNotFoundError: no module named requests", "DEPENDENCY_ERROR"},
		{"assertion failed: want 3 got 4", "TEST_ERROR"},
		{"something entirely baffling", datatypes.CategoryUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, fallbackClassification(tc.message), tc.message)
	}
}

func TestReferencedFiles(t *testing.T) {
	files := referencedFiles("failure in pkg/auth/middleware.go and pkg/auth/token.go, see middleware.go")
	assert.Equal(t, []string{"pkg/auth/middleware.go", "pkg/auth/token.go", "middleware.go"}, files)
}

func TestStateAddDocuments_KeepsBestScore(t *testing.T) {
	s := newState(analysisFailure())
	s.addDocuments([]datatypes.Document{{ID: "a", Score: 0.5}})
	s.addDocuments([]datatypes.Document{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.2}})

	require.Len(t, s.Documents, 2)
	assert.InDelta(t, 0.9, s.Documents[0].Score, 1e-9)
}
