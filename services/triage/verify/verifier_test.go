// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/stores/postgres"
	"github.com/AleutianAI/AleutianTriage/services/triage/web"
)

type fakeQueue struct {
	requests []postgres.EnqueueRequest
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, req postgres.EnqueueRequest) (*postgres.HITLItem, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.requests = append(q.requests, req)
	return &postgres.HITLItem{FailureID: req.FailureID, Priority: req.Priority}, nil
}

type fakeSearcher struct {
	results []web.Result
	err     error
}

func (s *fakeSearcher) Provider() string { return "fake" }

func (s *fakeSearcher) Search(context.Context, string) ([]web.Result, error) {
	return s.results, s.err
}

type fakeFetcher struct {
	score float64
	per   int
	err   error
	calls int
}

func (f *fakeFetcher) Search(_ context.Context, namespace, _ string, k int, _ map[string]string) ([]datatypes.SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := f.per
	if n == 0 || n > k {
		n = k
	}
	results := make([]datatypes.SearchResult, n)
	for i := range results {
		results[i] = datatypes.SearchResult{
			ID:    namespace + "-" + string(rune('a'+i)),
			Text:  "retry the deployment after clearing the cache",
			Score: f.score,
		}
	}
	return results, nil
}

func testFailure() datatypes.FailureRecord {
	return datatypes.FailureRecord{
		ID:           "build-42",
		ErrorMessage: "NullPointerException thrown in connection pool setup",
	}
}

// unrelatedDocs score perfectly on retrieval similarity but share no
// vocabulary with any answer used in these tests.
func unrelatedDocs() []datatypes.Document {
	text := "apples oranges bananas grapes melons kiwis plums"
	return []datatypes.Document{
		docWith("d1", text, 1.0),
		docWith("d2", text, 1.0),
	}
}

// lowBandAnswer lands in the self-correction band when paired with
// unrelatedDocs: long ungrounded root cause, fix too thin to count.
func lowBandAnswer() datatypes.Answer {
	return datatypes.Answer{
		ErrorCategory:     datatypes.CategoryUnknown,
		RootCause:         "Zookeeper ensemble quorum collapsed during leader election storms",
		FixRecommendation: "Restart it now",
	}
}

func TestVerify_HighConfidencePasses(t *testing.T) {
	queue := &fakeQueue{}
	v := NewVerifier(queue, nil, nil, Config{}, nil)

	answer := completeCodeAnswer()
	supporting := answer.RootCause + " " + answer.FixRecommendation
	docs := []datatypes.Document{
		docWith("d1", supporting, 0.95),
		docWith("d2", supporting, 0.90),
	}

	result := v.Verify(context.Background(), answer, docs, testFailure())

	assert.Equal(t, datatypes.StatusPass, result.Status)
	assert.Equal(t, datatypes.LevelHigh, result.ConfidenceLevel)
	assert.Empty(t, queue.requests)
	assert.Len(t, result.Metadata.Weights, 5)
}

func TestVerify_MediumQueuesForReview(t *testing.T) {
	queue := &fakeQueue{}
	v := NewVerifier(queue, nil, nil, Config{}, nil)

	answer := completeCodeAnswer()
	answer.ClassificationConfidence = 0.9

	result := v.Verify(context.Background(), answer, unrelatedDocs(), testFailure())

	assert.Equal(t, datatypes.StatusHITL, result.Status)
	assert.Equal(t, datatypes.LevelMedium, result.ConfidenceLevel)
	require.Len(t, queue.requests, 1)
	assert.Equal(t, "build-42", queue.requests[0].FailureID)
	assert.Equal(t, postgres.HITLPriorityMedium, queue.requests[0].Priority)
	assert.Equal(t, postgres.HITLPriorityMedium, result.Metadata.Priority)
}

func TestVerify_ConfiguredWeightsAndThresholds(t *testing.T) {
	queue := &fakeQueue{}
	weights := []float64{0, 0, 0, 0, 1}
	thresholds := []float64{0.60, 0.40, 0.20}
	v := NewVerifier(queue, nil, nil, Config{Weights: weights, Thresholds: thresholds}, nil)

	answer := completeCodeAnswer()
	answer.ClassificationConfidence = 0.9

	// Under the default config this answer lands in the review band;
	// with all weight on classification and a lowered high bar it
	// passes outright.
	result := v.Verify(context.Background(), answer, unrelatedDocs(), testFailure())

	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	assert.Equal(t, datatypes.StatusPass, result.Status)
	assert.Equal(t, datatypes.LevelHigh, result.ConfidenceLevel)
	assert.Equal(t, weights, result.Metadata.Weights)
	assert.Empty(t, queue.requests)
}

func TestVerify_InfraCategoryEscalatesPriority(t *testing.T) {
	queue := &fakeQueue{}
	v := NewVerifier(queue, nil, nil, Config{}, nil)

	answer := datatypes.Answer{
		ErrorCategory:            "INFRA_ERROR",
		ClassificationConfidence: 0.9,
		RootCause:                "The ingress controller dropped all upstream connections after the rollout",
		FixRecommendation:        "Roll back the ingress deployment and verify upstream health before retrying",
	}

	result := v.Verify(context.Background(), answer, unrelatedDocs(), testFailure())

	assert.Equal(t, datatypes.StatusHITL, result.Status)
	require.Len(t, queue.requests, 1)
	assert.Equal(t, postgres.HITLPriorityHigh, queue.requests[0].Priority)
}

func TestVerify_LowConfidenceSelfCorrects(t *testing.T) {
	queue := &fakeQueue{}
	corrector := NewCorrector(&fakeFetcher{score: 0.9}, 0, nil)
	v := NewVerifier(queue, corrector, nil, Config{}, nil)

	result := v.Verify(context.Background(), lowBandAnswer(), unrelatedDocs(), testFailure())

	assert.Equal(t, datatypes.StatusCorrected, result.Status)
	assert.Greater(t, result.Confidence, ThresholdMedium)
	assert.Equal(t, result.Confidence, result.Answer.Confidence)
	require.NotNil(t, result.Metadata.ImprovementDelta)
	assert.Greater(t, *result.Metadata.ImprovementDelta, correctionMinDelta)
	assert.Empty(t, queue.requests)
}

func TestVerify_FailedCorrectionFallsBackToReview(t *testing.T) {
	queue := &fakeQueue{}
	corrector := NewCorrector(&fakeFetcher{err: errors.New("index down")}, 0, nil)
	v := NewVerifier(queue, corrector, nil, Config{}, nil)

	result := v.Verify(context.Background(), lowBandAnswer(), unrelatedDocs(), testFailure())

	assert.Equal(t, datatypes.StatusHITL, result.Status)
	assert.Equal(t, DefaultCorrectionAttempts, result.Metadata.CorrectionAttempts)
	require.Len(t, queue.requests, 1)
	// Below the borderline threshold, so escalated.
	assert.Equal(t, postgres.HITLPriorityHigh, queue.requests[0].Priority)
}

func TestVerify_NoCorrectorGoesStraightToReview(t *testing.T) {
	queue := &fakeQueue{}
	v := NewVerifier(queue, nil, nil, Config{}, nil)

	result := v.Verify(context.Background(), lowBandAnswer(), unrelatedDocs(), testFailure())

	assert.Equal(t, datatypes.StatusHITL, result.Status)
	require.Len(t, queue.requests, 1)
}

func TestVerify_VeryLowUsesWebSearch(t *testing.T) {
	queue := &fakeQueue{}
	longSnippet := strings.Repeat("the connection pool must be initialized before use ", 5)
	searcher := &fakeSearcher{results: []web.Result{
		{URL: "https://example.com/1", Title: "Pool init", Snippet: longSnippet},
		{URL: "https://example.com/2", Title: "Pool init", Snippet: longSnippet},
		{URL: "https://example.com/3", Title: "Pool init", Snippet: longSnippet},
		{URL: "https://example.com/4", Title: "Pool init", Snippet: longSnippet},
		{URL: "https://example.com/5", Title: "Pool init", Snippet: longSnippet},
	}}
	v := NewVerifier(queue, nil, searcher, Config{}, nil)

	result := v.Verify(context.Background(), lowBandAnswer(), nil, testFailure())

	assert.Equal(t, datatypes.StatusWebSearch, result.Status)
	assert.LessOrEqual(t, result.Confidence, webConfidenceCap)
	assert.Len(t, result.Metadata.WebSources, 5)
	require.NotNil(t, result.Metadata.ImprovementDelta)
	assert.Greater(t, *result.Metadata.ImprovementDelta, webMinImprovement)
	assert.Empty(t, queue.requests)
}

func TestVerify_WebNoResultsEscalates(t *testing.T) {
	queue := &fakeQueue{}
	v := NewVerifier(queue, nil, &fakeSearcher{}, Config{}, nil)

	result := v.Verify(context.Background(), lowBandAnswer(), nil, testFailure())

	assert.Equal(t, datatypes.StatusHITL, result.Status)
	assert.Equal(t, ReasonWebFailed, result.Metadata.Reason)
	require.Len(t, queue.requests, 1)
	assert.Equal(t, postgres.HITLPriorityHigh, queue.requests[0].Priority)
}

func TestVerify_WebErrorEscalates(t *testing.T) {
	queue := &fakeQueue{}
	searcher := &fakeSearcher{err: errors.New("rate limited")}
	v := NewVerifier(queue, nil, searcher, Config{}, nil)

	result := v.Verify(context.Background(), lowBandAnswer(), nil, testFailure())

	assert.Equal(t, datatypes.StatusHITL, result.Status)
	assert.Equal(t, ReasonWebError, result.Metadata.Reason)
}

func TestVerify_NoSearcherEscalates(t *testing.T) {
	queue := &fakeQueue{}
	v := NewVerifier(queue, nil, nil, Config{}, nil)

	result := v.Verify(context.Background(), lowBandAnswer(), nil, testFailure())

	assert.Equal(t, datatypes.StatusHITL, result.Status)
	assert.Equal(t, ReasonWebUnavailable, result.Metadata.Reason)
}

func TestVerify_NilQueueStillReturnsHITLResult(t *testing.T) {
	v := NewVerifier(nil, nil, nil, Config{}, nil)

	answer := completeCodeAnswer()
	answer.ClassificationConfidence = 0.9

	result := v.Verify(context.Background(), answer, unrelatedDocs(), testFailure())

	assert.Equal(t, datatypes.StatusHITL, result.Status)
	assert.NotEmpty(t, result.Metadata.Priority)
}

func TestEstimateWebConfidence_NoSnippetsLeavesConfidenceAlone(t *testing.T) {
	results := []web.Result{{URL: "https://example.com", Title: "Bare link"}}
	assert.InDelta(t, 0.3, estimateWebConfidence(0.3, results), 1e-9)
}

func TestEstimateWebConfidence_CapApplies(t *testing.T) {
	long := strings.Repeat("x", 250)
	results := []web.Result{
		{Snippet: long}, {Snippet: long}, {Snippet: long},
		{Snippet: long}, {Snippet: long},
	}
	assert.InDelta(t, webConfidenceCap, estimateWebConfidence(0.80, results), 1e-9)
}
