// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
)

func docWith(id, text string, score float64) datatypes.Document {
	return datatypes.Document{ID: id, Text: text, Score: score}
}

func completeCodeAnswer() datatypes.Answer {
	return datatypes.Answer{
		ErrorCategory:            "CODE_ERROR",
		ClassificationConfidence: 0.95,
		RootCause:                "The nil pointer dereference in worker/pool.go happens because the queue drains before workers register",
		FixRecommendation:        "Initialize the queue before starting workers and verify the fix by running the worker pool tests",
	}
}

func TestScore_HighWhenFullySupported(t *testing.T) {
	answer := completeCodeAnswer()
	supporting := answer.RootCause + " " + answer.FixRecommendation
	docs := []datatypes.Document{
		docWith("d1", supporting, 0.95),
		docWith("d2", supporting, 0.90),
	}

	components, overall := Score(answer, docs)

	assert.InDelta(t, 0.925, components.Relevance, 1e-9)
	assert.InDelta(t, 1.0, components.Consistency, 1e-9)
	assert.InDelta(t, 1.0, components.Grounding, 1e-9)
	assert.InDelta(t, 1.0, components.Completeness, 1e-9)
	assert.InDelta(t, 0.95, components.Classification, 1e-9)
	assert.GreaterOrEqual(t, overall, ThresholdHigh)
}

func TestScoreWeighted_OverallIsExactWeightedSum(t *testing.T) {
	answer := completeCodeAnswer()
	docs := []datatypes.Document{docWith("d1", "apples oranges bananas grapes", 0.123456789)}
	weights := DefaultWeights()

	components, overall := ScoreWeighted(answer, docs, weights)

	expected := weights[0]*components.Relevance +
		weights[1]*components.Consistency +
		weights[2]*components.Grounding +
		weights[3]*components.Completeness +
		weights[4]*components.Classification
	assert.InDelta(t, expected, overall, 1e-12)
	// Full precision survives; nothing rounds the sum for banding.
	assert.NotEqual(t, math.Round(overall*1000)/1000, overall)
}

func TestScoreWeighted_CustomWeights(t *testing.T) {
	weights := []float64{0, 0, 0, 0, 1}
	answer := completeCodeAnswer()

	_, overall := ScoreWeighted(answer, nil, weights)

	// All weight on classification: the overall is the classifier's own
	// confidence.
	assert.InDelta(t, 0.95, overall, 1e-9)
}

func TestLevelAt_CustomThresholds(t *testing.T) {
	thresholds := []float64{0.60, 0.40, 0.20}

	assert.Equal(t, datatypes.LevelHigh, LevelAt(0.61, thresholds))
	assert.Equal(t, datatypes.LevelMedium, LevelAt(0.45, thresholds))
	assert.Equal(t, datatypes.LevelLow, LevelAt(0.25, thresholds))
	assert.Equal(t, datatypes.LevelVeryLow, LevelAt(0.10, thresholds))
}

func TestScoreRelevance_NoDocsIsZero(t *testing.T) {
	components, overall := Score(completeCodeAnswer(), nil)
	assert.Zero(t, components.Relevance)
	assert.Zero(t, components.Grounding)
	assert.Less(t, overall, ThresholdMedium)
}

func TestScoreRelevance_ClampsAboveOne(t *testing.T) {
	docs := []datatypes.Document{docWith("d1", "anything at all here", 1.8)}
	components, _ := Score(completeCodeAnswer(), docs)
	assert.InDelta(t, 1.0, components.Relevance, 1e-9)
}

func TestScoreConsistency_SingleDocTriviallyConsistent(t *testing.T) {
	docs := []datatypes.Document{docWith("d1", "connection refused while dialing upstream", 0.8)}
	components, _ := Score(completeCodeAnswer(), docs)
	assert.InDelta(t, 1.0, components.Consistency, 1e-9)
}

func TestScoreConsistency_DisjointDocsScoreZero(t *testing.T) {
	docs := []datatypes.Document{
		docWith("d1", "kubernetes deployment rollout stalled", 0.8),
		docWith("d2", "postgres checkpoint interval tuning", 0.8),
	}
	components, _ := Score(completeCodeAnswer(), docs)
	assert.InDelta(t, 0.0, components.Consistency, 1e-9)
}

func TestScoreConsistency_NeutralWhenDocsHaveNoTerms(t *testing.T) {
	docs := []datatypes.Document{
		docWith("d1", "a b c", 0.8),
		docWith("d2", "d e f", 0.8),
	}
	components, _ := Score(completeCodeAnswer(), docs)
	assert.InDelta(t, 0.5, components.Consistency, 1e-9)
}

func TestScoreGrounding_UnsupportedAnswerScoresZero(t *testing.T) {
	answer := datatypes.Answer{
		ErrorCategory:     "INFRA_ERROR",
		RootCause:         "Zookeeper ensemble quorum collapsed during leader election storms",
		FixRecommendation: "Restart the ensemble nodes sequentially and confirm quorum membership afterwards",
	}
	docs := []datatypes.Document{
		docWith("d1", "apples oranges bananas grapes melons", 0.9),
		docWith("d2", "apples oranges bananas grapes melons", 0.9),
	}
	components, _ := Score(answer, docs)
	assert.InDelta(t, 0.0, components.Grounding, 1e-9)
}

func TestScoreGrounding_NeutralWhenOnlyShortSentences(t *testing.T) {
	answer := datatypes.Answer{
		ErrorCategory:     datatypes.CategoryUnknown,
		RootCause:         "Bad input. Oops.",
		FixRecommendation: "Fix it.",
	}
	docs := []datatypes.Document{docWith("d1", "some corpus text goes here", 0.9)}
	components, _ := Score(answer, docs)
	assert.InDelta(t, 0.5, components.Grounding, 1e-9)
}

func TestScoreCompleteness_MissingCodeLocation(t *testing.T) {
	answer := completeCodeAnswer()
	answer.RootCause = "The nil pointer dereference happens because the queue drains before workers register"

	components, _ := Score(answer, nil)
	// Three of four required components present.
	assert.InDelta(t, 0.75, components.Completeness, 1e-9)
}

func TestScoreCompleteness_ConfigCategoryNeedsConfigLocation(t *testing.T) {
	answer := datatypes.Answer{
		ErrorCategory:     "CONFIG_ERROR",
		RootCause:         "The service reads DATABASE_URL from settings.yaml which points at a decommissioned host",
		FixRecommendation: "Update settings.yaml with the new host and verify connectivity with the migration check",
	}
	components, _ := Score(answer, nil)
	assert.InDelta(t, 1.0, components.Completeness, 1e-9)
}

func TestScoreCompleteness_UnknownCategoryOnlyNeedsBasics(t *testing.T) {
	answer := datatypes.Answer{
		ErrorCategory:     datatypes.CategoryUnknown,
		RootCause:         "Something in the build cache invalidates intermittently under load",
		FixRecommendation: "Clear the cache and rerun the pipeline to see whether it reproduces",
	}
	components, _ := Score(answer, nil)
	assert.InDelta(t, 1.0, components.Completeness, 1e-9)
}

func TestScoreClassification_DefaultsToNeutral(t *testing.T) {
	answer := completeCodeAnswer()
	answer.ClassificationConfidence = 0

	components, _ := Score(answer, nil)
	assert.InDelta(t, 0.5, components.Classification, 1e-9)
}

func TestLevel_Bands(t *testing.T) {
	cases := []struct {
		confidence float64
		want       datatypes.ConfidenceLevel
	}{
		{0.95, datatypes.LevelHigh},
		{0.85, datatypes.LevelHigh},
		{0.84, datatypes.LevelMedium},
		{0.65, datatypes.LevelMedium},
		{0.64, datatypes.LevelLow},
		{0.40, datatypes.LevelLow},
		{0.39, datatypes.LevelVeryLow},
		{0.0, datatypes.LevelVeryLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Level(tc.confidence), "confidence %.2f", tc.confidence)
	}
}

func TestWeights_SumToOne(t *testing.T) {
	var sum float64
	for _, w := range DefaultWeights() {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
