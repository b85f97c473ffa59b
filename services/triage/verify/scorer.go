// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package verify scores synthesized answers across five independent
// dimensions and routes them by confidence band: accept, queue for
// human review, attempt self-correction, or fall back to web search.
package verify

import (
	"math"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
)

// Default dimension weights. They sum to 1.0; the overall confidence
// is the weighted sum.
const (
	WeightRelevance      = 0.25
	WeightConsistency    = 0.20
	WeightGrounding      = 0.25
	WeightCompleteness   = 0.15
	WeightClassification = 0.15
)

// Default confidence band thresholds.
const (
	ThresholdHigh   = 0.85
	ThresholdMedium = 0.65
	ThresholdLow    = 0.40
)

// DefaultWeights returns the dimension weights in component order:
// relevance, consistency, grounding, completeness, classification.
func DefaultWeights() []float64 {
	return []float64{
		WeightRelevance,
		WeightConsistency,
		WeightGrounding,
		WeightCompleteness,
		WeightClassification,
	}
}

// DefaultThresholds returns the band thresholds in order: high,
// medium, low.
func DefaultThresholds() []float64 {
	return []float64{ThresholdHigh, ThresholdMedium, ThresholdLow}
}

// contentTermPattern selects the substantive words used by the
// consistency and grounding checks. Short function words drop out.
var contentTermPattern = regexp.MustCompile(`\b\w{4,}\b`)

// Answer component detectors for the completeness dimension.
var (
	codeLocationPattern   = regexp.MustCompile(`[\w/\\.-]+\.(?:go|py|java|js|ts|rb|c|cpp)\b`)
	configLocationPattern = regexp.MustCompile(`\.env|\.yaml|\.yml|\.json|\.toml|\.config|\.properties`)
)

// verificationKeywords mark a fix recommendation that tells the reader
// how to confirm the fix worked.
var verificationKeywords = []string{"test", "verify", "check", "confirm", "validate"}

// requiredComponents maps a category to the answer components a
// complete analysis of that category must contain.
var requiredComponents = map[string][]string{
	"CODE_ERROR":       {"root_cause", "fix_steps", "code_location", "verification"},
	"INFRA_ERROR":      {"root_cause", "fix_steps", "verification"},
	"CONFIG_ERROR":     {"root_cause", "fix_steps", "config_location", "verification"},
	"DEPENDENCY_ERROR": {"root_cause", "fix_steps", "verification"},
	"TEST_ERROR":       {"root_cause", "fix_steps", "verification"},
	datatypes.CategoryUnknown: {"root_cause", "fix_steps"},
}

// Score computes the five component scores and the overall confidence
// using the default weights.
func Score(answer datatypes.Answer, docs []datatypes.Document) (datatypes.ComponentScores, float64) {
	return ScoreWeighted(answer, docs, DefaultWeights())
}

// ScoreWeighted computes the five component scores and their weighted
// sum. Weights are in component order: relevance, consistency,
// grounding, completeness, classification. The overall confidence is
// the exact weighted sum, never rounded.
//
// Each dimension degrades to a neutral or zero value on missing input
// rather than erroring; an answer with no supporting documents simply
// scores low.
func ScoreWeighted(answer datatypes.Answer, docs []datatypes.Document, weights []float64) (datatypes.ComponentScores, float64) {
	if len(weights) != 5 {
		weights = DefaultWeights()
	}
	components := datatypes.ComponentScores{
		Relevance:      scoreRelevance(docs),
		Consistency:    scoreConsistency(docs),
		Grounding:      scoreGrounding(answer, docs),
		Completeness:   scoreCompleteness(answer),
		Classification: scoreClassification(answer),
	}
	overall := weights[0]*components.Relevance +
		weights[1]*components.Consistency +
		weights[2]*components.Grounding +
		weights[3]*components.Completeness +
		weights[4]*components.Classification
	return components, overall
}

// Level maps an overall confidence to its band using the default
// thresholds.
func Level(confidence float64) datatypes.ConfidenceLevel {
	return LevelAt(confidence, DefaultThresholds())
}

// LevelAt maps an overall confidence to its band. Thresholds are in
// order: high, medium, low.
func LevelAt(confidence float64, thresholds []float64) datatypes.ConfidenceLevel {
	if len(thresholds) != 3 {
		thresholds = DefaultThresholds()
	}
	switch {
	case confidence >= thresholds[0]:
		return datatypes.LevelHigh
	case confidence >= thresholds[1]:
		return datatypes.LevelMedium
	case confidence >= thresholds[2]:
		return datatypes.LevelLow
	default:
		return datatypes.LevelVeryLow
	}
}

// scoreRelevance is the mean retrieval similarity of the supporting
// documents, clamped to [0,1]. No documents means no relevance.
func scoreRelevance(docs []datatypes.Document) float64 {
	if len(docs) == 0 {
		return 0
	}
	var sum float64
	for _, doc := range docs {
		sum += doc.Score
	}
	mean := sum / float64(len(docs))
	return math.Min(1, math.Max(0, mean))
}

// scoreConsistency measures pairwise agreement between documents as
// the mean Jaccard overlap of their content-term sets. A single
// document is trivially consistent; documents without content terms
// score neutral.
func scoreConsistency(docs []datatypes.Document) float64 {
	if len(docs) < 2 {
		return 1.0
	}

	termSets := make([]map[string]struct{}, 0, len(docs))
	for _, doc := range docs {
		terms := contentTerms(doc.Text)
		if len(terms) > 0 {
			termSets = append(termSets, terms)
		}
	}
	if len(termSets) < 2 {
		return 0.5
	}

	var sum float64
	var pairs int
	for i := 0; i < len(termSets); i++ {
		for j := i + 1; j < len(termSets); j++ {
			sum += jaccard(termSets[i], termSets[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 0.5
	}
	return sum / float64(pairs)
}

// scoreGrounding is the fraction of substantive answer sentences whose
// terms are mostly present in the supporting document text. An answer
// that names things the documents never mention scores low.
func scoreGrounding(answer datatypes.Answer, docs []datatypes.Document) float64 {
	text := strings.TrimSpace(answer.RootCause + " " + answer.FixRecommendation)
	if len(docs) == 0 || text == "" {
		return 0
	}

	var corpus strings.Builder
	for _, doc := range docs {
		corpus.WriteString(strings.ToLower(doc.Text))
		corpus.WriteString(" ")
	}
	docText := corpus.String()

	var checked, grounded int
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) <= 20 {
			continue
		}
		checked++
		terms := contentTerms(sentence)
		if len(terms) == 0 {
			continue
		}
		var found int
		for term := range terms {
			if strings.Contains(docText, term) {
				found++
			}
		}
		if float64(found) > float64(len(terms))*0.5 {
			grounded++
		}
	}
	if checked == 0 {
		return 0.5
	}
	return float64(grounded) / float64(checked)
}

// scoreCompleteness checks the answer for the components its category
// requires and returns the fraction present.
func scoreCompleteness(answer datatypes.Answer) float64 {
	required, ok := requiredComponents[answer.ErrorCategory]
	if !ok {
		required = requiredComponents[datatypes.CategoryUnknown]
	}
	if len(required) == 0 {
		return 1.0
	}

	var present int
	for _, component := range required {
		if hasComponent(answer, component) {
			present++
		}
	}
	return float64(present) / float64(len(required))
}

func hasComponent(answer datatypes.Answer, component string) bool {
	switch component {
	case "root_cause":
		return len(strings.TrimSpace(answer.RootCause)) > 20
	case "fix_steps":
		return len(strings.TrimSpace(answer.FixRecommendation)) > 30
	case "code_location":
		return codeLocationPattern.MatchString(answer.RootCause)
	case "config_location":
		return configLocationPattern.MatchString(answer.RootCause)
	case "verification":
		fix := strings.ToLower(answer.FixRecommendation)
		for _, kw := range verificationKeywords {
			if strings.Contains(fix, kw) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// scoreClassification passes through the classifier's own confidence,
// defaulting to neutral when the classifier reported nothing.
func scoreClassification(answer datatypes.Answer) float64 {
	if answer.ClassificationConfidence <= 0 {
		return 0.5
	}
	return math.Min(1, answer.ClassificationConfidence)
}

func contentTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, term := range contentTermPattern.FindAllString(strings.ToLower(text), -1) {
		terms[term] = struct{}{}
	}
	return terms
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var intersection int
	for term := range a {
		if _, ok := b[term]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
