// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared value types flowing through the
// triage pipeline: failure records in, retrieved documents through the
// middle, verification results out.
//
// Everything here is plain data. Behavior lives in the packages that
// produce or consume these types.
package datatypes

import "time"

// =============================================================================
// Input
// =============================================================================

// FailureRecord is one failing CI test to analyze. Immutable for the
// duration of a run.
type FailureRecord struct {
	// ID is the stable failure identifier, typically the build id.
	ID string `json:"failure_id"`

	ErrorMessage string `json:"error_message"`
	StackTrace   string `json:"stack_trace,omitempty"`
	LogContext   string `json:"log_context,omitempty"`
	TestName     string `json:"test_name,omitempty"`
	JobName      string `json:"job_name,omitempty"`
	Project      string `json:"project,omitempty"`
}

// =============================================================================
// Categories
// =============================================================================

// CategoryUnknown is the reserved sentinel used whenever classification
// fails or yields a value outside the discovered category set.
const CategoryUnknown = "UNKNOWN"

// =============================================================================
// Retrieval
// =============================================================================

// Retrieval source labels. Every document surfaced to the answer
// synthesizer names at least one of these.
const (
	SourceDense      = "dense"
	SourceSparse     = "sparse"
	SourceMongo      = "mongodb"
	SourceRelational = "postgres"
)

// SearchResult is a single hit from one retrieval source before fusion.
type SearchResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Document is a fused retrieval result carrying provenance from every
// source that ranked it.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Sources lists every source label that contributed a ranking.
	Sources []string `json:"sources"`
	// SourceRanks maps source label to this document's 1-based rank
	// in that source's list.
	SourceRanks map[string]int `json:"source_ranks,omitempty"`

	// Score is the best raw similarity seen across sources, in [0,1]
	// where the source provides one.
	Score float64 `json:"score"`
	// RRFScore is the reciprocal-rank-fusion score.
	RRFScore float64 `json:"rrf_score"`
	// RerankScore is set when the cross-encoder scored this document.
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// SimilarCase is a prior analyzed failure attached to an answer.
type SimilarCase struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
	Resolution string  `json:"resolution,omitempty"`
}

// =============================================================================
// Answer
// =============================================================================

// Answer is the synthesized analysis for one failure.
type Answer struct {
	ErrorCategory            string        `json:"error_category"`
	ClassificationConfidence float64       `json:"classification_confidence"`
	RootCause                string        `json:"root_cause"`
	FixRecommendation        string        `json:"fix_recommendation"`
	Confidence               float64       `json:"confidence"`
	SimilarCases             []SimilarCase `json:"similar_cases,omitempty"`

	// Iterations and ToolsUsed describe the reasoning run that
	// produced the answer.
	Iterations int      `json:"iterations"`
	ToolsUsed  []string `json:"tools_used,omitempty"`
}

// =============================================================================
// Verification
// =============================================================================

// VerificationStatus routes an answer after scoring.
type VerificationStatus string

const (
	StatusPass      VerificationStatus = "PASS"
	StatusHITL      VerificationStatus = "HITL"
	StatusCorrected VerificationStatus = "CORRECTED"
	StatusWebSearch VerificationStatus = "WEB_SEARCH"
)

// ConfidenceLevel is the band the overall confidence falls in.
type ConfidenceLevel string

const (
	LevelHigh    ConfidenceLevel = "HIGH"
	LevelMedium  ConfidenceLevel = "MEDIUM"
	LevelLow     ConfidenceLevel = "LOW"
	LevelVeryLow ConfidenceLevel = "VERY_LOW"
)

// ComponentScores are the five independent verification dimensions.
type ComponentScores struct {
	Relevance      float64 `json:"relevance"`
	Consistency    float64 `json:"consistency"`
	Grounding      float64 `json:"grounding"`
	Completeness   float64 `json:"completeness"`
	Classification float64 `json:"classification"`
}

// WebSource is an external search hit attached to web-enhanced results.
type WebSource struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// VerificationMetadata carries auditability fields alongside the result.
type VerificationMetadata struct {
	ComponentScores ComponentScores `json:"component_scores"`
	Weights         []float64       `json:"weights"`
	Timestamp       time.Time       `json:"timestamp"`

	// Priority is set for items routed to human review.
	Priority string `json:"priority,omitempty"`
	// Reason explains escalations, e.g. web_search_failed.
	Reason string `json:"reason,omitempty"`
	// ImprovementDelta is set when self-correction or web fallback
	// raised the confidence.
	ImprovementDelta *float64 `json:"improvement_delta,omitempty"`
	// CorrectionAttempts counts self-correction rounds used.
	CorrectionAttempts int `json:"correction_attempts,omitempty"`
	// WebSources lists external results backing a web-enhanced answer.
	WebSources []WebSource `json:"web_sources,omitempty"`
}

// VerificationResult is the final pipeline output for one failure.
type VerificationResult struct {
	Status          VerificationStatus   `json:"status"`
	Confidence      float64              `json:"confidence"`
	ConfidenceLevel ConfidenceLevel      `json:"confidence_level"`
	Answer          Answer               `json:"answer"`
	Metadata        VerificationMetadata `json:"verification_metadata"`
}
