// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package verify

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/stores/postgres"
	"github.com/AleutianAI/AleutianTriage/services/triage/telemetry"
	"github.com/AleutianAI/AleutianTriage/services/triage/web"
)

var tracer = otel.Tracer("aleutian.triage.verify")

// Escalation reasons recorded when a fallback path could not rescue
// the answer.
const (
	ReasonWebUnavailable = "web_search_unavailable"
	ReasonWebError       = "web_search_error"
	ReasonWebFailed      = "web_search_failed"
)

// Config carries the scoring weights and band thresholds. Zero fields
// fall back to the package defaults.
type Config struct {
	// Weights order: relevance, consistency, grounding, completeness,
	// classification.
	Weights []float64
	// Thresholds order: high, medium, low.
	Thresholds []float64
}

// DefaultConfig matches the documented scoring defaults.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), Thresholds: DefaultThresholds()}
}

func (c *Config) applyDefaults() {
	if len(c.Weights) != 5 {
		c.Weights = DefaultWeights()
	}
	if len(c.Thresholds) != 3 {
		c.Thresholds = DefaultThresholds()
	}
}

// Queue accepts items for human review. The Postgres-backed queue
// satisfies this.
type Queue interface {
	Enqueue(ctx context.Context, req postgres.EnqueueRequest) (*postgres.HITLItem, error)
}

var _ Queue = (*postgres.HITLQueue)(nil)

// Verifier scores answers and routes them by confidence band.
//
// Bands, highest first: accept outright, queue for human review with
// the answer attached, attempt self-correction, or search the web for
// external evidence. Every fallback that cannot rescue the answer
// lands in the review queue rather than being dropped.
//
// # Thread Safety
//
// Safe for concurrent use.
type Verifier struct {
	queue     Queue
	corrector *Corrector
	searcher  web.Searcher
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewVerifier builds a verifier. The queue, corrector, and searcher
// are each optional; a missing fallback degrades to human review.
func NewVerifier(queue Queue, corrector *Corrector, searcher web.Searcher, cfg Config, logger *slog.Logger) *Verifier {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		queue:     queue,
		corrector: corrector,
		searcher:  searcher,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Verify scores the answer against its supporting documents and
// routes it. The returned result always carries the component scores
// and weights for audit.
func (v *Verifier) Verify(ctx context.Context, answer datatypes.Answer, docs []datatypes.Document, failure datatypes.FailureRecord) *datatypes.VerificationResult {
	ctx, span := tracer.Start(ctx, "Verify")
	defer span.End()

	components, confidence := ScoreWeighted(answer, docs, v.config.Weights)
	level := v.level(confidence)
	telemetry.VerificationConfidence.Observe(confidence)

	v.logger.Info("answer scored",
		"failure_id", failure.ID,
		"confidence", confidence,
		"level", string(level),
		"relevance", components.Relevance,
		"consistency", components.Consistency,
		"grounding", components.Grounding,
		"completeness", components.Completeness,
		"classification", components.Classification)

	result := &datatypes.VerificationResult{
		Confidence:      confidence,
		ConfidenceLevel: level,
		Answer:          answer,
		Metadata: datatypes.VerificationMetadata{
			ComponentScores: components,
			Weights:         append([]float64(nil), v.config.Weights...),
			Timestamp:       v.now().UTC(),
		},
	}

	switch level {
	case datatypes.LevelHigh:
		result.Status = datatypes.StatusPass
	case datatypes.LevelMedium:
		v.routeToReview(ctx, result, failure, reviewPriority(confidence, answer.ErrorCategory), "")
	case datatypes.LevelLow:
		v.routeToCorrection(ctx, result, failure, components)
	default:
		v.routeToWeb(ctx, result, failure)
	}

	telemetry.VerificationBands.WithLabelValues(string(result.Status)).Inc()
	return result
}

// routeToReview queues the answer for a human and marks the result.
// A missing queue still produces a HITL result so callers can surface
// it; it is just not persisted.
func (v *Verifier) routeToReview(ctx context.Context, result *datatypes.VerificationResult, failure datatypes.FailureRecord, priority, reason string) {
	result.Status = datatypes.StatusHITL
	result.Metadata.Priority = priority
	if reason != "" {
		result.Metadata.Reason = reason
	}
	telemetry.HITLQueued.WithLabelValues(priority).Inc()

	if v.queue == nil {
		v.logger.Warn("no review queue configured, HITL item not persisted",
			"failure_id", failure.ID, "priority", priority)
		return
	}
	if _, err := v.queue.Enqueue(ctx, postgres.EnqueueRequest{
		FailureID:    failure.ID,
		ErrorMessage: failure.ErrorMessage,
		Answer:       result.Answer,
		Confidence:   result.Confidence,
		Components:   result.Metadata.ComponentScores,
		Priority:     priority,
	}); err != nil {
		v.logger.Error("failed to queue for human review",
			"failure_id", failure.ID, "error", err)
	}
}

// routeToCorrection runs self-correction and accepts the improved
// answer, or falls through to human review.
func (v *Verifier) routeToCorrection(ctx context.Context, result *datatypes.VerificationResult, failure datatypes.FailureRecord, components datatypes.ComponentScores) {
	if v.corrector == nil {
		v.routeToReview(ctx, result, failure, reviewPriority(result.Confidence, result.Answer.ErrorCategory), "")
		return
	}

	correction := v.corrector.Correct(ctx, result.Answer, components, result.Confidence, failure)
	result.Metadata.CorrectionAttempts = correction.Attempts
	if !correction.Improved {
		v.routeToReview(ctx, result, failure, reviewPriority(result.Confidence, result.Answer.ErrorCategory), "")
		return
	}

	result.Status = datatypes.StatusCorrected
	result.Confidence = correction.NewConfidence
	result.ConfidenceLevel = v.level(correction.NewConfidence)
	result.Answer.Confidence = correction.NewConfidence
	delta := correction.Delta
	result.Metadata.ImprovementDelta = &delta
}

// routeToWeb tries external search for very-low answers. Any failure
// along the way escalates to high-priority human review with the
// reason recorded.
func (v *Verifier) routeToWeb(ctx context.Context, result *datatypes.VerificationResult, failure datatypes.FailureRecord) {
	if v.searcher == nil {
		v.routeToReview(ctx, result, failure, postgres.HITLPriorityHigh, ReasonWebUnavailable)
		return
	}

	fallback, err := SearchWeb(ctx, v.searcher, failure, result.Answer.ErrorCategory, result.Confidence, v.logger)
	if err != nil {
		v.logger.Error("web fallback failed",
			"failure_id", failure.ID, "error", err)
		v.routeToReview(ctx, result, failure, postgres.HITLPriorityHigh, ReasonWebError)
		return
	}
	if !fallback.Improved {
		v.routeToReview(ctx, result, failure, postgres.HITLPriorityHigh, ReasonWebFailed)
		return
	}

	result.Status = datatypes.StatusWebSearch
	result.Confidence = fallback.NewConfidence
	result.ConfidenceLevel = v.level(fallback.NewConfidence)
	result.Answer.Confidence = fallback.NewConfidence
	delta := fallback.Delta
	result.Metadata.ImprovementDelta = &delta
	result.Metadata.WebSources = fallback.Sources
}

// level maps a confidence to its band using the configured thresholds.
func (v *Verifier) level(confidence float64) datatypes.ConfidenceLevel {
	return LevelAt(confidence, v.config.Thresholds)
}

// reviewPriority escalates borderline confidence and the categories
// where a wrong answer blocks the whole pipeline.
func reviewPriority(confidence float64, category string) string {
	if confidence < 0.70 {
		return postgres.HITLPriorityHigh
	}
	switch category {
	case "INFRA_ERROR", "CONFIG_ERROR":
		return postgres.HITLPriorityHigh
	}
	return postgres.HITLPriorityMedium
}
