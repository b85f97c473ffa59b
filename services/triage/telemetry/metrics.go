// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry holds the Prometheus metrics shared by the
// analysis pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolExecutions counts tool runs by tool name and result.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_tool_executions_total",
		Help: "Total tool executions by tool and result",
	}, []string{"tool", "result"})

	// ToolRetries counts retry attempts by tool name.
	ToolRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_tool_retries_total",
		Help: "Total tool retry attempts by tool",
	}, []string{"tool"})

	// ToolLatency tracks tool execution latency.
	ToolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triage_tool_latency_seconds",
		Help:    "Tool execution latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"tool"})

	// RoutingDecisions counts tool routing decisions by tool and outcome.
	RoutingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_routing_decisions_total",
		Help: "Total routing decisions by tool and outcome",
	}, []string{"tool", "outcome"})

	// AnalysisRuns counts completed analysis runs by verification status.
	AnalysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_analysis_runs_total",
		Help: "Total analysis runs by verification status",
	}, []string{"status"})

	// AnalysisIterations tracks reasoning iterations per run.
	AnalysisIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triage_analysis_iterations",
		Help:    "Reasoning iterations per analysis run",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	// VerificationConfidence tracks final confidence per run.
	VerificationConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triage_verification_confidence",
		Help:    "Final verification confidence per run",
		Buckets: prometheus.LinearBuckets(0.0, 0.1, 11),
	})

	// VerificationBands counts confidence-band routing outcomes.
	VerificationBands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_verification_bands_total",
		Help: "Verification confidence-band outcomes",
	}, []string{"band"})

	// RetrievalDocuments tracks fused document counts per retrieval.
	RetrievalDocuments = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triage_retrieval_documents",
		Help:    "Documents returned per fusion retrieval",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	// HITLQueued counts items queued for human review by priority.
	HITLQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_hitl_queued_total",
		Help: "Analyses queued for human review by priority",
	}, []string{"priority"})
)
