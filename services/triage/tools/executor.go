// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianTriage/services/triage/telemetry"
)

var tracer = otel.Tracer("aleutian.triage.tools")

// queryFingerprintLen bounds the query portion of a cache key.
const queryFingerprintLen = 100

// ErrUnknownTool is returned when no implementation is registered for
// a requested tool name.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Result is one tool execution outcome, including whether a
// substitute ran in place of the requested tool.
type Result struct {
	Tool   string
	Output string
	// Substituted names the tool that actually ran when the requested
	// one failed permanently; empty otherwise.
	Substituted string
	Cached      bool
}

type cacheKey struct {
	tool  string
	query string
}

// Executor runs tools with transient-error retries, substitute
// fallbacks, and a result cache.
//
// The registry, implementations, and retry policy are shared and
// immutable; retry budgets and cached results are run-scoped. Callers
// that reuse one Executor across analysis runs obtain a clean scope
// per run with Fresh.
type Executor struct {
	registry   *Registry
	impls      map[string]Tool
	policy     RetryPolicy
	correction *CorrectionStrategy
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[cacheKey]string

	// sleep is swapped in tests to avoid real backoff delays.
	sleep func(time.Duration)
}

// NewExecutor wires tool implementations to the registry's catalog.
// A zero policy field falls back to its default.
func NewExecutor(registry *Registry, impls []Tool, policy RetryPolicy, logger *slog.Logger) *Executor {
	policy.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Tool, len(impls))
	for _, impl := range impls {
		byName[impl.Name()] = impl
	}
	return &Executor{
		registry:   registry,
		impls:      byName,
		policy:     policy,
		correction: NewCorrectionStrategy(policy, logger),
		logger:     logger,
		cache:      make(map[cacheKey]string),
		sleep:      time.Sleep,
	}
}

// Fresh returns an Executor sharing this one's registry,
// implementations, and retry policy, but with empty retry budgets and
// an empty result cache. Each analysis run should execute through its
// own fresh Executor so budgets and cached outputs never leak between
// concurrent or successive runs.
func (e *Executor) Fresh() *Executor {
	return &Executor{
		registry:   e.registry,
		impls:      e.impls,
		policy:     e.policy,
		correction: NewCorrectionStrategy(e.policy, e.logger),
		logger:     e.logger,
		cache:      make(map[cacheKey]string),
		sleep:      e.sleep,
	}
}

// Correction exposes the run's retry state for reporting.
func (e *Executor) Correction() *CorrectionStrategy { return e.correction }

// Has reports whether an implementation is registered for the name.
func (e *Executor) Has(name string) bool {
	_, ok := e.impls[name]
	return ok
}

// Execute runs the named tool. Transient failures retry with
// exponential backoff; a permanently failed tool falls back to its
// registered substitute once. Identical calls within the run are
// served from cache.
func (e *Executor) Execute(ctx context.Context, name string, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "ExecuteTool")
	defer span.End()

	key := cacheKey{tool: name, query: fingerprint(req.Query)}
	if output, ok := e.cachedResult(key); ok {
		e.logger.Debug("tool cache hit", "tool", name)
		return Result{Tool: name, Output: output, Cached: true}, nil
	}

	output, err := e.runWithRetries(ctx, name, req)
	if err == nil {
		e.storeResult(key, output)
		return Result{Tool: name, Output: output}, nil
	}

	alt := AlternativeFor(name)
	if alt == "" || !e.Has(alt) {
		return Result{Tool: name}, err
	}
	e.logger.Info("falling back to substitute tool",
		"failed", name, "substitute", alt, "error", err)

	altOutput, altErr := e.runWithRetries(ctx, alt, req)
	if altErr != nil {
		return Result{Tool: name}, fmt.Errorf("tool %s failed (%w); substitute %s failed: %v",
			name, err, alt, altErr)
	}
	e.storeResult(key, altOutput)
	return Result{Tool: name, Output: altOutput, Substituted: alt}, nil
}

// runWithRetries runs one tool until success, a permanent error, or
// retry exhaustion.
func (e *Executor) runWithRetries(ctx context.Context, name string, req Request) (string, error) {
	impl, ok := e.impls[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	for {
		start := time.Now()
		output, err := impl.Run(ctx, req)
		latency := time.Since(start)

		e.registry.RecordExecution(name, err == nil, latency)
		telemetry.ToolLatency.WithLabelValues(name).Observe(latency.Seconds())
		if err == nil {
			telemetry.ToolExecutions.WithLabelValues(name, "success").Inc()
			e.correction.ResetTool(name)
			return output, nil
		}
		telemetry.ToolExecutions.WithLabelValues(name, "failure").Inc()

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !e.correction.ShouldRetry(name, err) {
			return "", fmt.Errorf("tool %s: %w", name, err)
		}
		telemetry.ToolRetries.WithLabelValues(name).Inc()
		e.sleep(e.correction.Backoff(name))
	}
}

func (e *Executor) cachedResult(key cacheKey) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	output, ok := e.cache[key]
	return output, ok
}

func (e *Executor) storeResult(key cacheKey, output string) {
	e.mu.Lock()
	e.cache[key] = output
	e.mu.Unlock()
}

func fingerprint(query string) string {
	if len(query) > queryFingerprintLen {
		return query[:queryFingerprintLen]
	}
	return query
}
