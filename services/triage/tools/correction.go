// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultMaxRetries bounds retry attempts per tool within one run when
// no policy overrides it.
const DefaultMaxRetries = 3

// defaultBackoffBase is the first retry delay; subsequent delays double.
const defaultBackoffBase = time.Second

// RetryPolicy bounds the per-tool retry loop.
type RetryPolicy struct {
	// MaxRetries is the retry budget per tool within one run.
	MaxRetries int
	// BackoffBase is the first retry delay; each further retry doubles it.
	BackoffBase time.Duration
}

// DefaultRetryPolicy matches the documented retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, BackoffBase: defaultBackoffBase}
}

func (p *RetryPolicy) applyDefaults() {
	def := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = def.BackoffBase
	}
}

// transientMarkers identify errors worth retrying.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection",
	"connection reset",
	"connection refused",
	"rate limit",
	"too many requests",
	"503",
	"502",
	"504",
	"temporary failure",
	"try again",
}

// CorrectionStrategy tracks per-tool retry budgets within a single
// analysis run and suggests substitutes once a budget is exhausted.
//
// # Thread Safety
//
// Safe for concurrent use.
type CorrectionStrategy struct {
	policy RetryPolicy

	mu      sync.Mutex
	retries map[string]int
	logger  *slog.Logger
}

// NewCorrectionStrategy starts with an empty retry history. A zero
// policy field falls back to its default.
func NewCorrectionStrategy(policy RetryPolicy, logger *slog.Logger) *CorrectionStrategy {
	policy.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrectionStrategy{
		policy:  policy,
		retries: make(map[string]int),
		logger:  logger,
	}
}

// ShouldRetry reports whether a failed tool call should be retried.
// Only transient errors retry, and only while the tool's budget lasts.
// A true return consumes one retry.
func (c *CorrectionStrategy) ShouldRetry(toolName string, err error) bool {
	if err == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	count := c.retries[toolName]
	if count >= c.policy.MaxRetries {
		c.logger.Warn("retry budget exhausted", "tool", toolName)
		return false
	}
	if !IsTransient(err) {
		c.logger.Info("permanent error, not retrying", "tool", toolName, "error", err)
		return false
	}
	c.retries[toolName] = count + 1
	c.logger.Info("retrying tool",
		"tool", toolName,
		"attempt", count+1,
		"max", c.policy.MaxRetries)
	return true
}

// Backoff returns the delay before the next retry of the tool,
// doubling from the policy base: 1s, 2s, 4s with the defaults.
func (c *CorrectionStrategy) Backoff(toolName string) time.Duration {
	c.mu.Lock()
	count := c.retries[toolName]
	c.mu.Unlock()
	if count < 1 {
		count = 1
	}
	return c.policy.BackoffBase << (count - 1)
}

// Exhausted reports whether the tool has used its full retry budget.
func (c *CorrectionStrategy) Exhausted(toolName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries[toolName] >= c.policy.MaxRetries
}

// ResetTool clears the budget for one tool, typically after a
// successful call.
func (c *CorrectionStrategy) ResetTool(toolName string) {
	c.mu.Lock()
	delete(c.retries, toolName)
	c.mu.Unlock()
}

// Reset clears all budgets.
func (c *CorrectionStrategy) Reset() {
	c.mu.Lock()
	c.retries = make(map[string]int)
	c.mu.Unlock()
}

// RetryCounts returns a copy of the per-tool retry counts.
func (c *CorrectionStrategy) RetryCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.retries))
	for k, v := range c.retries {
		out[k] = v
	}
	return out
}

// IsTransient reports whether the error looks like a transient
// failure (timeouts, connection resets, rate limits, 5xx).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
