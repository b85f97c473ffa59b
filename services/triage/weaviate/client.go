// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package weaviate provides the dense vector store client for triage.
//
// Two logical namespaces exist: curated error documentation and
// historical error cases, each a Weaviate class carrying `doc_type` and
// `error_category` metadata properties. The client wraps the Weaviate
// SDK with a circuit breaker so a down vector store degrades retrieval
// instead of hanging every run.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/llm"
)

var tracer = otel.Tracer("aleutian.triage.weaviate")

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnavailable indicates the circuit breaker is open.
	ErrUnavailable = errors.New("weaviate: store unavailable")

	// ErrBadResponse indicates the store answered with an unexpected shape.
	ErrBadResponse = errors.New("weaviate: malformed response")

	// ErrUnknownNamespace indicates a namespace outside docs/cases.
	ErrUnknownNamespace = errors.New("weaviate: unknown namespace")
)

// =============================================================================
// Connection state
// =============================================================================

// ConnectionState tracks breaker status.
type ConnectionState int32

const (
	StateClosed ConnectionState = iota
	StateOpen
	StateHalfOpen
)

func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Namespace identifiers accepted by Search and DiscoverCategories.
const (
	NamespaceDocs  = "docs"
	NamespaceCases = "cases"
)

// Doc-type markers stored on index objects.
const (
	DocTypeErrorDocumentation = "error_documentation"
	DocTypeErrorCase          = "error_case"
)

// Config configures the client.
type Config struct {
	Scheme     string
	Host       string
	DocsClass  string
	CasesClass string
	Timeout    time.Duration

	// FailureThreshold opens the breaker after this many consecutive
	// failures; CooldownPeriod is how long it stays open.
	FailureThreshold int
	CooldownPeriod   time.Duration
}

// DefaultConfig returns a config suitable for a local store.
func DefaultConfig() Config {
	return Config{
		Scheme:           "http",
		Host:             "localhost:8080",
		DocsClass:        "ErrorDocumentation",
		CasesClass:       "ErrorCase",
		Timeout:          10 * time.Second,
		FailureThreshold: 3,
		CooldownPeriod:   30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Scheme == "" {
		c.Scheme = def.Scheme
	}
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.DocsClass == "" {
		c.DocsClass = def.DocsClass
	}
	if c.CasesClass == "" {
		c.CasesClass = def.CasesClass
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.CooldownPeriod == 0 {
		c.CooldownPeriod = def.CooldownPeriod
	}
}

// =============================================================================
// Client
// =============================================================================

// Client is the resilient dense-store client.
//
// # Thread Safety
//
// Safe for concurrent use. Breaker state is atomic; the SDK client
// pools connections internally.
type Client struct {
	conn     *weaviate.Client
	embedder llm.Embedder
	config   Config
	logger   *slog.Logger

	state       atomic.Int32
	failures    atomic.Int32
	lastFailure atomic.Int64 // unix nanos
}

// NewClient builds a dense-store client. The embedder turns query text
// into vectors; pass nil only if every call will use SearchVector.
func NewClient(cfg Config, embedder llm.Embedder, logger *slog.Logger) (*Client, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := weaviate.NewClient(weaviate.Config{
		Scheme: cfg.Scheme,
		Host:   cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}

	logger.Info("dense store client ready",
		"host", cfg.Host,
		"docs_class", cfg.DocsClass,
		"cases_class", cfg.CasesClass)
	return &Client{
		conn:     conn,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Namespaces returns the two logical namespaces.
func (c *Client) Namespaces() []string {
	return []string{NamespaceDocs, NamespaceCases}
}

// State reports the current breaker state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Client) className(namespace string) (string, error) {
	switch namespace {
	case NamespaceDocs:
		return c.config.DocsClass, nil
	case NamespaceCases:
		return c.config.CasesClass, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
}

// docType returns the doc-type marker identifying retrievable content
// in a namespace.
func docType(namespace string) string {
	if namespace == NamespaceCases {
		return DocTypeErrorCase
	}
	return DocTypeErrorDocumentation
}

// =============================================================================
// Circuit breaker
// =============================================================================

func (c *Client) allow() bool {
	switch ConnectionState(c.state.Load()) {
	case StateClosed:
		return true
	case StateOpen:
		elapsed := time.Since(time.Unix(0, c.lastFailure.Load()))
		if elapsed >= c.config.CooldownPeriod {
			c.state.Store(int32(StateHalfOpen))
			c.logger.Info("dense store breaker half-open")
			return true
		}
		return false
	default: // half-open: let one probe through
		return true
	}
}

func (c *Client) recordSuccess() {
	if ConnectionState(c.state.Load()) != StateClosed {
		c.logger.Info("dense store breaker closed")
	}
	c.failures.Store(0)
	c.state.Store(int32(StateClosed))
}

func (c *Client) recordFailure() {
	c.lastFailure.Store(time.Now().UnixNano())
	if c.failures.Add(1) >= int32(c.config.FailureThreshold) {
		if ConnectionState(c.state.Swap(int32(StateOpen))) != StateOpen {
			c.logger.Warn("dense store breaker opened",
				"failures", c.failures.Load(),
				"cooldown", c.config.CooldownPeriod)
		}
	}
}

// =============================================================================
// Search
// =============================================================================

// Search embeds the query and runs a nearVector search in the given
// namespace. The filter map restricts on string metadata properties
// (equality, ANDed).
func (c *Client) Search(ctx context.Context, namespace, query string, k int, filter map[string]string) ([]datatypes.SearchResult, error) {
	if c.embedder == nil {
		return nil, errors.New("weaviate: no embedder configured")
	}
	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return c.SearchVector(ctx, namespace, vector, k, filter)
}

// SearchVector runs a nearVector search with a precomputed embedding.
func (c *Client) SearchVector(ctx context.Context, namespace string, vector []float32, k int, filter map[string]string) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "SearchVector")
	defer span.End()

	class, err := c.className(namespace)
	if err != nil {
		return nil, err
	}
	if !c.allow() {
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	builder := c.conn.GraphQL().Get().
		WithClassName(class).
		WithFields(resultFields()...).
		WithNearVector(c.conn.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(k)

	if where := buildWhere(filter); where != nil {
		builder = builder.WithWhere(where)
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("dense search: %w", err)
	}
	results, err := parseResults(resp, class)
	if err != nil {
		c.recordFailure()
		return nil, err
	}
	c.recordSuccess()
	return results, nil
}

// FetchByDocType retrieves objects by doc_type and optional category
// without vector search. Used for prompt templates and discovery.
func (c *Client) FetchByDocType(ctx context.Context, namespace, docTypeValue, category string, k int) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "FetchByDocType")
	defer span.End()

	class, err := c.className(namespace)
	if err != nil {
		return nil, err
	}
	if !c.allow() {
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	filter := map[string]string{"doc_type": docTypeValue}
	if category != "" {
		filter["error_category"] = category
	}

	resp, err := c.conn.GraphQL().Get().
		WithClassName(class).
		WithFields(resultFields()...).
		WithWhere(buildWhere(filter)).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("doc-type fetch: %w", err)
	}
	results, err := parseResults(resp, class)
	if err != nil {
		c.recordFailure()
		return nil, err
	}
	c.recordSuccess()
	return results, nil
}

// =============================================================================
// Category discovery
// =============================================================================

// DiscoverCategories probes both namespaces for distinct error_category
// values on their content objects. A category present in only one
// namespace logs an alignment warning but is still returned.
func (c *Client) DiscoverCategories(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "DiscoverCategories")
	defer span.End()

	perNamespace := make(map[string]map[string]bool, 2)
	var lastErr error
	for _, ns := range c.Namespaces() {
		results, err := c.FetchByDocType(ctx, ns, docType(ns), "", 50)
		if err != nil {
			c.logger.Warn("category probe failed", "namespace", ns, "error", err)
			lastErr = err
			continue
		}
		seen := make(map[string]bool)
		for _, r := range results {
			if cat, ok := r.Metadata["error_category"].(string); ok && cat != "" {
				seen[cat] = true
			}
		}
		perNamespace[ns] = seen
	}
	if len(perNamespace) == 0 {
		return nil, fmt.Errorf("category discovery: no namespace reachable: %w", lastErr)
	}

	union := make(map[string]bool)
	for _, seen := range perNamespace {
		for cat := range seen {
			union[cat] = true
		}
	}
	categories := make([]string, 0, len(union))
	for cat := range union {
		categories = append(categories, cat)
		for ns, seen := range perNamespace {
			if !seen[cat] {
				c.logger.Warn("category missing from namespace",
					"category", cat, "namespace", ns)
			}
		}
	}

	c.logger.Info("categories discovered", "count", len(categories))
	return categories, nil
}
