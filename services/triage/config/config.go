// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config provides configuration loading for the triage service.
//
// Configuration is read from a YAML file, overlaid with environment
// variables for credentials, validated with struct tags plus semantic
// checks, and defaulted where unset. Construction-time validation
// failures are fatal: a service with non-monotonic confidence thresholds
// or verification weights that do not sum to 1 must not start.
//
// Thread Safety:
//
//	Config values are read-only after Load returns. Copy before mutating.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// MaxYAMLFileSize is the maximum allowed config file size (1MB).
	MaxYAMLFileSize = 1024 * 1024

	// weightTolerance bounds the floating error accepted when checking
	// that verification weights sum to 1.
	weightTolerance = 1e-6
)

// =============================================================================
// Config tree
// =============================================================================

// Config is the root configuration for the triage service.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Dense     DenseConfig     `yaml:"dense"`
	Sparse    SparseConfig    `yaml:"sparse"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Agent     AgentConfig     `yaml:"agent"`
	Caches    CacheConfig     `yaml:"caches"`
	Verify    VerifyConfig    `yaml:"verify"`
	Web       WebConfig       `yaml:"web"`
	GitHub    GitHubConfig    `yaml:"github"`
	HITL      HITLConfig      `yaml:"hitl"`
}

// ServiceConfig identifies the running service instance.
type ServiceConfig struct {
	Name   string `yaml:"name"`
	LogDir string `yaml:"log_dir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DenseConfig configures the vector store client.
type DenseConfig struct {
	Scheme string `yaml:"scheme" validate:"omitempty,oneof=http https"`
	Host   string `yaml:"host"`
	// DocsClass holds curated error documentation; CasesClass holds
	// historical error cases. Both carry doc_type and error_category
	// metadata properties.
	DocsClass  string        `yaml:"docs_class"`
	CasesClass string        `yaml:"cases_class"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SparseConfig configures the BM25 artefact.
type SparseConfig struct {
	IndexPath string `yaml:"index_path"`
	// Watch enables reloading the artefact when the file is atomically
	// replaced by an offline rebuild.
	Watch bool `yaml:"watch"`
}

// MongoConfig configures the operational document store.
type MongoConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PostgresConfig configures the relational store and HITL queue.
type PostgresConfig struct {
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig configures chat-completion and embedding access.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the API endpoint, for local inference gateways.
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

// RetrievalConfig configures the fusion retriever.
type RetrievalConfig struct {
	// RRFK is the constant in the reciprocal-rank-fusion formula
	// score = sum(1/(k + rank)).
	RRFK int `yaml:"rrf_k" validate:"omitempty,gt=0"`
	// RetrieveK is the pre-rerank candidate pool size; TopK is the
	// final result count.
	RetrieveK int `yaml:"retrieve_k" validate:"omitempty,gt=0"`
	TopK      int `yaml:"top_k" validate:"omitempty,gt=0"`
	// Workers bounds the retrieval fan-out.
	Workers       int    `yaml:"workers" validate:"omitempty,gt=0"`
	EnableRerank  bool   `yaml:"enable_rerank"`
	RerankModel   string `yaml:"rerank_model"`
	RerankURL     string `yaml:"rerank_url"`
	MaxVariations int    `yaml:"max_variations" validate:"omitempty,gt=0"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations" validate:"omitempty,gt=0"`
	MaxRetries    int `yaml:"max_retries" validate:"omitempty,gte=0"`
	// RetryBackoffBase is the first backoff interval; subsequent waits
	// double it.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	// ConfidenceTarget ends the loop early once reached.
	ConfidenceTarget float64 `yaml:"confidence_target" validate:"omitempty,gt=0,lte=1"`
}

// CacheConfig sets TTLs for the two process-wide caches.
type CacheConfig struct {
	CategoryTTL time.Duration `yaml:"category_ttl"`
	TemplateTTL time.Duration `yaml:"template_ttl"`
}

// VerifyConfig holds verification weights and routing thresholds.
type VerifyConfig struct {
	// Weights order: relevance, consistency, grounding, completeness,
	// classification. Must sum to 1.
	Weights []float64 `yaml:"weights"`
	// Thresholds order: high, medium, low. Must be strictly decreasing.
	Thresholds []float64 `yaml:"thresholds"`
	// MaxCorrectionAttempts bounds the self-correction loop.
	MaxCorrectionAttempts int `yaml:"max_correction_attempts" validate:"omitempty,gt=0"`
}

// WebConfig configures the web-search fallback.
type WebConfig struct {
	// Provider is auto, google, bing, or duckduckgo. Auto picks the
	// first provider with credentials present.
	Provider     string        `yaml:"provider" validate:"omitempty,oneof=auto google bing duckduckgo"`
	GoogleAPIKey string        `yaml:"google_api_key"`
	GoogleCSEID  string        `yaml:"google_cse_id"`
	BingAPIKey   string        `yaml:"bing_api_key"`
	MaxResults   int           `yaml:"max_results" validate:"omitempty,gt=0,lte=10"`
	Timeout      time.Duration `yaml:"timeout"`
}

// GitHubConfig locates the repository the code-inspection tools read.
// The tools are registered only when owner and repo are both set.
type GitHubConfig struct {
	Token string `yaml:"token"`
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	// BaseURL overrides the API endpoint, for GitHub Enterprise.
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HITLConfig configures the human-review queue.
type HITLConfig struct {
	SLAHours int `yaml:"sla_hours" validate:"omitempty,gt=0"`
}

// =============================================================================
// Loading
// =============================================================================

// Load reads a YAML config file, applies environment overrides and
// defaults, and validates the result. An empty path yields a default
// config (environment overrides still apply).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if info.Size() > MaxYAMLFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", path, MaxYAMLFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides copies credentials from the environment. Environment
// values win over file values so secrets never need to live in YAML.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Web.GoogleAPIKey = v
	}
	if v := os.Getenv("GOOGLE_CSE_ID"); v != "" {
		c.Web.GoogleCSEID = v
	}
	if v := os.Getenv("BING_API_KEY"); v != "" {
		c.Web.BingAPIKey = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
}

// applyDefaults fills every unset field with its documented default.
func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "triage"
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = "info"
	}

	if c.Dense.Scheme == "" {
		c.Dense.Scheme = "http"
	}
	if c.Dense.Host == "" {
		c.Dense.Host = "localhost:8080"
	}
	if c.Dense.DocsClass == "" {
		c.Dense.DocsClass = "ErrorDocumentation"
	}
	if c.Dense.CasesClass == "" {
		c.Dense.CasesClass = "ErrorCase"
	}
	if c.Dense.Timeout == 0 {
		c.Dense.Timeout = 10 * time.Second
	}

	if c.Sparse.IndexPath == "" {
		c.Sparse.IndexPath = "data/bm25_index.json"
	}

	if c.Mongo.Database == "" {
		c.Mongo.Database = "triage"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "failure_logs"
	}
	if c.Mongo.Timeout == 0 {
		c.Mongo.Timeout = 10 * time.Second
	}

	if c.Postgres.Timeout == 0 {
		c.Postgres.Timeout = 10 * time.Second
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.EmbeddingModel == "" {
		c.LLM.EmbeddingModel = "text-embedding-3-small"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}

	if c.Retrieval.RRFK == 0 {
		c.Retrieval.RRFK = 60
	}
	if c.Retrieval.RetrieveK == 0 {
		c.Retrieval.RetrieveK = 50
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.Workers == 0 {
		c.Retrieval.Workers = 4
	}
	if c.Retrieval.MaxVariations == 0 {
		c.Retrieval.MaxVariations = 3
	}

	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Agent.MaxRetries == 0 {
		c.Agent.MaxRetries = 3
	}
	if c.Agent.RetryBackoffBase == 0 {
		c.Agent.RetryBackoffBase = time.Second
	}
	if c.Agent.ConfidenceTarget == 0 {
		c.Agent.ConfidenceTarget = 0.85
	}

	if c.Caches.CategoryTTL == 0 {
		c.Caches.CategoryTTL = 5 * time.Minute
	}
	if c.Caches.TemplateTTL == 0 {
		c.Caches.TemplateTTL = 30 * time.Minute
	}

	if len(c.Verify.Weights) == 0 {
		c.Verify.Weights = []float64{0.25, 0.20, 0.25, 0.15, 0.15}
	}
	if len(c.Verify.Thresholds) == 0 {
		c.Verify.Thresholds = []float64{0.85, 0.65, 0.40}
	}
	if c.Verify.MaxCorrectionAttempts == 0 {
		c.Verify.MaxCorrectionAttempts = 2
	}

	if c.Web.Provider == "" {
		c.Web.Provider = "auto"
	}
	if c.Web.MaxResults == 0 {
		c.Web.MaxResults = 5
	}
	if c.Web.Timeout == 0 {
		c.Web.Timeout = 10 * time.Second
	}

	if c.GitHub.Timeout == 0 {
		c.GitHub.Timeout = 15 * time.Second
	}

	if c.HITL.SLAHours == 0 {
		c.HITL.SLAHours = 24
	}
}

// Validate checks struct tags and the semantic invariants the rest of
// the pipeline depends on.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if len(c.Verify.Weights) != 5 {
		return fmt.Errorf("verify.weights must have 5 entries, got %d", len(c.Verify.Weights))
	}
	var sum float64
	for i, w := range c.Verify.Weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("verify.weights[%d] = %v out of [0,1]", i, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("verify.weights sum to %v, must sum to 1", sum)
	}

	if len(c.Verify.Thresholds) != 3 {
		return fmt.Errorf("verify.thresholds must have 3 entries, got %d", len(c.Verify.Thresholds))
	}
	for i, th := range c.Verify.Thresholds {
		if th <= 0 || th >= 1 {
			return fmt.Errorf("verify.thresholds[%d] = %v out of (0,1)", i, th)
		}
		if i > 0 && th >= c.Verify.Thresholds[i-1] {
			return fmt.Errorf("verify.thresholds must be strictly decreasing, got %v", c.Verify.Thresholds)
		}
	}

	if c.Retrieval.TopK > c.Retrieval.RetrieveK {
		return fmt.Errorf("retrieval.top_k (%d) exceeds retrieval.retrieve_k (%d)",
			c.Retrieval.TopK, c.Retrieval.RetrieveK)
	}
	return nil
}
