// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, 50, cfg.Retrieval.RetrieveK)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 4, cfg.Retrieval.Workers)
	assert.Equal(t, 3, cfg.Retrieval.MaxVariations)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, 3, cfg.Agent.MaxRetries)
	assert.Equal(t, time.Second, cfg.Agent.RetryBackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.Caches.CategoryTTL)
	assert.Equal(t, 30*time.Minute, cfg.Caches.TemplateTTL)
	assert.Equal(t, []float64{0.25, 0.20, 0.25, 0.15, 0.15}, cfg.Verify.Weights)
	assert.Equal(t, []float64{0.85, 0.65, 0.40}, cfg.Verify.Thresholds)
	assert.Equal(t, 2, cfg.Verify.MaxCorrectionAttempts)
	assert.Equal(t, 5, cfg.Web.MaxResults)
	assert.Equal(t, 10*time.Second, cfg.Web.Timeout)
	assert.Equal(t, 15*time.Second, cfg.GitHub.Timeout)
	assert.Equal(t, 24, cfg.HITL.SLAHours)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triage.yaml")
	yaml := `
retrieval:
  rrf_k: 30
  top_k: 3
agent:
  max_iterations: 7
verify:
  thresholds: [0.9, 0.7, 0.5]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Retrieval.RRFK)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
	assert.Equal(t, []float64{0.9, 0.7, 0.5}, cfg.Verify.Thresholds)
	// unset values still defaulted
	assert.Equal(t, 50, cfg.Retrieval.RetrieveK)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
	}{
		{"wrong count", []float64{0.5, 0.5}},
		{"sum not one", []float64{0.3, 0.3, 0.3, 0.3, 0.3}},
		{"negative", []float64{-0.1, 0.4, 0.25, 0.25, 0.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			cfg.Verify.Weights = tt.weights
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRejectsNonMonotonicThresholds(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Verify.Thresholds = []float64{0.65, 0.85, 0.40}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsTopKAboveRetrieveK(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Retrieval.TopK = 100
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("POSTGRES_DSN", "postgres://x")
	t.Setenv("GITHUB_TOKEN", "ghp-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "postgres://x", cfg.Postgres.DSN)
	assert.Equal(t, "ghp-test", cfg.GitHub.Token)
}

func TestLoadGitHubFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triage.yaml")
	yaml := `
github:
  owner: acme
  repo: widgets
  base_url: https://ghe.example.com/api/v3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.GitHub.Owner)
	assert.Equal(t, "widgets", cfg.GitHub.Repo)
	assert.Equal(t, "https://ghe.example.com/api/v3", cfg.GitHub.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.GitHub.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/triage.yaml")
	assert.Error(t, err)
}
