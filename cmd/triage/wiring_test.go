// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/services/triage/config"
	"github.com/AleutianAI/AleutianTriage/services/triage/tools"
)

func testStack(t *testing.T, mutate func(*config.Config)) *stack {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	return &stack{
		cfg:  cfg,
		slog: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestBuildTools_RegistersGitHubToolsWhenConfigured(t *testing.T) {
	s := testStack(t, func(cfg *config.Config) {
		cfg.GitHub.Owner = "acme"
		cfg.GitHub.Repo = "widgets"
	})

	_, executor := s.buildTools()

	for _, name := range []string{
		tools.ToolGithubGetFile,
		tools.ToolGithubSearchCode,
		tools.ToolGithubListFiles,
	} {
		assert.True(t, executor.Has(name), "missing %s", name)
	}
}

func TestBuildTools_SkipsGitHubToolsWithoutRepo(t *testing.T) {
	s := testStack(t, func(cfg *config.Config) {
		cfg.GitHub.Owner = ""
		cfg.GitHub.Repo = ""
	})

	_, executor := s.buildTools()

	assert.False(t, executor.Has(tools.ToolGithubGetFile))
	assert.False(t, executor.Has(tools.ToolGithubSearchCode))
	assert.False(t, executor.Has(tools.ToolGithubListFiles))
	// LLM and web tools are always registered.
	assert.True(t, executor.Has(tools.ToolWebSearch))
}
