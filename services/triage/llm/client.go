// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides chat-completion and embedding access for the
// triage pipeline.
//
// Each agent node calls Generate with a fixed temperature: 0.0 for
// classification, 0.2 for reasoning, 0.1 for answer synthesis. The
// package also exposes helpers for digging JSON objects out of model
// responses that wrap them in markdown fences or prose.
package llm

import "context"

// GenerationParams tunes a single completion call. Nil fields keep the
// backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client is the backend-agnostic interface for text generation.
type Client interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Embedder computes dense vectors for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Temperature returns a pointer suitable for GenerationParams.
func Temperature(v float32) *float32 { return &v }

// MaxTokens returns a pointer suitable for GenerationParams.
func MaxTokens(v int) *int { return &v }
