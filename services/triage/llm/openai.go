// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.triage.llm")

// ErrNoAPIKey is returned when neither config nor environment provides
// an API key.
var ErrNoAPIKey = errors.New("llm: no API key configured")

// ErrEmptyResponse is returned when the backend answers with no choices.
var ErrEmptyResponse = errors.New("llm: backend returned no choices")

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey string
	// BaseURL points at an alternative OpenAI-compatible endpoint,
	// such as a local inference gateway. Empty uses the default.
	BaseURL        string
	Model          string
	EmbeddingModel string
}

// OpenAIClient implements Client and Embedder against any
// OpenAI-compatible chat-completion API.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying HTTP client pools connections.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	logger         *slog.Logger
}

var (
	_ Client   = (*OpenAIClient)(nil)
	_ Embedder = (*OpenAIClient)(nil)
)

// NewOpenAIClient builds a client from config, falling back to the
// OPENAI_API_KEY environment variable for the key.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		logger.Warn("llm model not set, defaulting", "model", model)
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger.Info("initializing LLM client", "model", model, "embedding_model", embeddingModel)
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
		logger:         logger,
	}, nil
}

// Generate runs one chat completion and returns the raw assistant text.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "Generate")
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.logger.Error("chat completion failed", "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	o.logger.Debug("chat completion done",
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for a single text.
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "Embed")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("llm: cannot embed empty text")
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		o.logger.Error("embedding failed", "error", err)
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Data[0].Embedding, nil
}
