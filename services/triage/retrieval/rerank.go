// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// rerankSnippetLen truncates document text before scoring: the
// cross-encoder only sees the first 512 characters of each document.
const rerankSnippetLen = 512

// ErrRerankerUnavailable marks a reranker failure the retriever
// degrades around.
var ErrRerankerUnavailable = errors.New("retrieval: reranker unavailable")

// Reranker scores (query, document) pairs jointly. Scores are relative
// ordering only; magnitudes vary by model.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}

// HTTPReranker talks to a cross-encoder inference endpoint with the
// text-embeddings-inference rerank API shape.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPReranker struct {
	url    string
	model  string
	httpc  *http.Client
	logger *slog.Logger
}

// NewHTTPReranker builds a reranker client. URL is the full rerank
// endpoint.
func NewHTTPReranker(url, model string, timeout time.Duration, logger *slog.Logger) *HTTPReranker {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReranker{
		url:    url,
		model:  model,
		httpc:  &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type rerankRequest struct {
	Model string   `json:"model,omitempty"`
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResponseItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank returns one score per input text, in input order. Each text is
// truncated to the snippet length before being sent.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	truncated := make([]string, len(texts))
	for i, text := range texts {
		if len(text) > rerankSnippetLen {
			text = text[:rerankSnippetLen]
		}
		truncated[i] = text
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Texts: truncated})
	if err != nil {
		return nil, fmt.Errorf("encoding rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRerankerUnavailable, resp.StatusCode, payload)
	}

	var items []rerankResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrRerankerUnavailable, err)
	}

	scores := make([]float64, len(texts))
	for _, item := range items {
		if item.Index >= 0 && item.Index < len(scores) {
			scores[item.Index] = item.Score
		}
	}
	return scores, nil
}

var _ Reranker = (*HTTPReranker)(nil)
