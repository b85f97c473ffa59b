// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package web searches the public web for error solutions. It is the
// last-resort evidence source when retrieval and tooling leave
// confidence very low. An explicit provider in the config is honored;
// otherwise the provider is auto-selected from configured credentials:
// Google Custom Search, then Bing, then the keyless DuckDuckGo
// instant-answer API.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// MaxResults caps how many results one search returns.
const MaxResults = 5

// DefaultTimeout bounds one provider request.
const DefaultTimeout = 10 * time.Second

// Provider names.
const (
	ProviderGoogle     = "google"
	ProviderBing       = "bing"
	ProviderDuckDuckGo = "duckduckgo"
)

// Result is one web search hit.
type Result struct {
	URL     string
	Title   string
	Snippet string
}

// Searcher is the web-search surface consumed by the verifier and the
// web-search tool.
type Searcher interface {
	Provider() string
	Search(ctx context.Context, query string) ([]Result, error)
}

// Config carries provider credentials and limits.
type Config struct {
	// Provider forces a specific search engine. Empty or any
	// unrecognized value (such as "auto") selects by credentials.
	Provider     string
	GoogleAPIKey string
	GoogleCSEID  string
	BingAPIKey   string
	MaxResults   int
	Timeout      time.Duration
}

// Client implements Searcher over HTTP.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	config   Config
	provider string
	httpc    *http.Client
	logger   *slog.Logger
}

var _ Searcher = (*Client)(nil)

// NewClient honors an explicit provider choice, otherwise picks one
// from available credentials.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxResults <= 0 || cfg.MaxResults > MaxResults {
		cfg.MaxResults = MaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	provider := cfg.Provider
	switch provider {
	case ProviderGoogle, ProviderBing, ProviderDuckDuckGo:
	default:
		provider = ProviderDuckDuckGo
		switch {
		case cfg.GoogleAPIKey != "" && cfg.GoogleCSEID != "":
			provider = ProviderGoogle
		case cfg.BingAPIKey != "":
			provider = ProviderBing
		}
	}
	if provider == ProviderGoogle && (cfg.GoogleAPIKey == "" || cfg.GoogleCSEID == "") {
		logger.Warn("google provider selected without full credentials")
	}
	if provider == ProviderBing && cfg.BingAPIKey == "" {
		logger.Warn("bing provider selected without credentials")
	}
	logger.Info("web search ready", "provider", provider)

	return &Client{
		config:   cfg,
		provider: provider,
		httpc:    &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Provider returns the selected search engine name.
func (c *Client) Provider() string { return c.provider }

// Search runs the query against the selected provider. An empty
// result slice with a nil error means the provider answered but found
// nothing.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	switch c.provider {
	case ProviderGoogle:
		return c.searchGoogle(ctx, query)
	case ProviderBing:
		return c.searchBing(ctx, query)
	default:
		return c.searchDuckDuckGo(ctx, query)
	}
}

func (c *Client) searchGoogle(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{
		"key": {c.config.GoogleAPIKey},
		"cx":  {c.config.GoogleCSEID},
		"q":   {query},
		"num": {strconv.Itoa(c.config.MaxResults)},
	}
	var payload struct {
		Items []struct {
			Link    string `json:"link"`
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "https://www.googleapis.com/customsearch/v1?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("google search: %w", err)
	}

	results := make([]Result, 0, len(payload.Items))
	for _, item := range payload.Items {
		if len(results) == c.config.MaxResults {
			break
		}
		results = append(results, Result{URL: item.Link, Title: item.Title, Snippet: item.Snippet})
	}
	c.logger.Info("google search done", "results", len(results))
	return results, nil
}

func (c *Client) searchBing(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(c.config.MaxResults)},
	}
	headers := map[string]string{"Ocp-Apim-Subscription-Key": c.config.BingAPIKey}
	var payload struct {
		WebPages struct {
			Value []struct {
				URL     string `json:"url"`
				Name    string `json:"name"`
				Snippet string `json:"snippet"`
			} `json:"value"`
		} `json:"webPages"`
	}
	if err := c.getJSON(ctx, "https://api.bing.microsoft.com/v7.0/search?"+params.Encode(), headers, &payload); err != nil {
		return nil, fmt.Errorf("bing search: %w", err)
	}

	results := make([]Result, 0, len(payload.WebPages.Value))
	for _, item := range payload.WebPages.Value {
		if len(results) == c.config.MaxResults {
			break
		}
		results = append(results, Result{URL: item.URL, Title: item.Name, Snippet: item.Snippet})
	}
	c.logger.Info("bing search done", "results", len(results))
	return results, nil
}

func (c *Client) searchDuckDuckGo(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	var payload struct {
		Abstract    string `json:"Abstract"`
		AbstractURL string `json:"AbstractURL"`
		Heading     string `json:"Heading"`
		Topics      []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := c.getJSON(ctx, "https://api.duckduckgo.com/?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("duckduckgo search: %w", err)
	}

	var results []Result
	if payload.Abstract != "" {
		abstractURL := payload.AbstractURL
		if abstractURL == "" {
			abstractURL = "https://duckduckgo.com"
		}
		title := payload.Heading
		if title == "" {
			title = query
		}
		results = append(results, Result{URL: abstractURL, Title: title, Snippet: payload.Abstract})
	}
	for _, topic := range payload.Topics {
		if len(results) == c.config.MaxResults {
			break
		}
		if topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{URL: topic.FirstURL, Title: title, Snippet: topic.Text})
	}
	c.logger.Info("duckduckgo search done", "results", len(results))
	return results, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
