// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

// ErrNoFileReference is returned when the failure carries no file
// path a repository tool could act on.
var ErrNoFileReference = errors.New("tools: no file reference in failure")

// sourceFilePattern finds source file references in stack traces.
var sourceFilePattern = regexp.MustCompile(`[\w./-]+\.(?:go|py|java|js|ts|rb|cpp)`)

// GitHubConfig locates the repository the code tools inspect.
type GitHubConfig struct {
	Token string
	Owner string
	Repo  string
	// BaseURL overrides the API endpoint, for GitHub Enterprise or
	// tests. Defaults to the public API.
	BaseURL string
	Timeout time.Duration
}

// GitHubClient is a minimal REST client for the repository endpoints
// the code tools need.
//
// # Thread Safety
//
// Safe for concurrent use.
type GitHubClient struct {
	config GitHubConfig
	httpc  *http.Client
	logger *slog.Logger
}

// NewGitHubClient builds the client; a missing token degrades to
// unauthenticated requests (public repositories only).
func NewGitHubClient(cfg GitHubConfig, logger *slog.Logger) *GitHubClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubClient{
		config: cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// GetFile fetches one file's content from the default branch.
func (c *GitHubClient) GetFile(ctx context.Context, filePath string) (string, error) {
	var payload struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.config.BaseURL, c.config.Owner, c.config.Repo, strings.TrimPrefix(filePath, "/"))
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return "", err
	}
	if payload.Encoding != "base64" {
		return payload.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(payload.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode file content: %w", err)
	}
	return string(decoded), nil
}

// SearchCode searches the repository for a code pattern and returns
// the matching file paths.
func (c *GitHubClient) SearchCode(ctx context.Context, query string) ([]string, error) {
	var payload struct {
		Items []struct {
			Path string `json:"path"`
		} `json:"items"`
	}
	q := url.QueryEscape(fmt.Sprintf("%s repo:%s/%s", query, c.config.Owner, c.config.Repo))
	endpoint := fmt.Sprintf("%s/search/code?q=%s&per_page=%d", c.config.BaseURL, q, resultLimit)
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	paths := make([]string, len(payload.Items))
	for i, item := range payload.Items {
		paths[i] = item.Path
	}
	return paths, nil
}

// ListFiles lists the entries of one directory on the default branch.
func (c *GitHubClient) ListFiles(ctx context.Context, dir string) ([]string, error) {
	var payload []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.config.BaseURL, c.config.Owner, c.config.Repo, strings.TrimPrefix(dir, "/"))
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	names := make([]string, len(payload))
	for i, entry := range payload {
		names[i] = entry.Name
		if entry.Type == "dir" {
			names[i] += "/"
		}
	}
	return names, nil
}

func (c *GitHubClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ============================================================================
// CODE TOOLS
// ============================================================================

// GithubGetFileTool fetches the source file the stack trace points at.
type GithubGetFileTool struct {
	Client *GitHubClient
}

func (t *GithubGetFileTool) Name() string { return ToolGithubGetFile }

func (t *GithubGetFileTool) Run(ctx context.Context, req Request) (string, error) {
	filePath := firstFileReference(req.Failure.StackTrace, req.Failure.ErrorMessage)
	if filePath == "" {
		return "", ErrNoFileReference
	}
	content, err := t.Client.GetFile(ctx, filePath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("--- %s ---\n%s", filePath, content), nil
}

// GithubSearchCodeTool searches the repository for the error's
// identifying terms.
type GithubSearchCodeTool struct {
	Client *GitHubClient
}

func (t *GithubSearchCodeTool) Name() string { return ToolGithubSearchCode }

func (t *GithubSearchCodeTool) Run(ctx context.Context, req Request) (string, error) {
	paths, err := t.Client.SearchCode(ctx, req.Query)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("%w in repository search", ErrNoResults)
	}
	return "Matching files:\n" + strings.Join(paths, "\n"), nil
}

// GithubListFilesTool lists the directory around the implicated file.
type GithubListFilesTool struct {
	Client *GitHubClient
}

func (t *GithubListFilesTool) Name() string { return ToolGithubListFiles }

func (t *GithubListFilesTool) Run(ctx context.Context, req Request) (string, error) {
	dir := "."
	if ref := firstFileReference(req.Failure.StackTrace, req.Failure.ErrorMessage); ref != "" {
		dir = path.Dir(ref)
	}
	names, err := t.Client.ListFiles(ctx, dir)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoResults, dir)
	}
	return fmt.Sprintf("Files in %s:\n%s", dir, strings.Join(names, "\n")), nil
}

func firstFileReference(texts ...string) string {
	for _, text := range texts {
		if m := sourceFilePattern.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

var (
	_ Tool = (*GithubGetFileTool)(nil)
	_ Tool = (*GithubSearchCodeTool)(nil)
	_ Tool = (*GithubListFilesTool)(nil)
)
