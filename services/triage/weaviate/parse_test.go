// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package weaviate

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/weaviate/weaviate/entities/models"
)

func response(class string, objects []any) *models.GraphQLResponse {
	return &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{class: objects},
		},
	}
}

func TestParseResults(t *testing.T) {
	resp := response("ErrorDocumentation", []any{
		map[string]any{
			"content":        "connection pool exhausted",
			"doc_type":       "error_documentation",
			"error_category": "INFRA_ERROR",
			"_additional": map[string]any{
				"id":        "doc-1",
				"certainty": 0.91,
			},
		},
		map[string]any{
			"content": "no additional block",
		},
	})

	results, err := parseResults(resp, "ErrorDocumentation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	first := results[0]
	if first.ID != "doc-1" {
		t.Errorf("id = %q", first.ID)
	}
	if first.Score != 0.91 {
		t.Errorf("score = %v", first.Score)
	}
	if first.Text != "connection pool exhausted" {
		t.Errorf("text = %q", first.Text)
	}
	if first.Metadata["error_category"] != "INFRA_ERROR" {
		t.Errorf("error_category = %v", first.Metadata["error_category"])
	}
	if _, present := first.Metadata["resolution"]; present {
		t.Error("absent property should not appear in metadata")
	}
}

func TestParseResultsEmptyClass(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{},
		},
	}
	results, err := parseResults(resp, "ErrorCase")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestParseResultsGraphQLError(t *testing.T) {
	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	}
	_, err := parseResults(resp, "ErrorCase")
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("want ErrBadResponse, got %v", err)
	}
}

func TestParseResultsNil(t *testing.T) {
	if _, err := parseResults(nil, "X"); !errors.Is(err, ErrBadResponse) {
		t.Fatalf("want ErrBadResponse, got %v", err)
	}
}

func TestBuildWhere(t *testing.T) {
	if buildWhere(nil) != nil {
		t.Error("empty filter should produce nil where clause")
	}
	if buildWhere(map[string]string{"doc_type": "error_case"}) == nil {
		t.Error("single filter should produce a where clause")
	}
	if buildWhere(map[string]string{"a": "1", "b": "2"}) == nil {
		t.Error("multi filter should produce a where clause")
	}
}

func TestClassName(t *testing.T) {
	c := &Client{config: DefaultConfig()}
	tests := []struct {
		namespace string
		want      string
		wantErr   bool
	}{
		{NamespaceDocs, "ErrorDocumentation", false},
		{NamespaceCases, "ErrorCase", false},
		{"nope", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.namespace, func(t *testing.T) {
			got, err := c.className(tt.namespace)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownNamespace) {
					t.Fatalf("want ErrUnknownNamespace, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("className(%q) = %q, %v", tt.namespace, got, err)
			}
		})
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	c := &Client{config: DefaultConfig(), logger: slog.Default()}
	for i := 0; i < c.config.FailureThreshold; i++ {
		if !c.allow() {
			t.Fatalf("breaker open too early at failure %d", i)
		}
		c.recordFailure()
	}
	if c.State() != StateOpen {
		t.Fatalf("state = %v, want open", c.State())
	}
	if c.allow() {
		t.Error("open breaker should reject")
	}

	c.recordSuccess()
	if c.State() != StateClosed {
		t.Errorf("state after success = %v, want closed", c.State())
	}
}
