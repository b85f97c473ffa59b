// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package weaviate

import (
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
)

// contentProperties are the object properties requested on every query.
// Template objects reuse `content` for the template payload.
var contentProperties = []string{
	"content",
	"doc_type",
	"error_category",
	"resolution",
	"example_index",
}

func resultFields() []graphql.Field {
	fields := make([]graphql.Field, 0, len(contentProperties)+1)
	for _, p := range contentProperties {
		fields = append(fields, graphql.Field{Name: p})
	}
	fields = append(fields, graphql.Field{
		Name: "_additional",
		Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		},
	})
	return fields
}

// buildWhere ANDs equality filters over string properties. Returns nil
// for an empty map.
func buildWhere(filter map[string]string) *filters.WhereBuilder {
	if len(filter) == 0 {
		return nil
	}
	operands := make([]*filters.WhereBuilder, 0, len(filter))
	for key, value := range filter {
		operands = append(operands, filters.Where().
			WithPath([]string{key}).
			WithOperator(filters.Equal).
			WithValueString(value))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)
}

// parseResults unpacks a GraphQL Get response for one class into
// SearchResults. Certainty becomes the score; remaining properties
// land in Metadata.
func parseResults(resp *models.GraphQLResponse, class string) ([]datatypes.SearchResult, error) {
	if resp == nil {
		return nil, ErrBadResponse
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrBadResponse, resp.Errors[0].Message)
	}

	get, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing Get block", ErrBadResponse)
	}
	raw, ok := get[class].([]any)
	if !ok {
		// A class with no objects comes back as nil, not an error.
		return nil, nil
	}

	results := make([]datatypes.SearchResult, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}

		var result datatypes.SearchResult
		result.Metadata = make(map[string]any)

		if text, ok := obj["content"].(string); ok {
			result.Text = text
		}
		for _, prop := range contentProperties {
			if prop == "content" {
				continue
			}
			if v, ok := obj[prop]; ok && v != nil {
				result.Metadata[prop] = v
			}
		}

		if additional, ok := obj["_additional"].(map[string]any); ok {
			if id, ok := additional["id"].(string); ok {
				result.ID = id
			}
			if certainty, ok := additional["certainty"].(float64); ok {
				result.Score = certainty
			}
		}

		results = append(results, result)
	}
	return results, nil
}
