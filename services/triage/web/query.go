// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package web

import (
	"regexp"
	"strings"
)

// maxQueryLen keeps search queries short enough for good results.
const maxQueryLen = 150

var (
	errorTypePattern   = regexp.MustCompile(`\b(\w+Error|\w+Exception)\b`)
	errorPrefixPattern = regexp.MustCompile(`Error:\s*(\w+)`)
	filePattern        = regexp.MustCompile(`\b\w+\.(?:py|js|java|cpp|go|rb|ts)\b`)
	functionPattern    = regexp.MustCompile(`\b[a-z][a-z0-9_]*[A-Z]\w+\b|\b[a-z]+_[a-z_]+\b`)
	quotedPattern      = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// categoryQueryKeywords contributes one search keyword per category.
var categoryQueryKeywords = map[string]string{
	"CODE_ERROR":       "fix",
	"INFRA_ERROR":      "troubleshoot",
	"CONFIG_ERROR":     "configuration",
	"DEPENDENCY_ERROR": "dependency",
	"TEST_ERROR":       "test failure",
	"UNKNOWN":          "error",
}

// BuildQuery derives a search query from the failing error message:
// the error type, up to three technical terms, a category keyword,
// and a "solution" suffix, truncated to a search-friendly length.
func BuildQuery(errorMessage, category string) string {
	var parts []string

	if errorType := extractErrorType(errorMessage); errorType != "" {
		parts = append(parts, errorType)
	}

	terms := extractTechnicalTerms(errorMessage)
	if len(terms) > 3 {
		terms = terms[:3]
	}
	parts = append(parts, terms...)

	if keyword, ok := categoryQueryKeywords[category]; ok {
		parts = append(parts, keyword)
	}

	if !strings.Contains(strings.ToLower(strings.Join(parts, " ")), "solution") {
		parts = append(parts, "solution")
	}

	query := whitespacePattern.ReplaceAllString(strings.Join(parts, " "), " ")
	query = strings.TrimSpace(query)
	if len(query) > maxQueryLen {
		query = query[:maxQueryLen-3] + "..."
	}
	return query
}

func extractErrorType(errorMessage string) string {
	if m := errorTypePattern.FindStringSubmatch(errorMessage); m != nil {
		return m[1]
	}
	if m := errorPrefixPattern.FindStringSubmatch(errorMessage); m != nil {
		return m[1]
	}
	return ""
}

// extractTechnicalTerms pulls exception names, file stems, identifier
// names, and quoted strings out of the error message, two of each.
func extractTechnicalTerms(errorMessage string) []string {
	var terms []string

	exceptions := errorTypePattern.FindAllString(errorMessage, 2)
	terms = append(terms, exceptions...)

	for _, file := range filePattern.FindAllString(errorMessage, 2) {
		if dot := strings.LastIndex(file, "."); dot > 0 {
			terms = append(terms, file[:dot])
		}
	}

	terms = append(terms, functionPattern.FindAllString(errorMessage, 2)...)

	for _, m := range quotedPattern.FindAllStringSubmatch(errorMessage, 2) {
		if m[1] != "" {
			terms = append(terms, m[1])
		} else if m[2] != "" {
			terms = append(terms, m[2])
		}
	}
	return terms
}

// Snippets flattens results into cleaned "title. snippet" strings for
// prompt context.
func Snippets(results []Result) []string {
	snippets := make([]string, 0, len(results))
	for _, r := range results {
		combined := r.Snippet
		if r.Title != "" {
			combined = r.Title + ". " + r.Snippet
		}
		combined = strings.TrimSpace(whitespacePattern.ReplaceAllString(combined, " "))
		if combined != "" {
			snippets = append(snippets, combined)
		}
	}
	return snippets
}
