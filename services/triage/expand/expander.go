// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package expand generates query variations to improve retrieval
// recall.
//
// Four strategies run in a fixed order: acronym expansion, synonym
// substitution, category-keyword enrichment, and technical-identifier
// normalization. Each contributes at most one variation; the output is
// deduplicated preserving order and capped, with the original query
// first.
package expand

import (
	"regexp"
	"strings"
)

// DefaultMaxVariations caps the expansion output.
const DefaultMaxVariations = 3

// acronymEntry pairs an acronym with its expansion. Order matters: the
// first acronym found in the query wins.
type acronymEntry struct {
	acronym   string
	expansion string
}

var acronyms = []acronymEntry{
	{"JWT", "JSON Web Token"},
	{"API", "Application Programming Interface"},
	{"SQL", "Structured Query Language"},
	{"HTTP", "Hypertext Transfer Protocol"},
	{"HTTPS", "HTTP Secure"},
	{"SSL", "Secure Sockets Layer"},
	{"TLS", "Transport Layer Security"},
	{"URL", "Uniform Resource Locator"},
	{"URI", "Uniform Resource Identifier"},
	{"JSON", "JavaScript Object Notation"},
	{"XML", "Extensible Markup Language"},
	{"REST", "Representational State Transfer"},
	{"CRUD", "Create Read Update Delete"},
	{"ORM", "Object Relational Mapping"},
	{"TTL", "Time To Live"},
	{"CORS", "Cross-Origin Resource Sharing"},
	{"CSRF", "Cross-Site Request Forgery"},
	{"XSS", "Cross-Site Scripting"},
	{"CSS", "Cascading Style Sheets"},
	{"HTML", "HyperText Markup Language"},
	{"DNS", "Domain Name System"},
	{"TCP", "Transmission Control Protocol"},
	{"UDP", "User Datagram Protocol"},
	{"IP", "Internet Protocol"},
	{"VPN", "Virtual Private Network"},
	{"SSH", "Secure Shell"},
	{"FTP", "File Transfer Protocol"},
	{"SMTP", "Simple Mail Transfer Protocol"},
	{"POP", "Post Office Protocol"},
	{"IMAP", "Internet Message Access Protocol"},
}

// acronymPatterns holds one compiled whole-word pattern per acronym,
// built once at init.
var acronymPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(acronyms))
	for i, entry := range acronyms {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(entry.acronym) + `\b`)
	}
	return patterns
}()

// synonyms maps a lowercase word to its replacements in preference
// order.
var synonyms = map[string][]string{
	"auth":           {"authentication", "login", "credentials"},
	"authentication": {"auth", "login", "credentials"},
	"login":          {"authentication", "signin", "auth"},
	"error":          {"failure", "issue", "problem", "exception"},
	"failure":        {"error", "issue", "problem"},
	"issue":          {"error", "problem", "bug"},
	"bug":            {"error", "issue", "defect"},
	"config":         {"configuration", "settings", "setup"},
	"configuration":  {"config", "settings", "setup"},
	"settings":       {"configuration", "config", "preferences"},
	"timeout":        {"time out", "timed out", "connection timeout"},
	"database":       {"db", "datastore", "data store"},
	"db":             {"database", "datastore"},
	"connection":     {"connect", "connectivity", "link"},
	"middleware":     {"middle ware", "middleware component"},
	"permission":     {"permissions", "access", "authorization"},
	"permissions":    {"permission", "access rights", "authorization"},
	"unauthorized":   {"401", "not authorized", "access denied"},
	"forbidden":      {"403", "access forbidden", "not allowed"},
	"service":        {"svc", "microservice", "daemon"},
	"deployment":     {"deploy", "release", "rollout"},
	"environment":    {"env", "environment variable", "runtime"},
	"token":          {"access token", "auth token", "bearer token"},
	"password":       {"pwd", "passphrase", "credentials"},
	"user":           {"username", "account", "profile"},
	"session":        {"user session", "login session", "web session"},
	"cache":          {"cached", "caching", "cache memory"},
	"memory":         {"mem", "RAM", "heap"},
	"network":        {"net", "networking", "connectivity"},
}

// categoryKeywords enriches queries per classified category.
var categoryKeywords = map[string][]string{
	"CODE_ERROR":        {"implementation", "bug", "function", "method", "code"},
	"INFRA_ERROR":       {"infrastructure", "service", "deployment", "resource", "system"},
	"CONFIG_ERROR":      {"configuration", "settings", "environment", "variable", "parameter"},
	"DEPENDENCY_ERROR":  {"package", "library", "dependency", "module", "import"},
	"TEST_ERROR":        {"test", "assertion", "mock", "unittest", "testing"},
	"NETWORK_ERROR":     {"network", "connection", "timeout", "connectivity", "socket"},
	"DATABASE_ERROR":    {"database", "query", "transaction", "schema", "table"},
	"AUTH_ERROR":        {"authentication", "authorization", "permission", "access", "credential"},
	"PERFORMANCE_ERROR": {"performance", "slow", "latency", "timeout", "bottleneck"},
}

// identifierPattern finds SCREAMING_SNAKE_CASE or snake_case
// identifiers for normalization.
var identifierPattern = regexp.MustCompile(`\b[A-Z_]{3,}\b|\b[a-z_]+_[a-z_]+\b`)

// Expander generates query variations.
//
// # Thread Safety
//
// Stateless after construction; safe for concurrent use.
type Expander struct {
	maxVariations int
}

// NewExpander builds an expander. Non-positive max falls back to the
// default cap.
func NewExpander(maxVariations int) *Expander {
	if maxVariations <= 0 {
		maxVariations = DefaultMaxVariations
	}
	return &Expander{maxVariations: maxVariations}
}

// Expand returns up to maxVariations query strings. The original is
// first when includeOriginal is true; duplicates are removed preserving
// order.
func (e *Expander) Expand(query, errorCategory string, includeOriginal bool) []string {
	var variations []string
	if includeOriginal {
		variations = append(variations, query)
	}

	if expanded := expandAcronyms(query); expanded != "" {
		variations = append(variations, expanded)
	}
	if replaced := replaceSynonyms(query); replaced != "" {
		variations = append(variations, replaced)
	}
	if errorCategory != "" {
		if enriched := addCategoryKeyword(query, errorCategory); enriched != "" {
			variations = append(variations, enriched)
		}
	}
	if normalized := normalizeIdentifiers(query); normalized != "" {
		variations = append(variations, normalized)
	}

	unique := dedupe(variations)
	if len(unique) > e.maxVariations {
		unique = unique[:e.maxVariations]
	}
	return unique
}

// expandAcronyms replaces the first acronym found, whole-word and
// case-insensitive. One expansion only, to avoid blowing up the query.
func expandAcronyms(query string) string {
	for i, pattern := range acronymPatterns {
		if pattern.MatchString(query) {
			replaced := false
			expanded := pattern.ReplaceAllStringFunc(query, func(match string) string {
				if replaced {
					return match
				}
				replaced = true
				return acronyms[i].expansion
			})
			if expanded != query {
				return expanded
			}
			return ""
		}
	}
	return ""
}

// replaceSynonyms swaps the first word that has a synonym entry for its
// first non-identical synonym. The whole query is lowercased in the
// output, matching word-level substitution semantics.
func replaceSynonyms(query string) string {
	words := strings.Fields(strings.ToLower(query))
	for i, word := range words {
		options, ok := synonyms[word]
		if !ok {
			continue
		}
		for _, syn := range options {
			if syn != word {
				words[i] = syn
				return strings.Join(words, " ")
			}
		}
		break
	}
	return ""
}

// addCategoryKeyword appends the first category keyword not already
// present in the query.
func addCategoryKeyword(query, category string) string {
	keywords, ok := categoryKeywords[category]
	if !ok {
		return ""
	}
	lower := strings.ToLower(query)
	for _, keyword := range keywords {
		if !strings.Contains(lower, keyword) {
			return query + " " + keyword
		}
	}
	return ""
}

// normalizeIdentifiers converts the first snake_case or
// SCREAMING_SNAKE_CASE identifier to spaced lowercase.
func normalizeIdentifiers(query string) string {
	match := identifierPattern.FindString(query)
	if match == "" {
		return ""
	}
	replacement := strings.ReplaceAll(strings.ToLower(match), "_", " ")
	normalized := strings.Replace(query, match, replacement, 1)
	if normalized == query {
		return ""
	}
	return normalized
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
