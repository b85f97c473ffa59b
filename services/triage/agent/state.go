// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/tools"
)

// State is the mutable record threaded through the seven nodes of one
// analysis run. It is owned by a single goroutine for the duration of
// the run and never shared.
type State struct {
	Failure datatypes.FailureRecord

	// exec is the run-scoped executor: the shared catalog with fresh
	// retry budgets and an empty result cache.
	exec *tools.Executor

	// Classification.
	Category                 string
	ClassificationConfidence float64
	MultiFile                bool
	ReferencedFiles          []string

	// Loop position.
	Iteration     int
	Thought       string
	NeedsMoreInfo bool
	NextAction    string
	Confidence    float64

	// Gathered evidence.
	Documents   []datatypes.Document
	ToolOutputs map[string]string

	// Histories.
	Reasoning    []ReasoningStep
	Actions      []ActionRecord
	Observations []Observation

	// Synthesized answer.
	RootCause         string
	FixRecommendation string
	Evidence          []string
	AdditionalNotes   string
}

// ReasoningStep records one pass through the reason node.
type ReasoningStep struct {
	Iteration     int     `json:"iteration"`
	Thought       string  `json:"thought"`
	Confidence    float64 `json:"confidence"`
	NeedsMoreInfo bool    `json:"needs_more_info"`
	NextAction    string  `json:"next_action,omitempty"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// ActionRecord records one tool execution attempt.
type ActionRecord struct {
	Iteration   int    `json:"iteration"`
	Tool        string `json:"tool"`
	Success     bool   `json:"success"`
	Cached      bool   `json:"cached,omitempty"`
	Substituted string `json:"substituted_with,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

// Observation records the post-execution summary for one tool run.
type Observation struct {
	Iteration        int      `json:"iteration"`
	Tool             string   `json:"tool"`
	Success          bool     `json:"success"`
	Findings         string   `json:"findings"`
	KeyFindings      []string `json:"key_findings,omitempty"`
	ConfidenceChange float64  `json:"confidence_change"`
	ReadyToAnswer    bool     `json:"ready_to_answer"`
}

func newState(failure datatypes.FailureRecord) *State {
	return &State{
		Failure:       failure,
		Category:      datatypes.CategoryUnknown,
		NeedsMoreInfo: true,
		ToolOutputs:   make(map[string]string),
	}
}

// toolsUsed lists every tool attempted so far, in order.
func (s *State) toolsUsed() []string {
	used := make([]string, 0, len(s.Actions))
	for _, a := range s.Actions {
		used = append(used, a.Tool)
	}
	return used
}

// addDocuments merges retrieved documents into the run's evidence
// pool, keeping the best-scoring copy of each id.
func (s *State) addDocuments(docs []datatypes.Document) {
	for _, doc := range docs {
		replaced := false
		for i := range s.Documents {
			if s.Documents[i].ID == doc.ID {
				if doc.Score > s.Documents[i].Score {
					s.Documents[i] = doc
				}
				replaced = true
				break
			}
		}
		if !replaced {
			s.Documents = append(s.Documents, doc)
		}
	}
}

// contextSummary is the compact progress report fed to the reasoning
// prompt: what has been gathered, and the most recent observations.
func (s *State) contextSummary() string {
	var parts []string

	if s.MultiFile {
		files := s.ReferencedFiles
		suffix := ""
		if len(files) > 3 {
			files = files[:3]
			suffix = ", ..."
		}
		parts = append(parts, fmt.Sprintf("- Multi-file failure: %d files referenced (%s%s)",
			len(s.ReferencedFiles), strings.Join(files, ", "), suffix))
	}
	if len(s.Documents) > 0 {
		parts = append(parts, fmt.Sprintf("- Retrieved documents: %d", len(s.Documents)))
	}
	for _, tool := range sortedKeys(s.ToolOutputs) {
		output := s.ToolOutputs[tool]
		parts = append(parts, fmt.Sprintf("- %s: %d chars of results", tool, len(output)))
	}

	if len(s.Observations) > 0 {
		recent := s.Observations
		if len(recent) > 2 {
			recent = recent[len(recent)-2:]
		}
		parts = append(parts, "", "RECENT OBSERVATIONS:")
		for _, obs := range recent {
			parts = append(parts, fmt.Sprintf("- [%s] %s", obs.Tool, obs.Findings))
		}
	}

	if len(parts) == 0 {
		return "No information gathered yet"
	}
	return strings.Join(parts, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
