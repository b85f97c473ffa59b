// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sparse provides the BM25 keyword index over the failure
// corpus.
//
// The index is built offline from the operational store and curated
// docs, serialized to a single JSON artefact, and read-only at runtime.
// Rebuilds write a fresh artefact and swap it atomically; the runtime
// client watches the file and reloads on replacement.
package sparse

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Okapi BM25 parameters.
const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

// Tokenize lowercases, strips punctuation, and drops tokens shorter
// than two characters. The tokenizer is deterministic: rebuilding an
// index from the same corpus yields identical rankings.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() >= 2 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// BM25 is an Okapi BM25 index over a fixed document list. The zero
// value is empty; populate with Add then call Finalize, or unmarshal a
// serialized artefact.
//
// # Thread Safety
//
// Immutable after Finalize. Concurrent reads are safe; writes are not.
type BM25 struct {
	K1 float64 `json:"k1"`
	B  float64 `json:"b"`

	// TermFreqs[i] maps token to count within document i.
	TermFreqs []map[string]int `json:"term_freqs"`
	// DocFreqs maps token to the number of documents containing it.
	DocFreqs map[string]int `json:"doc_freqs"`
	// DocLens[i] is the token count of document i.
	DocLens []int `json:"doc_lens"`

	AvgDocLen float64 `json:"avg_doc_len"`
	N         int     `json:"n"`
}

// NewBM25 returns an empty index with default parameters.
func NewBM25() *BM25 {
	return &BM25{
		K1:       defaultK1,
		B:        defaultB,
		DocFreqs: make(map[string]int),
	}
}

// Add indexes one document's text. Call Finalize after the last Add.
func (idx *BM25) Add(text string) {
	tokens := Tokenize(text)
	freqs := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freqs[tok]++
	}
	for tok := range freqs {
		idx.DocFreqs[tok]++
	}
	idx.TermFreqs = append(idx.TermFreqs, freqs)
	idx.DocLens = append(idx.DocLens, len(tokens))
	idx.N++
}

// Finalize computes aggregate statistics. Safe to call repeatedly.
func (idx *BM25) Finalize() {
	if idx.N == 0 {
		idx.AvgDocLen = 0
		return
	}
	total := 0
	for _, l := range idx.DocLens {
		total += l
	}
	idx.AvgDocLen = float64(total) / float64(idx.N)
}

// idf uses the standard smoothed formulation, never negative.
func (idx *BM25) idf(token string) float64 {
	df := idx.DocFreqs[token]
	if df == 0 {
		return 0
	}
	return math.Log(1 + (float64(idx.N)-float64(df)+0.5)/(float64(df)+0.5))
}

// Score computes the BM25 score of the query against document i.
func (idx *BM25) Score(queryTokens []string, i int) float64 {
	if i < 0 || i >= idx.N || idx.AvgDocLen == 0 {
		return 0
	}
	freqs := idx.TermFreqs[i]
	docLen := float64(idx.DocLens[i])
	var score float64
	for _, tok := range queryTokens {
		tf := float64(freqs[tok])
		if tf == 0 {
			continue
		}
		idf := idx.idf(tok)
		score += idf * (tf * (idx.K1 + 1)) / (tf + idx.K1*(1-idx.B+idx.B*docLen/idx.AvgDocLen))
	}
	return score
}

// Hit is one scored document index.
type Hit struct {
	Index int
	Score float64
}

// TopN scores the query against the whole corpus and returns the best
// n hits with positive scores, score-descending with index as the tie
// breaker for determinism.
func (idx *BM25) TopN(query string, n int) []Hit {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 || n <= 0 {
		return nil
	}
	hits := make([]Hit, 0, 16)
	for i := 0; i < idx.N; i++ {
		if s := idx.Score(queryTokens, i); s > 0 {
			hits = append(hits, Hit{Index: i, Score: s})
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Index < hits[b].Index
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits
}
