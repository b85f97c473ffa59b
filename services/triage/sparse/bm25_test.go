// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sparse

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "lowercase and punctuation",
			in:   "Connection TIMEOUT: retry-count=3!",
			want: []string{"connection", "timeout", "retry", "count"},
		},
		{
			name: "short tokens dropped",
			in:   "a db is up",
			want: []string{"db", "is", "up"},
		},
		{
			name: "empty",
			in:   "...",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func buildIndex(texts ...string) *BM25 {
	idx := NewBM25()
	for _, text := range texts {
		idx.Add(text)
	}
	idx.Finalize()
	return idx
}

func TestTopNRanksMatchingDocFirst(t *testing.T) {
	idx := buildIndex(
		"postgres connection timeout in pool",
		"assertion failed expected status 200",
		"yaml parse error in pipeline config",
	)

	hits := idx.TopN("connection timeout", 3)
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	if hits[0].Index != 0 {
		t.Errorf("top hit index = %d, want 0", hits[0].Index)
	}
}

func TestTopNLimit(t *testing.T) {
	idx := buildIndex(
		"error one alpha",
		"error two alpha",
		"error three alpha",
	)
	hits := idx.TopN("error alpha", 2)
	if len(hits) != 2 {
		t.Errorf("got %d hits, want 2", len(hits))
	}
}

func TestTopNNoMatch(t *testing.T) {
	idx := buildIndex("postgres timeout")
	if hits := idx.TopN("kubernetes", 5); len(hits) != 0 {
		t.Errorf("got %d hits, want 0", len(hits))
	}
}

func TestRebuildIsDeterministic(t *testing.T) {
	corpus := []string{
		"database connection refused on port 5432",
		"test assertion error expected true",
		"npm dependency resolution failed",
		"connection reset by peer during deploy",
	}

	first := buildIndex(corpus...)
	second := buildIndex(corpus...)

	for _, query := range []string{"connection", "dependency failed", "assertion"} {
		a := first.TopN(query, 10)
		b := second.TopN(query, 10)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("query %q: rankings differ: %v vs %v", query, a, b)
		}
	}
}

func TestScoreOutOfRange(t *testing.T) {
	idx := buildIndex("some document text")
	if s := idx.Score(Tokenize("document"), 5); s != 0 {
		t.Errorf("out-of-range score = %v, want 0", s)
	}
	if s := idx.Score(Tokenize("document"), -1); s != 0 {
		t.Errorf("negative-index score = %v, want 0", s)
	}
}
