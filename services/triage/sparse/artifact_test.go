// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sparse

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArtifact() *Artifact {
	a := NewArtifact()
	a.Append("postgres connection timeout", map[string]any{"doc_id": "log-1", "source": "mongodb"})
	a.Append("assertion error expected 200", map[string]any{"doc_id": "doc-1", "source": "docs"})
	a.Finalize()
	return a
}

func TestArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25_index.json")
	require.NoError(t, SaveArtifact(sampleArtifact(), path))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)

	assert.Equal(t, 2, len(loaded.Documents))
	assert.Equal(t, ArtifactVersion, loaded.Version)
	assert.Equal(t, map[string]int{"mongodb": 1, "docs": 1}, loaded.SourceCounts)
	assert.True(t, loaded.Contains("log-1"))
	assert.False(t, loaded.Contains("log-2"))

	// Ranking survives serialization.
	hits := loaded.BM25.TopN("connection timeout", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, 0, hits[0].Index)
}

func TestLoadArtifactVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25_index.json")
	a := sampleArtifact()
	a.Version = "0.9"
	data := `{"bm25":{"k1":1.5,"b":0.75,"doc_freqs":{},"n":0},"documents":[],"metadata":[],"version":"0.9"}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := LoadArtifact(path)
	assert.True(t, errors.Is(err, ErrVersionMismatch))
}

func TestLoadArtifactMissing(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bm25_index.json")
	require.NoError(t, SaveArtifact(sampleArtifact(), path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bm25_index.json", entries[0].Name())
}

// fakeSource feeds the builder a fixed document list.
type fakeSource struct {
	name string
	docs []CorpusDocument
	err  error
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Export(ctx context.Context) ([]CorpusDocument, error) {
	return f.docs, f.err
}

func TestBuilderIncremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25_index.json")
	builder := NewBuilder(nil)

	source := &fakeSource{name: "mongodb", docs: []CorpusDocument{
		{DocID: "log-1", Text: "connection refused on port 5432"},
		{DocID: "log-2", Text: "yaml parse error at line 3"},
	}}

	appended, err := builder.Build(context.Background(), path, source)
	require.NoError(t, err)
	assert.Equal(t, 2, appended)

	// Second build with one overlapping and one new document.
	source.docs = append(source.docs, CorpusDocument{DocID: "log-3", Text: "rate limit exceeded"})
	appended, err = builder.Build(context.Background(), path, source)
	require.NoError(t, err)
	assert.Equal(t, 1, appended, "existing documents must be skipped")

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, 3, len(loaded.Documents))
}

func TestBuilderSourceFailureDegrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25_index.json")
	builder := NewBuilder(nil)

	good := &fakeSource{name: "docs", docs: []CorpusDocument{
		{DocID: "doc-1", Text: "dependency conflict in lockfile"},
	}}
	bad := &fakeSource{name: "mongodb", err: errors.New("connection refused")}

	appended, err := builder.Build(context.Background(), path, bad, good)
	require.NoError(t, err, "a dead source must not fail the build")
	assert.Equal(t, 1, appended)
}

func TestBuilderChunksLongDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25_index.json")
	builder := NewBuilder(nil)

	long := make([]byte, 0, 5*chunkSize)
	for len(long) < 5*chunkSize {
		long = append(long, []byte("failure log line with useful tokens\n")...)
	}
	source := &fakeSource{name: "mongodb", docs: []CorpusDocument{
		{DocID: "log-big", Text: string(long)},
	}}

	appended, err := builder.Build(context.Background(), path, source)
	require.NoError(t, err)
	assert.Greater(t, appended, 1, "long document should split into chunks")

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.True(t, loaded.Contains("log-big"))
	assert.True(t, loaded.Contains("log-big#1"))
}
