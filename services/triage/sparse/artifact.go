// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArtifactVersion is written into every artefact; loads reject
// mismatches.
const ArtifactVersion = "1.0"

// ErrVersionMismatch indicates an artefact written by an incompatible
// builder.
var ErrVersionMismatch = errors.New("sparse: artefact version mismatch")

// Artifact is the serialized sparse index: the BM25 structure plus
// parallel arrays of raw document texts and their metadata. Metadata
// entries carry at least `doc_id` and `source`.
type Artifact struct {
	BM25         *BM25            `json:"bm25"`
	Documents    []string         `json:"documents"`
	Metadata     []map[string]any `json:"metadata"`
	CreatedAt    time.Time        `json:"created_at"`
	Version      string           `json:"version"`
	SourceCounts map[string]int   `json:"source_counts"`
}

// NewArtifact returns an empty artefact ready for building.
func NewArtifact() *Artifact {
	return &Artifact{
		BM25:         NewBM25(),
		Version:      ArtifactVersion,
		SourceCounts: make(map[string]int),
	}
}

// Contains reports whether a document id is already indexed.
func (a *Artifact) Contains(docID string) bool {
	for _, md := range a.Metadata {
		if id, ok := md["doc_id"].(string); ok && id == docID {
			return true
		}
	}
	return false
}

// Append adds one document. The caller is responsible for dedupe via
// Contains; Finalize must run before the artefact is queried or saved.
func (a *Artifact) Append(text string, metadata map[string]any) {
	a.BM25.Add(text)
	a.Documents = append(a.Documents, text)
	a.Metadata = append(a.Metadata, metadata)
	if source, ok := metadata["source"].(string); ok {
		a.SourceCounts[source]++
	}
}

// Finalize stamps statistics and the creation time.
func (a *Artifact) Finalize() {
	a.BM25.Finalize()
	a.CreatedAt = time.Now().UTC()
	a.Version = ArtifactVersion
}

// validate checks parallel-array integrity after a load.
func (a *Artifact) validate() error {
	if a.BM25 == nil {
		return errors.New("sparse: artefact missing bm25 block")
	}
	if a.Version != ArtifactVersion {
		return fmt.Errorf("%w: got %q, want %q", ErrVersionMismatch, a.Version, ArtifactVersion)
	}
	if len(a.Documents) != len(a.Metadata) || len(a.Documents) != a.BM25.N {
		return fmt.Errorf("sparse: parallel arrays disagree: %d docs, %d metadata, %d indexed",
			len(a.Documents), len(a.Metadata), a.BM25.N)
	}
	return nil
}

// LoadArtifact reads and validates an artefact file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artefact: %w", err)
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parsing artefact: %w", err)
	}
	if err := artifact.validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// SaveArtifact writes the artefact to a temp file in the target
// directory and renames it into place, so readers only ever observe a
// complete file.
func SaveArtifact(artifact *Artifact, path string) error {
	if err := artifact.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encoding artefact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artefact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".bm25-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp artefact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing artefact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing artefact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("swapping artefact: %w", err)
	}
	return nil
}
