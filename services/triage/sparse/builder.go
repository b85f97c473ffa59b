// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sparse

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunking bounds for long failure logs. Short error docs pass through
// unsplit.
const (
	chunkSize    = 1000
	chunkOverlap = 100
)

// CorpusDocument is one raw document offered to the builder.
type CorpusDocument struct {
	DocID    string
	Text     string
	Metadata map[string]any
}

// CorpusSource exports documents for indexing. Implemented by the
// operational store and the curated-docs exporter.
type CorpusSource interface {
	Name() string
	Export(ctx context.Context) ([]CorpusDocument, error)
}

// Builder produces the sparse artefact offline.
//
// Incremental semantics: an existing artefact at the target path is
// loaded, documents whose id is already present are skipped, new ones
// are appended, and the file is atomically replaced. A corrupt or
// version-mismatched artefact triggers a full rebuild.
type Builder struct {
	splitter textsplitter.RecursiveCharacter
	logger   *slog.Logger
}

// NewBuilder returns a builder with default chunking.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		logger: logger,
	}
}

// Build assembles the artefact at path from the given sources and swaps
// it into place. Returns the number of documents appended.
func (b *Builder) Build(ctx context.Context, path string, sources ...CorpusSource) (int, error) {
	artifact := b.loadOrCreate(path)

	appended := 0
	for _, source := range sources {
		docs, err := source.Export(ctx)
		if err != nil {
			// A dead source degrades the corpus, not the build.
			b.logger.Warn("corpus source failed", "source", source.Name(), "error", err)
			continue
		}
		count := 0
		for _, doc := range docs {
			n, err := b.appendDocument(artifact, source.Name(), doc)
			if err != nil {
				b.logger.Warn("skipping document", "doc_id", doc.DocID, "error", err)
				continue
			}
			count += n
		}
		appended += count
		b.logger.Info("corpus source indexed", "source", source.Name(), "new_chunks", count)
	}

	artifact.Finalize()
	if err := SaveArtifact(artifact, path); err != nil {
		return 0, fmt.Errorf("saving artefact: %w", err)
	}
	b.logger.Info("sparse artefact written",
		"path", path,
		"documents", len(artifact.Documents),
		"appended", appended,
		"source_counts", artifact.SourceCounts)
	return appended, nil
}

func (b *Builder) loadOrCreate(path string) *Artifact {
	if _, err := os.Stat(path); err != nil {
		return NewArtifact()
	}
	artifact, err := LoadArtifact(path)
	if err != nil {
		b.logger.Warn("existing artefact unusable, rebuilding from scratch", "error", err)
		return NewArtifact()
	}
	b.logger.Info("existing artefact loaded for incremental build",
		"documents", len(artifact.Documents))
	return artifact
}

// appendDocument chunks and appends one document, skipping ids already
// indexed. Returns the number of chunks appended.
func (b *Builder) appendDocument(artifact *Artifact, sourceName string, doc CorpusDocument) (int, error) {
	if doc.DocID == "" || doc.Text == "" {
		return 0, fmt.Errorf("document missing id or text")
	}
	if artifact.Contains(doc.DocID) {
		return 0, nil
	}

	chunks := []string{doc.Text}
	if len(doc.Text) > chunkSize {
		split, err := b.splitter.SplitText(doc.Text)
		if err != nil {
			return 0, fmt.Errorf("chunking: %w", err)
		}
		if len(split) > 0 {
			chunks = split
		}
	}

	for i, chunk := range chunks {
		id := doc.DocID
		if i > 0 {
			id = fmt.Sprintf("%s#%d", doc.DocID, i)
		}
		metadata := map[string]any{
			"doc_id": id,
			"source": sourceName,
		}
		for k, v := range doc.Metadata {
			if _, reserved := metadata[k]; !reserved {
				metadata[k] = v
			}
		}
		artifact.Append(chunk, metadata)
	}
	return len(chunks), nil
}
