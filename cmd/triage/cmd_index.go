// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
	"github.com/AleutianAI/AleutianTriage/services/triage/sparse"
	"github.com/AleutianAI/AleutianTriage/services/triage/weaviate"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	indexOutPath string // Artefact path override
	indexCorpusK int    // Max documents exported per dense namespace
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the offline BM25 artefact",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the BM25 artefact from the connected corpora",
	Long: `Exports documents from the operational store and the vector store,
chunks them, and writes the BM25 artefact. An existing artefact is
extended incrementally: already-indexed documents are skipped and the
file is atomically replaced, so a running service picks up the new
artefact without a restart.`,
	RunE: runIndexBuild,
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print document counts for the BM25 artefact",
	RunE:  runIndexStats,
}

func init() {
	indexBuildCmd.Flags().StringVarP(&indexOutPath, "out", "o", "",
		"Artefact path (default: sparse.index_path from config)")
	indexBuildCmd.Flags().IntVar(&indexCorpusK, "per-namespace", 500,
		"Maximum documents exported per dense namespace")
	indexStatsCmd.Flags().StringVarP(&indexOutPath, "out", "o", "",
		"Artefact path (default: sparse.index_path from config)")

	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexStatsCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runIndexBuild(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := indexOutPath
	if path == "" {
		path = cfg.Sparse.IndexPath
	}

	ctx := cmd.Context()
	s, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	var sources []sparse.CorpusSource
	if s.mongo != nil {
		sources = append(sources, s.mongo)
	}
	if s.dense != nil {
		sources = append(sources, &denseCorpus{client: s.dense, perNamespace: indexCorpusK})
	}
	if len(sources) == 0 {
		return fmt.Errorf("no corpus source available: configure mongo.uri or dense.host")
	}

	appended, err := sparse.NewBuilder(s.slog).Build(ctx, path, sources...)
	if err != nil {
		return err
	}
	fmt.Printf("Artefact written to %s (%d new chunks)\n", path, appended)
	return nil
}

func runIndexStats(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := indexOutPath
	if path == "" {
		path = cfg.Sparse.IndexPath
	}

	artifact, err := sparse.LoadArtifact(path)
	if err != nil {
		return err
	}

	fmt.Printf("Artefact:  %s\n", path)
	fmt.Printf("Version:   %s\n", artifact.Version)
	fmt.Printf("Created:   %s\n", artifact.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Documents: %d\n", len(artifact.Documents))

	names := make([]string, 0, len(artifact.SourceCounts))
	for name := range artifact.SourceCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %d\n", name, artifact.SourceCounts[name])
	}
	return nil
}

// =============================================================================
// DENSE CORPUS EXPORT
// =============================================================================

// denseCorpus exports the vector store's curated documentation and
// historical cases for sparse indexing, so BM25 covers the same corpus
// the dense index serves.
type denseCorpus struct {
	client       *weaviate.Client
	perNamespace int
}

func (d *denseCorpus) Name() string { return datatypes.SourceDense }

func (d *denseCorpus) Export(ctx context.Context) ([]sparse.CorpusDocument, error) {
	exports := []struct {
		namespace string
		docType   string
	}{
		{weaviate.NamespaceDocs, weaviate.DocTypeErrorDocumentation},
		{weaviate.NamespaceCases, weaviate.DocTypeErrorCase},
	}

	var out []sparse.CorpusDocument
	for _, e := range exports {
		results, err := d.client.FetchByDocType(ctx, e.namespace, e.docType, "", d.perNamespace)
		if err != nil {
			return nil, fmt.Errorf("exporting %s: %w", e.namespace, err)
		}
		for _, r := range results {
			metadata := map[string]any{"namespace": e.namespace}
			for k, v := range r.Metadata {
				metadata[k] = v
			}
			out = append(out, sparse.CorpusDocument{
				DocID:    r.ID,
				Text:     r.Text,
				Metadata: metadata,
			})
		}
	}
	return out, nil
}

var _ sparse.CorpusSource = (*denseCorpus)(nil)
