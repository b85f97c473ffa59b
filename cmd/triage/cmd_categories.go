// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTriage/pkg/logging"
	"github.com/AleutianAI/AleutianTriage/services/triage/weaviate"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Dump the error categories discovered from the vector store",
	Long: `Probes both vector-store namespaces for the distinct error_category
values on their content objects and prints the merged set. This is the
same discovery the classifier uses, so the output shows exactly which
categories an analysis run can assign.`,
	RunE: runCategoriesCommand,
}

func runCategoriesCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:   parseLevel(cfg.Service.LogLevel),
		LogDir:  cfg.Service.LogDir,
		Service: cfg.Service.Name,
	})
	defer log.Close()

	// Discovery never embeds query text, so no embedder is needed.
	dense, err := weaviate.NewClient(weaviate.Config{
		Scheme:     cfg.Dense.Scheme,
		Host:       cfg.Dense.Host,
		DocsClass:  cfg.Dense.DocsClass,
		CasesClass: cfg.Dense.CasesClass,
		Timeout:    cfg.Dense.Timeout,
	}, nil, log.Slog())
	if err != nil {
		return err
	}

	categories, err := dense.DiscoverCategories(cmd.Context())
	if err != nil {
		return fmt.Errorf("category discovery: %w", err)
	}
	if len(categories) == 0 {
		fmt.Println("No categories discovered; the indexes may be empty.")
		return nil
	}
	for _, category := range categories {
		fmt.Println(category)
	}
	return nil
}
