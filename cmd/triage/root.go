// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package triage implements the triage command line interface.
//
// # Commands
//
//	triage analyze     # analyze one failure record and print the verdict
//	triage index build # rebuild the offline BM25 artefact
//	triage categories  # dump the discovered error categories
//
// Configuration comes from a YAML file (--config) overlaid with
// environment variables for credentials. Every backend is optional at
// the CLI level: a missing store degrades the corresponding retrieval
// source or tool instead of refusing to start.
package triage

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTriage/services/triage/config"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	configPath string // Path to the YAML config file
	logLevel   string // Override for service.log_level
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "AI-assisted analysis of failing tests",
	Long: `Triage analyzes failing test records with a bounded reasoning loop
over fused retrieval sources (vector store, BM25 artefact, operational
logs, analysis history), then verifies the synthesized answer and
routes it: accept, self-correct, search the web, or queue for human
review.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the YAML config file (default: built-in defaults plus environment)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(hitlCmd)
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configured file and applies the CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Service.LogLevel = logLevel
	}
	return cfg, nil
}
