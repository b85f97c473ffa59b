// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTriage/services/triage/agent"
	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	analyzeFailureID  string // Stable failure id, generated when empty
	analyzeError      string // Error message to analyze
	analyzeStackTrace string // Optional stack trace
	analyzeLogContext string // Optional surrounding log lines
	analyzeTestName   string // Optional failing test name
	analyzeInput      string // JSON file holding a full failure record
	analyzeJSON       bool   // Emit the full report as JSON
	analyzeReasoning  bool   // Include the reasoning trail in text output
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one failing test and print the verified verdict",
	Long: `Runs the full analysis pipeline for a single failure record:
classification, the bounded reasoning loop over retrieval sources and
tools, answer synthesis, and confidence-band verification.

The failure is given either via flags or as a JSON file:

  triage analyze --error "NullPointerException in pool setup"
  triage analyze --input failure.json --json

Exit code is 0 when the answer was accepted or rescued, 1 on pipeline
errors. Answers routed to human review still exit 0; the verdict names
the queue priority.`,
	RunE: runAnalyzeCommand,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFailureID, "failure-id", "",
		"Stable failure identifier (default: generated)")
	analyzeCmd.Flags().StringVarP(&analyzeError, "error", "e", "",
		"Error message to analyze")
	analyzeCmd.Flags().StringVar(&analyzeStackTrace, "stack-trace", "",
		"Stack trace text")
	analyzeCmd.Flags().StringVar(&analyzeLogContext, "log-context", "",
		"Log lines surrounding the failure")
	analyzeCmd.Flags().StringVar(&analyzeTestName, "test-name", "",
		"Name of the failing test")
	analyzeCmd.Flags().StringVarP(&analyzeInput, "input", "i", "",
		"JSON file holding a failure record (overrides the other flags)")
	analyzeCmd.Flags().BoolVarP(&analyzeJSON, "json", "j", false,
		"Print the full report as JSON")
	analyzeCmd.Flags().BoolVar(&analyzeReasoning, "show-reasoning", false,
		"Include the reasoning trail in text output")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runAnalyzeCommand(cmd *cobra.Command, _ []string) error {
	failure, err := loadFailure()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	report, err := s.agent.Analyze(ctx, failure)
	if err != nil {
		return err
	}

	if analyzeJSON {
		return printJSON(report)
	}
	printReport(failure, report)
	return nil
}

// loadFailure assembles the failure record from --input or the flags.
func loadFailure() (datatypes.FailureRecord, error) {
	var failure datatypes.FailureRecord

	if analyzeInput != "" {
		data, err := os.ReadFile(analyzeInput)
		if err != nil {
			return failure, fmt.Errorf("reading failure record: %w", err)
		}
		if err := json.Unmarshal(data, &failure); err != nil {
			return failure, fmt.Errorf("parsing failure record: %w", err)
		}
	} else {
		failure = datatypes.FailureRecord{
			ID:           analyzeFailureID,
			ErrorMessage: analyzeError,
			StackTrace:   analyzeStackTrace,
			LogContext:   analyzeLogContext,
			TestName:     analyzeTestName,
		}
	}

	if strings.TrimSpace(failure.ErrorMessage) == "" {
		return failure, fmt.Errorf("an error message is required (--error or --input)")
	}
	if failure.ID == "" {
		failure.ID = uuid.NewString()
	}
	return failure, nil
}

// printReport renders the human-readable verdict.
func printReport(failure datatypes.FailureRecord, report *agent.Report) {
	result := report.Result
	answer := result.Answer

	fmt.Printf("Failure:    %s\n", failure.ID)
	fmt.Printf("Category:   %s (classification %.2f)\n",
		answer.ErrorCategory, answer.ClassificationConfidence)
	fmt.Printf("Verdict:    %s (%s, confidence %.2f)\n",
		result.Status, result.ConfidenceLevel, result.Confidence)
	fmt.Printf("Iterations: %d, tools used: %s\n",
		answer.Iterations, joinOrNone(answer.ToolsUsed))
	fmt.Println()
	fmt.Printf("Root cause:\n  %s\n\n", answer.RootCause)
	fmt.Printf("Fix:\n  %s\n", answer.FixRecommendation)

	if len(answer.SimilarCases) > 0 {
		fmt.Println("\nSimilar cases:")
		for _, sc := range answer.SimilarCases {
			line := fmt.Sprintf("  - %s (similarity %.2f)", sc.ID, sc.Similarity)
			if sc.Resolution != "" {
				line += ": " + sc.Resolution
			}
			fmt.Println(line)
		}
	}

	if result.Status == datatypes.StatusHITL {
		fmt.Printf("\nQueued for human review (priority %s)\n", result.Metadata.Priority)
		if result.Metadata.Reason != "" {
			fmt.Printf("Reason: %s\n", result.Metadata.Reason)
		}
	}

	if analyzeReasoning {
		fmt.Println("\nReasoning trail:")
		for _, step := range report.Reasoning {
			fmt.Printf("  [%d] %.2f %s -> %s\n",
				step.Iteration, step.Confidence, step.Thought, step.NextAction)
		}
		for _, action := range report.Actions {
			status := "ok"
			if !action.Success {
				status = "failed: " + action.Error
			}
			fmt.Printf("  ran %s (%dms, %s)\n", action.Tool, action.DurationMS, status)
		}
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
