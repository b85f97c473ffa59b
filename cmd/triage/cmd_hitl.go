// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTriage/pkg/logging"
	"github.com/AleutianAI/AleutianTriage/services/triage/stores/postgres"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	hitlPriority string // Filter pending items by priority
	hitlLimit    int    // Max pending items listed
	hitlReviewer string // Reviewer identity for approve/reject
	hitlNotes    string // Review notes / rejection reason
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var hitlCmd = &cobra.Command{
	Use:   "hitl",
	Short: "Inspect and work the human-review queue",
	Long: `Lists, approves, and rejects answers that verification routed to
human review. Requires postgres.dsn; the in-memory queue used by a
store-less analysis run is not reachable across processes.`,
}

var hitlPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued reviews, most urgent first",
	RunE:  runHITLPending,
}

var hitlApproveCmd = &cobra.Command{
	Use:   "approve [failure-id]",
	Short: "Approve a queued answer",
	Args:  cobra.ExactArgs(1),
	RunE:  runHITLApprove,
}

var hitlRejectCmd = &cobra.Command{
	Use:   "reject [failure-id]",
	Short: "Reject a queued answer",
	Args:  cobra.ExactArgs(1),
	RunE:  runHITLReject,
}

var hitlStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue health: volumes, approval rate, SLA breaches",
	RunE:  runHITLStats,
}

func init() {
	hitlPendingCmd.Flags().StringVarP(&hitlPriority, "priority", "p", "",
		"Filter by priority (high, medium, low)")
	hitlPendingCmd.Flags().IntVarP(&hitlLimit, "limit", "n", 20,
		"Maximum items to list")
	for _, c := range []*cobra.Command{hitlApproveCmd, hitlRejectCmd} {
		c.Flags().StringVarP(&hitlReviewer, "reviewer", "r", "",
			"Reviewer identity recorded with the decision")
		c.Flags().StringVar(&hitlNotes, "notes", "",
			"Review notes (approve) or rejection reason (reject)")
		_ = c.MarkFlagRequired("reviewer")
	}

	hitlCmd.AddCommand(hitlPendingCmd)
	hitlCmd.AddCommand(hitlApproveCmd)
	hitlCmd.AddCommand(hitlRejectCmd)
	hitlCmd.AddCommand(hitlStatsCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// openQueue builds a database-backed queue. The closer shuts down the
// connection pool and the logger.
func openQueue(cmd *cobra.Command) (*postgres.HITLQueue, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Postgres.DSN == "" {
		return nil, nil, fmt.Errorf("postgres.dsn is required for queue commands")
	}

	log := logging.New(logging.Config{
		Level:   parseLevel(cfg.Service.LogLevel),
		LogDir:  cfg.Service.LogDir,
		Service: cfg.Service.Name,
	})
	client, err := postgres.NewClient(cmd.Context(), postgres.Config{
		DSN:     cfg.Postgres.DSN,
		Timeout: cfg.Postgres.Timeout,
	}, log.Slog())
	if err != nil {
		log.Close()
		return nil, nil, err
	}

	queue := postgres.NewHITLQueue(client, cfg.HITL.SLAHours, log.Slog())
	closer := func() {
		if err := client.Close(); err != nil {
			log.Slog().Warn("closing relational store", "error", err)
		}
		log.Close()
	}
	return queue, closer, nil
}

func runHITLPending(cmd *cobra.Command, _ []string) error {
	queue, closer, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closer()

	items, err := queue.Pending(cmd.Context(), hitlPriority, hitlLimit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	now := time.Now()
	for _, item := range items {
		sla := "within SLA"
		if now.After(item.SLADeadline) {
			sla = fmt.Sprintf("PAST SLA by %s", now.Sub(item.SLADeadline).Round(time.Hour))
		}
		fmt.Printf("%-8s %-36s %-16s conf %.2f  %s\n",
			item.Priority, item.FailureID, item.ErrorCategory, item.Confidence, sla)
		if len(item.Concerns) > 0 {
			fmt.Printf("         concerns: %s\n", joinOrNone(item.Concerns))
		}
	}
	return nil
}

func runHITLApprove(cmd *cobra.Command, args []string) error {
	queue, closer, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closer()

	if err := queue.Approve(cmd.Context(), args[0], hitlReviewer, hitlNotes); err != nil {
		return err
	}
	fmt.Printf("Approved %s\n", args[0])
	return nil
}

func runHITLReject(cmd *cobra.Command, args []string) error {
	queue, closer, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closer()

	if err := queue.Reject(cmd.Context(), args[0], hitlReviewer, hitlNotes); err != nil {
		return err
	}
	fmt.Printf("Rejected %s\n", args[0])
	return nil
}

func runHITLStats(cmd *cobra.Command, _ []string) error {
	queue, closer, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closer()

	stats, err := queue.Statistics(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Total queued:     %d\n", stats.TotalQueued)
	fmt.Printf("Approval rate:    %.1f%%\n", stats.ApprovalRate*100)
	fmt.Printf("Avg review hours: %.1f\n", stats.AvgReviewHours)
	fmt.Printf("Past SLA:         %d\n", stats.PastSLA)

	printCountMap("By status", stats.ByStatus)
	printCountMap("By priority", stats.ByPriority)
	return nil
}

func printCountMap(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-10s %d\n", k, counts[k])
	}
}
