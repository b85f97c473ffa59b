// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
)

// HITL item status lifecycle.
const (
	HITLStatusPending  = "pending"
	HITLStatusApproved = "approved"
	HITLStatusRejected = "rejected"
)

// HITL priorities.
const (
	HITLPriorityHigh   = "high"
	HITLPriorityMedium = "medium"
	HITLPriorityLow    = "low"
)

// concernThreshold marks component scores worth a reviewer's attention.
const concernThreshold = 0.70

// ErrItemNotFound is returned by Approve/Reject for unknown ids.
var ErrItemNotFound = errors.New("hitl: item not found")

// HITLItem is one queued review.
type HITLItem struct {
	ID            int64                      `json:"id"`
	FailureID     string                     `json:"failure_id"`
	ErrorCategory string                     `json:"error_category"`
	ErrorMessage  string                     `json:"error_message"`
	Answer        datatypes.Answer           `json:"answer"`
	Confidence    float64                    `json:"confidence"`
	Components    datatypes.ComponentScores  `json:"components"`
	Concerns      []string                   `json:"concerns"`
	Priority      string                     `json:"priority"`
	Status        string                     `json:"status"`
	CreatedAt     time.Time                  `json:"created_at"`
	SLADeadline   time.Time                  `json:"sla_deadline"`
	Reviewer      string                     `json:"reviewer,omitempty"`
	ReviewNotes   string                     `json:"review_notes,omitempty"`
	ReviewedAt    *time.Time                 `json:"reviewed_at,omitempty"`
}

// HITLStatistics summarizes queue health.
type HITLStatistics struct {
	TotalQueued    int            `json:"total_queued"`
	ByStatus       map[string]int `json:"by_status"`
	ByPriority     map[string]int `json:"by_priority"`
	ApprovalRate   float64        `json:"approval_rate"`
	AvgReviewHours float64        `json:"avg_review_hours"`
	PastSLA        int            `json:"past_sla"`
}

// HITLQueue is the human-review queue. Inserts are idempotent on
// failure_id: re-queueing an already pending failure updates its
// confidence, concerns, and priority instead of adding a row.
//
// When constructed without a database the queue runs in memory, which
// keeps single-process deployments and tests working without Postgres.
//
// # Thread Safety
//
// Safe for concurrent use.
type HITLQueue struct {
	db     *sql.DB
	sla    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	nextID int64
	items  map[string]*HITLItem // keyed by failure_id
}

// NewHITLQueue builds a queue backed by the given client. A nil client
// selects the in-memory fallback.
func NewHITLQueue(client *Client, slaHours int, logger *slog.Logger) *HITLQueue {
	if slaHours <= 0 {
		slaHours = 24
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &HITLQueue{
		sla:    time.Duration(slaHours) * time.Hour,
		logger: logger,
		items:  make(map[string]*HITLItem),
	}
	if client != nil {
		q.db = client.db
	} else {
		logger.Warn("HITL queue running in memory, reviews will not survive restarts")
	}
	return q
}

// EnqueueRequest is the input to Enqueue.
type EnqueueRequest struct {
	FailureID    string
	ErrorMessage string
	Answer       datatypes.Answer
	Confidence   float64
	Components   datatypes.ComponentScores
	Priority     string
}

// Enqueue upserts a review item and returns it with id, SLA deadline,
// and extracted concerns populated.
func (q *HITLQueue) Enqueue(ctx context.Context, req EnqueueRequest) (*HITLItem, error) {
	ctx, span := tracer.Start(ctx, "HITLEnqueue")
	defer span.End()

	if req.FailureID == "" {
		return nil, errors.New("hitl: failure id required")
	}
	if req.Priority == "" {
		req.Priority = HITLPriorityMedium
	}

	item := &HITLItem{
		FailureID:     req.FailureID,
		ErrorCategory: req.Answer.ErrorCategory,
		ErrorMessage:  req.ErrorMessage,
		Answer:        req.Answer,
		Confidence:    req.Confidence,
		Components:    req.Components,
		Concerns:      identifyConcerns(req.Components),
		Priority:      req.Priority,
		Status:        HITLStatusPending,
		CreatedAt:     time.Now().UTC(),
		SLADeadline:   time.Now().UTC().Add(q.sla),
	}

	var err error
	if q.db != nil {
		err = q.enqueueDB(ctx, item)
	} else {
		q.enqueueMemory(item)
	}
	if err != nil {
		return nil, err
	}

	q.logger.Info("queued for human review",
		"failure_id", item.FailureID,
		"confidence", item.Confidence,
		"priority", item.Priority,
		"concerns", len(item.Concerns))
	return item, nil
}

func (q *HITLQueue) enqueueDB(ctx context.Context, item *HITLItem) error {
	answerJSON, err := json.Marshal(item.Answer)
	if err != nil {
		return fmt.Errorf("hitl: encoding answer: %w", err)
	}
	componentsJSON, err := json.Marshal(item.Components)
	if err != nil {
		return fmt.Errorf("hitl: encoding components: %w", err)
	}
	concernsJSON, err := json.Marshal(item.Concerns)
	if err != nil {
		return fmt.Errorf("hitl: encoding concerns: %w", err)
	}

	row := q.db.QueryRowContext(ctx, `
		INSERT INTO hitl_queue (
			failure_id, error_category, error_message, answer,
			confidence, components, concerns, priority, status, sla_deadline
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (failure_id) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			components = EXCLUDED.components,
			concerns   = EXCLUDED.concerns,
			priority   = EXCLUDED.priority
		RETURNING id, created_at`,
		item.FailureID, item.ErrorCategory, item.ErrorMessage, answerJSON,
		item.Confidence, componentsJSON, concernsJSON, item.Priority,
		item.Status, item.SLADeadline)
	if err := row.Scan(&item.ID, &item.CreatedAt); err != nil {
		return fmt.Errorf("hitl: upsert: %w", err)
	}
	return nil
}

func (q *HITLQueue) enqueueMemory(item *HITLItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.items[item.FailureID]; ok {
		existing.Confidence = item.Confidence
		existing.Components = item.Components
		existing.Concerns = item.Concerns
		existing.Priority = item.Priority
		*item = *existing
		return
	}
	q.nextID++
	item.ID = q.nextID
	q.items[item.FailureID] = item
}

// Approve marks an item approved with reviewer attribution.
func (q *HITLQueue) Approve(ctx context.Context, failureID, reviewer, notes string) error {
	return q.review(ctx, failureID, reviewer, notes, HITLStatusApproved)
}

// Reject marks an item rejected with the reviewer's reason.
func (q *HITLQueue) Reject(ctx context.Context, failureID, reviewer, reason string) error {
	return q.review(ctx, failureID, reviewer, reason, HITLStatusRejected)
}

func (q *HITLQueue) review(ctx context.Context, failureID, reviewer, notes, status string) error {
	now := time.Now().UTC()
	if q.db != nil {
		result, err := q.db.ExecContext(ctx, `
			UPDATE hitl_queue
			SET status = $1, reviewer = $2, review_notes = $3, reviewed_at = $4
			WHERE failure_id = $5 AND status = $6`,
			status, reviewer, notes, now, failureID, HITLStatusPending)
		if err != nil {
			return fmt.Errorf("hitl: review update: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("hitl: review update: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrItemNotFound, failureID)
		}
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[failureID]
	if !ok || item.Status != HITLStatusPending {
		return fmt.Errorf("%w: %s", ErrItemNotFound, failureID)
	}
	item.Status = status
	item.Reviewer = reviewer
	item.ReviewNotes = notes
	item.ReviewedAt = &now
	return nil
}

// Pending lists pending items, optionally filtered by priority,
// oldest first.
func (q *HITLQueue) Pending(ctx context.Context, priority string, limit int) ([]*HITLItem, error) {
	if limit <= 0 {
		limit = 50
	}
	if q.db != nil {
		return q.pendingDB(ctx, priority, limit)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*HITLItem
	for _, item := range q.items {
		if item.Status != HITLStatusPending {
			continue
		}
		if priority != "" && item.Priority != priority {
			continue
		}
		copied := *item
		out = append(out, &copied)
	}
	sortItemsByCreation(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *HITLQueue) pendingDB(ctx context.Context, priority string, limit int) ([]*HITLItem, error) {
	query := `
		SELECT id, failure_id, error_category, error_message, answer,
		       confidence, components, concerns, priority, status,
		       created_at, sla_deadline
		FROM hitl_queue
		WHERE status = $1`
	args := []any{HITLStatusPending}
	if priority != "" {
		args = append(args, priority)
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", len(args))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hitl: pending query: %w", err)
	}
	defer rows.Close()

	var out []*HITLItem
	for rows.Next() {
		var item HITLItem
		var answerJSON, componentsJSON, concernsJSON []byte
		if err := rows.Scan(&item.ID, &item.FailureID, &item.ErrorCategory,
			&item.ErrorMessage, &answerJSON, &item.Confidence, &componentsJSON,
			&concernsJSON, &item.Priority, &item.Status, &item.CreatedAt,
			&item.SLADeadline); err != nil {
			return nil, fmt.Errorf("hitl: pending scan: %w", err)
		}
		// Decode failures leave zero values; a malformed row should
		// not hide the rest of the queue.
		_ = json.Unmarshal(answerJSON, &item.Answer)
		_ = json.Unmarshal(componentsJSON, &item.Components)
		_ = json.Unmarshal(concernsJSON, &item.Concerns)
		out = append(out, &item)
	}
	return out, rows.Err()
}

// Statistics summarizes the queue for dashboards and alerts.
func (q *HITLQueue) Statistics(ctx context.Context) (*HITLStatistics, error) {
	items, err := q.allItems(ctx)
	if err != nil {
		return nil, err
	}

	stats := &HITLStatistics{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}
	now := time.Now().UTC()
	reviewed := 0
	approved := 0
	var reviewHours float64
	for _, item := range items {
		stats.TotalQueued++
		stats.ByStatus[item.Status]++
		stats.ByPriority[item.Priority]++
		if item.Status == HITLStatusPending && now.After(item.SLADeadline) {
			stats.PastSLA++
		}
		if item.ReviewedAt != nil {
			reviewed++
			reviewHours += item.ReviewedAt.Sub(item.CreatedAt).Hours()
			if item.Status == HITLStatusApproved {
				approved++
			}
		}
	}
	if reviewed > 0 {
		stats.ApprovalRate = float64(approved) / float64(reviewed)
		stats.AvgReviewHours = reviewHours / float64(reviewed)
	}
	return stats, nil
}

func (q *HITLQueue) allItems(ctx context.Context) ([]*HITLItem, error) {
	if q.db == nil {
		q.mu.Lock()
		defer q.mu.Unlock()
		out := make([]*HITLItem, 0, len(q.items))
		for _, item := range q.items {
			copied := *item
			out = append(out, &copied)
		}
		return out, nil
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT status, priority, created_at, sla_deadline, reviewed_at
		FROM hitl_queue`)
	if err != nil {
		return nil, fmt.Errorf("hitl: statistics query: %w", err)
	}
	defer rows.Close()

	var out []*HITLItem
	for rows.Next() {
		var item HITLItem
		var reviewedAt sql.NullTime
		if err := rows.Scan(&item.Status, &item.Priority, &item.CreatedAt,
			&item.SLADeadline, &reviewedAt); err != nil {
			return nil, fmt.Errorf("hitl: statistics scan: %w", err)
		}
		if reviewedAt.Valid {
			item.ReviewedAt = &reviewedAt.Time
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

// identifyConcerns lists component scores below the review threshold.
func identifyConcerns(components datatypes.ComponentScores) []string {
	named := []struct {
		name  string
		score float64
	}{
		{"relevance", components.Relevance},
		{"consistency", components.Consistency},
		{"grounding", components.Grounding},
		{"completeness", components.Completeness},
		{"classification", components.Classification},
	}
	var concerns []string
	for _, c := range named {
		if c.score < concernThreshold {
			concerns = append(concerns, fmt.Sprintf("%s=%.2f (below %.2f)", c.name, c.score, concernThreshold))
		}
	}
	return concerns
}

func sortItemsByCreation(items []*HITLItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
