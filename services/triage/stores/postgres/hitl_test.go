// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/services/triage/datatypes"
)

func testRequest(failureID string, confidence float64) EnqueueRequest {
	return EnqueueRequest{
		FailureID:    failureID,
		ErrorMessage: "psycopg2.OperationalError: connection timeout",
		Answer: datatypes.Answer{
			ErrorCategory:     "INFRA_ERROR",
			RootCause:         "connection pool exhausted",
			FixRecommendation: "check connection pool settings",
		},
		Confidence: confidence,
		Components: datatypes.ComponentScores{
			Relevance:      0.80,
			Consistency:    0.75,
			Grounding:      0.60,
			Completeness:   0.50,
			Classification: 0.78,
		},
		Priority: HITLPriorityHigh,
	}
}

func TestEnqueueUpsert(t *testing.T) {
	q := NewHITLQueue(nil, 24, nil)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, testRequest("bld-1", 0.70))
	require.NoError(t, err)
	assert.Equal(t, HITLStatusPending, first.Status)
	assert.False(t, first.SLADeadline.IsZero())

	second, err := q.Enqueue(ctx, testRequest("bld-1", 0.74))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-queueing the same failure must not create a new item")
	assert.Equal(t, 0.74, second.Confidence)

	pending, err := q.Pending(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEnqueueRequiresFailureID(t *testing.T) {
	q := NewHITLQueue(nil, 24, nil)
	_, err := q.Enqueue(context.Background(), EnqueueRequest{})
	assert.Error(t, err)
}

func TestConcernsExtracted(t *testing.T) {
	q := NewHITLQueue(nil, 24, nil)
	item, err := q.Enqueue(context.Background(), testRequest("bld-2", 0.68))
	require.NoError(t, err)

	// grounding 0.60, completeness 0.50 are below the 0.70 threshold
	assert.Len(t, item.Concerns, 2)
	assert.Contains(t, item.Concerns[0], "grounding")
	assert.Contains(t, item.Concerns[1], "completeness")
}

func TestApproveAndReject(t *testing.T) {
	q := NewHITLQueue(nil, 24, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testRequest("bld-3", 0.7))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testRequest("bld-4", 0.7))
	require.NoError(t, err)

	require.NoError(t, q.Approve(ctx, "bld-3", "alice", "fix confirmed"))
	require.NoError(t, q.Reject(ctx, "bld-4", "bob", "wrong root cause"))

	pending, err := q.Pending(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Already reviewed items cannot be reviewed again.
	err = q.Approve(ctx, "bld-3", "alice", "")
	assert.True(t, errors.Is(err, ErrItemNotFound))

	err = q.Approve(ctx, "bld-unknown", "alice", "")
	assert.True(t, errors.Is(err, ErrItemNotFound))
}

func TestPendingPriorityFilter(t *testing.T) {
	q := NewHITLQueue(nil, 24, nil)
	ctx := context.Background()

	high := testRequest("bld-high", 0.7)
	medium := testRequest("bld-medium", 0.7)
	medium.Priority = HITLPriorityMedium

	_, err := q.Enqueue(ctx, high)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, medium)
	require.NoError(t, err)

	pending, err := q.Pending(ctx, HITLPriorityHigh, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "bld-high", pending[0].FailureID)
}

func TestStatistics(t *testing.T) {
	q := NewHITLQueue(nil, 24, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, testRequest(id, 0.7))
		require.NoError(t, err)
	}
	require.NoError(t, q.Approve(ctx, "a", "alice", ""))
	require.NoError(t, q.Reject(ctx, "b", "bob", "incomplete"))

	stats, err := q.Statistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalQueued)
	assert.Equal(t, 1, stats.ByStatus[HITLStatusPending])
	assert.Equal(t, 1, stats.ByStatus[HITLStatusApproved])
	assert.Equal(t, 1, stats.ByStatus[HITLStatusRejected])
	assert.InDelta(t, 0.5, stats.ApprovalRate, 1e-9)
	assert.Equal(t, 0, stats.PastSLA)
}
