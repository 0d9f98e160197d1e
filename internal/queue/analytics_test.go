// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyResult(id, action, project string, success bool, d time.Duration) Result {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	status := StatusCompleted
	if !success {
		status = StatusFailed
	}

	return Result{
		Execution: Execution{
			ID:        id,
			Action:    action,
			Project:   project,
			Status:    status,
			StartTime: now,
			EndTime:   now.Add(d),
		},
		Duration: d,
		Success:  success,
	}
}

func TestSnapshotStatus(t *testing.T) {
	assert.Equal(t, StatusIdle, Snapshot{}.Status(), "empty snapshot is idle")

	queued := Snapshot{Pending: []QueuedCommand{{ID: "p"}}}
	assert.Equal(t, StatusQueued, queued.Status())

	running := Snapshot{
		Pending: []QueuedCommand{{ID: "p"}},
		Active:  []Execution{{ID: "a"}},
	}
	assert.Equal(t, StatusBusy, running.Status(), "anything active means running")
}

func TestSuccessRate(t *testing.T) {
	assert.Zero(t, Snapshot{}.SuccessRate(), "empty history yields zero rate")

	snap := Snapshot{History: []Result{
		historyResult("1", "test", "api", true, time.Second),
		historyResult("2", "test", "api", true, time.Second),
		historyResult("3", "lint", "api", false, time.Second),
		historyResult("4", "lint", "web", false, time.Second),
	}}

	assert.InDelta(t, 0.5, snap.SuccessRate(), 0.0001)
}

func TestAverageDuration(t *testing.T) {
	assert.Zero(t, Snapshot{}.AverageDuration())

	snap := Snapshot{History: []Result{
		historyResult("1", "test", "api", true, 1*time.Second),
		historyResult("2", "test", "api", true, 3*time.Second),
	}}

	assert.Equal(t, 2*time.Second, snap.AverageDuration())
}

func TestAverageDuration_SkipsUnfinished(t *testing.T) {
	snap := Snapshot{History: []Result{
		historyResult("1", "test", "api", true, 4*time.Second),
		{
			Execution: Execution{ID: "2", Status: StatusFailed},
			Duration:  time.Hour, // no EndTime set, must be ignored
		},
	}}

	assert.Equal(t, 4*time.Second, snap.AverageDuration())
}

func TestGroupings(t *testing.T) {
	snap := Snapshot{History: []Result{
		historyResult("1", "test", "api", true, time.Second),
		historyResult("2", "lint", "api", false, time.Second),
		historyResult("3", "test", "web", true, time.Second),
	}}

	byProject := snap.ByProject()
	assert.Len(t, byProject["api"], 2)
	assert.Len(t, byProject["web"], 1)

	byAction := snap.ByAction()
	assert.Len(t, byAction["test"], 2)
	assert.Len(t, byAction["lint"], 1)
}

func TestPendingByPriority(t *testing.T) {
	snap := Snapshot{Pending: []QueuedCommand{
		{ID: "h1", Priority: PriorityHigh},
		{ID: "n1", Priority: PriorityNormal},
		{ID: "n2", Priority: PriorityNormal},
		{ID: "l1", Priority: PriorityLow},
	}}

	buckets := snap.PendingByPriority()
	assert.Len(t, buckets[PriorityHigh], 1)
	assert.Len(t, buckets[PriorityNormal], 2)
	assert.Len(t, buckets[PriorityLow], 1)
}

func TestSummarize(t *testing.T) {
	snap := Snapshot{
		Pending: []QueuedCommand{{ID: "p", Priority: PriorityNormal}},
		History: []Result{
			historyResult("1", "test", "api", true, 2*time.Second),
			historyResult("2", "lint", "api", false, 4*time.Second),
		},
	}

	summary := snap.Summarize()

	assert.Equal(t, StatusQueued, summary.Status)
	assert.Equal(t, 1, summary.PendingCount)
	assert.Equal(t, 0, summary.ActiveCount)
	assert.Equal(t, 2, summary.HistoryCount)
	assert.InDelta(t, 0.5, summary.SuccessRate, 0.0001)
	assert.Equal(t, "3s", summary.AverageDuration)

	require.Contains(t, summary.ByProject, "api")
	assert.Equal(t, 2, summary.ByProject["api"])
	assert.Equal(t, 1, summary.ByAction["test"])
	assert.Equal(t, 1, summary.ByAction["lint"])
}

func TestPriorityRoundTrip(t *testing.T) {
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityNormal, ParsePriority("normal"))
	assert.Equal(t, PriorityNormal, ParsePriority("bogus"), "unknown names default to normal")

	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "low", PriorityLow.String())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}
