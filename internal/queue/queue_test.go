// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package queue

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmdAt(id string, priority Priority, offset time.Duration) QueuedCommand {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	return QueuedCommand{
		ID:         id,
		Action:     "test",
		Project:    "api",
		Priority:   priority,
		EnqueuedAt: base.Add(offset),
	}
}

func TestEnqueue_PriorityOrder(t *testing.T) {
	q := New()

	q.Enqueue(cmdAt("low", PriorityLow, 1*time.Second))
	q.Enqueue(cmdAt("normal", PriorityNormal, 2*time.Second))
	q.Enqueue(cmdAt("high", PriorityHigh, 3*time.Second))

	var got []string

	for {
		cmd, ok := q.Dequeue()
		if !ok {
			break
		}

		got = append(got, cmd.ID)
	}

	assert.Equal(t, []string{"high", "normal", "low"}, got, "expected descending priority order")
}

func TestEnqueue_TieBreakByEnqueueTime(t *testing.T) {
	q := New()

	q.Enqueue(cmdAt("a", PriorityNormal, 1*time.Second))
	q.Enqueue(cmdAt("b", PriorityHigh, 2*time.Second))
	q.Enqueue(cmdAt("c", PriorityNormal, 0))

	first, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "b", first.ID, "high priority dequeues first regardless of age")

	second, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "c", second.ID, "earlier enqueue time wins within a priority")

	third, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", third.ID)
}

func TestDequeue_Empty(t *testing.T) {
	q := New()

	_, ok := q.Dequeue()
	assert.False(t, ok, "expected no command from an empty queue")
}

func TestStart_RemovesPendingAndReplacesActive(t *testing.T) {
	q := New()

	q.Enqueue(cmdAt("x", PriorityNormal, 0))

	first := NewExecution(cmdAt("x", PriorityNormal, 0))
	q.Start(first)

	assert.Equal(t, 0, q.PendingLen(), "starting an id removes its pending entry")
	assert.True(t, q.IsActive("x"))

	// Last writer wins on a duplicate start.
	second := NewExecution(cmdAt("x", PriorityHigh, 0))
	q.Start(second)

	assert.Equal(t, 1, q.ActiveLen(), "duplicate start must not grow the active set")

	snap := q.Snapshot()
	require.Len(t, snap.Active, 1)
	assert.Equal(t, PriorityHigh, snap.Active[0].Priority, "expected the later record to win")
}

func TestUpdateProgress_Clamps(t *testing.T) {
	q := New()

	exec := NewExecution(cmdAt("p", PriorityNormal, 0))
	q.Start(exec)

	q.UpdateProgress("p", -10, "")
	assert.Equal(t, 0, q.Snapshot().Active[0].Progress, "negative progress clamps to 0")

	q.UpdateProgress("p", 150, "")
	assert.Equal(t, 100, q.Snapshot().Active[0].Progress, "excess progress clamps to 100")

	q.UpdateProgress("p", 42, "line one")

	snap := q.Snapshot()
	assert.Equal(t, 42, snap.Active[0].Progress)
	assert.Equal(t, []string{"line one"}, snap.Active[0].Output)
}

func TestUpdateProgress_UnknownIDIsNoOp(t *testing.T) {
	q := New()

	q.UpdateProgress("ghost", 50, "never recorded")

	snap := q.Snapshot()
	assert.Empty(t, snap.Active)
	assert.Empty(t, snap.History)
}

func TestFinish_RecordsResult(t *testing.T) {
	q := New()

	exec := NewExecution(cmdAt("ok", PriorityNormal, 0))
	q.Start(exec)
	q.AppendOutput("ok", "hello")

	res, ok := q.Finish("ok", StatusCompleted, "", 250*time.Millisecond, true)
	require.True(t, ok)

	assert.Equal(t, StatusCompleted, res.Execution.Status)
	assert.Equal(t, 100, res.Execution.Progress, "success forces progress to 100")
	assert.Equal(t, 250*time.Millisecond, res.Duration)
	assert.Equal(t, []string{"hello"}, res.Execution.Output)
	assert.False(t, q.IsActive("ok"))

	snap := q.Snapshot()
	require.Len(t, snap.History, 1)
	assert.True(t, snap.History[0].Success)
}

func TestFinish_RedundantSignalIgnored(t *testing.T) {
	q := New()

	exec := NewExecution(cmdAt("once", PriorityNormal, 0))
	q.Start(exec)

	_, ok := q.Finish("once", StatusFailed, "boom", time.Second, false)
	require.True(t, ok)

	// A second terminal signal for the same id must not append history.
	_, ok = q.Finish("once", StatusCompleted, "", time.Second, true)
	assert.False(t, ok, "redundant completion should be rejected")

	snap := q.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, StatusFailed, snap.History[0].Execution.Status, "first terminal state sticks")
}

func TestUpdateProgress_AfterTerminalDoesNotReinstate(t *testing.T) {
	q := New()

	q.Start(NewExecution(cmdAt("done", PriorityNormal, 0)))
	_, ok := q.Finish("done", StatusCompleted, "", time.Second, true)
	require.True(t, ok)

	q.UpdateProgress("done", 50, "late chunk")

	assert.False(t, q.IsActive("done"), "late progress must not reinstate the id")

	snap := q.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, 100, snap.History[0].Execution.Progress)
	assert.Empty(t, snap.History[0].Execution.Output)
}

func TestHistory_BoundedEviction(t *testing.T) {
	q := New()

	for i := 0; i < MaxHistory+5; i++ {
		id := fmt.Sprintf("cmd-%03d", i)
		q.Start(NewExecution(cmdAt(id, PriorityNormal, 0)))
		_, ok := q.Finish(id, StatusCompleted, "", time.Millisecond, true)
		require.True(t, ok)
	}

	snap := q.Snapshot()
	require.Len(t, snap.History, MaxHistory, "history must stay bounded")

	assert.Equal(t, "cmd-005", snap.History[0].Execution.ID, "oldest entries evicted first")
	assert.Equal(t, fmt.Sprintf("cmd-%03d", MaxHistory+4), snap.History[MaxHistory-1].Execution.ID)
}

func TestCancel_ActiveExecution(t *testing.T) {
	q := New()

	q.Start(NewExecution(cmdAt("c", PriorityNormal, 0)))

	assert.True(t, q.Cancel("c"))
	assert.False(t, q.Cancel("c"), "second cancel for same id is a no-op")

	snap := q.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, StatusCancelled, snap.History[0].Execution.Status)
	assert.False(t, snap.History[0].Success)
}

func TestCancelAll_ActiveAndPending(t *testing.T) {
	q := New()

	q.Start(NewExecution(cmdAt("active-1", PriorityNormal, 0)))
	q.Enqueue(cmdAt("pending-1", PriorityNormal, 0))
	q.Enqueue(cmdAt("pending-2", PriorityLow, 0))

	n := q.CancelAll()
	assert.Equal(t, 3, n)

	assert.Equal(t, 0, q.PendingLen())
	assert.Equal(t, 0, q.ActiveLen())

	snap := q.Snapshot()
	require.Len(t, snap.History, 3)

	for _, res := range snap.History {
		assert.Equal(t, StatusCancelled, res.Execution.Status)
		assert.False(t, res.Success)
	}
}

func TestRetry_FailedResult(t *testing.T) {
	q := New()

	q.Start(NewExecution(cmdAt("orig", PriorityHigh, 0)))
	_, ok := q.Finish("orig", StatusFailed, "exit 1", time.Second, false)
	require.True(t, ok)

	cmd, ok := q.Retry("orig")
	require.True(t, ok)

	assert.True(t, strings.HasPrefix(cmd.ID, "orig-retry-"), "retry id is derived from the original")
	assert.Equal(t, "test", cmd.Action)
	assert.Equal(t, "api", cmd.Project)
	assert.Equal(t, PriorityNormal, cmd.Priority, "retry resets priority to normal")
	assert.Equal(t, 1, q.PendingLen())
}

func TestRetry_SuccessfulOrUnknownRejected(t *testing.T) {
	q := New()

	q.Start(NewExecution(cmdAt("won", PriorityNormal, 0)))
	_, ok := q.Finish("won", StatusCompleted, "", time.Second, true)
	require.True(t, ok)

	_, ok = q.Retry("won")
	assert.False(t, ok, "successful results are not retryable")

	_, ok = q.Retry("never-existed")
	assert.False(t, ok)
}

func TestWake_SignalsOnEnqueue(t *testing.T) {
	q := New()

	q.Enqueue(cmdAt("w", PriorityNormal, 0))

	select {
	case <-q.Wake():
	case <-time.After(time.Second):
		t.Fatal("expected a wake signal after enqueue")
	}
}

func TestWake_RearmedWhileBacklogRemains(t *testing.T) {
	q := New()

	q.Enqueue(cmdAt("a", PriorityNormal, 0))
	q.Enqueue(cmdAt("b", PriorityNormal, time.Second))

	// Both enqueues coalesce into a single buffered signal.
	<-q.Wake()

	_, ok := q.Dequeue()
	require.True(t, ok)

	select {
	case <-q.Wake():
	case <-time.After(time.Second):
		t.Fatal("expected a wake signal while a command remains pending")
	}

	_, ok = q.Dequeue()
	require.True(t, ok)

	select {
	case <-q.Wake():
		t.Fatal("unexpected wake signal from an emptied queue")
	default:
	}
}

func TestSnapshot_IsolatedFromMutation(t *testing.T) {
	q := New()

	exec := NewExecution(cmdAt("iso", PriorityNormal, 0))
	q.Start(exec)
	q.AppendOutput("iso", "before")

	snap := q.Snapshot()

	q.AppendOutput("iso", "after")
	q.UpdateProgress("iso", 70, "")

	require.Len(t, snap.Active, 1)
	assert.Equal(t, []string{"before"}, snap.Active[0].Output, "snapshot must not see later mutations")
	assert.Equal(t, 0, snap.Active[0].Progress)
}
