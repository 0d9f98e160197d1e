// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MaxHistory bounds the result history. Insertion beyond the bound evicts
// the oldest entry first.
const MaxHistory = 50

// ExecutionQueue owns the pending command list, the active execution set and
// the bounded result history. All mutation goes through its methods; callers
// never touch the underlying collections directly.
//
// The zero value is not usable, use New.
type ExecutionQueue struct {
	mu      sync.Mutex
	pending []QueuedCommand
	active  map[string]*Execution
	history []Result
	wake    chan struct{}
}

// New creates an empty ExecutionQueue.
func New() *ExecutionQueue {
	return &ExecutionQueue{
		active: make(map[string]*Execution),
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue inserts a command into the pending list and restores priority
// order: descending priority, ties broken by ascending enqueue time.
// Duplicate ids are permitted here; Start reconciles them.
func (q *ExecutionQueue) Enqueue(cmd QueuedCommand) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cmd.EnqueuedAt.IsZero() {
		cmd.EnqueuedAt = time.Now()
	}

	q.pending = append(q.pending, cmd)
	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].Priority != q.pending[j].Priority {
			return q.pending[i].Priority > q.pending[j].Priority
		}

		return q.pending[i].EnqueuedAt.Before(q.pending[j].EnqueuedAt)
	})

	q.notify()
}

// Dequeue removes and returns the highest-priority pending command.
// The second return value is false when the queue is empty.
func (q *ExecutionQueue) Dequeue() (QueuedCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return QueuedCommand{}, false
	}

	cmd := q.pending[0]
	q.pending = q.pending[1:]

	// The wake channel coalesces signals, so a token is re-armed while a
	// backlog remains; every parked worker gets its own turn to dequeue.
	if len(q.pending) > 0 {
		q.notify()
	}

	return cmd, true
}

// Start registers an execution in the active set, removing any pending entry
// with the same id. A duplicate start for an already-active id silently
// replaces the existing record (last-writer-wins).
func (q *ExecutionQueue) Start(exec *Execution) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removePendingLocked(exec.ID)
	q.active[exec.ID] = exec
}

// UpdateProgress clamps progress to [0, 100] and applies it to the active
// execution with the given id, appending chunk to its output when non-empty.
// Updates for unknown or already-terminal ids are silently ignored; this
// tolerates races between late progress events and completion.
func (q *ExecutionQueue) UpdateProgress(id string, progress int, chunk string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	exec, ok := q.active[id]
	if !ok {
		return
	}

	exec.Progress = min(max(progress, 0), 100)

	if chunk != "" {
		exec.Output = append(exec.Output, chunk)
	}
}

// AppendOutput appends a chunk to the active execution's output without
// touching its progress. Unknown or terminal ids are silently ignored.
func (q *ExecutionQueue) AppendOutput(id, chunk string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	exec, ok := q.active[id]
	if !ok || chunk == "" {
		return
	}

	exec.Output = append(exec.Output, chunk)
}

// Finish applies terminal fields to the active execution with the given id
// and routes it through the single terminal transition, all under the queue
// lock. It returns the recorded result, or false if the id is not active
// (redundant terminal signals are ignored).
func (q *ExecutionQueue) Finish(id string, status Status, errText string, duration time.Duration, success bool) (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	exec, ok := q.active[id]
	if !ok {
		return Result{}, false
	}

	now := time.Now()
	exec.Status = status
	exec.EndTime = now
	exec.Error = errText

	if success {
		exec.Progress = 100
	}

	if duration <= 0 {
		duration = now.Sub(exec.StartTime)
	}

	res := Result{
		Execution: *exec,
		Duration:  duration,
		Success:   success,
	}
	res.Execution.Output = append([]string(nil), exec.Output...)

	delete(q.active, id)
	q.appendHistoryLocked(res)
	q.notify()

	return res, true
}

// Complete is the single terminal transition. It evicts the id from the
// active set and appends the result to history, truncating from the front
// once MaxHistory is exceeded. Redundant completion signals for an id that
// is no longer active are ignored, so terminal resolution is idempotent.
func (q *ExecutionQueue) Complete(id string, res Result) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.active[id]; !ok {
		return false
	}

	delete(q.active, id)
	q.appendHistoryLocked(res)
	q.notify()

	return true
}

// Cancel synthesizes a cancelled result for an active execution and routes it
// through Complete. It returns false if the id is not active.
func (q *ExecutionQueue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	exec, ok := q.active[id]
	if !ok {
		return false
	}

	q.completeCancelledLocked(exec)
	q.notify()

	return true
}

// CancelAll cancels every active execution and clears the pending queue.
// Pending commands each become a cancelled Result in history. It returns the
// number of executions and pending commands cancelled.
func (q *ExecutionQueue) CancelAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0

	for _, exec := range q.active {
		q.completeCancelledLocked(exec)
		n++
	}

	now := time.Now()

	for _, cmd := range q.pending {
		q.appendHistoryLocked(Result{
			Execution: Execution{
				ID:        cmd.ID,
				Action:    cmd.Action,
				Project:   cmd.Project,
				Status:    StatusCancelled,
				Priority:  cmd.Priority,
				StartTime: now,
				EndTime:   now,
			},
			Success: false,
		})
		n++
	}

	q.pending = nil
	q.notify()

	return n
}

// Retry looks up a non-success result in history and re-enqueues it as a new
// command with a derived id and priority reset to normal. It returns the new
// command, or false if the original succeeded or is absent.
func (q *ExecutionQueue) Retry(id string) (QueuedCommand, bool) {
	q.mu.Lock()

	var orig *Result

	for i := range q.history {
		if q.history[i].Execution.ID == id {
			orig = &q.history[i]
			break
		}
	}

	if orig == nil || orig.Success {
		q.mu.Unlock()
		return QueuedCommand{}, false
	}

	now := time.Now()
	cmd := QueuedCommand{
		ID:         fmt.Sprintf("%s-retry-%d", id, now.UnixMilli()),
		Action:     orig.Execution.Action,
		Project:    orig.Execution.Project,
		Priority:   PriorityNormal,
		EnqueuedAt: now,
	}
	q.mu.Unlock()

	q.Enqueue(cmd)

	return cmd, true
}

// IsActive reports whether the id currently has a live execution.
func (q *ExecutionQueue) IsActive(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.active[id]

	return ok
}

// PendingLen returns the number of pending commands.
func (q *ExecutionQueue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// ActiveLen returns the number of active executions.
func (q *ExecutionQueue) ActiveLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.active)
}

// Wake returns a channel that receives a signal after queue mutations that
// may unblock a dispatcher: enqueue, terminal completion, and dequeue while
// further commands remain pending.
func (q *ExecutionQueue) Wake() <-chan struct{} {
	return q.wake
}

// Snapshot returns an immutable copy of the queue state for analytics and
// display. Derived metrics are computed on demand over the snapshot rather
// than cached inside the queue.
func (q *ExecutionQueue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		Pending: make([]QueuedCommand, len(q.pending)),
		Active:  make([]Execution, 0, len(q.active)),
		History: make([]Result, len(q.history)),
		TakenAt: time.Now(),
	}

	copy(snap.Pending, q.pending)
	copy(snap.History, q.history)

	for _, exec := range q.active {
		e := *exec
		e.Output = append([]string(nil), exec.Output...)
		snap.Active = append(snap.Active, e)
	}

	sort.Slice(snap.Active, func(i, j int) bool {
		return snap.Active[i].StartTime.Before(snap.Active[j].StartTime)
	})

	return snap
}

func (q *ExecutionQueue) completeCancelledLocked(exec *Execution) {
	now := time.Now()
	exec.Status = StatusCancelled
	exec.EndTime = now

	res := Result{
		Execution: *exec,
		Duration:  now.Sub(exec.StartTime),
		Success:   false,
	}

	delete(q.active, exec.ID)
	q.appendHistoryLocked(res)
}

func (q *ExecutionQueue) appendHistoryLocked(res Result) {
	q.history = append(q.history, res)

	if len(q.history) > MaxHistory {
		q.history = q.history[len(q.history)-MaxHistory:]
	}
}

func (q *ExecutionQueue) removePendingLocked(id string) {
	kept := q.pending[:0]

	for _, cmd := range q.pending {
		if cmd.ID != id {
			kept = append(kept, cmd)
		}
	}

	q.pending = kept
}

func (q *ExecutionQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
