// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package queue

import (
	"time"
)

// OverallStatus summarises the queue as a whole.
type OverallStatus string

const (
	// StatusIdle means there is nothing active and nothing pending.
	StatusIdle OverallStatus = "idle"
	// StatusBusy means at least one execution is active.
	StatusBusy OverallStatus = "running"
	// StatusQueued means nothing is active but commands are pending.
	StatusQueued OverallStatus = "queued"
)

// Snapshot is an immutable copy of the queue state at a point in time.
// All analytics are pure functions over a Snapshot; nothing is cached in the
// queue itself.
type Snapshot struct {
	Pending []QueuedCommand `json:"pending"`
	Active  []Execution     `json:"active"`
	History []Result        `json:"history"`
	TakenAt time.Time       `json:"takenAt"`
}

// Status derives the overall queue status: idle when the active set and
// pending queue are both empty, running when anything is active, queued
// otherwise.
func (s Snapshot) Status() OverallStatus {
	switch {
	case len(s.Active) > 0:
		return StatusBusy
	case len(s.Pending) > 0:
		return StatusQueued
	default:
		return StatusIdle
	}
}

// SuccessRate returns the fraction of history entries that succeeded,
// or 0 for an empty history.
func (s Snapshot) SuccessRate() float64 {
	if len(s.History) == 0 {
		return 0
	}

	successes := 0

	for _, res := range s.History {
		if res.Success {
			successes++
		}
	}

	return float64(successes) / float64(len(s.History))
}

// AverageDuration returns the mean execution time over history entries with
// an end time set, or 0 when there are none.
func (s Snapshot) AverageDuration() time.Duration {
	var total time.Duration

	n := 0

	for _, res := range s.History {
		if res.Execution.EndTime.IsZero() {
			continue
		}

		total += res.Duration
		n++
	}

	if n == 0 {
		return 0
	}

	return total / time.Duration(n)
}

// ByProject groups history results by project name.
func (s Snapshot) ByProject() map[string][]Result {
	groups := make(map[string][]Result)

	for _, res := range s.History {
		groups[res.Execution.Project] = append(groups[res.Execution.Project], res)
	}

	return groups
}

// ByAction groups history results by action name.
func (s Snapshot) ByAction() map[string][]Result {
	groups := make(map[string][]Result)

	for _, res := range s.History {
		groups[res.Execution.Action] = append(groups[res.Execution.Action], res)
	}

	return groups
}

// PendingByPriority partitions the pending queue into priority buckets.
func (s Snapshot) PendingByPriority() map[Priority][]QueuedCommand {
	buckets := make(map[Priority][]QueuedCommand)

	for _, cmd := range s.Pending {
		buckets[cmd.Priority] = append(buckets[cmd.Priority], cmd)
	}

	return buckets
}

// Summary is a flattened analytics view suitable for JSON display.
type Summary struct {
	Status          OverallStatus  `json:"status"`
	PendingCount    int            `json:"pendingCount"`
	ActiveCount     int            `json:"activeCount"`
	HistoryCount    int            `json:"historyCount"`
	SuccessRate     float64        `json:"successRate"`
	AverageDuration string         `json:"averageDuration"`
	ByProject       map[string]int `json:"byProject"`
	ByAction        map[string]int `json:"byAction"`
}

// Summarize computes the Summary for the snapshot.
func (s Snapshot) Summarize() Summary {
	byProject := make(map[string]int)
	for project, results := range s.ByProject() {
		byProject[project] = len(results)
	}

	byAction := make(map[string]int)
	for action, results := range s.ByAction() {
		byAction[action] = len(results)
	}

	return Summary{
		Status:          s.Status(),
		PendingCount:    len(s.Pending),
		ActiveCount:     len(s.Active),
		HistoryCount:    len(s.History),
		SuccessRate:     s.SuccessRate(),
		AverageDuration: s.AverageDuration().Round(time.Millisecond).String(),
		ByProject:       byProject,
		ByAction:        byAction,
	}
}
