// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package queue

import (
	"fmt"
	"time"
)

// Priority orders pending commands. Higher values dequeue first.
type Priority int

const (
	// PriorityLow is for background work such as formatting sweeps.
	PriorityLow Priority = iota
	// PriorityNormal is the default priority.
	PriorityNormal
	// PriorityHigh is for interactive, user-initiated commands.
	PriorityHigh
)

// String implements the Stringer interface for Priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority.
// Unknown names map to PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Status is the lifecycle state of an execution.
type Status string

const (
	// StatusPending means the command is queued but not yet dequeued.
	StatusPending Status = "pending"
	// StatusRunning means the execution has a live process.
	StatusRunning Status = "running"
	// StatusCompleted means the execution finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the execution finished unsuccessfully.
	StatusFailed Status = "failed"
	// StatusCancelled means the execution was terminated by request.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further status transition occurs.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// QueuedCommand is a pending request for a workflow command run.
// It is immutable once enqueued and consumed when dequeued.
type QueuedCommand struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	Project    string            `json:"project"`
	Priority   Priority          `json:"priority"`
	Options    map[string]string `json:"options,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

// Execution is the live record of a dequeued command. It is mutated in place
// by progress and output updates while running, and becomes read-only once a
// terminal status is reached.
type Execution struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Project   string    `json:"project"`
	Status    Status    `json:"status"`
	Priority  Priority  `json:"priority"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime,omitzero"`
	Progress  int       `json:"progress"`
	Output    []string  `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewExecution creates a running Execution from a dequeued command.
func NewExecution(cmd QueuedCommand) *Execution {
	return &Execution{
		ID:        cmd.ID,
		Action:    cmd.Action,
		Project:   cmd.Project,
		Status:    StatusRunning,
		Priority:  cmd.Priority,
		StartTime: time.Now(),
	}
}

// Result is a terminal execution plus its derived duration and success flag.
// Results are appended to history and never mutated after creation.
type Result struct {
	Execution Execution     `json:"execution"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
}

// Label returns a short human-readable identifier for display.
func (r Result) Label() string {
	return fmt.Sprintf("%s %s (%s)", r.Execution.Action, r.Execution.Project, r.Execution.ID)
}
