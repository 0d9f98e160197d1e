// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package events

import (
	"time"
)

// Event represents a real-time update from command execution.
// Events are emitted throughout the execution lifecycle to provide
// feedback for CLI display and other monitoring consumers.
type Event struct {
	ExecutionID string    // Identifier of the execution this event belongs to
	Type        EventType // Event type indicating what happened
	Timestamp   time.Time // When the event occurred
	Data        EventData // Type-specific data
}

// EventType represents the type of execution event.
type EventType int

const (
	// EventStarted indicates an execution has begun.
	EventStarted EventType = iota
	// EventOutput indicates new stdout output is available.
	EventOutput
	// EventError indicates new stderr output is available.
	EventError
	// EventProgress indicates a progress percentage update.
	EventProgress
	// EventCompleted indicates the execution reached a terminal state.
	EventCompleted
)

// String implements the Stringer interface for EventType.
func (et EventType) String() string {
	switch et {
	case EventStarted:
		return "started"
	case EventOutput:
		return "output"
	case EventError:
		return "error"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "complete"
	default:
		return "unknown"
	}
}

// EventData contains type-specific information for execution events.
type EventData struct {
	// For EventOutput and EventError
	Line string // The output chunk

	// For EventProgress
	Percent int // Progress percentage in [0, 100]

	// For EventCompleted
	Success  bool  // Whether the execution succeeded
	ExitCode int   // Process exit code
	Error    error // Error if the execution failed
}

// Publisher is the interface for emitting execution events.
// Implementations should be non-blocking and tolerate absent listeners.
type Publisher interface {
	// Publish sends an event to all current subscribers.
	Publish(event Event)
}

// NullPublisher is a no-op implementation of Publisher, used when event
// delivery is not needed.
type NullPublisher struct{}

// Publish implements Publisher.Publish by doing nothing.
func (NullPublisher) Publish(Event) {}
