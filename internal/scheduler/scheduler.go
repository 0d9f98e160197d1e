// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskbench/taskbench/internal/ctxlog"
	"github.com/taskbench/taskbench/internal/events"
	"github.com/taskbench/taskbench/internal/queue"
	"github.com/taskbench/taskbench/internal/runner"
)

// Resolver translates a queued command into a process spec. Resolution
// failures never reach a runner; they terminate the execution as failed.
type Resolver interface {
	Resolve(cmd queue.QueuedCommand) (runner.Spec, error)
}

// Scheduler drains the execution queue through a bounded pool of runners:
// one Runner instance per concurrently-running slot. A pool size of one
// gives a single global serializing runner.
type Scheduler struct {
	queue    *queue.ExecutionQueue
	bus      *events.Bus
	resolver Resolver

	size       int
	runnerOpts []runner.Option

	mu     sync.Mutex
	active map[string]*runner.Runner // executionID -> its slot's runner
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPoolSize sets the number of concurrent runner slots. Values below one
// are treated as one.
func WithPoolSize(n int) Option {
	return func(s *Scheduler) {
		if n < 1 {
			n = 1
		}

		s.size = n
	}
}

// WithRunnerOptions passes options through to each slot's Runner.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(s *Scheduler) {
		s.runnerOpts = opts
	}
}

// New creates a Scheduler over the given queue, event bus and resolver.
func New(q *queue.ExecutionQueue, bus *events.Bus, resolver Resolver, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:    q,
		bus:      bus,
		resolver: resolver,
		size:     1,
		active:   make(map[string]*runner.Runner),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Enqueue builds a QueuedCommand for the given action and project and admits
// it to the queue. An empty id is replaced with a generated one. The
// enqueued command is returned.
func (s *Scheduler) Enqueue(action, project string, priority queue.Priority, id string) queue.QueuedCommand {
	if id == "" {
		id = uuid.NewString()
	}

	cmd := queue.QueuedCommand{
		ID:         id,
		Action:     action,
		Project:    project,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}

	s.queue.Enqueue(cmd)

	return cmd
}

// Drain runs pending commands across the pool until the queue is empty and
// every started execution has resolved. It is the mode used by one-shot CLI
// runs.
func (s *Scheduler) Drain(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < s.size; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			r := runner.New(s.bus, s.runnerOpts...)

			for {
				cmd, ok := s.queue.Dequeue()
				if !ok {
					return
				}

				s.execute(ctx, r, cmd)
			}
		}()
	}

	wg.Wait()
}

// Serve runs the pool until ctx is cancelled, waking on queue mutations.
// It is the mode used by the interactive console.
func (s *Scheduler) Serve(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < s.size; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			r := runner.New(s.bus, s.runnerOpts...)

			for {
				cmd, ok := s.queue.Dequeue()
				if !ok {
					select {
					case <-ctx.Done():
						return
					case <-s.queue.Wake():
						continue
					}
				}

				s.execute(ctx, r, cmd)
			}
		}()
	}

	wg.Wait()
}

// Cancel requests termination of an active execution by id. The execution
// resolves through its runner's normal terminal path. Cancelling an unknown
// id is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, id string) {
	s.mu.Lock()
	r, ok := s.active[id]
	s.mu.Unlock()

	if !ok {
		return
	}

	r.Cancel(ctx)
}

// CancelAll records every active execution and pending command as cancelled
// and terminates the live processes.
func (s *Scheduler) CancelAll(ctx context.Context) int {
	n := s.queue.CancelAll()

	s.mu.Lock()
	runners := make([]*runner.Runner, 0, len(s.active))

	for _, r := range s.active {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	for _, r := range runners {
		r.Cancel(ctx)
	}

	return n
}

// Retry re-enqueues a non-success history entry under a derived id.
func (s *Scheduler) Retry(id string) (queue.QueuedCommand, bool) {
	return s.queue.Retry(id)
}

// Snapshot exposes the queue snapshot for display.
func (s *Scheduler) Snapshot() queue.Snapshot {
	return s.queue.Snapshot()
}

// execute runs one dequeued command to its terminal state on the slot's
// runner, keeping the queue's bookkeeping in step.
func (s *Scheduler) execute(ctx context.Context, r *runner.Runner, cmd queue.QueuedCommand) {
	exec := queue.NewExecution(cmd)
	s.queue.Start(exec)

	spec, err := s.resolver.Resolve(cmd)
	if err != nil {
		s.completeRejected(exec, err)
		return
	}

	s.mu.Lock()
	s.active[cmd.ID] = r
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, cmd.ID)
		s.mu.Unlock()
	}()

	// Forward streaming events into the queue's bookkeeping while the
	// process runs. The bus may drop any event under load, so the
	// forwarder never waits for a particular one; it runs until the
	// subscription is closed.
	sub := s.bus.Subscribe(0)

	forwardDone := make(chan struct{})

	go func() {
		defer close(forwardDone)

		for event := range sub.Events() {
			if event.ExecutionID != cmd.ID {
				continue
			}

			switch event.Type {
			case events.EventProgress:
				s.queue.UpdateProgress(cmd.ID, event.Data.Percent, "")
			case events.EventOutput, events.EventError:
				s.queue.AppendOutput(cmd.ID, event.Data.Line)
			}
		}
	}()

	outcome, err := r.Execute(ctx, cmd.ID, spec)

	// The runner has published everything it will; closing the
	// subscription lets the forwarder drain the buffer and exit.
	sub.Close()
	<-forwardDone

	if err != nil {
		// A slot's runner is serialized by its worker loop, so an
		// already-running error here means a scheduler bug.
		ctxlog.Error(ctx, "runner rejected execution", "executionID", cmd.ID, "error", err)
		s.completeRejected(exec, err)

		return
	}

	var status queue.Status

	switch {
	case outcome.Success:
		status = queue.StatusCompleted
	case errors.Is(outcome.Err, runner.ErrCancelled):
		status = queue.StatusCancelled
	default:
		status = queue.StatusFailed
	}

	errText := ""
	if outcome.Err != nil {
		errText = outcome.Err.Error()
	}

	s.queue.Finish(cmd.ID, status, errText, outcome.Duration, outcome.Success)
}

func (s *Scheduler) completeRejected(exec *queue.Execution, cause error) {
	s.queue.Finish(exec.ID, queue.StatusFailed, cause.Error(), 0, false)

	s.bus.Publish(events.Event{
		ExecutionID: exec.ID,
		Type:        events.EventCompleted,
		Timestamp:   time.Now(),
		Data: events.EventData{
			Success:  false,
			ExitCode: 1,
			Error:    cause,
		},
	})
}
