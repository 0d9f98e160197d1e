// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/taskbench/taskbench/internal/ctxlog"
	"github.com/taskbench/taskbench/internal/events"
)

const (
	maxBufferSize = 8 * 1024 * 1024 // 8MB per stream

	// DefaultGracePeriod is the fixed delay between the graceful termination
	// signal and the escalated forceful kill.
	DefaultGracePeriod = 5 * time.Second
)

var (
	// ErrAlreadyRunning is returned when execute is called while an execution is in flight.
	ErrAlreadyRunning = errors.New("runner is already running an execution")
	// ErrCouldNotStartProcess is returned when the process could not be started.
	ErrCouldNotStartProcess = errors.New("could not start process")
	// ErrFailedToCreatePipe is returned when the operating system pipe could not be created.
	ErrFailedToCreatePipe = errors.New("failed to create pipe")
	// ErrBufferOverflow is returned when a stream exceeds the max buffer size.
	ErrBufferOverflow = fmt.Errorf("output exceeds max size of %d bytes", maxBufferSize)
	// ErrNonZeroExit is returned when the process exits with a nonzero code.
	ErrNonZeroExit = errors.New("process exited with nonzero code")
	// ErrTimeoutExceeded is returned when the command exceeds its configured timeout.
	ErrTimeoutExceeded = errors.New("timeout exceeded")
	// ErrCancelled is returned when the execution is terminated by request.
	ErrCancelled = errors.New("execution cancelled")
)

// Spec describes one external process to run.
type Spec struct {
	Command string            // Executable name or path
	Args    []string          // Arguments, not including the executable itself
	Cwd     string            // Working directory, empty for inherited
	Env     map[string]string // Extra environment variables, merged over the parent's
	Timeout time.Duration     // Zero means no timeout
}

// Outcome is the single terminal result of an execution. Every execution
// resolves to exactly one Outcome, whether it exits normally, fails to
// spawn, times out, or is cancelled.
type Outcome struct {
	Success   bool
	ExitCode  int
	Output    string // Cumulative stdout
	ErrOutput string // Cumulative stderr
	Err       error  // Terminal cause for unsuccessful executions
	Duration  time.Duration
}

// State is the runner lifecycle state.
type State int

const (
	// StateIdle means no execution is in flight.
	StateIdle State = iota
	// StateRunning means a process is live.
	StateRunning
)

// Runner executes one external process at a time, streaming its output
// through an event publisher. A second Execute call while running fails
// immediately with ErrAlreadyRunning; serialization across concurrent jobs
// belongs to the scheduler, which holds one Runner per concurrent slot.
//
// The runner self-resets to idle after every terminal outcome.
type Runner struct {
	mu           sync.Mutex
	state        State
	proc         *os.Process
	cancelReason error
	forceTimer   *time.Timer

	outMu  sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer

	pub          events.Publisher
	grace        time.Duration
	newEstimator func() Estimator
}

// Option configures a Runner.
type Option func(*Runner)

// WithGracePeriod overrides the cancellation grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) {
		r.grace = d
	}
}

// WithEstimatorFactory overrides the progress estimator used per execution.
func WithEstimatorFactory(fn func() Estimator) Option {
	return func(r *Runner) {
		r.newEstimator = fn
	}
}

// New creates an idle Runner publishing events to pub.
// A nil pub disables event delivery.
func New(pub events.Publisher, opts ...Option) *Runner {
	if pub == nil {
		pub = events.NullPublisher{}
	}

	r := &Runner{
		pub:   pub,
		grace: DefaultGracePeriod,
		newEstimator: func() Estimator {
			return NewTimeEstimator(DefaultProgressTick, ProgressCap)
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// IsRunning reports whether an execution is currently in flight.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state == StateRunning
}

// CurrentOutput returns the cumulative stdout captured so far for the
// current (or most recent) execution.
func (r *Runner) CurrentOutput() string {
	r.outMu.Lock()
	defer r.outMu.Unlock()

	return r.stdout.String()
}

// ClearOutput discards the captured output buffers.
func (r *Runner) ClearOutput() {
	r.outMu.Lock()
	defer r.outMu.Unlock()

	r.stdout.Reset()
	r.stderr.Reset()
}

// Execute runs the process described by spec, streaming output events tagged
// with id. It blocks until the execution reaches its terminal state and
// always resolves to an Outcome; the error return is non-nil only for
// ErrAlreadyRunning.
func (r *Runner) Execute(ctx context.Context, id string, spec Spec) (Outcome, error) {
	r.mu.Lock()

	if r.state == StateRunning {
		r.mu.Unlock()
		return Outcome{}, ErrAlreadyRunning
	}

	r.state = StateRunning
	r.cancelReason = nil
	r.mu.Unlock()

	r.ClearOutput()

	logger := ctxlog.Logger(ctx).With("executionID", id, "command", spec.Command)
	start := time.Now()

	r.publish(events.Event{ExecutionID: id, Type: events.EventStarted, Timestamp: start})

	outcome := r.run(ctx, logger, id, spec)
	outcome.Duration = time.Since(start)

	r.outMu.Lock()
	outcome.Output = r.stdout.String()
	outcome.ErrOutput = r.stderr.String()
	r.outMu.Unlock()

	r.publish(events.Event{
		ExecutionID: id,
		Type:        events.EventCompleted,
		Timestamp:   time.Now(),
		Data: events.EventData{
			Success:  outcome.Success,
			ExitCode: outcome.ExitCode,
			Error:    outcome.Err,
		},
	})

	return outcome, nil
}

// run spawns and supervises the process. The caller owns state reset via the
// deferred finish.
func (r *Runner) run(ctx context.Context, logger *slog.Logger, id string, spec Spec) Outcome {
	defer r.finish()

	path, err := exec.LookPath(spec.Command)
	if err != nil {
		logger.Warn("executable not found", "error", err)

		return Outcome{
			Success:  false,
			ExitCode: 1,
			Err:      errors.Join(ErrCouldNotStartProcess, err),
		}
	}

	rOut, wOut, err := os.Pipe()
	if err != nil {
		return Outcome{Success: false, ExitCode: 1, Err: errors.Join(ErrFailedToCreatePipe, err)}
	}

	rErr, wErr, err := os.Pipe()
	if err != nil {
		_ = rOut.Close()
		_ = wOut.Close()

		return Outcome{Success: false, ExitCode: 1, Err: errors.Join(ErrFailedToCreatePipe, err)}
	}

	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	argv := slices.Concat([]string{path}, spec.Args)

	logger.Debug("starting process", "path", path, "cwd", spec.Cwd, "args", spec.Args)

	ps, err := os.StartProcess(path, argv, &os.ProcAttr{
		Dir:   spec.Cwd,
		Env:   env,
		Files: []*os.File{os.Stdin, wOut, wErr},
	})

	// The parent must not hold the write ends open or the readers never
	// see EOF after the child exits.
	_ = wOut.Close()
	_ = wErr.Close()

	if err != nil {
		_ = rOut.Close()
		_ = rErr.Close()

		return Outcome{
			Success:  false,
			ExitCode: 1,
			Err:      errors.Join(ErrCouldNotStartProcess, err),
		}
	}

	logger.Debug("process started", "pid", ps.Pid)

	r.mu.Lock()
	r.proc = ps
	r.mu.Unlock()

	// Cosmetic progress estimation, decoupled from actual process state.
	estimator := r.newEstimator()
	estimator.Start(func(percent int) {
		r.publish(events.Event{
			ExecutionID: id,
			Type:        events.EventProgress,
			Timestamp:   time.Now(),
			Data:        events.EventData{Percent: percent},
		})
	})
	defer estimator.Stop()

	var timeout *time.Timer
	if spec.Timeout > 0 {
		timeout = time.AfterFunc(spec.Timeout, func() {
			r.requestStop(ctx, ErrTimeoutExceeded)
		})
		defer timeout.Stop()
	}

	var wg sync.WaitGroup

	wg.Add(2) //nolint:mnd // one reader per stream

	go r.stream(ctx, &wg, rOut, &r.stdout, id, events.EventOutput)
	go r.stream(ctx, &wg, rErr, &r.stderr, id, events.EventError)

	state, psErr := ps.Wait()

	wg.Wait()
	_ = rOut.Close()
	_ = rErr.Close()

	logger.Debug("process finished", "exitCode", state.ExitCode())

	r.mu.Lock()
	reason := r.cancelReason

	if r.forceTimer != nil {
		r.forceTimer.Stop()
		r.forceTimer = nil
	}
	r.mu.Unlock()

	exitCode := state.ExitCode()

	switch {
	case reason != nil:
		if exitCode == 0 {
			exitCode = -1
		}

		return Outcome{
			Success:  false,
			ExitCode: exitCode,
			Err:      reason,
		}
	case psErr != nil:
		return Outcome{Success: false, ExitCode: -1, Err: psErr}
	case exitCode != 0:
		return Outcome{
			Success:  false,
			ExitCode: exitCode,
			Err:      fmt.Errorf("%w: %d", ErrNonZeroExit, exitCode),
		}
	default:
		return Outcome{Success: true, ExitCode: 0}
	}
}

// Cancel initiates the two-stage cancellation sequence: a graceful
// termination signal immediately, then exactly one forceful kill if the
// process has not exited after the grace period. Calling Cancel while idle
// is a no-op. Calling Cancel again while a grace timer is pending replaces
// the pending force-kill timer rather than stacking another one.
func (r *Runner) Cancel(ctx context.Context) {
	r.requestStop(ctx, ErrCancelled)
}

func (r *Runner) requestStop(ctx context.Context, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning || r.proc == nil {
		return
	}

	if r.cancelReason == nil {
		r.cancelReason = reason
	}

	ctxlog.Debug(ctx, "sending graceful termination signal", "pid", r.proc.Pid, "reason", reason)

	if err := r.proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		ctxlog.Warn(ctx, "failed to send termination signal", "pid", r.proc.Pid, "error", err)
	}

	if r.forceTimer != nil {
		r.forceTimer.Stop()
	}

	proc := r.proc
	r.forceTimer = time.AfterFunc(r.grace, func() {
		killProcess(ctx, proc)
	})
}

// stream reads lines from rd, appending to buf up to maxBufferSize and
// publishing each line as an incremental event. A stream-level read error is
// logged but does not fail the execution; the process exit code is
// authoritative.
func (r *Runner) stream(
	ctx context.Context, wg *sync.WaitGroup, rd *os.File, buf *bytes.Buffer, id string, kind events.EventType,
) {
	defer wg.Done()

	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) //nolint:mnd // max token 1MB

	overflowed := false

	for scanner.Scan() {
		line := scanner.Text()

		r.outMu.Lock()
		if buf.Len()+len(line)+1 <= maxBufferSize {
			buf.WriteString(line)
			buf.WriteString("\n")
		} else if !overflowed {
			overflowed = true

			ctxlog.Warn(ctx, "stream buffer overflow, discarding further output", "executionID", id)
		}
		r.outMu.Unlock()

		r.publish(events.Event{
			ExecutionID: id,
			Type:        kind,
			Timestamp:   time.Now(),
			Data:        events.EventData{Line: line},
		})
	}

	if err := scanner.Err(); err != nil {
		ctxlog.Warn(ctx, "stream read error", "executionID", id, "error", err)
	}
}

func (r *Runner) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateIdle
	r.proc = nil

	if r.forceTimer != nil {
		r.forceTimer.Stop()
		r.forceTimer = nil
	}
}

func (r *Runner) publish(event events.Event) {
	r.pub.Publish(event)
}

// killProcess is a package variable so tests can observe forced kills.
var killProcess = killPs

// killPs forcefully kills the process, tolerating one that already exited.
func killPs(ctx context.Context, ps *os.Process) {
	if err := ps.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			ctxlog.Debug(ctx, "process already done", "pid", ps.Pid)
			return
		}

		ctxlog.Error(ctx, "process kill error", "pid", ps.Pid, "error", err)

		return
	}

	ctxlog.Info(ctx, "process killed", "pid", ps.Pid)
}
