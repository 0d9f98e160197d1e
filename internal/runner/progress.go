// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runner

import (
	"sync"
	"time"
)

const (
	// DefaultProgressTick is the interval at which the time-based estimator
	// emits a new percentage.
	DefaultProgressTick = 100 * time.Millisecond
	// ProgressCap is the highest percentage the estimator will report; the
	// remaining distance is only covered by actual completion.
	ProgressCap = 90
)

// Estimator produces cosmetic progress percentages for a running execution.
// It is isolated behind this interface so the time-based heuristic can be
// swapped for real progress parsing without touching the runner state
// machine. Estimates must not gate correctness.
type Estimator interface {
	// Start begins emitting monotonically increasing percentages through
	// emit until Stop is called.
	Start(emit func(percent int))
	// Stop terminates emission. It is safe to call more than once.
	Stop()
}

// TimeEstimator emits a percentage that grows with elapsed time, capped at a
// fixed ceiling. It is purely time-based and decoupled from process state.
type TimeEstimator struct {
	tick time.Duration
	cap  int

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewTimeEstimator creates a TimeEstimator with the given tick interval and
// percentage ceiling.
func NewTimeEstimator(tick time.Duration, capPercent int) *TimeEstimator {
	return &TimeEstimator{
		tick: tick,
		cap:  capPercent,
		done: make(chan struct{}),
	}
}

// Start implements Estimator.Start.
func (e *TimeEstimator) Start(emit func(percent int)) {
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.tick)
		defer ticker.Stop()

		percent := 0

		for {
			select {
			case <-e.done:
				return
			case <-ticker.C:
				if percent >= e.cap {
					continue
				}

				percent++
				emit(percent)
			}
		}
	}()
}

// Stop implements Estimator.Stop.
func (e *TimeEstimator) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

var _ Estimator = (*TimeEstimator)(nil)
