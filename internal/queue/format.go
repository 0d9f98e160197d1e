// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package queue

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/taskbench/taskbench/internal/color"
)

// OutputOptions controls what is included in the text output.
type OutputOptions struct {
	IncludeOutput      bool // Whether to include captured output lines
	ShowSuccessDetails bool // Whether to show details for successful executions
}

// DefaultOutputOptions returns a default set of output options.
func DefaultOutputOptions() *OutputOptions {
	return &OutputOptions{
		IncludeOutput:      false,
		ShowSuccessDetails: false,
	}
}

// WriteResults writes formatted results to the provided writer.
func WriteResults(w io.Writer, results []Result, options *OutputOptions) error {
	if options == nil {
		options = DefaultOutputOptions()
	}

	for _, res := range results {
		if err := writeResult(w, res, options); err != nil {
			return err
		}
	}

	return nil
}

func writeResult(w io.Writer, res Result, options *OutputOptions) error {
	var statusStr string

	switch res.Execution.Status {
	case StatusCancelled:
		statusStr = color.Colorize("~", color.FgYellow)
	case StatusFailed:
		statusStr = color.Colorize("✗", color.FgRed)
	case StatusCompleted:
		statusStr = color.Colorize("✓", color.FgGreen)
	default:
		statusStr = color.Colorize("?", color.FgWhite)
	}

	if _, err := fmt.Fprintf(
		w,
		"%s %s [%s] (%s)\n",
		statusStr,
		res.Label(),
		res.Execution.Status,
		res.Duration.Round(time.Millisecond),
	); err != nil {
		return err
	}

	if res.Execution.Error != "" {
		if _, err := fmt.Fprintf(w, "  %s\n", color.Colorize(res.Execution.Error, color.FgRed)); err != nil {
			return err
		}
	}

	if options.IncludeOutput && (options.ShowSuccessDetails || !res.Success) {
		for _, line := range res.Execution.Output {
			if _, err := fmt.Fprintf(w, "  %s\n", strings.TrimRight(line, "\n")); err != nil {
				return err
			}
		}
	}

	return nil
}

// WriteSummary writes a one-line analytics summary for the snapshot.
func WriteSummary(w io.Writer, snap Snapshot) error {
	summary := snap.Summarize()

	_, err := fmt.Fprintf(
		w,
		"%s: %d pending, %d active, %d in history, %.0f%% success, avg %s\n",
		summary.Status,
		summary.PendingCount,
		summary.ActiveCount,
		summary.HistoryCount,
		summary.SuccessRate*100, //nolint:mnd
		summary.AverageDuration,
	)

	return err
}

// HasFailure reports whether any result in the slice was unsuccessful.
func HasFailure(results []Result) bool {
	for _, res := range results {
		if !res.Success {
			return true
		}
	}

	return false
}
