// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main contains the taskbench command-line interface (CLI).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/taskbench/taskbench"
	"github.com/taskbench/taskbench/cmd/taskbench/console"
	"github.com/taskbench/taskbench/cmd/taskbench/run"
	"github.com/taskbench/taskbench/cmd/taskbench/show"
	"github.com/taskbench/taskbench/internal/ctxlog"
	"github.com/taskbench/taskbench/internal/signalbroker"
)

// rootCmd is the root command for the CLI.
var rootCmd = &cli.Command{
	Commands: []*cli.Command{
		run.RunCmd,
		show.ShowCmd,
		console.ConsoleCmd,
	},
	Writer:    os.Stdout,
	ErrWriter: os.Stderr,
	Name:      "taskbench",
	Description: `Taskbench orchestrates developer-workflow commands (test runs, lint,
git diff, format) as external processes. Commands are admitted through a
priority-ordered execution queue, run by a bounded pool of streaming process
runners, and recorded in a bounded result history with derived analytics.`,
	Usage:                 "taskbench run --action test --project api",
	EnableShellCompletion: true,
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = ctxlog.New(ctx, ctxlog.DefaultLogger)
	defer cancel()

	sigCh := signalbroker.New(ctx)

	go signalbroker.Watch(ctx, sigCh, cancel)

	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", taskbench.Version, taskbench.Commit)

	err := rootCmd.Run(ctx, os.Args)

	// Check if the context was cancelled (e.g., due to signals)
	if ctx.Err() != nil {
		ctxlog.Logger(ctx).Error("command terminated due to cancellation", "error", ctx.Err())
		os.Exit(1)
	}

	if err != nil {
		ctxlog.Logger(ctx).Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
