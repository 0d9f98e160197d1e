// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/TylerBrock/colorjson"
	"github.com/peterh/liner"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/taskbench/taskbench/internal/ctxlog"
	"github.com/taskbench/taskbench/internal/events"
	"github.com/taskbench/taskbench/internal/queue"
	"github.com/taskbench/taskbench/internal/scheduler"
	"github.com/taskbench/taskbench/internal/workflow"
)

const (
	fileFlag        = "file"
	parallelismFlag = "parallelism"
	prompt          = "taskbench> "
)

// ConsoleCmd is an interactive shell over the execution queue.
var ConsoleCmd = &cli.Command{
	Name: "console",
	Description: `Start an interactive console over a live execution queue.
Commands are enqueued, run and recorded in the background while the console
stays responsive. Type "help" for the available commands.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:      fileFlag,
			Aliases:   []string{"f"},
			Usage:     "Path of the workflow YAML file.",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.IntFlag{
			Name:     parallelismFlag,
			Usage:    "Number of concurrent runner slots.",
			Value:    1,
			OnlyOnce: true,
		},
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	logger := ctxlog.Logger(ctx).With("command", cmd.Name)

	def, err := loadWorkflow(ctx, cmd.String(fileFlag))
	if err != nil {
		logger.Error("failed to load workflow", "error", err)
		return cli.Exit("", 1)
	}

	q := queue.New()
	bus := events.NewBus()
	sched := scheduler.New(q, bus, def,
		scheduler.WithPoolSize(int(cmd.Int(parallelismFlag))),
	)

	serveCtx, stop := context.WithCancel(ctx)
	defer stop()

	serveDone := make(chan struct{})

	go func() {
		defer close(serveDone)
		sched.Serve(serveCtx)
	}()

	// Completion notices are the only async output; streaming lines would
	// fight the prompt.
	sub := bus.Subscribe(0)

	go func() {
		for event := range sub.Events() {
			if event.Type != events.EventCompleted {
				continue
			}

			if event.Data.Success {
				fmt.Fprintf(cmd.Writer, "\n[done] %s\n", event.ExecutionID)
				continue
			}

			fmt.Fprintf(cmd.Writer, "\n[failed] %s: %v\n", event.ExecutionID, event.Data.Error)
		}
	}()

	line := liner.NewLiner()
	defer line.Close() //nolint:errcheck

	line.SetCtrlCAborts(true)

	repl(ctx, cmd.Writer, line, sched)

	stop()
	bus.Close()
	<-serveDone

	return nil
}

func repl(ctx context.Context, w io.Writer, line *liner.State, sched *scheduler.Scheduler) {
	for {
		input, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return
			}

			fmt.Fprintf(w, "read error: %v\n", err)

			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if quit := dispatch(ctx, w, sched, input); quit {
			return
		}
	}
}

func dispatch(ctx context.Context, w io.Writer, sched *scheduler.Scheduler, input string) bool {
	fields := strings.Fields(input)

	switch fields[0] {
	case "quit", "exit":
		sched.CancelAll(ctx)
		return true

	case "help":
		fmt.Fprint(w, `commands:
  run <action> <project> [high|normal|low]  enqueue a command
  status                                    queue summary
  history                                   recent results
  cancel <id>                               cancel an active execution
  cancel-all                                cancel everything
  retry <id>                                re-enqueue a failed result
  quit                                      cancel everything and exit
`)

	case "run":
		if len(fields) < 3 {
			fmt.Fprintln(w, "usage: run <action> <project> [priority]")
			return false
		}

		priority := queue.PriorityNormal
		if len(fields) > 3 {
			priority = queue.ParsePriority(fields[3])
		}

		cmd := sched.Enqueue(fields[1], fields[2], priority, "")
		fmt.Fprintf(w, "enqueued %s (%s)\n", cmd.ID, cmd.Priority)

	case "status":
		printStatus(w, sched.Snapshot())

	case "history":
		snap := sched.Snapshot()
		if err := queue.WriteResults(w, snap.History, queue.DefaultOutputOptions()); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}

	case "cancel":
		if len(fields) < 2 {
			fmt.Fprintln(w, "usage: cancel <id>")
			return false
		}

		sched.Cancel(ctx, fields[1])
		fmt.Fprintf(w, "cancellation requested for %s\n", fields[1])

	case "cancel-all":
		n := sched.CancelAll(ctx)
		fmt.Fprintf(w, "cancelled %d command(s)\n", n)

	case "retry":
		if len(fields) < 2 {
			fmt.Fprintln(w, "usage: retry <id>")
			return false
		}

		if cmd, ok := sched.Retry(fields[1]); ok {
			fmt.Fprintf(w, "re-enqueued as %s\n", cmd.ID)
		} else {
			fmt.Fprintf(w, "no failed result with id %s\n", fields[1])
		}

	default:
		fmt.Fprintf(w, "unknown command %q, try help\n", fields[0])
	}

	return false
}

func printStatus(w io.Writer, snap queue.Snapshot) {
	raw, err := json.Marshal(snap.Summarize())
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}

	formatter := colorjson.NewFormatter()
	formatter.Indent = 2

	pretty, err := formatter.Marshal(obj)
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}

	fmt.Fprintln(w, string(pretty))
}

func loadWorkflow(ctx context.Context, path string) (*workflow.Definition, error) {
	fs := afero.NewOsFs()

	if path == "" {
		path = workflow.ConfigPath()
	}

	if ok, _ := afero.Exists(fs, path); !ok {
		ctxlog.Debug(ctx, "no workflow file found, using built-in default", "path", path)
		return workflow.Default(), nil
	}

	return workflow.Load(fs, path)
}
