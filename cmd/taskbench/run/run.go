// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-getter/v2"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/taskbench/taskbench/internal/batch"
	"github.com/taskbench/taskbench/internal/ctxlog"
	"github.com/taskbench/taskbench/internal/events"
	"github.com/taskbench/taskbench/internal/queue"
	"github.com/taskbench/taskbench/internal/scheduler"
	"github.com/taskbench/taskbench/internal/workflow"
)

const (
	fileFlag        = "file"
	actionFlag      = "action"
	projectFlag     = "project"
	priorityFlag    = "priority"
	parallelismFlag = "parallelism"
	outFlag         = "out"
	streamFlag      = "stream"
	showOutputFlag  = "show-output"
	successFlag     = "show-success-details"
	cliExitStr      = ""
)

var (
	// ErrGetConfigFile is returned when the workflow file cannot be fetched.
	ErrGetConfigFile = errors.New("failed to get workflow file")
	// ErrNothingToRun is returned when no action/project pair is requested.
	ErrNothingToRun = errors.New("nothing to run")
)

// RunCmd runs workflow actions against projects and reports the results.
var RunCmd = &cli.Command{
	Name: "run",
	Description: `Run one or more workflow actions against one or more projects.
Every action/project pair is enqueued and executed by a bounded runner pool,
highest priority first. Output is streamed live with --stream.

The workflow file URL supports Hashicorp's go-getter syntax, which allows
fetching files from various sources. See https://github.com/hashicorp/go-getter.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    fileFlag,
			Aliases: []string{"f"},
			Usage: "URL of the workflow YAML file. Defaults to the " +
				workflow.EnvConfigPath + " environment variable, then ./" + workflow.DefaultConfigFile + ". " +
				"Falls back to the built-in workflow when no file exists.",
			OnlyOnce: true,
		},
		&cli.StringSliceFlag{
			Name:    actionFlag,
			Aliases: []string{"a"},
			Usage:   "Action to run (e.g. test, lint, diff, format). Specify multiple times to run several.",
		},
		&cli.StringSliceFlag{
			Name:    projectFlag,
			Aliases: []string{"p"},
			Usage:   "Project to run against. Specify multiple times to run several.",
		},
		&cli.StringFlag{
			Name:     priorityFlag,
			Usage:    "Queue priority: high, normal or low.",
			Value:    "normal",
			OnlyOnce: true,
		},
		&cli.IntFlag{
			Name:     parallelismFlag,
			Usage:    "Number of concurrent runner slots. Defaults to 1 (a single serializing runner).",
			Value:    1,
			OnlyOnce: true,
		},
		&cli.StringFlag{
			Name:      outFlag,
			Usage:     "Directory to write the run report batch into.",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.BoolFlag{
			Name:     streamFlag,
			Aliases:  []string{"s"},
			Usage:    "Stream process output live while commands run.",
			OnlyOnce: true,
		},
		&cli.BoolFlag{
			Name:     showOutputFlag,
			Usage:    "Include captured output in the final results.",
			OnlyOnce: true,
		},
		&cli.BoolFlag{
			Name:     successFlag,
			Usage:    "Include details for successful executions in the output.",
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
		return cli.Exit(cliExitStr, 1)
	}

	actions := cmd.StringSlice(actionFlag)
	projects := cmd.StringSlice(projectFlag)

	if len(projects) == 0 {
		for name := range def.Projects {
			projects = append(projects, name)
		}
	}

	if len(actions) == 0 || len(projects) == 0 {
		logger.Error("specify at least one --action (and a --project when the workflow defines none)")
		return cli.Exit(cliExitStr, 1)
	}

	q := queue.New()
	bus := events.NewBus()
	sched := scheduler.New(q, bus, def,
		scheduler.WithPoolSize(int(cmd.Int(parallelismFlag))),
	)

	var streamDone chan struct{}

	if cmd.Bool(streamFlag) {
		sub := bus.Subscribe(0)
		streamDone = make(chan struct{})

		go func() {
			defer close(streamDone)

			for event := range sub.Events() {
				switch event.Type {
				case events.EventOutput:
					fmt.Fprintf(cmd.Writer, "%s | %s\n", event.ExecutionID, event.Data.Line)
				case events.EventError:
					fmt.Fprintf(cmd.ErrWriter, "%s ! %s\n", event.ExecutionID, event.Data.Line)
				}
			}
		}()
	}

	priority := queue.ParsePriority(cmd.String(priorityFlag))

	for _, action := range actions {
		for _, project := range projects {
			qc := sched.Enqueue(action, project, priority, "")
			logger.Debug("enqueued", "id", qc.ID, "action", action, "project", project)
		}
	}

	sched.Drain(ctx)
	bus.Close()

	if streamDone != nil {
		<-streamDone
	}

	snap := sched.Snapshot()

	opts := queue.DefaultOutputOptions()
	opts.IncludeOutput = cmd.Bool(showOutputFlag)
	opts.ShowSuccessDetails = cmd.Bool(successFlag)

	if err := queue.WriteResults(cmd.Writer, snap.History, opts); err != nil {
		logger.Error("failed to write results", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	if err := queue.WriteSummary(cmd.Writer, snap); err != nil {
		logger.Error("failed to write summary", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	if outDir := cmd.String(outFlag); outDir != "" {
		if err := writeReport(ctx, cmd, outDir, snap); err != nil {
			logger.Error("failed to write report batch", "error", err)
			return cli.Exit(cliExitStr, 1)
		}
	}

	if queue.HasFailure(snap.History) {
		logger.Error("some commands failed, see above for details")
		return cli.Exit(cliExitStr, 1)
	}

	return nil
}

// writeReport persists the run report through the batch coordinator and
// validates the outputs it produced.
func writeReport(ctx context.Context, cmd *cli.Command, outDir string, snap queue.Snapshot) error {
	coord := batch.New(afero.NewOsFs(), outDir)

	summaryJSON, err := json.MarshalIndent(snap.Summarize(), "", "  ")
	if err != nil {
		return err
	}

	res := coord.ExecuteBatch(ctx, "run-report", []batch.File{
		{Type: "report", Content: reportMarkdown(snap)},
		{Type: "json", Content: summaryJSON},
	}, batch.Options{
		CreateBackup:    true,
		ValidateContent: true,
		NotifyUser:      true,
		TrackHistory:    true,
		MaxRetries:      2, //nolint:mnd
	})

	for typ, class := range coord.ValidateOutputs("run-report", []string{"report", "json"}) {
		if class != batch.ClassValid {
			ctxlog.Warn(ctx, "report output did not validate", "type", typ, "classification", string(class))
		}
	}

	if !res.Success {
		return fmt.Errorf("report batch finished with %d error(s): %s", len(res.Errors), strings.Join(res.Errors, "; "))
	}

	fmt.Fprintf(cmd.Writer, "report written to %s\n", outDir)

	return nil
}

func reportMarkdown(snap queue.Snapshot) []byte {
	var sb strings.Builder

	summary := snap.Summarize()

	sb.WriteString("# Run report\n\n")
	fmt.Fprintf(&sb, "- status: %s\n", summary.Status)
	fmt.Fprintf(&sb, "- executions: %d\n", summary.HistoryCount)
	fmt.Fprintf(&sb, "- success rate: %.0f%%\n", summary.SuccessRate*100) //nolint:mnd
	fmt.Fprintf(&sb, "- average duration: %s\n\n", summary.AverageDuration)

	sb.WriteString("## Executions\n\n")

	for _, res := range snap.History {
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", res.Label(), res.Execution.Status, res.Duration)
	}

	return []byte(sb.String())
}

// loadWorkflow resolves the workflow definition: an explicit URL via
// go-getter, the conventional local file, or the built-in default.
func loadWorkflow(ctx context.Context, url string) (*workflow.Definition, error) {
	if url == "" {
		path := workflow.ConfigPath()

		if _, err := os.Stat(path); err != nil {
			ctxlog.Debug(ctx, "no workflow file found, using built-in default", "path", path)
			return workflow.Default(), nil
		}

		return workflow.Load(afero.NewOsFs(), path)
	}

	data, err := getURL(ctx, url)
	if err != nil {
		return nil, err
	}

	return workflow.Parse(data)
}

// getURL retrieves the content from the specified URL using Hashicorp's
// go-getter. The temporary file is removed after reading its content.
func getURL(ctx context.Context, url string) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "taskbench-getter-*")
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	defer os.RemoveAll(tmpDir) //nolint:errcheck

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	client := getter.Client{
		DisableSymlinks: true,
	}

	dst := filepath.Join(tmpDir, "workflow.yaml")

	if _, err := client.Get(ctx, &getter.Request{
		Src:     url,
		Dst:     dst,
		Pwd:     wd,
		GetMode: getter.ModeFile,
	}); err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	return data, nil
}
