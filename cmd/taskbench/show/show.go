// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package show

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TylerBrock/colorjson"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/taskbench/taskbench/internal/ctxlog"
	"github.com/taskbench/taskbench/internal/workflow"
)

const fileFlag = "file"

// ShowCmd displays the effective workflow definition.
var ShowCmd = &cli.Command{
	Name: "show",
	Description: `Show the effective workflow definition: the projects and the
actions that can be run against them, after defaults are applied.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:      fileFlag,
			Aliases:   []string{"f"},
			Usage:     "Path of the workflow YAML file.",
			TakesFile: true,
			OnlyOnce:  true,
		},
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	logger := ctxlog.Logger(ctx).With("command", cmd.Name)

	path := cmd.String(fileFlag)
	if path == "" {
		path = workflow.ConfigPath()
	}

	def, err := loadOrDefault(ctx, path)
	if err != nil {
		logger.Error("failed to load workflow", "error", err)
		return cli.Exit("", 1)
	}

	// Round-trip through generic JSON so colorjson can format it.
	raw, err := json.Marshal(def)
	if err != nil {
		return err
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}

	formatter := colorjson.NewFormatter()
	formatter.Indent = 2

	pretty, err := formatter.Marshal(obj)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.Writer, string(pretty))

	return nil
}

func loadOrDefault(ctx context.Context, path string) (*workflow.Definition, error) {
	fs := afero.NewOsFs()

	if ok, _ := afero.Exists(fs, path); !ok {
		ctxlog.Debug(ctx, "no workflow file found, showing built-in default", "path", path)
		return workflow.Default(), nil
	}

	return workflow.Load(fs, path)
}
