// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package workflow

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/taskbench/taskbench/internal/queue"
	"github.com/taskbench/taskbench/internal/runner"
)

var (
	// ErrValidation is the class for requests rejected before any process
	// spawns: unknown actions, unknown projects, missing commands.
	ErrValidation = errors.New("validation error")
	// ErrInvalidYAML is returned when the workflow file cannot be parsed.
	ErrInvalidYAML = errors.New("invalid workflow YAML")
	// ErrNoActions is returned when a workflow defines no actions.
	ErrNoActions = errors.New("no actions defined")
	// ErrUnknownAction is returned when a command names an action the workflow does not define.
	ErrUnknownAction = errors.New("unknown action")
	// ErrUnknownProject is returned when a command names a project the workflow does not define.
	ErrUnknownProject = errors.New("unknown project")
)

// EnvConfigPath is the environment variable overriding the workflow file location.
const EnvConfigPath = "TASKBENCH_CONFIG"

// DefaultConfigFile is the workflow file name looked up in the working
// directory when no path is given.
const DefaultConfigFile = "taskbench.yaml"

// Project is a directory commands run in, with optional extra environment.
type Project struct {
	Dir string            `yaml:"dir" json:"dir"`
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Action maps a workflow action name to an executable invocation.
type Action struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout string            `yaml:"timeout,omitempty" json:"timeout,omitempty"` // Go duration string, e.g. "10m"
}

// Definition is the root workflow configuration: the catalogue of projects
// and the actions that can be run against them.
type Definition struct {
	Name     string             `yaml:"name" json:"name"`
	Projects map[string]Project `yaml:"projects" json:"projects"`
	Actions  map[string]Action  `yaml:"actions" json:"actions"`
}

// Parse unmarshals and validates a workflow definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.Join(ErrInvalidYAML, err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// Load reads and parses the workflow definition at path.
func Load(fs afero.Fs, path string) (*Definition, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	return Parse(data)
}

// ConfigPath returns the workflow file location: the EnvConfigPath variable
// if set, the default file name otherwise.
func ConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}

	return DefaultConfigFile
}

// Default returns the built-in workflow used when no file is present. It
// covers the standard developer loop against the current directory.
func Default() *Definition {
	return &Definition{
		Name: "default",
		Projects: map[string]Project{
			"local": {Dir: "."},
		},
		Actions: map[string]Action{
			"test":   {Command: "go", Args: []string{"test", "./..."}, Timeout: "10m"},
			"lint":   {Command: "golangci-lint", Args: []string{"run"}, Timeout: "5m"},
			"diff":   {Command: "git", Args: []string{"diff", "--stat"}, Timeout: "1m"},
			"format": {Command: "gofmt", Args: []string{"-l", "."}, Timeout: "2m"},
		},
	}
}

// Validate checks the definition for structural problems, aggregating every
// finding rather than stopping at the first.
func (d *Definition) Validate() error {
	var merr *multierror.Error

	if len(d.Actions) == 0 {
		merr = multierror.Append(merr, ErrNoActions)
	}

	for name, action := range d.Actions {
		if action.Command == "" {
			merr = multierror.Append(merr, fmt.Errorf("%w: action %q has no command", ErrValidation, name))
		}

		if action.Timeout != "" {
			if _, err := time.ParseDuration(action.Timeout); err != nil {
				merr = multierror.Append(merr, fmt.Errorf("%w: action %q has invalid timeout %q", ErrValidation, name, action.Timeout))
			}
		}
	}

	for name, project := range d.Projects {
		if project.Dir == "" {
			merr = multierror.Append(merr, fmt.Errorf("%w: project %q has no dir", ErrValidation, name))
		}
	}

	return merr.ErrorOrNil()
}

// Resolve translates a queued command into a process spec. It rejects
// unknown actions and projects with ErrValidation before anything reaches
// the runner.
func (d *Definition) Resolve(cmd queue.QueuedCommand) (runner.Spec, error) {
	if cmd.Action == "" {
		return runner.Spec{}, fmt.Errorf("%w: missing action", ErrValidation)
	}

	if cmd.Project == "" {
		return runner.Spec{}, fmt.Errorf("%w: missing project", ErrValidation)
	}

	action, ok := d.Actions[cmd.Action]
	if !ok {
		return runner.Spec{}, fmt.Errorf("%w: %w: %q", ErrValidation, ErrUnknownAction, cmd.Action)
	}

	project, ok := d.Projects[cmd.Project]
	if !ok {
		return runner.Spec{}, fmt.Errorf("%w: %w: %q", ErrValidation, ErrUnknownProject, cmd.Project)
	}

	env := make(map[string]string, len(project.Env)+len(action.Env))
	for k, v := range project.Env {
		env[k] = v
	}

	for k, v := range action.Env {
		env[k] = v
	}

	var timeout time.Duration
	if action.Timeout != "" {
		// Validated in Validate, but tolerate direct construction.
		t, err := time.ParseDuration(action.Timeout)
		if err != nil {
			return runner.Spec{}, fmt.Errorf("%w: invalid timeout %q", ErrValidation, action.Timeout)
		}

		timeout = t
	}

	return runner.Spec{
		Command: action.Command,
		Args:    append([]string(nil), action.Args...),
		Cwd:     project.Dir,
		Env:     env,
		Timeout: timeout,
	}, nil
}
