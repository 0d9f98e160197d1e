// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package queue

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteResults_FailureDetails(t *testing.T) {
	res := historyResult("fail-1", "lint", "api", false, 1500*time.Millisecond)
	res.Execution.Error = "exit code 1"
	res.Execution.Output = []string{"pkg/foo.go:10: unused variable"}

	var buf bytes.Buffer

	opts := DefaultOutputOptions()
	opts.IncludeOutput = true

	require.NoError(t, WriteResults(&buf, []Result{res}, opts))

	out := buf.String()
	assert.Contains(t, out, "lint api (fail-1)")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "exit code 1")
	assert.Contains(t, out, "unused variable", "failure output is included")
}

func TestWriteResults_SuccessOutputSuppressedByDefault(t *testing.T) {
	res := historyResult("ok-1", "test", "api", true, time.Second)
	res.Execution.Output = []string{"ok  \tgithub.com/example/api\t0.5s"}

	var buf bytes.Buffer

	opts := DefaultOutputOptions()
	opts.IncludeOutput = true

	require.NoError(t, WriteResults(&buf, []Result{res}, opts))
	assert.NotContains(t, buf.String(), "github.com/example/api", "success details hidden by default")

	buf.Reset()
	opts.ShowSuccessDetails = true

	require.NoError(t, WriteResults(&buf, []Result{res}, opts))
	assert.Contains(t, buf.String(), "github.com/example/api")
}

func TestWriteResults_NilOptions(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteResults(&buf, []Result{historyResult("x", "test", "api", true, time.Second)}, nil))
	assert.Contains(t, buf.String(), "test api (x)")
}

func TestWriteSummary(t *testing.T) {
	snap := Snapshot{History: []Result{
		historyResult("1", "test", "api", true, 2*time.Second),
		historyResult("2", "test", "api", false, 2*time.Second),
	}}

	var buf bytes.Buffer

	require.NoError(t, WriteSummary(&buf, snap))

	out := buf.String()
	assert.Contains(t, out, "idle")
	assert.Contains(t, out, "2 in history")
	assert.Contains(t, out, "50% success")
}

func TestHasFailure(t *testing.T) {
	assert.False(t, HasFailure(nil))
	assert.False(t, HasFailure([]Result{historyResult("1", "test", "api", true, time.Second)}))
	assert.True(t, HasFailure([]Result{
		historyResult("1", "test", "api", true, time.Second),
		historyResult("2", "test", "api", false, time.Second),
	}))
}
