// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsColorEnabled(t *testing.T) {
	t.Setenv(NoColor, "1")
	assert.False(t, isColorEnabled(), "Expected color output to be disabled")

	t.Setenv(ForceColor, "1")
	assert.False(t, isColorEnabled(), "Expected color output to be disabled as NO_COLOR is still set")

	t.Setenv(NoColor, "")
	assert.True(t, isColorEnabled(), "Expected color output to be enabled as FORCE_COLOR is set and NO_COLOR is unset")
}

func TestColorize(t *testing.T) {
	original := enabled
	defer func() { enabled = original }()

	enabled = true

	assert.Equal(t, "\033[31mfail\033[0m", Colorize("fail", FgRed))
	assert.Equal(t, "\033[1;32mok\033[0m", Colorize("ok", Bold, FgGreen), "multiple codes join with semicolons")

	enabled = false

	assert.Equal(t, "plain", Colorize("plain", FgYellow), "disabled output passes through unchanged")
}
