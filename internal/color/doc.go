// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package color provides ANSI color codes for terminal output.
// Color output is disabled when stdout is not a terminal or when the
// NO_COLOR environment variable is set.
package color
