// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package events provides typed lifecycle event fan-out for command
// executions. Runners publish output, error, progress and completion events
// through a Bus; consumers subscribe with explicit handles and unsubscribe
// by closing them.
package events
