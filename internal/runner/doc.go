// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package runner spawns and supervises one external process at a time. It
// streams stdout and stderr incrementally through the event bus, supports a
// per-execution timeout, and escalates cancellation from a graceful
// termination signal to a single forceful kill after a fixed grace period.
// Every execution resolves to exactly one terminal Outcome.
package runner
