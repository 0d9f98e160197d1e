// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package scheduler dispatches queued commands to a bounded pool of process
// runners, one runner per concurrent slot, and keeps the execution queue's
// bookkeeping in step with runner lifecycle events.
package scheduler
