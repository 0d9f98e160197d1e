// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package queue provides admission control and bookkeeping for workflow
// command executions: a priority-ordered pending list, the active execution
// set, and a bounded result history with derived analytics. It has no
// knowledge of processes; see the runner and scheduler packages for that.
package queue
