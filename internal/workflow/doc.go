// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package workflow defines the YAML catalogue of projects and actions a
// taskbench instance can run, and resolves queued commands into process
// specs. Requests that fail resolution are rejected here, before any
// process spawns.
package workflow
