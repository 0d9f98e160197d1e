// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package batch persists sets of generated output files as one reportable
// unit. Individual file writes are retried with a bounded attempt count and
// failures are aggregated rather than aborting the batch.
package batch
