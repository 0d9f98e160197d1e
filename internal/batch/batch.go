// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/taskbench/taskbench/internal/ctxlog"
)

const (
	// retryDelay is the fixed wait between write attempts for one file.
	// Deliberately constant rather than exponential: the writes are local
	// and low-stakes.
	retryDelay = 100 * time.Millisecond

	// DefaultMaxAge is the default batch record retention used by
	// CleanupCompletedBatches.
	DefaultMaxAge = time.Hour

	backupDirName = "backups"
)

// File is one write operation in a batch: a type tag and its content.
type File struct {
	Type    string
	Content []byte
}

// Options controls one ExecuteBatch call.
type Options struct {
	CreateBackup    bool // Back up existing outputs before writing, best-effort
	ValidateContent bool // Reject empty content before writing
	NotifyUser      bool // Log a user-facing notice on completion
	TrackHistory    bool // Register a batch record for later cleanup
	MaxRetries      int  // Additional attempts per file beyond the first
}

// Result aggregates one batch: how many files were written, every collected
// error, and the paths of the successful outputs keyed by file type.
type Result struct {
	BatchID        string            `json:"batchId"`
	Label          string            `json:"label"`
	FilesProcessed int               `json:"filesProcessed"`
	Errors         []string          `json:"errors"`
	Success        bool              `json:"success"`
	Duration       time.Duration     `json:"duration"`
	OutputPaths    map[string]string `json:"outputPaths"`
}

// Classification is the post-hoc validity of one expected output.
type Classification string

const (
	// ClassValid means the output exists and matches its type's structural rules.
	ClassValid Classification = "valid"
	// ClassMissing means the output does not exist.
	ClassMissing Classification = "missing"
	// ClassCorrupt means the output exists but is empty, unreadable, or
	// missing its type's structural markers.
	ClassCorrupt Classification = "corrupt"
)

type record struct {
	id        string
	label     string
	createdAt time.Time
	files     []string
	success   bool
}

// Coordinator executes batches of independent file writes against one output
// directory, without letting one failure abort the rest. It owns its own
// per-batch bookkeeping, evicted on a time basis independent of any single
// batch's lifecycle.
type Coordinator struct {
	fs  afero.Fs
	dir string

	mu      sync.Mutex
	records map[string]record
}

// New creates a Coordinator writing to dir on the given filesystem.
func New(fs afero.Fs, dir string) *Coordinator {
	return &Coordinator{
		fs:      fs,
		dir:     dir,
		records: make(map[string]record),
	}
}

// ExecuteBatch writes every file in the batch, retrying each individually up
// to opts.MaxRetries extra attempts with a fixed delay between attempts.
// A file that exhausts its retries contributes an error but does not stop
// the remaining files (partial-failure semantics). The returned Result is
// successful only when no error of any kind was collected.
func (c *Coordinator) ExecuteBatch(ctx context.Context, label string, files []File, opts Options) Result {
	start := time.Now()

	res := Result{
		BatchID:     uuid.NewString(),
		Label:       label,
		OutputPaths: make(map[string]string, len(files)),
	}

	var merr *multierror.Error

	if opts.CreateBackup {
		if err := c.backup(label, files); err != nil {
			// Best-effort: recorded, never fatal.
			ctxlog.Warn(ctx, "batch backup failed", "batch", label, "error", err)
			merr = multierror.Append(merr, fmt.Errorf("backup: %w", err))
		}
	}

	for _, f := range files {
		if opts.ValidateContent && len(f.Content) == 0 {
			merr = multierror.Append(merr, fmt.Errorf("file %s: empty content", f.Type))
			continue
		}

		path := c.outputPath(label, f.Type)

		if err := c.writeWithRetry(ctx, path, f.Content, opts.MaxRetries); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("file %s: %w", f.Type, err))
			continue
		}

		res.FilesProcessed++
		res.OutputPaths[f.Type] = path
	}

	for _, err := range merr.WrappedErrors() {
		res.Errors = append(res.Errors, err.Error())
	}

	res.Success = len(res.Errors) == 0
	res.Duration = time.Since(start)

	if opts.TrackHistory {
		c.track(res, files)
	}

	if opts.NotifyUser {
		ctxlog.Info(ctx, "batch finished",
			"batch", label,
			"filesProcessed", res.FilesProcessed,
			"errors", len(res.Errors),
			"success", res.Success,
		)
	}

	return res
}

// ValidateOutputs classifies each expected output type as valid, missing or
// corrupt using type-specific structural rules. Any read error classifies
// the output as corrupt.
func (c *Coordinator) ValidateOutputs(label string, expectedTypes []string) map[string]Classification {
	out := make(map[string]Classification, len(expectedTypes))

	for _, typ := range expectedTypes {
		out[typ] = c.classify(c.outputPath(label, typ), typ)
	}

	return out
}

// CleanupCompletedBatches evicts batch records older than maxAge. A maxAge
// of zero or below uses DefaultMaxAge. It returns the number of records
// evicted.
func (c *Coordinator) CleanupCompletedBatches(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for id, rec := range c.records {
		if rec.createdAt.Before(cutoff) {
			delete(c.records, id)
			n++
		}
	}

	return n
}

// TrackedBatches returns the number of batch records currently retained.
func (c *Coordinator) TrackedBatches() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.records)
}

func (c *Coordinator) writeWithRetry(ctx context.Context, path string, content []byte, maxRetries int) error {
	if err := c.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		lastErr = afero.WriteFile(c.fs, path, content, 0o644)
		if lastErr == nil {
			return nil
		}
	}

	return lastErr
}

// backup copies any existing outputs for the batch into a timestamped
// backup directory.
func (c *Coordinator) backup(label string, files []File) error {
	backupDir := filepath.Join(c.dir, backupDirName, time.Now().Format("20060102-150405"))

	var merr *multierror.Error

	for _, f := range files {
		path := c.outputPath(label, f.Type)

		exists, err := afero.Exists(c.fs, path)
		if err != nil || !exists {
			continue
		}

		content, err := afero.ReadFile(c.fs, path)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}

		if err := c.fs.MkdirAll(backupDir, 0o755); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}

		if err := afero.WriteFile(c.fs, filepath.Join(backupDir, filepath.Base(path)), content, 0o644); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	return merr.ErrorOrNil()
}

func (c *Coordinator) track(res Result, files []File) {
	rec := record{
		id:        res.BatchID,
		label:     res.Label,
		createdAt: time.Now(),
		files:     make([]string, 0, len(files)),
		success:   res.Success,
	}

	for _, f := range files {
		rec.files = append(rec.files, f.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[rec.id] = rec
}

func (c *Coordinator) classify(path, typ string) Classification {
	exists, err := afero.Exists(c.fs, path)
	if err != nil {
		return ClassCorrupt
	}

	if !exists {
		return ClassMissing
	}

	content, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return ClassCorrupt
	}

	if len(strings.TrimSpace(string(content))) == 0 {
		return ClassCorrupt
	}

	if !hasMarker(string(content), typ) {
		return ClassCorrupt
	}

	return ClassValid
}

// hasMarker checks the structural marker expected for the file type.
func hasMarker(content, typ string) bool {
	switch typ {
	case "json":
		trimmed := strings.TrimSpace(content)
		return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
	case "diff":
		return strings.Contains(content, "diff --git") || strings.Contains(content, "@@")
	default:
		// Markdown-style outputs need at least one heading.
		return strings.Contains(content, "#")
	}
}

func (c *Coordinator) outputPath(label, typ string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s-%s%s", slug(label), typ, extensionFor(typ)))
}

func extensionFor(typ string) string {
	switch typ {
	case "json":
		return ".json"
	case "diff":
		return ".patch"
	default:
		return ".md"
	}
}

// slug lowercases the label and replaces path-hostile characters.
func slug(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)

	return strings.Trim(s, "-")
}
