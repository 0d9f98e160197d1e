// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrettyHandler(t *testing.T) {
	tests := []struct {
		name    string
		options *slog.HandlerOptions
		opts    []Option
	}{
		{
			name:    "with nil options",
			options: nil,
			opts:    []Option{},
		},
		{
			name: "with custom options",
			options: &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
			},
			opts: []Option{},
		},
		{
			name:    "with functional options",
			options: &slog.HandlerOptions{},
			opts: []Option{
				WithColour(),
				WithOutputEmptyAttrs(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewPrettyHandler(tt.options, tt.opts...)
			require.NotNil(t, handler)
			assert.NotNil(t, handler.h, "inner handler must be set")
			assert.NotNil(t, handler.b, "buffer must be set")
			assert.NotNil(t, handler.m, "mutex must be set")
		})
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	tests := []struct {
		name    string
		level   slog.Level
		options *slog.HandlerOptions
		want    bool
	}{
		{
			name:    "debug level with debug handler",
			level:   slog.LevelDebug,
			options: &slog.HandlerOptions{Level: slog.LevelDebug},
			want:    true,
		},
		{
			name:    "debug level with info handler",
			level:   slog.LevelDebug,
			options: &slog.HandlerOptions{Level: slog.LevelInfo},
			want:    false,
		},
		{
			name:    "error level with warn handler",
			level:   slog.LevelError,
			options: &slog.HandlerOptions{Level: slog.LevelWarn},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewPrettyHandler(tt.options)
			assert.Equal(t, tt.want, handler.Enabled(context.Background(), tt.level))
		})
	}
}

func TestPrettyHandler_Handle(t *testing.T) {
	var buf bytes.Buffer

	handler := NewPrettyHandler(
		&slog.HandlerOptions{Level: slog.LevelDebug},
		WithDestinationWriter(&buf),
	)

	record := slog.NewRecord(time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC), slog.LevelInfo, "hello world", 0)
	record.AddAttrs(slog.String("key", "value"))

	require.NoError(t, handler.Handle(context.Background(), record))

	out := buf.String()
	assert.Contains(t, out, "INFO:")
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "[12:30:45.000]")
	assert.Contains(t, out, `"key"`)
	assert.Contains(t, out, `"value"`)
}

func TestPrettyHandler_HandleNoAttrs(t *testing.T) {
	var buf bytes.Buffer

	handler := NewPrettyHandler(
		&slog.HandlerOptions{Level: slog.LevelDebug},
		WithDestinationWriter(&buf),
	)

	record := slog.NewRecord(time.Now(), slog.LevelWarn, "bare message", 0)
	require.NoError(t, handler.Handle(context.Background(), record))

	out := buf.String()
	assert.Contains(t, out, "WARN:")
	assert.Contains(t, out, "bare message")
	assert.NotContains(t, out, "{", "no attribute block for an empty attr set")
}

func TestPrettyHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer

	handler := NewPrettyHandler(
		&slog.HandlerOptions{Level: slog.LevelDebug},
		WithDestinationWriter(&buf),
	)

	derived := handler.WithAttrs([]slog.Attr{slog.String("component", "queue")})
	require.NotNil(t, derived)

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "attr carry", 0)
	require.NoError(t, derived.Handle(context.Background(), record))

	assert.Contains(t, buf.String(), `"component"`)
}

func TestPrettyHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer

	handler := NewPrettyHandler(
		&slog.HandlerOptions{Level: slog.LevelDebug},
		WithDestinationWriter(&buf),
	)

	derived := handler.WithGroup("runner")
	require.NotNil(t, derived)

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "grouped", 0)
	record.AddAttrs(slog.Int("pid", 42))

	require.NoError(t, derived.Handle(context.Background(), record))

	out := buf.String()
	assert.Contains(t, out, `"runner"`)
	assert.Contains(t, out, `"pid"`)
}

func TestPrettyHandler_ConcurrentHandle(t *testing.T) {
	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)

	// Serialize the final write; the handler's own buffer is the part under test.
	writer := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()

		return buf.Write(p)
	})

	handler := NewPrettyHandler(
		&slog.HandlerOptions{Level: slog.LevelDebug},
		WithDestinationWriter(writer),
	)

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			record := slog.NewRecord(time.Now(), slog.LevelInfo, "concurrent", 0)
			record.AddAttrs(slog.Int("n", 1))

			assert.NoError(t, handler.Handle(context.Background(), record))
		}()
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, strings.Count(buf.String(), "concurrent"))
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}
