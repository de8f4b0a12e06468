// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})
	require.NoError(t, err)

	logger.Info("hello", "k", "v")
	require.NoError(t, logger.Close())

	name := "testsvc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "hello")
	assert.Contains(t, content, "testsvc")
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	logger, err := New(Config{LogDir: dir, Quiet: true})
	require.NoError(t, err)
	defer logger.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "filter",
		Quiet:   true,
	})
	require.NoError(t, err)

	logger.Debug("dropped-debug")
	logger.Info("dropped-info")
	logger.Warn("kept-warn")
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	content := string(data)
	assert.NotContains(t, content, "dropped-debug")
	assert.NotContains(t, content, "dropped-info")
	assert.Contains(t, content, "kept-warn")
}

func TestLogger_With(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{LogDir: dir, Service: "with", Quiet: true})
	require.NoError(t, err)

	child := logger.With("user_id", "cap-1")
	child.Info("child message")
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "cap-1"))
}

func TestLogger_CloseTwice(t *testing.T) {
	logger, err := New(Config{LogDir: t.TempDir(), Quiet: true})
	require.NoError(t, err)

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestDefault_DoesNotPanic(t *testing.T) {
	logger := Default()
	logger.Info("stderr only")
	assert.NoError(t, logger.Close())
}
