// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8085", cfg.Server.Addr)
	assert.Equal(t, "ar", cfg.Language.Default)
	assert.Equal(t, 3, cfg.Guard.AmbiguityLimit)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
guard:
  ambiguity_limit: 5
  pending_ttl: 2m
language:
  default: en
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Guard.AmbiguityLimit)
	assert.Equal(t, 2*time.Minute, cfg.Guard.PendingTTL)
	assert.Equal(t, "en", cfg.Language.Default)
	// Untouched sections keep their defaults.
	assert.Equal(t, 90, cfg.Strikes.WindowDays)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o600))
	t.Setenv("DISPATCHGUARD_ADDR", ":9100")
	t.Setenv("DISPATCHGUARD_AMBIGUITY_LIMIT", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Guard.AmbiguityLimit)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("language:\n  default: fr\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestStrikesWindow(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 90*24*time.Hour, cfg.Strikes.StrikesWindow())
}
