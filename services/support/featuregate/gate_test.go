// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package featuregate

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_MasterSwitch(t *testing.T) {
	g := New(map[string]Flag{
		FlagMLModeration: {Enabled: false},
	})

	assert.False(t, g.Enabled(FlagMLModeration, "cap-1"))
	assert.False(t, g.Enabled("unknown_flag", "cap-1"))
}

func TestGate_EnabledForEveryone(t *testing.T) {
	g := New(map[string]Flag{
		FlagLanguageEnforcement: {Enabled: true},
	})

	assert.True(t, g.Enabled(FlagLanguageEnforcement, "cap-1"))
	assert.True(t, g.Enabled(FlagLanguageEnforcement, ""))
}

func TestGate_Allowlist(t *testing.T) {
	g := New(map[string]Flag{
		FlagStrikeAdvisory: {
			Enabled:        true,
			AllowedUserIDs: []string{"cap-vip"},
		},
	})

	assert.True(t, g.Enabled(FlagStrikeAdvisory, "cap-vip"))
	assert.False(t, g.Enabled(FlagStrikeAdvisory, "cap-other"))
	assert.False(t, g.Enabled(FlagStrikeAdvisory, ""))
}

func TestGate_RolloutBucketingIsStable(t *testing.T) {
	g := New(map[string]Flag{
		"gradual": {Enabled: true, RolloutPercent: 50},
	})

	first := g.Enabled("gradual", "cap-123")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, g.Enabled("gradual", "cap-123"))
	}
}

func TestGate_RolloutPercentBounds(t *testing.T) {
	all := New(map[string]Flag{"f": {Enabled: true, RolloutPercent: 100}})
	assert.True(t, all.Enabled("f", "anyone"))

	// Percent zero means no percentage gating at all.
	open := New(map[string]Flag{"f": {Enabled: true, RolloutPercent: 0}})
	assert.True(t, open.Enabled("f", "anyone"))
}

func TestGate_ReplaceIsAtomicUnderReaders(t *testing.T) {
	g := New(map[string]Flag{"f": {Enabled: true}})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					// Must never panic or observe a partial set.
					g.Enabled("f", "cap-1")
					g.Snapshot()
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		g.Replace(map[string]Flag{"f": {Enabled: i%2 == 0}})
	}
	close(stop)
	wg.Wait()
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	content := `
flags:
  language_enforcement:
    enabled: true
    rollout_percent: 25
  single_language_mode:
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	flags, err := LoadFile(path)
	require.NoError(t, err)

	assert.True(t, flags[FlagLanguageEnforcement].Enabled)
	assert.Equal(t, 25, flags[FlagLanguageEnforcement].RolloutPercent)
	assert.False(t, flags[FlagSingleLanguage].Enabled)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
