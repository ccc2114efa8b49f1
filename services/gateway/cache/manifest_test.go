// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	data := []byte(`
version: v3
offline_path: /offline.html
shell:
  - /
  - /offline.html
static:
  - /assets/index.js
immutable_patterns:
  - /assets/
`)
	m, err := ParseManifest(data)
	require.NoError(t, err)

	assert.Equal(t, "v3", m.Version)
	assert.Equal(t, "/offline.html", m.OfflinePath)
	assert.Equal(t, []string{"/", "/offline.html"}, m.Shell)
	assert.Equal(t, []string{"/assets/index.js"}, m.Static)
}

func TestParseManifest_MissingVersion(t *testing.T) {
	_, err := ParseManifest([]byte("offline_path: /offline.html\nshell:\n  - /offline.html\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestParseManifest_OfflinePathNotInShell(t *testing.T) {
	data := []byte(`
version: v1
offline_path: /offline.html
shell:
  - /
`)
	_, err := ParseManifest(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline_path")
}

func TestParseManifest_MalformedYAML(t *testing.T) {
	_, err := ParseManifest([]byte("version: [unterminated"))
	require.Error(t, err)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "precache-manifest.yaml")
	content := "version: v9\noffline_path: /offline.html\nshell:\n  - /offline.html\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "v9", m.Version)

	_, err = LoadManifest(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestTierName(t *testing.T) {
	m := &Manifest{Version: "v7"}
	assert.Equal(t, "shell-v7", m.TierName(TierShell))
	assert.Equal(t, "static-v7", m.TierName(TierStatic))
	assert.Equal(t, "dynamic-v7", m.TierName(TierDynamic))

	names := m.CurrentTierNames()
	assert.Len(t, names, 3)
	assert.True(t, names["dynamic-v7"])
	assert.False(t, names["dynamic-v6"])
}

func TestIsImmutablePath(t *testing.T) {
	m := &Manifest{ImmutablePatterns: []string{"/assets/", "/icons/"}}

	assert.True(t, m.IsImmutablePath("/assets/index-abc123.js"))
	assert.True(t, m.IsImmutablePath("/icons/icon-192.png"))
	assert.True(t, m.IsImmutablePath("/uploads/receipt.PNG"), "image extensions are immutable anywhere")
	assert.True(t, m.IsImmutablePath("/logo.svg"))
	assert.False(t, m.IsImmutablePath("/api/transactions"))
	assert.False(t, m.IsImmutablePath("/index.html"))
}
