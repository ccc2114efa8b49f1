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
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest declares one cache generation: the version token, the URL
// sets for the shell and static tiers, the offline fallback document,
// and the path patterns treated as immutable.
//
// # Description
//
// The manifest is the single versioning mechanism for cached content.
// A new build of the finance app ships a manifest with a bumped Version;
// activating it replaces all three tiers (see update.Checker).
//
// # Examples
//
//	version: v7
//	offline_path: /offline.html
//	shell:
//	  - /
//	  - /offline.html
//	static:
//	  - /assets/index.js
//	  - /icons/icon-192.png
//	immutable_patterns:
//	  - /assets/
//	  - /icons/
type Manifest struct {
	// Version is the generation token embedded in every tier name.
	Version string `yaml:"version"`

	// OfflinePath is the shell document served when a navigation cannot
	// be satisfied from network or cache. Must be listed in Shell.
	OfflinePath string `yaml:"offline_path"`

	// Shell lists the URLs required for the app to boot offline.
	Shell []string `yaml:"shell"`

	// Static lists versioned build assets to pre-cache best-effort.
	Static []string `yaml:"static"`

	// ImmutablePatterns lists path prefixes whose responses are treated
	// as immutable: cache-first with no background revalidation.
	ImmutablePatterns []string `yaml:"immutable_patterns"`
}

// imageExtensions are always treated as immutable, in addition to the
// manifest's configured patterns.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico"}

// LoadManifest reads and validates a manifest from a YAML file.
//
// # Inputs
//
//   - filePath: Path to the manifest YAML file.
//
// # Outputs
//
//   - *Manifest: The parsed manifest.
//   - error: Non-nil if the file is unreadable, malformed, or invalid.
func LoadManifest(filePath string) (*Manifest, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", filePath, err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates manifest YAML bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest invariants.
//
// The offline document must be part of the shell set: it is the last
// fallback for navigations and has to survive offline boot.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return errors.New("manifest: version is required")
	}
	if m.OfflinePath == "" {
		return errors.New("manifest: offline_path is required")
	}
	for _, u := range m.Shell {
		if u == m.OfflinePath {
			return nil
		}
	}
	return fmt.Errorf("manifest: offline_path %s must be listed in shell", m.OfflinePath)
}

// TierName returns the versioned physical name for a tier, e.g.
// "dynamic-v7".
func (m *Manifest) TierName(t Tier) string {
	return fmt.Sprintf("%s-%s", t, m.Version)
}

// CurrentTierNames returns the set of the three current tier names.
// PurgeStaleTiers deletes every stored generation outside this set.
func (m *Manifest) CurrentTierNames() map[string]bool {
	return map[string]bool{
		m.TierName(TierShell):   true,
		m.TierName(TierStatic):  true,
		m.TierName(TierDynamic): true,
	}
}

// IsImmutablePath reports whether a request path matches a configured
// immutable prefix or a known image extension. Immutable paths are
// versioned build output; revalidating them is wasted traffic.
func (m *Manifest) IsImmutablePath(p string) bool {
	for _, prefix := range m.ImmutablePatterns {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(p))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
