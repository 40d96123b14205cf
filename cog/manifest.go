package cog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// ManifestSuffix marks plugin files in the extensions directory.
	ManifestSuffix = ".toml"
	// InitManifest is the package-init file. Any file whose name contains
	// initMarker is skipped, not only this one.
	InitManifest = initMarker + ManifestSuffix

	initMarker = "__init__"
)

// Candidate is a plugin file found in the extensions directory.
type Candidate struct {
	ID   string
	Path string
}

// Discover lists dir and returns one candidate per "<name>.toml" file,
// qualified as "<namespace>.<name>" and sorted by identifier. Sub-directories,
// init files (any name containing "__init__") and other suffixes are skipped.
func Discover(dir, namespace string) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list extensions in %s: %w", dir, err)
	}

	var candidates []Candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.Contains(name, initMarker) || !strings.HasSuffix(name, ManifestSuffix) {
			continue
		}
		base := strings.TrimSuffix(name, ManifestSuffix)
		if base == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:   qualify(namespace, base),
			Path: filepath.Join(dir, name),
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates, nil
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// Manifest is the content of a plugin file.
//
//	enabled = true
//
//	[options]
//	digest_cron = "0 0 9 * * MON"
type Manifest struct {
	Enabled *bool          `toml:"enabled"`
	Options map[string]any `toml:"options"`
}

// IsEnabled reports whether the cog should be loaded. Cogs are enabled unless
// the manifest says otherwise.
func (m Manifest) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// ReadManifest decodes the plugin file at path. Unknown top-level keys are
// rejected so typos do not silently disable options.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	var unknown []string
	for _, key := range md.Undecoded() {
		if len(key) > 0 && key[0] == "options" {
			continue
		}
		unknown = append(unknown, key.String())
	}
	if len(unknown) > 0 {
		return Manifest{}, fmt.Errorf("manifest %s has unknown keys: %s", path, strings.Join(unknown, ", "))
	}

	if m.Options == nil {
		m.Options = make(map[string]any)
	}
	return m, nil
}
