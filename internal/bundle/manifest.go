// Package bundle implements the on-disk bundle format: the manifest,
// directory layout, and descriptor that the installer, fetcher, and
// archiver all read and write.
package bundle

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/owmeta/go-bundle/internal/bundleerr"
)

// ManifestVersion is the only manifest schema version this module
// understands; manifest_version must equal this value.
const ManifestVersion = 1

// ManifestFileName is the name of the manifest file inside a bundle
// directory.
const ManifestFileName = "manifest"

// DependencyDescriptor names one declared dependency of a bundle: an id, a
// version, and the set of context URIs excluded from the aggregate view
// constructed over it.
type DependencyDescriptor struct {
	ID       string   `json:"id"`
	Version  int      `json:"version"`
	Excludes []string `json:"excludes,omitempty"`
}

// Manifest is the JSON document at the root of an installed bundle
// directory.
type Manifest struct {
	ManifestVersion        int                    `json:"manifest_version"`
	ID                     string                 `json:"id"`
	Version                int                    `json:"version"`
	DefaultContextID       string                 `json:"default_context_id,omitempty"`
	ImportsContextID       string                 `json:"imports_context_id,omitempty"`
	ClassRegistryContextID string                 `json:"class_registry_context_id,omitempty"`
	Dependencies           []DependencyDescriptor `json:"dependencies,omitempty"`
}

// Validate checks the fields a manifest requires: a present
// manifest_version equal to ManifestVersion, a non-empty id, and a
// positive version.
func (m *Manifest) Validate() error {
	if m.ManifestVersion != ManifestVersion {
		return bundleerr.NotADescriptor("Manifest.Validate",
			fmt.Errorf("manifest_version %d is not supported (want %d)", m.ManifestVersion, ManifestVersion))
	}
	if m.ID == "" {
		return bundleerr.NotADescriptor("Manifest.Validate", fmt.Errorf("id is required"))
	}
	if m.Version < 1 {
		return bundleerr.NotADescriptor("Manifest.Validate", fmt.Errorf("version must be >= 1, got %d", m.Version))
	}
	return nil
}

// WriteManifest serializes m as indented JSON to path.
func WriteManifest(path string, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating manifest file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return nil
}

// ReadManifest parses and validates the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bundleerr.NotABundlePath("ReadManifest", path, err)
		}
		return nil, fmt.Errorf("opening manifest file: %w", err)
	}
	defer f.Close()
	return DecodeManifest(f)
}

// DecodeManifest parses and validates a manifest from r, used both for
// on-disk manifests and for the manifest member of an archive.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, bundleerr.NotABundlePath("DecodeManifest", "", fmt.Errorf("decoding manifest JSON: %w", err))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// HasDependency reports whether m declares a dependency on id (any
// version).
func (m *Manifest) HasDependency(id string) (DependencyDescriptor, bool) {
	for _, d := range m.Dependencies {
		if d.ID == id {
			return d, true
		}
	}
	return DependencyDescriptor{}, false
}
