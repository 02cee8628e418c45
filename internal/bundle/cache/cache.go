// Package cache enumerates bundles already installed under a bundles
// root directory.
package cache

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/owmeta/go-bundle/internal/bundle"
)

// Entry is one installed (id, version) found under a bundles root.
type Entry struct {
	ID      string
	Version int
	Path    string
}

// List walks <bundlesRoot>/*/*/manifest and returns every installed
// bundle, sorted by id then version.
func List(bundlesRoot string) ([]Entry, error) {
	var entries []Entry

	idDirs, err := os.ReadDir(bundlesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, idDir := range idDirs {
		if !idDir.IsDir() {
			continue
		}
		idRoot := filepath.Join(bundlesRoot, idDir.Name())
		versionDirs, err := os.ReadDir(idRoot)
		if err != nil {
			continue
		}
		for _, vDir := range versionDirs {
			if !vDir.IsDir() {
				continue
			}
			version, err := strconv.Atoi(vDir.Name())
			if err != nil {
				continue
			}
			manifestPath := filepath.Join(idRoot, vDir.Name(), bundle.ManifestFileName)
			m, err := bundle.ReadManifest(manifestPath)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{ID: m.ID, Version: version, Path: filepath.Join(idRoot, vDir.Name())})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ID != entries[j].ID {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Version < entries[j].Version
	})

	return entries, nil
}

// Versions lists the installed versions of id under bundlesRoot, ascending.
// The reader package does not call it: it resolves an unversioned Open
// with its own directory scan.
func Versions(bundlesRoot, id string) ([]int, error) {
	idRoot := bundle.IDRoot(bundlesRoot, id)
	entries, err := os.ReadDir(idRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var versions []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, err := strconv.Atoi(e.Name()); err == nil {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions, nil
}
