// Package deploy implements the Deployer: selects a remote and uploader
// able to accept a bundle directory or archive and pushes it.
package deploy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/owmeta/go-bundle/internal/bundle"
	"github.com/owmeta/go-bundle/internal/bundle/archive"
	"github.com/owmeta/go-bundle/internal/bundle/registry"
	"github.com/owmeta/go-bundle/internal/bundleerr"
)

// Deployer pushes a bundle directory or archive to every uploader, across
// every remote, that accepts it.
type Deployer struct {
	Remotes   []registry.Remote
	Uploaders *registry.Uploaders
}

// New returns a Deployer resolving accessor configs through uploaders.
func New(remotes []registry.Remote, uploaders *registry.Uploaders) *Deployer {
	return &Deployer{Remotes: remotes, Uploaders: uploaders}
}

// Deploy validates path (a bundle directory or tar archive) and pushes it
// through every uploader, across every configured remote, whose
// CanUpload(path) returns true. Fails with NoAcceptableUploaders if none
// do.
func (d *Deployer) Deploy(path string, extra ...registry.Remote) error {
	if _, err := resolveManifest(path); err != nil {
		return err
	}

	var uploaded bool
	for _, remote := range append(append([]registry.Remote{}, d.Remotes...), extra...) {
		for _, uploader := range remote.Uploaders(d.Uploaders) {
			ok, err := uploader.CanUpload(path)
			if err != nil || !ok {
				continue
			}
			if err := uploader.Upload(path); err != nil {
				return fmt.Errorf("deploy: uploader for remote %q failed: %w", remote.Name, err)
			}
			uploaded = true
		}
	}

	if !uploaded {
		return bundleerr.NoAcceptableUploaders("Deployer.Deploy", path)
	}
	return nil
}

// resolveManifest extracts and validates the manifest from a bundle
// directory or a tar archive.
func resolveManifest(path string) (*bundle.Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, bundleerr.NotABundlePath("Deployer.Deploy", path, err)
	}

	if info.IsDir() {
		m, err := bundle.ReadManifest(filepath.Join(path, bundle.ManifestFileName))
		if err != nil {
			return nil, err
		}
		return m, m.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, bundleerr.NotABundlePath("Deployer.Deploy", path, err)
	}
	defer f.Close()

	m, err := archive.ReadManifestFromArchive(f)
	if err != nil {
		return nil, err
	}
	return m, m.Validate()
}
