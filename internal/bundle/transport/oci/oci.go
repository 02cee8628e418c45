// Package oci implements the OCI registry loader and uploader: a bundle's
// packed archive travels as the single layer of an OCI artifact, tagged
// by a reference template derived from the bundle id and version.
package oci

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/google/go-containerregistry/pkg/v1/types"

	"github.com/owmeta/go-bundle/internal/bundle"
	"github.com/owmeta/go-bundle/internal/bundle/archive"
	"github.com/owmeta/go-bundle/internal/bundle/registry"
)

const (
	// LayerMediaType is the media type of the single layer carrying a
	// bundle's packed archive.
	LayerMediaType = types.MediaType("application/vnd.owmeta.bundle.layer.v1.tar+xz")
	// ArtifactType annotates an image as a bundle rather than a regular
	// container image, so pullers can reject the wrong kind of reference.
	ArtifactType = "application/vnd.owmeta.bundle.v1"

	labelID      = "org.opencontainers.image.title"
	labelVersion = "org.opencontainers.image.version"
)

// referenceTemplate turns (repository, id, version) into a full OCI
// reference, tagging by version so multiple bundle versions coexist as
// distinct tags of the same repository.
func referenceTemplate(repository, id string, version int) string {
	tag := sanitizeTag(id) + "-v" + strconv.Itoa(version)
	return repository + ":" + tag
}

func sanitizeTag(id string) string {
	return strings.NewReplacer("/", "-", ":", "-").Replace(id)
}

// Loader pulls bundles from a single OCI repository, one tag per version.
type Loader struct {
	Repository string
	Keychain   authn.Keychain
}

// NewLoader returns a Loader pulling from repository (e.g.
// ghcr.io/org/bundles).
func NewLoader(repository string) *Loader {
	return &Loader{Repository: repository, Keychain: authn.DefaultKeychain}
}

// NewLoaderFactory adapts NewLoader to registry.LoaderFactory, reading the
// repository from cfg.Settings["repository"].
func NewLoaderFactory() registry.LoaderFactory {
	return func(cfg registry.AccessorConfig) (registry.Loader, error) {
		repo := cfg.Settings["repository"]
		if repo == "" {
			return nil, fmt.Errorf("oci loader: accessor config missing \"repository\" setting")
		}
		return NewLoader(repo), nil
	}
}

func (l *Loader) remoteOpts() []remote.Option {
	return []remote.Option{remote.WithAuthFromKeychain(l.Keychain)}
}

// CanLoad reports whether the tag implied by (id, version) resolves in
// the repository. version nil means "any tag for id", approximated by
// probing version 1 since OCI registries don't expose arbitrary tag
// listings through the image API alone.
func (l *Loader) CanLoad(id string, version *int) (bool, error) {
	v := 1
	if version != nil {
		v = *version
	}
	ref, err := name.ParseReference(referenceTemplate(l.Repository, id, v))
	if err != nil {
		return false, nil
	}
	if _, err := remote.Head(ref, l.remoteOpts()...); err != nil {
		return false, nil
	}
	return true, nil
}

// BundleVersions probes ascending integer tags starting at 1 until one is
// missing, since OCI registries have no standard "list tags matching
// pattern" call available through this client alone.
func (l *Loader) BundleVersions(id string) ([]int, error) {
	var out []int
	for v := 1; v <= 1<<16; v++ {
		ref, err := name.ParseReference(referenceTemplate(l.Repository, id, v))
		if err != nil {
			break
		}
		if _, err := remote.Head(ref, l.remoteOpts()...); err != nil {
			break
		}
		out = append(out, v)
	}
	return out, nil
}

// Load pulls the image tagged for (id, version), validates it is a bundle
// artifact with exactly one layer of LayerMediaType, and unpacks that
// layer's xz-tar contents into baseDir.
func (l *Loader) Load(id string, version *int, baseDir string) error {
	if version == nil {
		return fmt.Errorf("oci loader: version is required")
	}
	ref, err := name.ParseReference(referenceTemplate(l.Repository, id, *version))
	if err != nil {
		return fmt.Errorf("parsing reference: %w", err)
	}

	img, err := remote.Image(ref, l.remoteOpts()...)
	if err != nil {
		return fmt.Errorf("fetching image %q: %w", ref.String(), err)
	}

	if err := validateBundleImage(img); err != nil {
		return err
	}

	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("reading layers: %w", err)
	}

	rc, err := layers[0].Uncompressed()
	if err != nil {
		return fmt.Errorf("reading layer contents: %w", err)
	}
	defer rc.Close()

	u := &archive.Unarchiver{}
	if _, err := u.Unpack(rc, baseDir); err != nil {
		return fmt.Errorf("unpacking bundle layer: %w", err)
	}
	return nil
}

func validateBundleImage(img v1.Image) error {
	manifest, err := img.Manifest()
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	if manifest.Annotations != nil {
		if at, ok := manifest.Annotations["org.opencontainers.image.artifactType"]; ok && at != ArtifactType {
			return fmt.Errorf("not a bundle artifact: artifact type %q, expected %q", at, ArtifactType)
		}
	}
	if len(manifest.Layers) != 1 {
		return fmt.Errorf("expected exactly one layer, got %d", len(manifest.Layers))
	}
	if manifest.Layers[0].MediaType != LayerMediaType {
		return fmt.Errorf("unexpected layer media type %q", manifest.Layers[0].MediaType)
	}
	return nil
}

// Uploader pushes a packed bundle archive as the single layer of an OCI
// artifact tagged by the bundle's (id, version).
type Uploader struct {
	Repository string
	Keychain   authn.Keychain
}

// NewUploader returns an Uploader pushing into repository.
func NewUploader(repository string) *Uploader {
	return &Uploader{Repository: repository, Keychain: authn.DefaultKeychain}
}

// NewUploaderFactory adapts NewUploader to registry.UploaderFactory.
func NewUploaderFactory() registry.UploaderFactory {
	return func(cfg registry.AccessorConfig) (registry.Uploader, error) {
		repo := cfg.Settings["repository"]
		if repo == "" {
			return nil, fmt.Errorf("oci uploader: accessor config missing \"repository\" setting")
		}
		return NewUploader(repo), nil
	}
}

// CanUpload reports whether path is a directory this uploader can pack and
// push (an OCI destination accepts any bundle directory).
func (u *Uploader) CanUpload(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	return info.IsDir(), nil
}

// Upload packs path (a bundle directory) and pushes it as a tagged OCI
// artifact, reading the id and version from the directory's manifest.
func (u *Uploader) Upload(path string) error {
	m, err := readManifest(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := archive.Pack(&buf, path); err != nil {
		return fmt.Errorf("packing %q: %w", path, err)
	}

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
	}, tarball.WithMediaType(LayerMediaType))
	if err != nil {
		return fmt.Errorf("building layer: %w", err)
	}

	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return fmt.Errorf("appending layer: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg = cfg.DeepCopy()
	cfg.Config.Labels = map[string]string{
		labelID:      m.ID,
		labelVersion: strconv.Itoa(m.Version),
	}
	img, err = mutate.ConfigFile(img, cfg)
	if err != nil {
		return fmt.Errorf("setting config: %w", err)
	}

	annotated := mutate.Annotations(img, map[string]string{
		"org.opencontainers.image.artifactType": ArtifactType,
	})
	img, ok := annotated.(v1.Image)
	if !ok {
		return fmt.Errorf("asserting annotated image")
	}

	ref, err := name.ParseReference(referenceTemplate(u.Repository, m.ID, m.Version))
	if err != nil {
		return fmt.Errorf("parsing reference: %w", err)
	}

	if err := remote.Write(ref, img, remote.WithAuthFromKeychain(u.Keychain)); err != nil {
		return fmt.Errorf("pushing %q: %w", ref.String(), err)
	}
	return nil
}

func readManifest(bundleDir string) (*bundle.Manifest, error) {
	return bundle.ReadManifest(filepath.Join(bundleDir, bundle.ManifestFileName))
}
