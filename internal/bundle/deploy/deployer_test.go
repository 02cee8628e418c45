package deploy

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owmeta/go-bundle/internal/bundle"
	"github.com/owmeta/go-bundle/internal/bundle/archive"
	"github.com/owmeta/go-bundle/internal/bundle/registry"
	"github.com/owmeta/go-bundle/internal/bundleerr"
)

type fakeUploader struct {
	accepts bool
	calls   *int
}

func (u *fakeUploader) CanUpload(path string) (bool, error) { return u.accepts, nil }
func (u *fakeUploader) Upload(path string) error {
	*u.calls++
	return nil
}

func bundleDirFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "graphs"), 0o750))
	m := &bundle.Manifest{ManifestVersion: bundle.ManifestVersion, ID: "ex/b", Version: 1}
	require.NoError(t, bundle.WriteManifest(filepath.Join(dir, bundle.ManifestFileName), m))
	return dir
}

func TestDeployer_UploadsToAcceptingUploaders(t *testing.T) {
	dir := bundleDirFixture(t)

	var calls int
	uploaders := registry.NewUploaders()
	uploaders.Register("accept", func(cfg registry.AccessorConfig) (registry.Uploader, error) {
		return &fakeUploader{accepts: true, calls: &calls}, nil
	})
	uploaders.Register("reject", func(cfg registry.AccessorConfig) (registry.Uploader, error) {
		return &fakeUploader{accepts: false, calls: &calls}, nil
	})

	remote := registry.Remote{Name: "r1", Accessors: []registry.AccessorConfig{{Kind: "accept"}, {Kind: "reject"}}}
	d := New([]registry.Remote{remote}, uploaders)

	err := d.Deploy(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDeployer_NoAcceptingUploaderFails(t *testing.T) {
	dir := bundleDirFixture(t)

	var calls int
	uploaders := registry.NewUploaders()
	uploaders.Register("reject", func(cfg registry.AccessorConfig) (registry.Uploader, error) {
		return &fakeUploader{accepts: false, calls: &calls}, nil
	})
	remote := registry.Remote{Name: "r1", Accessors: []registry.AccessorConfig{{Kind: "reject"}}}
	d := New([]registry.Remote{remote}, uploaders)

	err := d.Deploy(dir)
	require.Error(t, err)
	be, ok := bundleerr.As(err)
	require.True(t, ok)
	assert.Equal(t, bundleerr.KindNoAcceptableUploaders, be.Kind)
}

func TestDeployer_ReadsManifestFromArchive(t *testing.T) {
	dir := bundleDirFixture(t)
	var buf bytes.Buffer
	require.NoError(t, archive.Pack(&buf, dir))

	archivePath := filepath.Join(t.TempDir(), "bundle.tar.xz")
	require.NoError(t, os.WriteFile(archivePath, buf.Bytes(), 0o640))

	var calls int
	uploaders := registry.NewUploaders()
	uploaders.Register("accept", func(cfg registry.AccessorConfig) (registry.Uploader, error) {
		return &fakeUploader{accepts: true, calls: &calls}, nil
	})
	remote := registry.Remote{Name: "r1", Accessors: []registry.AccessorConfig{{Kind: "accept"}}}
	d := New([]registry.Remote{remote}, uploaders)

	err := d.Deploy(archivePath)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
