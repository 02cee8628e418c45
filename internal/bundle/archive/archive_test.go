package archive

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"

	"github.com/owmeta/go-bundle/internal/bundle"
	"github.com/owmeta/go-bundle/internal/bundleerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBundleDir(t *testing.T, id string, version int) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "graphs"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "graphs", "index"), []byte("http://ex/ctx1\x00aa.nt\n"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "graphs", "hashes"), []byte("http://ex/ctx1\x00\x01\xaa\n"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "graphs", "aa.nt"), []byte("<http://ex/a> <http://ex/b> <http://ex/c> .\n"), 0o640))

	m := &bundle.Manifest{ManifestVersion: bundle.ManifestVersion, ID: id, Version: version}
	require.NoError(t, bundle.WriteManifest(filepath.Join(dir, bundle.ManifestFileName), m))

	// owm.db must never survive a pack/unpack round trip.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "owm.db"), []byte("sqlite-data"), 0o640))

	return dir
}

func TestPackUnpack_RoundTripExcludesIndexedDB(t *testing.T) {
	bundleDir := writeBundleDir(t, "ex/b", 1)

	var buf bytes.Buffer
	require.NoError(t, Pack(&buf, bundleDir))

	bundlesRoot := t.TempDir()
	u := &Unarchiver{BundlesRoot: bundlesRoot}
	dest, err := u.Unpack(&buf, "")
	require.NoError(t, err)

	assert.Equal(t, bundle.NewPaths(bundlesRoot, "ex/b", 1).Root, dest)

	_, err = os.Stat(filepath.Join(dest, "owm.db"))
	assert.True(t, os.IsNotExist(err))

	origIndex, err := os.ReadFile(filepath.Join(bundleDir, "graphs", "index"))
	require.NoError(t, err)
	gotIndex, err := os.ReadFile(filepath.Join(dest, "graphs", "index"))
	require.NoError(t, err)
	assert.Equal(t, origIndex, gotIndex)
}

// writeMinimalArchive builds an xz-tar archive containing only a valid
// manifest member plus whatever extra headers the caller supplies, so
// tests can exercise unsafe members without going through Pack.
func writeMinimalArchive(t *testing.T, extra ...tar.Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)

	manifestJSON, err := json.Marshal(&bundle.Manifest{ManifestVersion: bundle.ManifestVersion, ID: "ex/b", Version: 1})
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "manifest", Size: int64(len(manifestJSON)), Typeflag: tar.TypeReg, Mode: 0640}))
	_, err = tw.Write(manifestJSON)
	require.NoError(t, err)

	for _, h := range extra {
		h := h
		require.NoError(t, tw.WriteHeader(&h))
		if h.Typeflag == tar.TypeReg {
			_, err := tw.Write(bytes.Repeat([]byte("x"), int(h.Size)))
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

func TestUnpack_RejectsPathTraversal(t *testing.T) {
	data := writeMinimalArchive(t, tar.Header{Name: "../evil", Size: 4, Typeflag: tar.TypeReg, Mode: 0640})

	target := filepath.Join(t.TempDir(), "target")
	u := &Unarchiver{}
	_, err := u.Unpack(bytes.NewReader(data), target)
	require.Error(t, err)
	assertNotABundlePath(t, err)

	entries, statErr := os.ReadDir(target)
	if statErr == nil {
		assert.Empty(t, entries)
	}
}

func TestUnpack_RejectsSymlinkEscape(t *testing.T) {
	data := writeMinimalArchive(t, tar.Header{Name: "evil-link", Typeflag: tar.TypeSymlink, Linkname: "../../outside", Mode: 0640})

	target := filepath.Join(t.TempDir(), "target")
	u := &Unarchiver{}
	_, err := u.Unpack(bytes.NewReader(data), target)
	require.Error(t, err)
	assertNotABundlePath(t, err)
}

func TestUnpack_TargetDirectoryMismatch(t *testing.T) {
	bundleDir := writeBundleDir(t, "ex/b", 1)
	var buf bytes.Buffer
	require.NoError(t, Pack(&buf, bundleDir))

	bundlesRoot := t.TempDir()
	u := &Unarchiver{BundlesRoot: bundlesRoot}
	_, err := u.Unpack(&buf, filepath.Join(t.TempDir(), "somewhere-else"))
	require.Error(t, err)
	assert.ErrorIs(t, err, bundleerr.ErrTargetDirectoryMismatch)
}

func assertNotABundlePath(t *testing.T, err error) {
	t.Helper()
	be, ok := bundleerr.As(err)
	require.True(t, ok)
	assert.Equal(t, bundleerr.KindNotABundlePath, be.Kind)
}
