package reader

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/owmeta/go-bundle/internal/bundle"
	"github.com/owmeta/go-bundle/internal/bundle/install"
	"github.com/owmeta/go-bundle/internal/bundleerr"
	"github.com/owmeta/go-bundle/rdf"
	"github.com/owmeta/go-bundle/rdf/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func installBundle(t *testing.T, bundlesRoot, id string, version int, triples []rdf.Triple, deps string) string {
	t.Helper()
	g := memory.New()
	g.AddContext("http://ex/ctx1", triples)

	yaml := "id: " + id + "\nversion: " + strconv.Itoa(version) + "\nincludes:\n  - http://ex/ctx1\n" + deps
	d, err := bundle.ParseDescriptor([]byte(yaml))
	require.NoError(t, err)

	ins := install.New(bundlesRoot)
	path, err := ins.Install(install.Options{SourceDir: t.TempDir(), Graph: g, Descriptor: d})
	require.NoError(t, err)
	return path
}

func TestResolve_SelectsLatestVersion(t *testing.T) {
	root := t.TempDir()
	bundlesRoot := filepath.Join(root, "bundles")
	installBundle(t, bundlesRoot, "ex/b", 1, nil, "")
	installBundle(t, bundlesRoot, "ex/b", 2, nil, "")

	path, err := Resolve(bundlesRoot, "ex/b", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, bundle.NewPaths(bundlesRoot, "ex/b", 2).Root, path)
}

func TestResolve_NotFoundWithoutFetch(t *testing.T) {
	_, err := Resolve(t.TempDir(), "ex/missing", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, bundleerr.ErrBundleNotFound)
}

func TestResolve_FallsBackToFetch(t *testing.T) {
	root := t.TempDir()
	bundlesRoot := filepath.Join(root, "bundles")
	wantPath := installBundle(t, bundlesRoot, "ex/fetched", 1, nil, "")

	fetchCalled := false
	path, err := Resolve(filepath.Join(root, "other-root"), "ex/fetched", nil, func(id string, version *int) (string, error) {
		fetchCalled = true
		return wantPath, nil
	})
	require.NoError(t, err)
	assert.True(t, fetchCalled)
	assert.Equal(t, wantPath, path)
}

func TestOpen_ExposesOwnContexts(t *testing.T) {
	root := t.TempDir()
	bundlesRoot := filepath.Join(root, "bundles")
	installBundle(t, bundlesRoot, "ex/b", 1, []rdf.Triple{
		{Subject: rdf.IRI("http://ex/a"), Predicate: rdf.IRI("http://ex/p"), Object: rdf.IRI("http://ex/o")},
	}, "")

	b, err := Open(bundlesRoot, "ex/b", nil, nil)
	require.NoError(t, err)
	defer b.Close()

	contexts, err := b.Contexts()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://ex/ctx1"}, contexts)

	qs, err := b.RDF.Triples(rdf.Pattern{}, "")
	require.NoError(t, err)
	assert.Len(t, qs, 1)
}
