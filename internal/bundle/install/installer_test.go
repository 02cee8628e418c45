package install

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/owmeta/go-bundle/internal/bundle"
	"github.com/owmeta/go-bundle/internal/bundleerr"
	"github.com/owmeta/go-bundle/rdf"
	"github.com/owmeta/go-bundle/rdf/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func triple(s, p, o string) rdf.Triple {
	return rdf.Triple{Subject: rdf.IRI(s), Predicate: rdf.IRI(p), Object: rdf.IRI(o)}
}

func descriptor(t *testing.T, yaml string) *bundle.Descriptor {
	t.Helper()
	d, err := bundle.ParseDescriptor([]byte(yaml))
	require.NoError(t, err)
	return d
}

// Descriptor includes ctx1 and ctx2, both containing the same triple.
// Expect exactly one .nt file under graphs/, referenced by two index lines.
func TestInstall_DeduplicatesIdenticalContexts(t *testing.T) {
	g := memory.New()
	g.AddContext("http://ex/ctx1", []rdf.Triple{triple("http://ex/a", "http://ex/b", "http://ex/c")})
	g.AddContext("http://ex/ctx2", []rdf.Triple{triple("http://ex/a", "http://ex/b", "http://ex/c")})

	d := descriptor(t, "id: ex/b\nversion: 1\nincludes:\n  - http://ex/ctx1\n  - http://ex/ctx2\n")

	root := t.TempDir()
	bundlesRoot := filepath.Join(root, "bundles")
	srcDir := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o750))

	ins := New(bundlesRoot)
	path, err := ins.Install(Options{SourceDir: srcDir, Graph: g, Descriptor: d})
	require.NoError(t, err)

	ntFiles, err := filepath.Glob(filepath.Join(path, "graphs", "*.nt"))
	require.NoError(t, err)
	assert.Len(t, ntFiles, 1)

	indexLines := readLines(t, filepath.Join(path, "graphs", "index"))
	require.Len(t, indexLines, 2)
	_, file1, _ := strings.Cut(indexLines[0], "\x00")
	_, file2, _ := strings.Cut(indexLines[1], "\x00")
	assert.Equal(t, file1, file2)
}

// ctx1 included, imports-context records ctx1 imports ctx2, ctx2 is
// neither included nor declared empty nor covered by a dependency.
// Expect UncoveredImports listing ctx2.
func TestInstall_UncoveredImportFails(t *testing.T) {
	g := memory.New()
	g.AddContext("http://ex/ctx1", []rdf.Triple{triple("http://ex/a", "http://ex/b", "http://ex/c")})
	g.AddContext("http://ex/imports", []rdf.Triple{
		{Subject: rdf.IRI("http://ex/ctx1"), Predicate: rdf.IRI(ImportsPredicate), Object: rdf.IRI("http://ex/ctx2")},
	})

	d := descriptor(t, "id: ex/b\nversion: 1\nincludes:\n  - http://ex/ctx1\n")

	root := t.TempDir()
	ins := New(filepath.Join(root, "bundles"))
	_, err := ins.Install(Options{
		SourceDir:        filepath.Join(root, "src"),
		Graph:            g,
		Descriptor:       d,
		ImportsContextID: "http://ex/imports",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bundleerr.ErrUncoveredImports))

	be, ok := bundleerr.As(err)
	require.True(t, ok)
	uris, ok := be.Detail.([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"http://ex/ctx2"}, uris)

	// Partial graphs/files must not remain.
	_, statErr := os.Stat(filepath.Join(ins.BundlesRoot, "ex%2Fb", "1", "graphs"))
	assert.True(t, os.IsNotExist(statErr))
}

// Same as TestInstall_UncoveredImportFails but a declared dependency
// covers ctx2. Expect success.
func TestInstall_DependencyCoversImport(t *testing.T) {
	g := memory.New()
	g.AddContext("http://ex/ctx1", []rdf.Triple{triple("http://ex/a", "http://ex/b", "http://ex/c")})
	g.AddContext("http://ex/imports", []rdf.Triple{
		{Subject: rdf.IRI("http://ex/ctx1"), Predicate: rdf.IRI(ImportsPredicate), Object: rdf.IRI("http://ex/ctx2")},
	})

	d := descriptor(t, "id: ex/b\nversion: 1\nincludes:\n  - http://ex/ctx1\ndependencies:\n  - [dep, 1]\n")

	root := t.TempDir()
	ins := New(filepath.Join(root, "bundles"))
	path, err := ins.Install(Options{
		SourceDir:        filepath.Join(root, "src"),
		Graph:            g,
		Descriptor:       d,
		ImportsContextID: "http://ex/imports",
		ResolveDependency: func(id string, version int) ([]string, error) {
			if id == "dep" && version == 1 {
				return []string{"http://ex/ctx2"}, nil
			}
			return nil, nil
		},
	})
	require.NoError(t, err)
	assert.DirExists(t, path)
}

func TestInstall_TargetNotEmptyFails(t *testing.T) {
	root := t.TempDir()
	bundlesRoot := filepath.Join(root, "bundles")
	staging := filepath.Join(bundlesRoot, "ex%2Fb", "1")
	require.NoError(t, os.MkdirAll(staging, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "stray"), []byte("x"), 0o640))

	d := descriptor(t, "id: ex/b\nversion: 1\nincludes: []\n")
	ins := New(bundlesRoot)
	_, err := ins.Install(Options{SourceDir: t.TempDir(), Graph: memory.New(), Descriptor: d})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bundleerr.ErrTargetIsNotEmpty))
}

func TestInstall_WritesManifestWithDependencies(t *testing.T) {
	g := memory.New()
	d := descriptor(t, "id: ex/b\nversion: 4\nincludes: []\ndependencies:\n  - [dep, 2]\n")

	root := t.TempDir()
	ins := New(filepath.Join(root, "bundles"))
	path, err := ins.Install(Options{SourceDir: filepath.Join(root, "src"), Graph: g, Descriptor: d})
	require.NoError(t, err)

	m, err := bundle.ReadManifest(filepath.Join(path, bundle.ManifestFileName))
	require.NoError(t, err)
	assert.Equal(t, "ex/b", m.ID)
	assert.Equal(t, 4, m.Version)
	require.Len(t, m.Dependencies, 1)
	assert.Equal(t, "dep", m.Dependencies[0].ID)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if scanner.Text() != "" {
			lines = append(lines, scanner.Text())
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}
