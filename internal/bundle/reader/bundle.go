// Package reader implements Bundle: resolving an on-disk bundle by id and
// optional version, opening its indexed database, and exposing the
// dependency-aware aggregate RDF view over it.
package reader

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/owmeta/go-bundle/internal/bundle"
	"github.com/owmeta/go-bundle/internal/bundle/store"
	"github.com/owmeta/go-bundle/internal/bundleerr"
	"github.com/owmeta/go-bundle/rdf"
)

// FetchFunc attempts to fetch (id, version) into the bundles root,
// returning the installed path. Bundle.Resolve calls it only when no
// on-disk version is found.
type FetchFunc func(id string, version *int) (string, error)

// Bundle is an opened, read-only view over one installed bundle directory
// and its transitive dependencies.
type Bundle struct {
	ID          string
	Version     int
	Path        string
	BundlesRoot string
	Manifest    *bundle.Manifest
	RDF         rdf.Store

	// dbs holds every indexed-database handle opened for this bundle and
	// its transitive dependencies, released together by Close.
	dbs []*sql.DB
}

// Resolve locates the directory for (id, version) under bundlesRoot. If
// version is nil, the numerically greatest installed version (a directory
// named by an integer >= 1) is used; if no on-disk version exists and fetch is non-nil, Resolve
// attempts a fetch before failing.
func Resolve(bundlesRoot, id string, version *int, fetch FetchFunc) (string, error) {
	idRoot := bundle.IDRoot(bundlesRoot, id)

	if version != nil {
		p := bundle.NewPaths(bundlesRoot, id, *version).Root
		if dirExists(p) {
			return p, nil
		}
	} else {
		if v, ok := latestVersion(idRoot); ok {
			return bundle.NewPaths(bundlesRoot, id, v).Root, nil
		}
	}

	if fetch != nil {
		p, err := fetch(id, version)
		if err == nil && dirExists(p) {
			return p, nil
		}
	}

	return "", bundleerr.BundleNotFound("Resolve", id, version)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func latestVersion(idRoot string) (int, bool) {
	entries, err := os.ReadDir(idRoot)
	if err != nil {
		return 0, false
	}
	best := -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.Atoi(e.Name())
		if err != nil || v < 1 {
			continue
		}
		if v > best {
			best = v
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// DependencyResolver opens a dependency's Bundle, used recursively while
// constructing the aggregate store. Implementations should apply
// (id, version, excludes)-keyed visited-set pruning for cyclic or diamond
// dependency graphs.
type DependencyResolver func(id string, version int, excludes []string, visited map[visitKey]struct{}) (rdf.Store, error)

type visitKey struct {
	id       string
	version  int
	excludes string
}

// Open resolves and opens a bundle: reads its manifest, opens its indexed
// database read-only, and recursively constructs the aggregate store over
// its declared dependencies.
func Open(bundlesRoot, id string, version *int, fetch FetchFunc) (*Bundle, error) {
	visited := make(map[visitKey]struct{})
	return openRec(bundlesRoot, id, version, "", fetch, visited)
}

func openRec(bundlesRoot, id string, version *int, excludes string, fetch FetchFunc, visited map[visitKey]struct{}) (*Bundle, error) {
	path, err := Resolve(bundlesRoot, id, version, fetch)
	if err != nil {
		return nil, err
	}

	paths := bundle.Paths{Root: path}
	m, err := bundle.ReadManifest(paths.Manifest())
	if err != nil {
		return nil, err
	}

	key := visitKey{id: m.ID, version: m.Version, excludes: excludes}
	if _, ok := visited[key]; ok {
		// Already opened with the same excludes during this traversal;
		// return an empty leaf rather than recursing forever.
		return &Bundle{ID: m.ID, Version: m.Version, Path: path, BundlesRoot: bundlesRoot, Manifest: m, RDF: store.New(emptyStore{}, nil)}, nil
	}
	visited[key] = struct{}{}

	db, err := openIndexedDB(paths.IndexedDB())
	if err != nil {
		return nil, err
	}
	dbs := []*sql.DB{db.sqlDB}

	var leaves []store.Leaf
	for _, dep := range m.Dependencies {
		depKey := visitKey{id: dep.ID, version: dep.Version, excludes: strings.Join(dep.Excludes, ",")}
		if _, ok := visited[depKey]; ok {
			continue
		}
		v := dep.Version
		depBundle, err := openRec(bundlesRoot, dep.ID, &v, depKey.excludes, fetch, visited)
		if err != nil {
			closeAll(dbs)
			return nil, err
		}
		dbs = append(dbs, depBundle.dbs...)
		leaves = append(leaves, store.NewLeaf(depBundle.RDF, dep.Excludes))
	}

	agg := store.New(db, leaves)

	return &Bundle{
		ID:          m.ID,
		Version:     m.Version,
		Path:        path,
		BundlesRoot: bundlesRoot,
		Manifest:    m,
		RDF:         agg,
		dbs:         dbs,
	}, nil
}

func closeAll(dbs []*sql.DB) {
	for _, db := range dbs {
		db.Close()
	}
}

// Close releases every indexed-database handle opened for this bundle and
// its transitive dependencies. It is safe to call Close more than once.
func (b *Bundle) Close() error {
	if b.dbs == nil {
		return nil
	}
	var firstErr error
	for _, db := range b.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.dbs = nil
	return firstErr
}

// Contexts parses graphs/index and returns the set of context URIs
// declared by this bundle (not its dependencies).
func (b *Bundle) Contexts() ([]string, error) {
	paths := bundle.Paths{Root: b.Path}
	f, err := os.Open(paths.GraphIndex())
	if err != nil {
		return nil, fmt.Errorf("opening graphs/index: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		uri, _, ok := strings.Cut(line, "\x00")
		if !ok {
			continue
		}
		seen[uri] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading graphs/index: %w", err)
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// emptyStore is a degenerate rdf.Store with no quads, used to terminate a
// cyclic dependency reference without recursing further.
type emptyStore struct{}

func (emptyStore) Triples(rdf.Pattern, string) ([]rdf.Quad, error)                      { return nil, nil }
func (emptyStore) TriplesChoices(*rdf.Term, *rdf.Term, []rdf.Term, string) ([]rdf.Quad, error) {
	return nil, nil
}
func (emptyStore) Contexts() ([]string, error)   { return nil, nil }
func (emptyStore) Len(string) (int, error)       { return 0, nil }
func (emptyStore) Add(rdf.Quad) error            { return bundleerr.UnsupportedAggregateOperation("emptyStore.Add") }
func (emptyStore) AddN([]rdf.Quad) error         { return bundleerr.UnsupportedAggregateOperation("emptyStore.AddN") }
func (emptyStore) Remove(rdf.Quad) error         { return bundleerr.UnsupportedAggregateOperation("emptyStore.Remove") }
