// Package install implements the bundle installer: building a versioned
// bundle directory from a descriptor, a source RDF graph, and a source
// file tree, and validating the imports closure against declared
// dependencies.
package install

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/owmeta/go-bundle/internal/bundle"
	"github.com/owmeta/go-bundle/internal/bundle/canon"
	"github.com/owmeta/go-bundle/internal/bundleerr"
	"github.com/owmeta/go-bundle/internal/log"
	"github.com/owmeta/go-bundle/rdf"
)

// ImportsPredicate is the predicate IRI the installer looks for within the
// imports context to record a "context X imports context Y" edge: a
// triple (X, ImportsPredicate, Y).
const ImportsPredicate = "http://owmeta.org/bundle#imports"

// DependencyContexts resolves a declared dependency to the set of context
// URIs it transitively covers, so the imports closure check can treat
// those URIs as satisfied. Callers typically implement this by resolving
// the dependency bundle and listing its aggregate store's contexts.
type DependencyContexts func(id string, version int) ([]string, error)

// Options configures one Install call.
type Options struct {
	SourceDir              string
	Graph                  rdf.ContextSource
	Descriptor             *bundle.Descriptor
	ImportsContextID       string
	DefaultContextID       string
	ClassRegistryContextID string
	HashAlgorithm          string
	ResolveDependency      DependencyContexts
}

// Installer builds bundle directories under BundlesRoot.
type Installer struct {
	BundlesRoot string
	Log         *log.Logger
}

// New returns an Installer rooted at bundlesRoot.
func New(bundlesRoot string) *Installer {
	return &Installer{BundlesRoot: bundlesRoot, Log: log.DefaultLogger()}
}

// Install runs the full installer procedure and returns the path to the
// installed bundle directory.
func (ins *Installer) Install(opts Options) (string, error) {
	if ins.Log == nil {
		ins.Log = log.DefaultLogger()
	}

	d := opts.Descriptor
	paths := bundle.NewPaths(ins.BundlesRoot, d.ID, d.Version)
	ins.Log.Info("installing bundle", "id", d.ID, "version", d.Version, "path", paths.Root)

	if err := ensureEmptyDir(paths.Root, "Install"); err != nil {
		return "", err
	}

	lock := flock.New(paths.Lock())
	installerID := uuid.NewString()
	locked, err := lock.TryLock()
	if err != nil {
		return "", fmt.Errorf("install %s: acquiring lock: %w", installerID, err)
	}
	if !locked {
		return "", fmt.Errorf("install %s: staging directory already locked by another installer", installerID)
	}
	defer lock.Unlock()

	if err := os.MkdirAll(paths.Graphs(), 0o750); err != nil {
		return "", fmt.Errorf("creating graphs directory: %w", err)
	}
	if err := os.MkdirAll(paths.Files(), 0o750); err != nil {
		return "", fmt.Errorf("creating files directory: %w", err)
	}

	if err := ins.installFiles(paths, opts); err != nil {
		ins.Log.WithError(err).Warn("install failed copying files", "id", d.ID, "version", d.Version)
		cleanupPartial(paths)
		return "", err
	}

	index, err := ins.installContexts(paths, opts)
	if err != nil {
		ins.Log.WithError(err).Warn("install failed copying contexts", "id", d.ID, "version", d.Version)
		cleanupPartial(paths)
		return "", err
	}

	if err := checkImportsClosure(opts, index); err != nil {
		ins.Log.WithError(err).Warn("install failed imports closure check", "id", d.ID, "version", d.Version)
		cleanupPartial(paths)
		return "", err
	}

	manifest := &bundle.Manifest{
		ManifestVersion:        bundle.ManifestVersion,
		ID:                     d.ID,
		Version:                d.Version,
		DefaultContextID:       opts.DefaultContextID,
		ImportsContextID:       opts.ImportsContextID,
		ClassRegistryContextID: opts.ClassRegistryContextID,
		Dependencies:           d.Dependencies,
	}
	if err := bundle.WriteManifest(paths.Manifest(), manifest); err != nil {
		cleanupPartial(paths)
		return "", err
	}

	if err := ins.buildIndexedDB(paths, index); err != nil {
		ins.Log.WithError(err).Warn("install failed building indexed database", "id", d.ID, "version", d.Version)
		cleanupPartial(paths)
		return "", err
	}

	ins.Log.Info("installed bundle", "id", d.ID, "version", d.Version, "path", paths.Root)
	return paths.Root, nil
}

func ensureEmptyDir(root, op string) error {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("reading staging directory: %w", err)
	}
	if len(entries) != 0 {
		return bundleerr.TargetIsNotEmpty(op, root)
	}
	return nil
}

func cleanupPartial(paths bundle.Paths) {
	os.RemoveAll(paths.Graphs())
	os.RemoveAll(paths.Files())
}

// contextEntry records where one context's canonicalized bytes live.
type contextEntry struct {
	uri      string
	filename string
	triples  []rdf.Triple
}

func (ins *Installer) installContexts(paths bundle.Paths, opts Options) ([]contextEntry, error) {
	algo := opts.HashAlgorithm

	indexF, err := os.Create(paths.GraphIndex())
	if err != nil {
		return nil, fmt.Errorf("creating graphs/index: %w", err)
	}
	defer indexF.Close()

	hashesF, err := os.Create(paths.GraphHashes())
	if err != nil {
		return nil, fmt.Errorf("creating graphs/hashes: %w", err)
	}
	defer hashesF.Close()

	contexts, err := opts.Graph.Contexts()
	if err != nil {
		return nil, fmt.Errorf("enumerating source graph contexts: %w", err)
	}
	sort.Strings(contexts)

	seen := make(map[string]string) // hex digest -> filename already written
	var entries []contextEntry

	for _, uri := range contexts {
		matched, _ := opts.Descriptor.MatchesInclude(uri)
		if !matched {
			continue
		}

		triples, err := opts.Graph.ContextTriples(uri)
		if err != nil {
			return nil, fmt.Errorf("reading triples for context %q: %w", uri, err)
		}

		serialized := canon.Serialize(triples)
		raw, hexDigest, err := canon.Digest(algo, serialized)
		if err != nil {
			return nil, err
		}

		filename := hexDigest + ".nt"
		if _, ok := seen[hexDigest]; !ok {
			tmp := paths.GraphFile(filename + ".tmp")
			if err := os.WriteFile(tmp, serialized, 0o640); err != nil {
				return nil, fmt.Errorf("writing graph file: %w", err)
			}
			if err := os.Rename(tmp, paths.GraphFile(filename)); err != nil {
				return nil, fmt.Errorf("renaming graph file: %w", err)
			}
			seen[hexDigest] = filename
		}

		if _, err := fmt.Fprintf(indexF, "%s\x00%s\n", uri, filename); err != nil {
			return nil, fmt.Errorf("writing graphs/index: %w", err)
		}
		if _, err := hashesF.Write(append([]byte(uri+"\x00"), canon.EncodeLengthPrefixed(raw)...)); err != nil {
			return nil, fmt.Errorf("writing graphs/hashes: %w", err)
		}
		if _, err := hashesF.WriteString("\n"); err != nil {
			return nil, fmt.Errorf("writing graphs/hashes: %w", err)
		}

		entries = append(entries, contextEntry{uri: uri, filename: filename, triples: triples})
	}

	return entries, nil
}

func (ins *Installer) installFiles(paths bundle.Paths, opts Options) error {
	hashesF, err := os.Create(paths.FileHashes())
	if err != nil {
		return fmt.Errorf("creating files/hashes: %w", err)
	}
	defer hashesF.Close()

	var relpaths []string
	seen := make(map[string]struct{})

	for _, rel := range opts.Descriptor.Files.Includes {
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}
		relpaths = append(relpaths, rel)
	}

	if len(opts.Descriptor.Files.Patterns) > 0 {
		err := filepath.Walk(opts.SourceDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(opts.SourceDir, path)
			if err != nil {
				return err
			}
			if _, ok := seen[rel]; ok {
				return nil
			}
			for _, p := range opts.Descriptor.Files.Patterns {
				if p.Match(rel) {
					seen[rel] = struct{}{}
					relpaths = append(relpaths, rel)
					break
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("enumerating source file patterns: %w", err)
		}
	}

	sort.Strings(relpaths)

	for _, rel := range relpaths {
		src := filepath.Join(opts.SourceDir, rel)
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("source file %q does not exist: %w", rel, err)
		}

		dst := paths.FilePath(rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return fmt.Errorf("creating directory for %q: %w", rel, err)
		}

		digest, err := copyAndHash(src, dst, opts.HashAlgorithm)
		if err != nil {
			return fmt.Errorf("copying file %q: %w", rel, err)
		}

		if _, err := hashesF.Write(append([]byte(rel+"\x00"), canon.EncodeLengthPrefixed(digest)...)); err != nil {
			return fmt.Errorf("writing files/hashes: %w", err)
		}
		if _, err := hashesF.WriteString("\n"); err != nil {
			return fmt.Errorf("writing files/hashes: %w", err)
		}
	}

	return nil
}

func copyAndHash(src, dst, algorithm string) ([]byte, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	h, err := canon.NewHash(algorithm)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// checkImportsClosure validates that every context transitively imported
// by an included context is included, declared empty, or covered by a
// declared dependency.
func checkImportsClosure(opts Options, installed []contextEntry) error {
	if opts.ImportsContextID == "" {
		return nil
	}

	importTriples, err := opts.Graph.ContextTriples(opts.ImportsContextID)
	if err != nil {
		return fmt.Errorf("reading imports context %q: %w", opts.ImportsContextID, err)
	}

	edges := make(map[string][]string)
	for _, t := range importTriples {
		if t.Predicate.Value != ImportsPredicate {
			continue
		}
		edges[t.Subject.Value] = append(edges[t.Subject.Value], t.Object.Value)
	}

	included := make(map[string]struct{}, len(installed))
	for _, e := range installed {
		included[e.uri] = struct{}{}
	}

	empties := opts.Descriptor.EmptyURIs()

	depCovered := make(map[string]struct{})
	if opts.ResolveDependency != nil {
		for _, dep := range opts.Descriptor.Dependencies {
			uris, err := opts.ResolveDependency(dep.ID, dep.Version)
			if err != nil {
				return fmt.Errorf("resolving dependency %q for imports closure: %w", dep.ID, err)
			}
			for _, u := range uris {
				depCovered[u] = struct{}{}
			}
		}
	}

	// Transitive closure over imports edges starting from included
	// contexts.
	reachable := make(map[string]struct{})
	var visit func(string)
	visit = func(uri string) {
		for _, tgt := range edges[uri] {
			if _, ok := reachable[tgt]; ok {
				continue
			}
			reachable[tgt] = struct{}{}
			visit(tgt)
		}
	}
	for uri := range included {
		visit(uri)
	}

	var uncovered []string
	for uri := range reachable {
		if _, ok := included[uri]; ok {
			continue
		}
		if _, ok := empties[uri]; ok {
			continue
		}
		if _, ok := depCovered[uri]; ok {
			continue
		}
		uncovered = append(uncovered, uri)
	}

	if len(uncovered) > 0 {
		sort.Strings(uncovered)
		return bundleerr.UncoveredImports("Installer.Install", uncovered)
	}
	return nil
}

// buildIndexedDB materializes the installed contexts' quads into a fresh
// SQLite database at <staging>/owm.db inside a single transaction (spec
// §4.3 step 8).
func (ins *Installer) buildIndexedDB(paths bundle.Paths, entries []contextEntry) error {
	db, err := sql.Open("sqlite3", paths.IndexedDB())
	if err != nil {
		return fmt.Errorf("opening indexed database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE quads (
		subject TEXT NOT NULL,
		predicate TEXT NOT NULL,
		object TEXT NOT NULL,
		context TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating quads table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX idx_quads_context ON quads(context)`); err != nil {
		return fmt.Errorf("creating context index: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning indexed database transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO quads (subject, predicate, object, context) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		for _, t := range e.triples {
			if _, err := stmt.Exec(t.Subject.NTriplesString(), t.Predicate.NTriplesString(), t.Object.NTriplesString(), e.uri); err != nil {
				tx.Rollback()
				return fmt.Errorf("inserting quad: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing indexed database transaction: %w", err)
	}
	return nil
}
