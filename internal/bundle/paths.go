package bundle

import (
	"net/url"
	"path/filepath"
	"strconv"
)

// Directory and file names fixed by the on-disk bundle format.
const (
	GraphsDirName  = "graphs"
	FilesDirName   = "files"
	IndexFileName  = "index"
	HashesFileName = "hashes"
	IndexedDBName  = "owm.db"
	LockFileName   = ".lock"
)

// QuoteID returns id percent-encoded for use as a single path segment, the
// way every bundle directory name is derived from its id.
func QuoteID(id string) string {
	return url.QueryEscape(id)
}

// Paths computes the fixed on-disk layout for one installed bundle
// directory, rooted at <bundlesRoot>/<urlquote(id)>/<version>/.
type Paths struct {
	Root string
}

// NewPaths returns the Paths for (id, version) under bundlesRoot.
func NewPaths(bundlesRoot, id string, version int) Paths {
	return Paths{Root: filepath.Join(bundlesRoot, QuoteID(id), strconv.Itoa(version))}
}

// IDRoot returns <bundlesRoot>/<urlquote(id)>/, the directory that holds
// one version subdirectory per installed release.
func IDRoot(bundlesRoot, id string) string {
	return filepath.Join(bundlesRoot, QuoteID(id))
}

func (p Paths) Manifest() string  { return filepath.Join(p.Root, ManifestFileName) }
func (p Paths) Graphs() string    { return filepath.Join(p.Root, GraphsDirName) }
func (p Paths) Files() string     { return filepath.Join(p.Root, FilesDirName) }
func (p Paths) IndexedDB() string { return filepath.Join(p.Root, IndexedDBName) }
func (p Paths) Lock() string      { return filepath.Join(p.Root, LockFileName) }

func (p Paths) GraphIndex() string   { return filepath.Join(p.Graphs(), IndexFileName) }
func (p Paths) GraphHashes() string  { return filepath.Join(p.Graphs(), HashesFileName) }
func (p Paths) FileHashes() string   { return filepath.Join(p.Files(), HashesFileName) }
func (p Paths) GraphFile(name string) string   { return filepath.Join(p.Graphs(), name) }
func (p Paths) FilePath(relpath string) string { return filepath.Join(p.Files(), relpath) }
