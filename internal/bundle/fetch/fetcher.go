// Package fetch implements the Fetcher: selects a remote and loader able
// to supply a bundle, downloads it, and recurses over its declared
// dependencies, with a pending/fetched worklist modeled on
// hashicorp/go-slug's sourcebundle.Builder.
package fetch

import (
	"os"

	"github.com/owmeta/go-bundle/internal/bundle"
	"github.com/owmeta/go-bundle/internal/bundle/registry"
	"github.com/owmeta/go-bundle/internal/bundleerr"
	"github.com/owmeta/go-bundle/internal/log"
)

// coordinate identifies one fetched (or in-flight) bundle by id and
// resolved version.
type coordinate struct {
	id      string
	version int
}

// fetchTask is one entry in the fetcher's pending worklist.
type fetchTask struct {
	id      string
	version *int
}

// Fetcher downloads bundles (and their transitive dependencies) from a set
// of configured remotes into a bundles root directory.
type Fetcher struct {
	BundlesRoot string
	Remotes     []registry.Remote
	Loaders     *registry.Loaders
	Log         *log.Logger

	fetched map[coordinate]struct{}
}

// New returns a Fetcher rooted at bundlesRoot, resolving accessor configs
// through loaders.
func New(bundlesRoot string, remotes []registry.Remote, loaders *registry.Loaders) *Fetcher {
	return &Fetcher{
		BundlesRoot: bundlesRoot,
		Remotes:     remotes,
		Loaders:     loaders,
		Log:         log.DefaultLogger(),
		fetched:     make(map[coordinate]struct{}),
	}
}

// Fetch downloads (id, version) and every dependency it declares,
// returning the installed path of (id, version) itself. If version is nil
// the maximum version any candidate loader reports is selected.
func (f *Fetcher) Fetch(id string, version *int, extra ...registry.Remote) (string, error) {
	if f.fetched == nil {
		f.fetched = make(map[coordinate]struct{})
	}

	pending := []fetchTask{{id: id, version: version}}
	var rootPath string

	for len(pending) > 0 {
		task := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		path, manifest, err := f.fetchOne(task, extra)
		if err != nil {
			return "", err
		}
		if task.id == id && (version == nil || *version == manifest.Version) {
			rootPath = path
		}

		for _, dep := range manifest.Dependencies {
			coord := coordinate{id: dep.ID, version: dep.Version}
			if _, ok := f.fetched[coord]; ok {
				continue
			}
			depVersion := dep.Version
			pending = append(pending, fetchTask{id: dep.ID, version: &depVersion})
		}
	}

	return rootPath, nil
}

func (f *Fetcher) fetchOne(task fetchTask, extra []registry.Remote) (string, *bundle.Manifest, error) {
	coord := coordinate{id: task.id}
	if task.version != nil {
		coord.version = *task.version
	}
	if _, ok := f.fetched[coord]; ok && task.version != nil {
		p := bundle.NewPaths(f.BundlesRoot, task.id, *task.version)
		m, err := bundle.ReadManifest(p.Manifest())
		return p.Root, m, err
	}

	candidates := f.candidateLoaders(task.id, task.version, extra)
	if len(candidates) == 0 {
		return "", nil, bundleerr.NoBundleLoader("Fetcher.Fetch", task.id, task.version, nil)
	}

	version := task.version
	if version == nil {
		best, err := f.selectMaxVersion(task.id, candidates)
		if err != nil {
			return "", nil, err
		}
		version = &best
	}

	paths := bundle.NewPaths(f.BundlesRoot, task.id, *version)
	if info, err := os.Stat(paths.Root); err == nil && info.IsDir() {
		entries, _ := os.ReadDir(paths.Root)
		if len(entries) != 0 {
			return "", nil, bundleerr.FetchTargetIsNotEmpty("Fetcher.Fetch", paths.Root)
		}
	}

	var lastErr error
	for _, loader := range candidates {
		if err := os.MkdirAll(paths.Root, 0o750); err != nil {
			return "", nil, err
		}
		err := loader.Load(task.id, version, paths.Root)
		if err == nil {
			m, err := bundle.ReadManifest(paths.Manifest())
			if err != nil {
				os.RemoveAll(paths.Root)
				lastErr = err
				continue
			}
			f.fetched[coordinate{id: task.id, version: *version}] = struct{}{}
			return paths.Root, m, nil
		}
		f.Log.Warn("loader failed, trying next", "id", task.id, "version", *version, "error", err)
		os.RemoveAll(paths.Root)
		lastErr = err
	}

	return "", nil, bundleerr.NoBundleLoader("Fetcher.Fetch", task.id, version, lastErr)
}

func (f *Fetcher) candidateLoaders(id string, version *int, extra []registry.Remote) []registry.Loader {
	var out []registry.Loader
	for _, remote := range append(append([]registry.Remote{}, f.Remotes...), extra...) {
		for _, loader := range remote.Loaders(f.Loaders) {
			ok, err := loader.CanLoad(id, version)
			if err != nil || !ok {
				continue
			}
			out = append(out, loader)
		}
	}
	return out
}

func (f *Fetcher) selectMaxVersion(id string, loaders []registry.Loader) (int, error) {
	best := -1
	for _, loader := range loaders {
		versions, err := loader.BundleVersions(id)
		if err != nil {
			continue
		}
		for _, v := range versions {
			if v > best {
				best = v
			}
		}
	}
	if best < 0 {
		return 0, bundleerr.BundleNotFound("Fetcher.Fetch", id, nil)
	}
	return best, nil
}
