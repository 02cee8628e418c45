// Package registry implements the loader/uploader extension contract: a
// Remote's accessor configs are resolved to concrete Loader/Uploader
// instances through a process-local, explicitly-wired registry rather
// than global state.
package registry

import "fmt"

// AccessorConfig names one way to reach a bundle: a "kind" (e.g. "http",
// "oci") plus kind-specific settings (e.g. a base URL).
type AccessorConfig struct {
	Kind     string
	Settings map[string]string
}

// Loader transfers a bundle from a remote endpoint to a local base
// directory.
type Loader interface {
	// CanLoad reports whether this loader instance can supply (id,
	// version); version may be nil to mean "any version".
	CanLoad(id string, version *int) (bool, error)

	// BundleVersions returns the versions of id this loader knows about.
	BundleVersions(id string) ([]int, error)

	// Load downloads (id, version) into baseDir.
	Load(id string, version *int, baseDir string) error
}

// Uploader transfers a bundle directory or archive to a remote endpoint.
type Uploader interface {
	// CanUpload reports whether this uploader instance accepts path (a
	// bundle directory or archive file).
	CanUpload(path string) (bool, error)

	// Upload transfers path.
	Upload(path string) error
}

// LoaderFactory builds a Loader from an accessor config.
type LoaderFactory func(cfg AccessorConfig) (Loader, error)

// UploaderFactory builds an Uploader from an accessor config.
type UploaderFactory func(cfg AccessorConfig) (Uploader, error)

// Loaders is a registry of loader factories keyed by accessor-config kind.
type Loaders struct {
	factories map[string]LoaderFactory
}

// NewLoaders returns an empty Loaders registry.
func NewLoaders() *Loaders {
	return &Loaders{factories: make(map[string]LoaderFactory)}
}

// Register associates kind with a factory. A later call for the same kind
// replaces the earlier one.
func (l *Loaders) Register(kind string, f LoaderFactory) {
	l.factories[kind] = f
}

// New builds a Loader for cfg, looked up by cfg.Kind.
func (l *Loaders) New(cfg AccessorConfig) (Loader, error) {
	f, ok := l.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("registry: no loader registered for kind %q", cfg.Kind)
	}
	return f(cfg)
}

// Uploaders is a registry of uploader factories keyed by accessor-config
// kind.
type Uploaders struct {
	factories map[string]UploaderFactory
}

// NewUploaders returns an empty Uploaders registry.
func NewUploaders() *Uploaders {
	return &Uploaders{factories: make(map[string]UploaderFactory)}
}

// Register associates kind with a factory. A later call for the same kind
// replaces the earlier one.
func (u *Uploaders) Register(kind string, f UploaderFactory) {
	u.factories[kind] = f
}

// New builds an Uploader for cfg, looked up by cfg.Kind.
func (u *Uploaders) New(cfg AccessorConfig) (Uploader, error) {
	f, ok := u.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("registry: no uploader registered for kind %q", cfg.Kind)
	}
	return f(cfg)
}

// Remote is a named collection of accessor configs (spec's GLOSSARY entry
// for "Remote"), each of which can be paired with a loader or uploader.
type Remote struct {
	Name      string
	Accessors []AccessorConfig
}

// Loaders builds one Loader per accessor config this remote carries that
// the given registry knows how to construct; accessors of an unknown kind
// are skipped rather than failing the whole remote.
func (r Remote) Loaders(reg *Loaders) []Loader {
	var out []Loader
	for _, cfg := range r.Accessors {
		if l, err := reg.New(cfg); err == nil {
			out = append(out, l)
		}
	}
	return out
}

// Uploaders builds one Uploader per accessor config this remote carries
// that the given registry knows how to construct.
func (r Remote) Uploaders(reg *Uploaders) []Uploader {
	var out []Uploader
	for _, cfg := range r.Accessors {
		if u, err := reg.New(cfg); err == nil {
			out = append(out, u)
		}
	}
	return out
}
