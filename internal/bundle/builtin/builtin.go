// Package builtin wires the HTTP and OCI transports into registry.Loaders
// and registry.Uploaders. It is kept separate from package registry itself
// so that registry (which the transports import for AccessorConfig) never
// has to import the transports back.
package builtin

import (
	"github.com/owmeta/go-bundle/internal/bundle/registry"
	httptransport "github.com/owmeta/go-bundle/internal/bundle/transport/http"
	ocitransport "github.com/owmeta/go-bundle/internal/bundle/transport/oci"
)

// Loaders returns a registry.Loaders with the "http" and "oci" kinds
// pre-registered.
func Loaders() *registry.Loaders {
	l := registry.NewLoaders()
	l.Register("http", httptransport.NewLoaderFactory())
	l.Register("oci", ocitransport.NewLoaderFactory())
	return l
}

// Uploaders returns a registry.Uploaders with the "http" and "oci" kinds
// pre-registered.
func Uploaders() *registry.Uploaders {
	u := registry.NewUploaders()
	u.Register("http", httptransport.NewUploaderFactory())
	u.Register("oci", ocitransport.NewUploaderFactory())
	return u
}
