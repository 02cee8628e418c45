// Package bundleerr defines the typed error kinds surfaced at the bundle
// subsystem's boundary. Each kind has a sentinel value for errors.Is and a
// *Error wrapper carrying operation/suggestion detail for errors.As.
package bundleerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the boundary error kinds.
type Kind string

const (
	KindNotABundlePath              Kind = "NotABundlePath"
	KindBundleNotFound               Kind = "BundleNotFound"
	KindUncoveredImports             Kind = "UncoveredImports"
	KindTargetIsNotEmpty             Kind = "TargetIsNotEmpty"
	KindFetchTargetIsNotEmpty        Kind = "FetchTargetIsNotEmpty"
	KindNoBundleLoader               Kind = "NoBundleLoader"
	KindNoAcceptableUploaders        Kind = "NoAcceptableUploaders"
	KindNoRemoteAvailable            Kind = "NoRemoteAvailable"
	KindLoadFailed                   Kind = "LoadFailed"
	KindUnsupportedAggregateOperation Kind = "UnsupportedAggregateOperation"
	KindTargetDirectoryMismatch      Kind = "TargetDirectoryMismatch"
	KindArchiveTargetPathDoesNotExist Kind = "ArchiveTargetPathDoesNotExist"
	KindNotADescriptor               Kind = "NotADescriptor"
)

// Sentinel values for errors.Is. Error.Is compares against these by Kind, so
// wrapped *Error values still match errors.Is(err, ErrBundleNotFound) even
// though the sentinel itself carries no detail.
var (
	ErrNotABundlePath               = &Error{Kind: KindNotABundlePath}
	ErrBundleNotFound               = &Error{Kind: KindBundleNotFound}
	ErrUncoveredImports             = &Error{Kind: KindUncoveredImports}
	ErrTargetIsNotEmpty             = &Error{Kind: KindTargetIsNotEmpty}
	ErrFetchTargetIsNotEmpty        = &Error{Kind: KindFetchTargetIsNotEmpty}
	ErrNoBundleLoader               = &Error{Kind: KindNoBundleLoader}
	ErrNoAcceptableUploaders        = &Error{Kind: KindNoAcceptableUploaders}
	ErrNoRemoteAvailable            = &Error{Kind: KindNoRemoteAvailable}
	ErrLoadFailed                   = &Error{Kind: KindLoadFailed}
	ErrUnsupportedAggregateOperation = &Error{Kind: KindUnsupportedAggregateOperation}
	ErrTargetDirectoryMismatch      = &Error{Kind: KindTargetDirectoryMismatch}
	ErrArchiveTargetPathDoesNotExist = &Error{Kind: KindArchiveTargetPathDoesNotExist}
	ErrNotADescriptor               = &Error{Kind: KindNotADescriptor}
)

// Error is a boundary error: a Kind plus the operation it occurred in, an
// actionable suggestion, optional structured detail, and an optional
// wrapped cause.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Suggestion string
	Detail     any
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	s := fmt.Sprintf("%s: %s", e.Op, msg)
	if e.Op == "" {
		s = msg
	}
	if e.Suggestion != "" {
		s = fmt.Sprintf("%s (%s)", s, e.Suggestion)
	}
	if e.Cause != nil {
		s = fmt.Sprintf("%s: %v", s, e.Cause)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, letting
// errors.Is(err, ErrBundleNotFound) match any *Error of that kind
// regardless of Op/Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NotABundlePath reports that a directory lacks the manifest/graphs/files
// layout an installed bundle requires.
func NotABundlePath(op, path string, cause error) *Error {
	return &Error{
		Kind:       KindNotABundlePath,
		Op:         op,
		Message:    fmt.Sprintf("%q is not a bundle directory", path),
		Suggestion: "verify the path points at an installed bundle, not its parent or a staging directory",
		Detail:     path,
		Cause:      cause,
	}
}

// BundleNotFound reports that no installed version of id (optionally a
// specific version) exists under the bundles root.
func BundleNotFound(op, id string, version *int) *Error {
	msg := fmt.Sprintf("bundle %q not found", id)
	if version != nil {
		msg = fmt.Sprintf("bundle %q version %d not found", id, *version)
	}
	return &Error{
		Kind:       KindBundleNotFound,
		Op:         op,
		Message:    msg,
		Suggestion: "fetch the bundle before resolving it, or check the bundles root path",
		Detail:     id,
	}
}

// UncoveredImports reports context URIs that a descriptor's includes
// neither cover directly, declare empty, nor obtain via a dependency.
func UncoveredImports(op string, uris []string) *Error {
	return &Error{
		Kind:       KindUncoveredImports,
		Op:         op,
		Message:    fmt.Sprintf("%d imported context(s) not covered by includes, dependencies, or empties", len(uris)),
		Suggestion: "add the missing contexts to includes, declare a dependency that provides them, or list them under empties",
		Detail:     uris,
	}
}

// TargetIsNotEmpty reports that an installer's staging/target directory
// already contains entries.
func TargetIsNotEmpty(op, path string) *Error {
	return &Error{
		Kind:       KindTargetIsNotEmpty,
		Op:         op,
		Message:    fmt.Sprintf("target directory %q is not empty", path),
		Suggestion: "remove or choose a different target directory before installing",
		Detail:     path,
	}
}

// FetchTargetIsNotEmpty reports that a fetcher's download target directory
// already contains entries.
func FetchTargetIsNotEmpty(op, path string) *Error {
	return &Error{
		Kind:       KindFetchTargetIsNotEmpty,
		Op:         op,
		Message:    fmt.Sprintf("fetch target %q is not empty", path),
		Suggestion: "remove the partial download directory before retrying",
		Detail:     path,
	}
}

// NoBundleLoader reports that every loader tried for (id, version) failed.
func NoBundleLoader(op, id string, version *int, cause error) *Error {
	msg := fmt.Sprintf("no loader could fetch %q", id)
	if version != nil {
		msg = fmt.Sprintf("no loader could fetch %q version %d", id, *version)
	}
	return &Error{
		Kind:       KindNoBundleLoader,
		Op:         op,
		Message:    msg,
		Suggestion: "check remote configuration and network connectivity",
		Detail:     id,
		Cause:      cause,
	}
}

// NoAcceptableUploaders reports that no configured uploader's can_upload
// accepted the bundle.
func NoAcceptableUploaders(op, path string) *Error {
	return &Error{
		Kind:       KindNoAcceptableUploaders,
		Op:         op,
		Message:    fmt.Sprintf("no uploader accepted %q", path),
		Suggestion: "configure a remote with an uploader accessor matching this bundle",
		Detail:     path,
	}
}

// NoRemoteAvailable reports that no configured remote could be consulted.
func NoRemoteAvailable(op string) *Error {
	return &Error{
		Kind:       KindNoRemoteAvailable,
		Op:         op,
		Message:    "no remote available",
		Suggestion: "configure at least one remote with a loader or uploader accessor",
	}
}

// LoadFailed reports a transport or integrity failure while downloading a
// bundle.
func LoadFailed(op, id string, cause error) *Error {
	return &Error{
		Kind:       KindLoadFailed,
		Op:         op,
		Message:    fmt.Sprintf("failed to load %q", id),
		Suggestion: "the fetcher will try the next loader if one is configured",
		Detail:     id,
		Cause:      cause,
	}
}

// UnsupportedAggregateOperation reports a mutating call against a read-only
// aggregate store.
func UnsupportedAggregateOperation(op string) *Error {
	return &Error{
		Kind:       KindUnsupportedAggregateOperation,
		Op:         op,
		Message:    "aggregate stores are read-only",
		Suggestion: "mutate the primary store directly, outside the aggregate view",
	}
}

// TargetDirectoryMismatch reports that an archive's manifest declares an
// (id, version) that does not match the directory it is being unpacked
// into.
func TargetDirectoryMismatch(op, want, got string) *Error {
	return &Error{
		Kind:       KindTargetDirectoryMismatch,
		Op:         op,
		Message:    fmt.Sprintf("archive manifest names %q but target directory is %q", want, got),
		Suggestion: "unpack into the directory implied by the archive's own id/version, or rename after extraction",
		Detail:     []string{want, got},
	}
}

// ArchiveTargetPathDoesNotExist reports that the directory an archive would
// be unpacked into does not exist.
func ArchiveTargetPathDoesNotExist(op, path string) *Error {
	return &Error{
		Kind:       KindArchiveTargetPathDoesNotExist,
		Op:         op,
		Message:    fmt.Sprintf("target path %q does not exist", path),
		Suggestion: "create the parent directory before unpacking",
		Detail:     path,
	}
}

// NotADescriptor reports that a parsed YAML document does not have the
// shape a bundle descriptor requires.
func NotADescriptor(op string, cause error) *Error {
	return &Error{
		Kind:       KindNotADescriptor,
		Op:         op,
		Message:    "document is not a valid bundle descriptor",
		Suggestion: "check required fields: id, version, and includes",
		Cause:      cause,
	}
}

// As is a convenience wrapper around errors.As for callers that want the
// structured *Error without declaring a local variable first.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
