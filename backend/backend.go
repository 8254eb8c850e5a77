// Package backend defines the storage abstraction the engine loads assets
// from. A backend turns a path into an opaque Asset and later takes the
// Asset back for release; the engine never inspects Assets beyond that.
//
// Implementations MUST be safe for concurrent use. Fetch and FetchSync must
// return ErrNotFound (wrapped is fine) when the path does not exist in the
// backend, and any other error for I/O or parse failures. The engine maps
// the two cases to distinct typed failures and never retries either.
package backend

import (
	"context"
	"errors"
)

// Kind identifies a storage flavor. One backend per kind is registered with
// the engine; a Kind plus a path uniquely names a loadable resource.
type Kind string

const (
	KindFile    Kind = "file"    // flat files under a root directory
	KindArchive Kind = "archive" // entries inside a packaged archive
	KindRemote  Kind = "remote"  // fetched from a remote package store
)

// Asset is an opaque reference to a successfully loaded resource. Backends
// choose the concrete shape (most return []byte); the engine only stores it
// and hands it back to Release.
type Asset = any

// ErrNotFound reports that a path is absent in the backend. Implementations
// return it (or wrap it) from Fetch/FetchSync so callers can branch without
// string matching.
var ErrNotFound = errors.New("backend: asset not found")

// Backend is the minimal capability every storage kind supplies.
type Backend interface {
	Kind() Kind

	// Fetch loads the asset at path. It may block on I/O and should honor
	// ctx cancellation as part of its own contract; the engine does not
	// depend on true cancellation.
	Fetch(ctx context.Context, path string) (Asset, error)

	// Release returns an Asset obtained from this backend. Called exactly
	// once per fetched asset whose last reference was dropped.
	Release(Asset)
}

// SyncFetcher is implemented by backends that can serve a fetch without a
// context, e.g. local disk. Network-only backends omit it.
type SyncFetcher interface {
	FetchSync(path string) (Asset, error)
}

// DependencyResolver is implemented by archive-kind backends whose units of
// loading reference other units. The dependency list comes from a one-time
// manifest load and is stable for the life of the backend.
type DependencyResolver interface {
	// Dependencies returns the ordered direct dependencies of bundle.
	// Unknown bundles yield ErrNotFound.
	Dependencies(bundle string) ([]string, error)
}

// Closer is implemented by backends holding resources that outlive
// individual fetches (file handles, client connections).
type Closer interface {
	Close(ctx context.Context) error
}
