package bundle

import (
	"fmt"
	"strings"
)

// ConflictError reports that a synchronous load was requested while an
// asynchronous load for the same bundle is in flight. The graph never
// blocks a sync caller on an async settle, so the call fails instead.
//
// The error is retryable: once the async load settles, the same sync load
// will either hit the ready node or start a fresh fetch.
type ConflictError struct {
	Name string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("bundle %q: sync load conflicts with in-flight async load (retry after it settles)", e.Name)
}

// UnknownBundleError means the manifest declares no such bundle.
type UnknownBundleError struct {
	Name string
}

func (e UnknownBundleError) Error() string {
	return fmt.Sprintf("unknown bundle %q", e.Name)
}

// CycleError means the manifest dependency lists form a cycle.
type CycleError struct {
	Path []string
}

func (e CycleError) Error() string {
	if len(e.Path) == 0 {
		return "bundle dependency cycle detected"
	}
	return "bundle dependency cycle detected: " + strings.Join(e.Path, " -> ")
}

// LoadError wraps a backend failure while fetching a bundle's content.
type LoadError struct {
	Name string
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("load bundle %q: %v", e.Name, e.Err)
}

func (e LoadError) Unwrap() error { return e.Err }
