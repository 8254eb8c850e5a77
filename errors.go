package assetcache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by loads issued after Engine.Close.
	ErrClosed = errors.New("assetcache: engine closed")

	// ErrHandleRecycled is returned by a synchronous Load whose handle was
	// recycled (or bulk-released) while the fetch was outstanding. The
	// speculative reference has already been compensated when this is
	// returned; the caller owns nothing.
	ErrHandleRecycled = errors.New("assetcache: handle recycled during load")
)

// NotFoundError reports that the key is absent in its backend.
type NotFoundError struct {
	Key Key
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("asset not found: %s", e.Key)
}

// BackendError wraps an I/O or parse failure from a backend fetch. It is
// returned to every waiter of the failed fetch and never retried by the
// engine.
type BackendError struct {
	Key Key
	Err error
}

func (e BackendError) Error() string {
	return fmt.Sprintf("backend fetch %s: %v", e.Key, e.Err)
}

func (e BackendError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
