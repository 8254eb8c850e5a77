// Package file implements the flat-file backend: assets are plain files
// under a root directory. Both fetch flavors are offered; an optional
// blobcache.Store dedups repeated disk reads.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/unkn0wn-root/assetcache"
	"github.com/unkn0wn-root/assetcache/backend"
	"github.com/unkn0wn-root/assetcache/blobcache"
)

type Config struct {
	// Root is the directory asset paths resolve under. Required.
	Root string

	// Cache, when set, is consulted before disk and fed after a read.
	Cache blobcache.Store

	Logger assetcache.Logger
}

type Backend struct {
	root  string
	cache blobcache.Store
	log   assetcache.Logger
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.SyncFetcher = (*Backend)(nil)

func New(cfg Config) (*Backend, error) {
	if cfg.Root == "" {
		return nil, errors.New("file backend: root is required")
	}
	log := cfg.Logger
	if log == nil {
		log = assetcache.NopLogger{}
	}
	return &Backend{root: cfg.Root, cache: cfg.Cache, log: log}, nil
}

func (b *Backend) Kind() backend.Kind { return backend.KindFile }

// FetchSync reads the file at p relative to the root. Paths escaping the
// root are treated as absent rather than an error, so a hostile path
// degrades the same way a missing one does.
func (b *Backend) FetchSync(p string) (backend.Asset, error) {
	clean, ok := b.resolve(p)
	if !ok {
		return nil, fmt.Errorf("%w: %q", backend.ErrNotFound, p)
	}
	if b.cache != nil {
		if raw, hit, err := b.cache.Get(context.Background(), p); err == nil && hit {
			return raw, nil
		}
	}
	raw, err := os.ReadFile(clean)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", backend.ErrNotFound, p)
	}
	if err != nil {
		return nil, err
	}
	if b.cache != nil {
		if !b.cache.Set(context.Background(), p, raw, int64(len(raw))) {
			b.log.Debug("blobcache rejected file payload", assetcache.Fields{"path": p})
		}
	}
	return raw, nil
}

func (b *Backend) Fetch(ctx context.Context, p string) (backend.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.FetchSync(p)
}

// Release is a no-op: file assets are plain byte slices.
func (b *Backend) Release(backend.Asset) {}

func (b *Backend) Close(context.Context) error {
	if b.cache != nil {
		return b.cache.Close()
	}
	return nil
}

// resolve maps an asset path onto the root, rejecting absolute paths and
// any path that climbs out of it.
func (b *Backend) resolve(p string) (string, bool) {
	clean := path.Clean("/" + p)[1:] // forces the path under a virtual root
	if clean == "" {
		return "", false
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), true
}
