// Package archive implements the packaged-archive backend: assets are
// entries of a single pack file (see internal/pack). The pack also embeds
// the bundle manifest, so this backend is the one that resolves bundle
// dependencies for the bundle graph.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/assetcache"
	"github.com/unkn0wn-root/assetcache/backend"
	"github.com/unkn0wn-root/assetcache/internal/pack"
)

type Config struct {
	// Path locates the pack file. Required.
	Path string

	Logger assetcache.Logger
}

type Backend struct {
	r   *pack.Reader
	m   pack.Manifest
	log assetcache.Logger
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.SyncFetcher = (*Backend)(nil)
var _ backend.DependencyResolver = (*Backend)(nil)

// New opens the pack at cfg.Path and performs the one-time manifest load.
// An archive without a manifest is valid; it simply has no bundle graph.
func New(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, errors.New("archive backend: path is required")
	}
	log := cfg.Logger
	if log == nil {
		log = assetcache.NopLogger{}
	}

	r, err := pack.Load(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("archive backend: open %s: %w", cfg.Path, err)
	}
	m, ok, err := r.Manifest()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("archive backend: manifest of %s: %w", cfg.Path, err)
	}
	if !ok {
		log.Debug("archive has no manifest", assetcache.Fields{"path": cfg.Path})
	}
	return &Backend{r: r, m: m, log: log}, nil
}

func (b *Backend) Kind() backend.Kind { return backend.KindArchive }

func (b *Backend) FetchSync(name string) (backend.Asset, error) {
	raw, err := b.r.Entry(name)
	if errors.Is(err, pack.ErrNoEntry) {
		return nil, fmt.Errorf("%w: %q", backend.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (b *Backend) Fetch(ctx context.Context, name string) (backend.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.FetchSync(name)
}

// Release is a no-op: entries are byte slices over the parsed pack.
func (b *Backend) Release(backend.Asset) {}

// Dependencies returns the ordered direct dependencies of bundle from the
// manifest loaded at construction.
func (b *Backend) Dependencies(bundle string) ([]string, error) {
	deps, ok := b.m.Bundles[bundle]
	if !ok {
		return nil, fmt.Errorf("%w: bundle %q", backend.ErrNotFound, bundle)
	}
	return deps, nil
}

// Pinned names the bundle the manifest marks as never-unloaded; empty when
// the archive pins nothing.
func (b *Backend) Pinned() string { return b.m.Pinned }

func (b *Backend) Close(context.Context) error {
	b.r.Close()
	return nil
}
