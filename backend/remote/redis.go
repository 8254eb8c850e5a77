// Package remote implements network-backed package backends. Neither
// flavor offers FetchSync: remote fetches always carry a context. An
// optional blobcache.Store in front of either dedups repeated transfers.
package remote

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/assetcache"
	"github.com/unkn0wn-root/assetcache/backend"
	"github.com/unkn0wn-root/assetcache/blobcache"
)

var ErrNilClient = errors.New("remote backend: nil redis client")

// RedisConfig wires a Redis-served package store: assets live as string
// values under Prefix+path.
type RedisConfig struct {
	Client      goredis.UniversalClient // required
	Prefix      string                  // storage key prefix, e.g. "pkg:"
	CloseClient bool                    // set true only if this backend exclusively owns the client
	Cache       blobcache.Store
	Logger      assetcache.Logger
}

type Redis struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
	cache       blobcache.Store
	log         assetcache.Logger
}

var _ backend.Backend = (*Redis)(nil)

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	log := cfg.Logger
	if log == nil {
		log = assetcache.NopLogger{}
	}
	return &Redis{
		rdb:         cfg.Client,
		prefix:      cfg.Prefix,
		closeClient: cfg.CloseClient,
		cache:       cfg.Cache,
		log:         log,
	}, nil
}

func (r *Redis) Kind() backend.Kind { return backend.KindRemote }

func (r *Redis) Fetch(ctx context.Context, path string) (backend.Asset, error) {
	if r.cache != nil {
		if raw, hit, err := r.cache.Get(ctx, path); err == nil && hit {
			return raw, nil
		}
	}
	raw, err := r.rdb.Get(ctx, r.prefix+path).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %q", backend.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	if r.cache != nil && !r.cache.Set(ctx, path, raw, int64(len(raw))) {
		r.log.Debug("blobcache rejected remote payload", assetcache.Fields{"path": path})
	}
	return raw, nil
}

// Release is a no-op: remote assets are byte slices.
func (r *Redis) Release(backend.Asset) {}

// Close releases the blobcache and, when owned, the redis client. Safe to
// call multiple times.
func (r *Redis) Close(context.Context) error {
	if r.cache != nil {
		_ = r.cache.Close()
	}
	if r.closeClient {
		if err := r.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
