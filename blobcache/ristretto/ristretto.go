// Package ristretto adapts dgraph-io/ristretto as a blobcache.Store.
// Ristretto's admission policy may reject writes under pressure; Set
// reports that honestly and callers fall through to the origin.
package ristretto

import (
	"context"
	"errors"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/assetcache/blobcache"
)

type Store struct {
	c *rc.Cache
}

var _ blobcache.Store = (*Store)(nil)

type Config struct {
	NumCounters int64 // keys tracked for admission (~10x expected entries)
	MaxCost     int64 // total byte budget
	BufferItems int64 // per-Get buffer size; 64 is a good default
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto blobcache: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// drop unexpected entry shape
		s.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, cost int64) bool {
	if cost <= 0 {
		cost = int64(len(value))
	}
	return s.c.Set(key, value, cost)
}

func (s *Store) Del(_ context.Context, key string) error {
	s.c.Del(key)
	return nil
}

func (s *Store) Close() error {
	s.c.Wait()
	s.c.Close()
	return nil
}
