package assetcache

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Preload warms keys into the cache in fixed-size batches (Options.
// PreloadBatch, default 5), reporting completion after each batch via
// onProgress(completed, total). Batch members are fetched concurrently;
// batches run one after another so other work is not starved by a single
// huge fan-out.
//
// Every successfully loaded key lands in this handle's owned set, so one
// ReleaseAll (or Recycle) drops the whole preloaded working set. Keys
// missing from their backend are skipped, not fatal; any other backend
// failure aborts the preload and is returned.
func (h *Handle) Preload(ctx context.Context, keys []Key, onProgress func(completed, total int)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	total := len(keys)
	batch := h.eng.preloadBatch

	for start := 0; start < total; start += batch {
		end := start + batch
		if end > total {
			end = total
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, key := range keys[start:end] {
			key := key
			g.Go(func() error {
				_, err := h.Load(gctx, key)
				if err != nil && !IsNotFound(err) {
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(end, total)
		}
	}
	return nil
}
