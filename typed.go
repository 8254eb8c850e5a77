package assetcache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/assetcache/codec"
)

// Typed is a convenience view over a Handle for backends that produce raw
// []byte assets: loads decode through a pluggable codec.Codec into V.
// Reference ownership is unchanged — the underlying bytes stay cached and
// refcounted, only the decoded value is returned by value to the caller.
type Typed[V any] struct {
	Handle *Handle
	Codec  codec.Codec[V]
}

// Load fetches key via the handle and decodes the asset payload into V.
func (t Typed[V]) Load(ctx context.Context, key Key) (V, error) {
	var zero V
	asset, err := t.Handle.Load(ctx, key)
	if err != nil {
		return zero, err
	}
	raw, ok := asset.([]byte)
	if !ok {
		// keep the hold consistent: a non-byte asset cannot be decoded
		t.Handle.Unload(key)
		return zero, fmt.Errorf("assetcache: asset %s is not raw bytes (%T)", key, asset)
	}
	return t.Codec.Decode(raw)
}
