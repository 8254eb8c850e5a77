package assetcache

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/assetcache/backend"
)

func TestAllocateReusesSlotsLIFO(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindFile)
	eng := newTestEngine(t, fb, nil)
	defer eng.Close(ctx)

	h1 := eng.Allocate()
	h2 := eng.Allocate()
	id1, id2 := h1.ID(), h2.ID()
	if id1.Slot == id2.Slot {
		t.Fatalf("distinct live handles share slot %d", id1.Slot)
	}

	h2.Recycle()
	h1.Recycle()

	// LIFO: the most recently recycled handle comes back first
	h3 := eng.Allocate()
	if h3 != h1 {
		t.Fatalf("expected the last recycled handle to be reused")
	}
	id3 := h3.ID()
	if id3.Slot != id1.Slot {
		t.Fatalf("slot changed across recycle: %d -> %d", id1.Slot, id3.Slot)
	}
	if id3.Generation <= id1.Generation {
		t.Fatalf("generation did not advance: %d -> %d", id1.Generation, id3.Generation)
	}
}

func TestLoadOnRecycledHandleFails(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindFile)
	fb.data["a.bin"] = []byte("a")
	eng := newTestEngine(t, fb, nil)
	defer eng.Close(ctx)

	h := eng.Allocate()
	h.Recycle()

	if _, err := h.Load(ctx, K(backend.KindFile, "a.bin")); !errors.Is(err, ErrHandleRecycled) {
		t.Fatalf("load on recycled handle: %v, want ErrHandleRecycled", err)
	}
	res, ok := <-h.LoadAsync(ctx, K(backend.KindFile, "a.bin"))
	if !ok || !errors.Is(res.Err, ErrHandleRecycled) {
		t.Fatalf("async load on recycled handle: ok=%v res=%+v", ok, res)
	}
}

func TestReleaseAllDropsEveryHold(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindFile)
	fb.data["a.bin"] = []byte("a")
	fb.data["b.bin"] = []byte("b")
	eng := newTestEngine(t, fb, nil)
	defer eng.Close(ctx)

	ka := K(backend.KindFile, "a.bin")
	kb := K(backend.KindFile, "b.bin")

	h := eng.Allocate()
	other := eng.Allocate()
	if _, err := h.Load(ctx, ka); err != nil {
		t.Fatalf("load a: %v", err)
	}
	if _, err := h.Load(ctx, kb); err != nil {
		t.Fatalf("load b: %v", err)
	}
	if _, err := other.Load(ctx, kb); err != nil {
		t.Fatalf("other load b: %v", err)
	}

	h.ReleaseAll()

	if len(h.Owned()) != 0 {
		t.Fatalf("owned set not cleared: %v", h.Owned())
	}
	if _, ok := eng.Info(ka); ok {
		t.Fatalf("sole-held entry survived ReleaseAll")
	}
	info, ok := eng.Info(kb)
	if !ok || info.RefCount != 1 {
		t.Fatalf("shared entry: ok=%v info=%+v, want refcount 1", ok, info)
	}
	if got := fb.releaseCount("b.bin"); got != 0 {
		t.Fatalf("shared asset released while still held")
	}
}

func TestLoadAsyncDeliversExactlyOneResult(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend(backend.KindFile)
	fb.data["m.bin"] = []byte("mesh")
	eng := newTestEngine(t, fb, nil)
	defer eng.Close(ctx)

	h := eng.Allocate()
	ch := h.LoadAsync(ctx, K(backend.KindFile, "m.bin"))
	res, ok := <-ch
	if !ok || res.Err != nil {
		t.Fatalf("async load: ok=%v err=%v", ok, res.Err)
	}
	b, ok := res.Asset.(*blob)
	if !ok || string(b.data) != "mesh" {
		t.Fatalf("unexpected asset %#v", res.Asset)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel delivered a second value")
	}

	// not-found arrives as a value, not a closed channel
	res, ok = <-h.LoadAsync(ctx, K(backend.KindFile, "absent"))
	if !ok || !IsNotFound(res.Err) {
		t.Fatalf("async not-found: ok=%v err=%v", ok, res.Err)
	}
}
