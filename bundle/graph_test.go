package bundle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/assetcache/backend"
)

// fakeArchive is an in-memory Backend with controllable async fetches.
type fakeArchive struct {
	mu       sync.Mutex
	deps     map[string][]string
	content  map[string][]byte
	fetches  map[string]int
	releases map[string]int
	gate     map[string]chan struct{} // blocks Fetch (async path) per name
}

var _ Backend = (*fakeArchive)(nil)

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		deps:     make(map[string][]string),
		content:  make(map[string][]byte),
		fetches:  make(map[string]int),
		releases: make(map[string]int),
		gate:     make(map[string]chan struct{}),
	}
}

func (f *fakeArchive) add(name string, deps ...string) {
	f.content[name] = []byte(name)
	f.deps[name] = deps
}

func (f *fakeArchive) Kind() backend.Kind { return backend.KindArchive }

func (f *fakeArchive) FetchSync(name string) (backend.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[name]++
	d, ok := f.content[name]
	if !ok {
		return nil, fmt.Errorf("%w: bundle %q", backend.ErrNotFound, name)
	}
	return &bundleAsset{name: name, data: d}, nil
}

func (f *fakeArchive) Fetch(ctx context.Context, name string) (backend.Asset, error) {
	f.mu.Lock()
	gate := f.gate[name]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.FetchSync(name)
}

func (f *fakeArchive) Release(a backend.Asset) {
	ba := a.(*bundleAsset)
	f.mu.Lock()
	f.releases[ba.name]++
	f.mu.Unlock()
}

func (f *fakeArchive) Dependencies(name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deps[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: bundle %q", backend.ErrNotFound, name)
}

func (f *fakeArchive) fetchCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[name]
}

func (f *fakeArchive) releaseCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases[name]
}

type bundleAsset struct {
	name string
	data []byte
}

func newGraph(t *testing.T, fa *fakeArchive, pinned string) *Graph {
	t.Helper()
	g, err := New(context.Background(), Config{Backend: fa, Pinned: pinned})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func wantNode(t *testing.T, g *Graph, name string, state State, refs int) {
	t.Helper()
	info, ok := g.Info(name)
	if !ok {
		t.Fatalf("bundle %q unknown to the graph", name)
	}
	if info.State != state || info.RefCount != refs {
		t.Fatalf("bundle %q: state=%s refs=%d, want state=%s refs=%d",
			name, info.State, info.RefCount, state, refs)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestChainLoadUnload: loading the root of a dependency chain loads every
// transitive dependency once; unloading releases the whole chain.
func TestChainLoadUnload(t *testing.T) {
	fa := newFakeArchive()
	fa.add("level1", "textures")
	fa.add("textures", "shared")
	fa.add("shared")
	g := newGraph(t, fa, "")

	if err := g.Load("level1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, name := range []string{"level1", "textures", "shared"} {
		wantNode(t, g, name, StateReady, 1)
		if got := fa.fetchCount(name); got != 1 {
			t.Fatalf("%s fetched %d times", name, got)
		}
	}

	g.Unload("level1")
	for _, name := range []string{"level1", "textures", "shared"} {
		wantNode(t, g, name, StateUnloaded, 0)
		if got := fa.releaseCount(name); got != 1 {
			t.Fatalf("%s released %d times", name, got)
		}
	}
}

// TestSharedDependencyRefCount: a dependency reachable from two loaded
// bundles carries one reference per dependent and is only released when the
// last dependent unloads.
func TestSharedDependencyRefCount(t *testing.T) {
	fa := newFakeArchive()
	fa.add("town", "props")
	fa.add("dungeon", "props")
	fa.add("props")
	g := newGraph(t, fa, "")

	if err := g.Load("town"); err != nil {
		t.Fatalf("load town: %v", err)
	}
	if err := g.Load("dungeon"); err != nil {
		t.Fatalf("load dungeon: %v", err)
	}
	wantNode(t, g, "props", StateReady, 2)
	if got := fa.fetchCount("props"); got != 1 {
		t.Fatalf("shared dep fetched %d times", got)
	}

	g.Unload("town")
	wantNode(t, g, "props", StateReady, 1)
	if got := fa.releaseCount("props"); got != 0 {
		t.Fatalf("shared dep released while still referenced")
	}

	g.Unload("dungeon")
	wantNode(t, g, "props", StateUnloaded, 0)
	if got := fa.releaseCount("props"); got != 1 {
		t.Fatalf("shared dep released %d times", got)
	}
}

// TestPinnedBundleSurvivesZero: the pinned bundle is preloaded at
// construction with refcount zero, counts references like any node, and is
// never released when it drains back to zero.
func TestPinnedBundleSurvivesZero(t *testing.T) {
	fa := newFakeArchive()
	fa.add("ui_atlas", "shaders")
	fa.add("shaders")
	g := newGraph(t, fa, "shaders")

	wantNode(t, g, "shaders", StateReady, 0)
	if got := fa.fetchCount("shaders"); got != 1 {
		t.Fatalf("pinned preloaded %d times", got)
	}

	if err := g.Load("ui_atlas"); err != nil {
		t.Fatalf("load: %v", err)
	}
	wantNode(t, g, "shaders", StateReady, 1)
	if got := fa.fetchCount("shaders"); got != 1 {
		t.Fatalf("pinned refetched")
	}

	g.Unload("ui_atlas")
	wantNode(t, g, "ui_atlas", StateUnloaded, 0)
	wantNode(t, g, "shaders", StateReady, 0)
	if got := fa.releaseCount("shaders"); got != 0 {
		t.Fatalf("pinned bundle released %d times", got)
	}
	info, _ := g.Info("shaders")
	if !info.Pinned {
		t.Fatalf("pinned flag lost")
	}
}

func TestMissingPinnedFailsConstruction(t *testing.T) {
	fa := newFakeArchive()
	if _, err := New(context.Background(), Config{Backend: fa, Pinned: "ghost"}); err == nil {
		t.Fatalf("construction with unknown pinned bundle should fail")
	}
}

// TestSyncLoadConflictsWithAsync: a sync load while an async load for the
// same bundle is in flight fails fast with a retryable ConflictError
// instead of blocking.
func TestSyncLoadConflictsWithAsync(t *testing.T) {
	fa := newFakeArchive()
	fa.add("slow")
	gate := make(chan struct{})
	fa.gate["slow"] = gate
	g := newGraph(t, fa, "")

	asyncDone := make(chan error, 1)
	go func() { asyncDone <- g.LoadAsync(context.Background(), "slow") }()
	waitFor(t, func() bool {
		info, ok := g.Info("slow")
		return ok && info.State == StateLoading
	}, "async load to start")

	err := g.Load("slow")
	var conflict ConflictError
	if !errors.As(err, &conflict) || conflict.Name != "slow" {
		t.Fatalf("sync load during async: %v, want ConflictError", err)
	}

	close(gate)
	if err := <-asyncDone; err != nil {
		t.Fatalf("async load: %v", err)
	}
	wantNode(t, g, "slow", StateReady, 1)

	// the conflict is transient: the same call succeeds after the settle
	if err := g.Load("slow"); err != nil {
		t.Fatalf("retry after settle: %v", err)
	}
	wantNode(t, g, "slow", StateReady, 2)
	if got := fa.fetchCount("slow"); got != 1 {
		t.Fatalf("fetched %d times, want 1", got)
	}
}

// TestConcurrentAsyncLoadsCollapse: two async loads of the same bundle
// share one fetch and both take a reference.
func TestConcurrentAsyncLoadsCollapse(t *testing.T) {
	fa := newFakeArchive()
	fa.add("world")
	gate := make(chan struct{})
	fa.gate["world"] = gate
	g := newGraph(t, fa, "")

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { done <- g.LoadAsync(context.Background(), "world") }()
	}
	waitFor(t, func() bool {
		info, ok := g.Info("world")
		return ok && info.State == StateLoading
	}, "fetch to start")
	close(gate)
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("async load %d: %v", i, err)
		}
	}
	wantNode(t, g, "world", StateReady, 2)
	if got := fa.fetchCount("world"); got != 1 {
		t.Fatalf("fetched %d times, want 1", got)
	}
}

func TestUnknownBundle(t *testing.T) {
	fa := newFakeArchive()
	g := newGraph(t, fa, "")

	err := g.Load("nope")
	var unknown UnknownBundleError
	if !errors.As(err, &unknown) || unknown.Name != "nope" {
		t.Fatalf("want UnknownBundleError, got %v", err)
	}
}

func TestDependencyCycleDetected(t *testing.T) {
	fa := newFakeArchive()
	fa.add("a", "b")
	fa.add("b", "a")
	g := newGraph(t, fa, "")

	err := g.Load("a")
	var cyc CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("want CycleError, got %v", err)
	}
	if len(cyc.Path) == 0 || cyc.Path[0] != "a" || cyc.Path[len(cyc.Path)-1] != "a" {
		t.Fatalf("cycle path %v should start and end at the repeated bundle", cyc.Path)
	}
}

// TestFailedLoadRollsBackDependencies: when the bundle's own fetch fails
// after its dependencies loaded, those dependency references are unwound.
func TestFailedLoadRollsBackDependencies(t *testing.T) {
	fa := newFakeArchive()
	fa.add("dep")
	fa.deps["broken"] = []string{"dep"} // declared, but content missing

	g := newGraph(t, fa, "")
	err := g.Load("broken")
	var unknown UnknownBundleError
	if !errors.As(err, &unknown) {
		t.Fatalf("want UnknownBundleError for missing content, got %v", err)
	}
	wantNode(t, g, "dep", StateUnloaded, 0)
	if got := fa.releaseCount("dep"); got != 1 {
		t.Fatalf("rolled-back dep released %d times", got)
	}
	wantNode(t, g, "broken", StateUnloaded, 0)
}

func TestUnloadUnknownOrUnloadedIsNoop(t *testing.T) {
	fa := newFakeArchive()
	fa.add("a")
	g := newGraph(t, fa, "")

	g.Unload("never-seen")
	g.Unload("a") // known name, never loaded

	if err := g.Load("a"); err != nil {
		t.Fatalf("load: %v", err)
	}
	g.Unload("a")
	g.Unload("a") // second unload after drain
	wantNode(t, g, "a", StateUnloaded, 0)
	if got := fa.releaseCount("a"); got != 1 {
		t.Fatalf("released %d times", got)
	}
}

func TestSnapshotAndDOT(t *testing.T) {
	fa := newFakeArchive()
	fa.add("level1", "textures")
	fa.add("textures")
	g := newGraph(t, fa, "")
	if err := g.Load("level1"); err != nil {
		t.Fatalf("load: %v", err)
	}

	snap := g.Snapshot()
	if len(snap) != 2 || snap[0].Name != "level1" || snap[1].Name != "textures" {
		t.Fatalf("snapshot %+v", snap)
	}

	dot := g.DOT()
	if !strings.HasPrefix(dot, "digraph bundles {") {
		t.Fatalf("dot header: %q", dot)
	}
	if !strings.Contains(dot, "->") {
		t.Fatalf("dot is missing the dependency edge:\n%s", dot)
	}
	if !strings.Contains(dot, "level1") || !strings.Contains(dot, "textures") {
		t.Fatalf("dot is missing node labels:\n%s", dot)
	}
}
