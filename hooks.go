package assetcache

// Hooks are lightweight callbacks for high-signal lifetime events.
// Implementations MUST be cheap and non-blocking; the engine calls them on
// hot paths. Wrap with hooks/async to offload expensive sinks.
type Hooks interface {
	// A request joined an already in-flight fetch instead of starting one.
	// waiters is the number of callers now attached to the fetch.
	DedupJoin(key Key, waiters int)

	// An async load settled after its handle generation moved on. The
	// speculative reference was compensated and the result discarded.
	StaleResult(key Key, slot int, generation uint64)

	// Two successful fetch paths raced for the same key; the losing asset
	// was explicitly released back to its backend.
	DuplicateAsset(key Key)

	// An entry's refcount reached zero and its asset was released.
	EntryReleased(key Key)

	// A synchronous bundle load was rejected because an async load for the
	// same bundle is in flight.
	BundleConflict(name string)

	// Engine.Close found an entry with live references.
	CloseLeak(key Key, refs int)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) DedupJoin(Key, int)          {}
func (NopHooks) StaleResult(Key, int, uint64) {}
func (NopHooks) DuplicateAsset(Key)          {}
func (NopHooks) EntryReleased(Key)           {}
func (NopHooks) BundleConflict(string)       {}
func (NopHooks) CloseLeak(Key, int)          {}
