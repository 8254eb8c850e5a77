package assetcache

import "github.com/unkn0wn-root/assetcache/backend"

// Kind aliases backend.Kind so callers constructing keys do not need a
// second import just for the constant.
type Kind = backend.Kind

// Key is the composite identity of a loadable resource: which backend kind
// serves it, and the path inside that backend.
type Key struct {
	Kind Kind
	Path string
}

// K builds a Key.
func K(kind Kind, path string) Key { return Key{Kind: kind, Path: path} }

func (k Key) String() string { return string(k.Kind) + ":" + k.Path }
