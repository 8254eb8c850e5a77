// Package pack implements the container format of the archive backend: a
// magic-framed index of named entries followed by their payloads, each
// payload optionally zstd-compressed, plus an embedded CBOR manifest
// declaring bundle dependencies and the pinned bundle.
//
// Layout:
//
//	magic(4="APCK") | ver(1) | n(u32 be)
//	{ nameLen(u16 be) | name | off(u64 be) | stored(u32 be) | raw(u32 be) | flags(1) } * n
//	payload bytes...
//
// Decoding is strict: bad magic, truncated index, out-of-range payload
// windows and index entries pointing past the file all fail with
// ErrCorrupt instead of being papered over.
package pack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	version byte = 1

	flagZstd byte = 1 << 0

	// manifestName is the reserved index slot holding the CBOR manifest.
	// User entry names must not start with 0xff.
	manifestName = "\xffmanifest"
)

var (
	ErrCorrupt  = errors.New("pack: corrupt archive")
	ErrNoEntry  = errors.New("pack: no such entry")
	ErrBadName  = errors.New("pack: invalid entry name")
	magic4      = [...]byte{'A', 'P', 'C', 'K'}
)

// Manifest declares the bundle dependency lists of an archive and which
// bundle is pinned (eagerly loaded, never released).
type Manifest struct {
	Bundles map[string][]string `cbor:"bundles"`
	Pinned  string              `cbor:"pinned,omitempty"`
}

type indexEntry struct {
	off    uint64
	stored uint32
	raw    uint32
	flags  byte
}

// Reader gives random access to the entries of a parsed archive. Safe for
// concurrent use; payloads are decompressed per call.
type Reader struct {
	buf   []byte
	index map[string]indexEntry
	dec   *zstd.Decoder
}

// Load reads and parses the archive at path.
func Load(path string) (*Reader, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse validates b and builds the entry index. The Reader retains b.
func Parse(b []byte) (*Reader, error) {
	const hdr = 4 + 1 + 4
	if len(b) < hdr || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return nil, ErrCorrupt
	}

	off := 5
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// each index entry occupies at least 20 bytes (2-byte name length, a
	// non-empty name, 17 fixed bytes), so a count the remaining bytes cannot
	// hold is corrupt; checking before sizing the map keeps a hostile count
	// from forcing a huge allocation
	if n > (len(b)-hdr)/20 {
		return nil, ErrCorrupt
	}

	index := make(map[string]indexEntry, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		nlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if nlen <= 0 || nlen > len(b)-off {
			return nil, ErrCorrupt
		}
		name := string(b[off : off+nlen])
		off += nlen

		if off+8+4+4+1 > len(b) {
			return nil, ErrCorrupt
		}
		e := indexEntry{
			off:    binary.BigEndian.Uint64(b[off : off+8]),
			stored: binary.BigEndian.Uint32(b[off+8 : off+12]),
			raw:    binary.BigEndian.Uint32(b[off+12 : off+16]),
			flags:  b[off+16],
		}
		off += 17

		if _, dup := index[name]; dup {
			return nil, ErrCorrupt
		}
		index[name] = e
	}

	// payload windows are validated only after the whole index is scanned,
	// so the checks run against the true payload region start. Overflow-safe:
	// never form e.off+e.stored, an offset near the top of uint64 would wrap.
	for _, e := range index {
		if e.off > uint64(len(b)) || uint64(e.stored) > uint64(len(b))-e.off {
			return nil, ErrCorrupt
		}
		if e.stored > 0 && e.off < uint64(off) {
			return nil, ErrCorrupt
		}
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Reader{buf: b, index: index, dec: dec}, nil
}

// Entry returns the decompressed payload of name. Missing names yield
// ErrNoEntry; a payload that fails to decompress or does not match its
// declared raw size yields ErrCorrupt.
func (r *Reader) Entry(name string) ([]byte, error) {
	e, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoEntry, name)
	}
	stored := r.buf[e.off : e.off+uint64(e.stored)]
	if e.flags&flagZstd == 0 {
		if uint32(len(stored)) != e.raw {
			return nil, ErrCorrupt
		}
		return stored, nil
	}
	raw, err := r.dec.DecodeAll(stored, make([]byte, 0, e.raw))
	if err != nil || uint32(len(raw)) != e.raw {
		return nil, ErrCorrupt
	}
	return raw, nil
}

// Has reports whether name exists in the archive.
func (r *Reader) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Names lists user entries (the manifest slot is not included).
func (r *Reader) Names() []string {
	out := make([]string, 0, len(r.index))
	for name := range r.index {
		if name == manifestName {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Manifest decodes the embedded manifest. ok is false when the archive
// carries none.
func (r *Reader) Manifest() (m Manifest, ok bool, err error) {
	raw, e := r.Entry(manifestName)
	if errors.Is(e, ErrNoEntry) {
		return Manifest{}, false, nil
	}
	if e != nil {
		return Manifest{}, false, e
	}
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	return m, true, nil
}

// Close releases the zstd decoder.
func (r *Reader) Close() {
	r.dec.Close()
}

type pending struct {
	name     string
	data     []byte
	compress bool
}

// Writer assembles an archive in memory. Not safe for concurrent use.
type Writer struct {
	entries  []pending
	seen     map[string]struct{}
	manifest *Manifest
}

func NewWriter() *Writer {
	return &Writer{seen: make(map[string]struct{})}
}

// Add stages an entry. Names must be unique, non-empty, at most 65535
// bytes and must not start with 0xff (reserved).
func (w *Writer) Add(name string, data []byte, compress bool) error {
	if name == "" || len(name) > 0xFFFF || name[0] == 0xff {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if _, dup := w.seen[name]; dup {
		return fmt.Errorf("pack: duplicate entry %q", name)
	}
	w.seen[name] = struct{}{}
	w.entries = append(w.entries, pending{name: name, data: data, compress: compress})
	return nil
}

// SetManifest stages the manifest; it is encoded on Encode.
func (w *Writer) SetManifest(m Manifest) {
	cp := m
	w.manifest = &cp
}

// Encode serializes the staged entries into the archive byte form.
func (w *Writer) Encode() ([]byte, error) {
	entries := w.entries
	if w.manifest != nil {
		raw, err := cbor.Marshal(*w.manifest)
		if err != nil {
			return nil, err
		}
		entries = append(entries[:len(entries):len(entries)],
			pending{name: manifestName, data: raw})
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	type packed struct {
		pending
		stored []byte
		flags  byte
	}
	packedEntries := make([]packed, 0, len(entries))
	indexSize := 0
	for _, p := range entries {
		pe := packed{pending: p, stored: p.data}
		if p.compress {
			pe.stored = enc.EncodeAll(p.data, nil)
			pe.flags = flagZstd
		}
		if len(p.data) > 0xFFFFFFFF || len(pe.stored) > 0xFFFFFFFF {
			return nil, fmt.Errorf("pack: entry %q too large", p.name)
		}
		packedEntries = append(packedEntries, pe)
		indexSize += 2 + len(p.name) + 8 + 4 + 4 + 1
	}

	var buf bytes.Buffer
	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u2 [2]byte
	var u4 [4]byte
	var u8 [8]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(packedEntries)))
	buf.Write(u4[:])

	off := uint64(4 + 1 + 4 + indexSize)
	for _, pe := range packedEntries {
		binary.BigEndian.PutUint16(u2[:], uint16(len(pe.name)))
		buf.Write(u2[:])
		buf.WriteString(pe.name)

		binary.BigEndian.PutUint64(u8[:], off)
		buf.Write(u8[:])
		binary.BigEndian.PutUint32(u4[:], uint32(len(pe.stored)))
		buf.Write(u4[:])
		binary.BigEndian.PutUint32(u4[:], uint32(len(pe.data)))
		buf.Write(u4[:])
		buf.WriteByte(pe.flags)

		off += uint64(len(pe.stored))
	}
	for _, pe := range packedEntries {
		buf.Write(pe.stored)
	}
	return buf.Bytes(), nil
}
