package codec

import (
	"strings"
	"testing"
)

type sample struct {
	Name  string   `json:"name" msgpack:"name" cbor:"name"`
	Level int      `json:"level" msgpack:"level" cbor:"level"`
	Tags  []string `json:"tags,omitempty" msgpack:"tags,omitempty" cbor:"tags,omitempty"`
}

func roundTrip[V any](t *testing.T, c Codec[V], in V) V {
	t.Helper()
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func checkSample(t *testing.T, got, want sample) {
	t.Helper()
	if got.Name != want.Name || got.Level != want.Level || len(got.Tags) != len(want.Tags) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestStructCodecs(t *testing.T) {
	in := sample{Name: "warden", Level: 12, Tags: []string{"boss", "undead"}}

	t.Run("json", func(t *testing.T) {
		checkSample(t, roundTrip[sample](t, JSON[sample]{}, in), in)
	})
	t.Run("msgpack", func(t *testing.T) {
		checkSample(t, roundTrip[sample](t, Msgpack[sample]{}, in), in)
	})
	t.Run("cbor", func(t *testing.T) {
		c, err := NewCBOR[sample](false)
		if err != nil {
			t.Fatalf("NewCBOR: %v", err)
		}
		checkSample(t, roundTrip[sample](t, c, in), in)
	})
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	in := map[string]int{"b": 2, "a": 1, "c": 3}
	first, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := c.Encode(in)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("deterministic encoding varied on attempt %d", i)
		}
	}
}

func TestIdentityCodecs(t *testing.T) {
	if got := roundTrip[[]byte](t, Bytes{}, []byte{0x00, 0xFF}); len(got) != 2 {
		t.Fatalf("bytes identity broke: %v", got)
	}
	if got := roundTrip[string](t, String{}, "héllo"); got != "héllo" {
		t.Fatalf("string identity broke: %q", got)
	}
}

func TestLimitCapsDecode(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}

	if _, err := c.Decode([]byte("ok")); err != nil {
		t.Fatalf("small payload: %v", err)
	}
	_, err := c.Decode([]byte("way too big"))
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("oversized payload: %v", err)
	}

	// encode side is unrestricted
	if _, err := c.Encode("this may be arbitrarily long"); err != nil {
		t.Fatalf("encode: %v", err)
	}

	unlimited := Limit[string]{Inner: String{}}
	if _, err := unlimited.Decode([]byte("anything goes when the cap is off")); err != nil {
		t.Fatalf("uncapped decode: %v", err)
	}
}
