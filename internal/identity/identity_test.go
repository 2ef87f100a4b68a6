package identity

import (
	"strings"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	got, err := Parse(id.String())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch: %s != %s", got, id)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"zz",
		"abcd",
		strings.Repeat("ab", IDBytes+1),
	}
	for _, in := range cases {
		if _, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q) accepted invalid input", in)
		}
	}
}

func TestFromBytesLength(t *testing.T) {
	if _, err := FromBytes(make([]byte, IDBytes-1)); err == nil {
		t.Fatalf("FromBytes accepted short input")
	}
	raw := make([]byte, IDBytes)
	raw[0] = 0xab
	id, err := FromBytes(raw)
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}
	if id[0] != 0xab {
		t.Fatalf("FromBytes did not copy input")
	}
}

func TestDeriveIsDeterministicAndDomainSeparated(t *testing.T) {
	pub := []byte("some public key material")
	a := Derive(pub)
	b := Derive(pub)
	if a != b {
		t.Fatalf("Derive is not deterministic")
	}
	if a == Derive([]byte("other key")) {
		t.Fatalf("distinct keys produced the same identifier")
	}
	if a.IsZero() {
		t.Fatalf("derived identifier is zero")
	}
}

func TestLessOrdersBytewise(t *testing.T) {
	var a, b PeerID
	a[0] = 1
	b[0] = 2
	if !Less(a, b) || Less(b, a) {
		t.Fatalf("Less ordering wrong for differing first byte")
	}
	if Less(a, a) {
		t.Fatalf("Less must be strict")
	}
	var c, d PeerID
	c[IDBytes-1] = 1
	if !Less(d, c) {
		t.Fatalf("Less ignored trailing bytes")
	}
}
