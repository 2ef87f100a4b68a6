package transport

import (
	"testing"
	"time"
)

func TestSeenCacheDeduplicates(t *testing.T) {
	c := newSeenCache(0)
	defer c.close()
	id := [32]byte{1}
	if !c.add(id) {
		t.Fatalf("first add reported duplicate")
	}
	if c.add(id) {
		t.Fatalf("second add reported new")
	}
	if !c.add([32]byte{2}) {
		t.Fatalf("distinct id reported duplicate")
	}
	if got := c.len(); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}
}

func TestSeenCacheExpires(t *testing.T) {
	c := newSeenCache(50 * time.Millisecond)
	defer c.close()
	id := [32]byte{1}
	c.add(id)
	time.Sleep(120 * time.Millisecond)
	if !c.add(id) {
		t.Fatalf("expired entry still suppresses")
	}
}

func TestSeenCacheCloseIsIdempotent(t *testing.T) {
	c := newSeenCache(0)
	c.close()
	c.close()
}

func TestFrameIDDistinguishesOriginAndSeq(t *testing.T) {
	base := gossipFrame{From: "aa", Seq: 1, Payload: []byte("x")}
	same := gossipFrame{From: "aa", Seq: 1, Payload: []byte("entirely different")}
	if frameID(base) != frameID(same) {
		t.Fatalf("frame identity must depend on origin and sequence only")
	}
	otherSeq := base
	otherSeq.Seq = 2
	if frameID(base) == frameID(otherSeq) {
		t.Fatalf("sequence change did not change frame identity")
	}
	otherFrom := base
	otherFrom.From = "bb"
	if frameID(base) == frameID(otherFrom) {
		t.Fatalf("origin change did not change frame identity")
	}
}

func TestNormalizeTTL(t *testing.T) {
	if got := normalizeTTL(-1); got != DefaultRelayTTL {
		t.Fatalf("normalizeTTL(-1) = %d, want default", got)
	}
	if got := normalizeTTL(0); got != 0 {
		t.Fatalf("normalizeTTL(0) = %d, want 0", got)
	}
	if got := normalizeTTL(3); got != 3 {
		t.Fatalf("normalizeTTL(3) = %d, want 3", got)
	}
}
