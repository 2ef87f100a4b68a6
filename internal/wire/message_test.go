package wire

import (
	"errors"
	"reflect"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	in := Message{Type: MsgTypeConnected, ID: "abcd"}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestEncodeRequiresType(t *testing.T) {
	if _, err := Encode(Message{Data: []byte("x")}); !errors.Is(err, ErrMissingType) {
		t.Fatalf("Encode error = %v, want ErrMissingType", err)
	}
}

func TestDecodeRequiresType(t *testing.T) {
	if _, err := Decode([]byte(`{"id":"abcd"}`)); !errors.Is(err, ErrMissingType) {
		t.Fatalf("Decode error = %v, want ErrMissingType", err)
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("Decode accepted malformed input")
	}
}

func TestBootstrapSnapshotRoundTrip(t *testing.T) {
	in := Message{
		Type: MsgTypeBootstrapResponse,
		Bootstrap: BootstrapInfo{
			"aa": {Data: []byte(`{"x":1}`), ConnectedTo: []string{"bb"}},
			"bb": {ConnectedTo: []string{}},
		},
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
	if out.Bootstrap["bb"].Data != nil {
		t.Fatalf("absent payload must stay nil")
	}
}

func TestKnown(t *testing.T) {
	for _, typ := range []string{MsgTypeState, MsgTypeConnected, MsgTypeDisconnected, MsgTypeBootstrapRequest, MsgTypeBootstrapResponse} {
		if !Known(typ) {
			t.Fatalf("Known(%q) = false", typ)
		}
	}
	if Known("gossip") {
		t.Fatalf("Known accepted an unknown type")
	}
}

func TestEnforceTypeMax(t *testing.T) {
	if err := EnforceTypeMax(MsgTypeState, MaxStateSize); err != nil {
		t.Fatalf("payload at the cap rejected: %v", err)
	}
	if err := EnforceTypeMax(MsgTypeState, MaxStateSize+1); err == nil {
		t.Fatalf("oversize state payload accepted")
	}
	if err := EnforceTypeMax(MsgTypeBootstrapResponse, MaxBootstrapSize+1); err == nil {
		t.Fatalf("oversize bootstrap payload accepted")
	}
	// Types without a payload cap accept anything.
	if err := EnforceTypeMax(MsgTypeConnected, MaxBootstrapSize*2); err != nil {
		t.Fatalf("uncapped type rejected: %v", err)
	}
}
