// Package codec provides the pluggable encoding for opaque peer state blobs.
// Codecs are selected by name when a presence instance is constructed; the
// default is the JSON codec. The presence layer never assumes structure
// beyond what the chosen codec defines.
package codec

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Default is the codec name used when construction does not pick one.
const Default = "json"

// Codec encodes and decodes application state values. Encode must accept the
// zero value (nil) so nodes that never published state still serialize.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

var (
	regMu    sync.RWMutex
	registry = map[string]Codec{
		"json":  JSON{},
		"proto": Proto{},
		"raw":   Raw{},
	}
)

// Register makes a codec available under name, replacing any previous one.
func Register(name string, c Codec) {
	regMu.Lock()
	registry[name] = c
	regMu.Unlock()
}

// Lookup resolves a codec by name.
func Lookup(name string) (Codec, error) {
	regMu.RLock()
	c, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown codec %q (have %v)", name, Names())
	}
	return c, nil
}

// Names lists the registered codec names, sorted.
func Names() []string {
	regMu.RLock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	regMu.RUnlock()
	sort.Strings(out)
	return out
}

// JSON is the default structured codec.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Proto encodes JSON-like values through protobuf's well-known Value type.
// It accepts the same value shapes as the JSON codec (nil, bool, numbers,
// strings, []any, map[string]any) but produces a compact binary form.
type Proto struct{}

func (Proto) Encode(v any) ([]byte, error) {
	val, err := structpb.NewValue(v)
	if err != nil {
		return nil, fmt.Errorf("proto codec: %w", err)
	}
	return proto.Marshal(val)
}

func (Proto) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var val structpb.Value
	if err := proto.Unmarshal(data, &val); err != nil {
		return nil, fmt.Errorf("proto codec: %w", err)
	}
	return val.AsInterface(), nil
}

// Raw passes byte slices through untouched for callers that do their own
// serialization.
type Raw struct{}

func (Raw) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	return nil, fmt.Errorf("raw codec: expected []byte, got %T", v)
}

func (Raw) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
