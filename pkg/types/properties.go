package types

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Properties is an opaque JSON-like document attached to an event.
// It is backed by a protobuf Struct, so every value is one of
// null, bool, number, string, list or nested object.
// The zero value is an empty document.
type Properties struct {
	s *structpb.Struct
}

// NewProperties builds a document from a Go map of JSON-compatible values.
func NewProperties(m map[string]interface{}) (Properties, error) {
	if len(m) == 0 {
		return Properties{}, nil
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return Properties{}, fmt.Errorf("properties: %w", err)
	}
	return Properties{s: s}, nil
}

// MustProperties is like NewProperties but panics on error.
func MustProperties(m map[string]interface{}) Properties {
	p, err := NewProperties(m)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of top-level keys.
func (p Properties) Len() int {
	if p.s == nil {
		return 0
	}
	return len(p.s.GetFields())
}

// AsMap converts the document back to a Go map.
func (p Properties) AsMap() map[string]interface{} {
	if p.s == nil {
		return map[string]interface{}{}
	}
	return p.s.AsMap()
}

// Get returns the value stored under key.
func (p Properties) Get(key string) (*structpb.Value, bool) {
	if p.s == nil {
		return nil, false
	}
	v, ok := p.s.GetFields()[key]
	return v, ok
}

// Equal reports whether two documents hold the same values.
func (p Properties) Equal(other Properties) bool {
	if p.Len() == 0 || other.Len() == 0 {
		return p.Len() == other.Len()
	}
	return proto.Equal(p.s, other.s)
}

// Clone returns a deep copy.
func (p Properties) Clone() Properties {
	if p.s == nil {
		return Properties{}
	}
	return Properties{s: proto.Clone(p.s).(*structpb.Struct)}
}

// MarshalBinary encodes the document in protobuf wire format.
// An empty document encodes to an empty slice.
func (p Properties) MarshalBinary() ([]byte, error) {
	if p.Len() == 0 {
		return []byte{}, nil
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(p.s)
}

// UnmarshalBinary decodes a document produced by MarshalBinary.
func (p *Properties) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		p.s = nil
		return nil
	}
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return fmt.Errorf("properties: decode: %w", err)
	}
	p.s = s
	return nil
}

// MarshalJSON renders the document as a JSON object.
func (p Properties) MarshalJSON() ([]byte, error) {
	if p.Len() == 0 {
		return []byte("{}"), nil
	}
	return protojson.Marshal(p.s)
}

// UnmarshalJSON accepts a JSON object or null.
func (p *Properties) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		p.s = nil
		return nil
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("properties: expected a JSON object")
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(trimmed, s); err != nil {
		return fmt.Errorf("properties: %w", err)
	}
	p.s = s
	return nil
}
