package server

import (
	"github.com/goccy/go-json"
)

// jsonCodec lets Connect carry plain Go structs. It registers under the
// name "json", replacing the protobuf JSON codec, so requests sent with
// Content-Type application/json decode into the handler's message types.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
