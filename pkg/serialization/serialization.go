package serialization

import (
	"fmt"
	"io"
)

const (

	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"

	// SonicType represents JSON encoded with bytedance/sonic.
	SonicType = "sonic"
)

// Decoder and Encoder are the interface for serialization.
type Decoder interface {
	Decode(v any) error
}

// Encoder and Decoder are the interface for serialization.
type Encoder interface {
	Encode(v any) error
}

// Serializer pairs the encoder and decoder constructors of one format.
type Serializer struct {
	Type    string
	Encoder func(io.Writer) Encoder
	Decoder func(io.Reader) Decoder
}

var serializers = map[string]Serializer{
	JSONType:  {Type: JSONType, Encoder: JsonEncoder, Decoder: JsonDecoder},
	GobType:   {Type: GobType, Encoder: GobEncoder, Decoder: GobDecoder},
	SonicType: {Type: SonicType, Encoder: SonicEncoder, Decoder: SonicDecoder},
}

// New returns the serializer registered under typ.
func New(typ string) (Serializer, error) {
	s, ok := serializers[typ]
	if !ok {
		return Serializer{}, fmt.Errorf("unsupported serialization type: %s", typ)
	}
	return s, nil
}

// IsSupported reports whether typ names a known serializer.
func IsSupported(typ string) bool {
	_, ok := serializers[typ]
	return ok
}

// Types lists the supported serializer names.
func Types() []string {
	return []string{JSONType, GobType, SonicType}
}
