package serialization

import (
	"encoding/gob"
	"io"
)

// Gob wraps gob.Decoder and gob.Encoder. Values stored behind interface
// types must be registered with RegisterGobType before they are cached.
type Gob struct {
	dec *gob.Decoder
	enc *gob.Encoder
}

func (g *Gob) Decode(v any) error {
	return g.dec.Decode(v)
}

func (g *Gob) Encode(v any) error {
	return g.enc.Encode(v)
}

// GobDecoder returns a Decoder that reads GOB-encoded data from r.
func GobDecoder(r io.Reader) Decoder {
	return &Gob{dec: gob.NewDecoder(r)}
}

// GobEncoder returns an Encoder that writes GOB-encoded data to w.
func GobEncoder(w io.Writer) Encoder {
	return &Gob{enc: gob.NewEncoder(w)}
}

// RegisterGobType records a concrete type for gob interface encoding.
func RegisterGobType(v any) {
	gob.Register(v)
}
