package serialization

import (
	"io"

	"github.com/bytedance/sonic"
)

// Sonic wraps the bytedance/sonic streaming encoder and decoder.
type Sonic struct {
	dec sonic.Decoder
	enc sonic.Encoder
}

func (s *Sonic) Decode(v any) error {
	return s.dec.Decode(v)
}

func (s *Sonic) Encode(v any) error {
	return s.enc.Encode(v)
}

// SonicDecoder returns a Decoder reading JSON with sonic's standard-compatible config.
func SonicDecoder(r io.Reader) Decoder {
	return &Sonic{dec: sonic.ConfigStd.NewDecoder(r)}
}

// SonicEncoder returns an Encoder writing JSON with sonic's standard-compatible config.
func SonicEncoder(w io.Writer) Encoder {
	return &Sonic{enc: sonic.ConfigStd.NewEncoder(w)}
}
