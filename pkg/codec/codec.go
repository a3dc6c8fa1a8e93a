// Package codec turns cache values into framed payloads and back.
//
// Every payload starts with a two-byte header: a format version and the
// id of the compressor applied to the body (0 for none). Decoding reads
// the header instead of guessing, so a raw body that happens to look like
// a compressed stream is never misread.
package codec

import (
	"bytes"
	"errors"
	"fmt"

	"goflare.io/graphcache/pkg/compression"
	"goflare.io/graphcache/pkg/serialization"
)

const (
	formatVersion byte = 1
	headerSize         = 2
)

var (
	// ErrCorruptPayload is returned when a payload's header or compressed body is unreadable.
	ErrCorruptPayload = errors.New("corrupt cache payload")
	// ErrTypeMismatch is returned when a well-framed payload does not deserialize
	// into the destination value.
	ErrTypeMismatch = errors.New("cache payload does not match destination type")
)

// Payload is an encoded value ready for storage.
type Payload struct {
	Data       []byte
	Compressed bool
}

// Codec serializes, optionally compresses, and frames values.
type Codec struct {
	serializer serialization.Serializer
	compressor compression.Compressor
	threshold  int
}

// New creates a Codec. A nil compressor disables compression.
func New(serializer serialization.Serializer, compressor compression.Compressor, thresholdBytes int) *Codec {
	return &Codec{
		serializer: serializer,
		compressor: compressor,
		threshold:  thresholdBytes,
	}
}

// Encode serializes v and compresses the body when it reaches the threshold.
func (c *Codec) Encode(v any) (Payload, error) {
	var buf bytes.Buffer
	buf.Write([]byte{formatVersion, byte(compression.None)})
	if err := c.serializer.Encoder(&buf).Encode(v); err != nil {
		return Payload{}, fmt.Errorf("failed to encode value: %w", err)
	}

	framed := buf.Bytes()
	body := framed[headerSize:]
	if c.compressor == nil || len(body) < c.threshold {
		return Payload{Data: framed}, nil
	}

	compressed, err := c.compressor.Compress(body)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to compress value: %w", err)
	}

	data := make([]byte, 0, headerSize+len(compressed))
	data = append(data, formatVersion, byte(c.compressor.ID()))
	data = append(data, compressed...)
	return Payload{Data: data, Compressed: true}, nil
}

// Decode restores a payload written by any Codec, whatever its compressor.
func (c *Codec) Decode(data []byte, v any) error {
	body, _, err := Unframe(data)
	if err != nil {
		return err
	}
	if err := c.serializer.Decoder(bytes.NewReader(body)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return nil
}

// Unframe validates the header and returns the decompressed body.
func Unframe(data []byte) ([]byte, bool, error) {
	if len(data) < headerSize {
		return nil, false, fmt.Errorf("%w: payload of %d bytes has no header", ErrCorruptPayload, len(data))
	}
	if data[0] != formatVersion {
		return nil, false, fmt.Errorf("%w: unknown format version %d", ErrCorruptPayload, data[0])
	}

	id := compression.ID(data[1])
	body := data[headerSize:]
	if id == compression.None {
		return body, false, nil
	}

	compressor, err := compression.ByID(id)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	out, err := compressor.Decompress(body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return out, true, nil
}

// IsCompressed reports the compression flag recorded in a payload header.
func IsCompressed(data []byte) bool {
	return len(data) >= headerSize && compression.ID(data[1]) != compression.None
}
