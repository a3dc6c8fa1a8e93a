// Package compression provides the payload compressors used by the cache codec.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// Supported algorithm names.
const (
	Gzip   = "gzip"
	LZ4    = "lz4"
	Snappy = "snappy"
)

// ID identifies a compressor inside a stored payload header.
type ID byte

const (
	None ID = iota
	GzipID
	LZ4ID
	SnappyID
)

// Compressor compresses and restores byte slices.
type Compressor interface {
	ID() ID
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// New returns the compressor for an algorithm name.
func New(algorithm string) (Compressor, error) {
	switch algorithm {
	case Gzip:
		return gzipCompressor{}, nil
	case LZ4:
		return lz4Compressor{}, nil
	case Snappy:
		return snappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// ByID returns the compressor recorded in a payload header.
func ByID(id ID) (Compressor, error) {
	switch id {
	case GzipID:
		return gzipCompressor{}, nil
	case LZ4ID:
		return lz4Compressor{}, nil
	case SnappyID:
		return snappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression id: %d", id)
	}
}

// IsSupported reports whether algorithm names a known compressor.
func IsSupported(algorithm string) bool {
	_, err := New(algorithm)
	return err == nil
}

// Algorithms lists the supported algorithm names.
func Algorithms() []string {
	return []string{Gzip, LZ4, Snappy}
}

type gzipCompressor struct{}

func (gzipCompressor) ID() ID       { return GzipID }
func (gzipCompressor) Name() string { return Gzip }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip data: %w", err)
	}
	return out, nil
}

type lz4Compressor struct{}

func (lz4Compressor) ID() ID       { return LZ4ID }
func (lz4Compressor) Name() string { return LZ4 }

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write lz4 data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close lz4 writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read lz4 data: %w", err)
	}
	return out, nil
}

type snappyCompressor struct{}

func (snappyCompressor) ID() ID       { return SnappyID }
func (snappyCompressor) Name() string { return Snappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snappy data: %w", err)
	}
	return out, nil
}
