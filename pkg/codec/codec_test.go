package codec

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/graphcache/pkg/compression"
	"goflare.io/graphcache/pkg/serialization"
)

func newCodec(t *testing.T, algorithm string, threshold int) *Codec {
	t.Helper()
	s, err := serialization.New(serialization.JSONType)
	require.NoError(t, err)

	var c compression.Compressor
	if algorithm != "" {
		c, err = compression.New(algorithm)
		require.NoError(t, err)
	}
	return New(s, c, threshold)
}

func TestCodec_CompressesAtThreshold(t *testing.T) {
	big := strings.Repeat("@friend,", 512)

	for _, algorithm := range compression.Algorithms() {
		t.Run(algorithm, func(t *testing.T) {
			c := newCodec(t, algorithm, 256)

			p, err := c.Encode(big)
			require.NoError(t, err)
			assert.True(t, p.Compressed)
			assert.True(t, IsCompressed(p.Data))

			var out string
			require.NoError(t, c.Decode(p.Data, &out))
			assert.Equal(t, big, out)
		})
	}
}

func TestCodec_BelowThreshold(t *testing.T) {
	c := newCodec(t, compression.Gzip, 1024)

	p, err := c.Encode([]string{"@bob"})
	require.NoError(t, err)
	assert.False(t, p.Compressed)
	assert.False(t, IsCompressed(p.Data))

	var out []string
	require.NoError(t, c.Decode(p.Data, &out))
	assert.Equal(t, []string{"@bob"}, out)
}

func TestCodec_ExactThresholdIsCompressed(t *testing.T) {
	c := newCodec(t, compression.Snappy, 0)
	s, _ := serialization.New(serialization.JSONType)
	raw := New(s, nil, 0)

	plain, err := raw.Encode("x")
	require.NoError(t, err)
	bodyLen := len(plain.Data) - headerSize

	c.threshold = bodyLen
	p, err := c.Encode("x")
	require.NoError(t, err)
	assert.True(t, p.Compressed)

	c.threshold = bodyLen + 1
	p, err = c.Encode("x")
	require.NoError(t, err)
	assert.False(t, p.Compressed)
}

func TestCodec_DecodesAnyCompressor(t *testing.T) {
	writer := newCodec(t, compression.LZ4, 0)
	reader := newCodec(t, compression.Gzip, 0)

	p, err := writer.Encode(map[string]int{"@alice": 3})
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, reader.Decode(p.Data, &out))
	assert.Equal(t, 3, out["@alice"])
}

type rawBytes struct {
	w io.Writer
	r io.Reader
}

func (b rawBytes) Encode(v any) error {
	_, err := b.w.Write(v.([]byte))
	return err
}

func (b rawBytes) Decode(v any) error {
	data, err := io.ReadAll(b.r)
	*(v.(*[]byte)) = data
	return err
}

func TestCodec_RawBodyWithGzipMagic(t *testing.T) {
	raw := serialization.Serializer{
		Type:    "raw",
		Encoder: func(w io.Writer) serialization.Encoder { return rawBytes{w: w} },
		Decoder: func(r io.Reader) serialization.Decoder { return rawBytes{r: r} },
	}
	gz, err := compression.New(compression.Gzip)
	require.NoError(t, err)

	// a body that itself is a valid gzip stream, stored uncompressed
	value, err := gz.Compress([]byte("inner"))
	require.NoError(t, err)

	c := New(raw, gz, 1<<20)
	p, err := c.Encode(value)
	require.NoError(t, err)
	require.False(t, p.Compressed)

	var out []byte
	require.NoError(t, c.Decode(p.Data, &out))
	assert.Equal(t, value, out)
}

func TestCodec_CorruptPayload(t *testing.T) {
	c := newCodec(t, compression.Gzip, 0)
	var out string

	cases := map[string][]byte{
		"empty":           nil,
		"short":           {formatVersion},
		"unknown version": {9, 0, '"', 'x', '"'},
		"unknown codec":   {formatVersion, 77, '"', 'x', '"'},
		"bad gzip body":   {formatVersion, byte(compression.GzipID), 'n', 'o'},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, c.Decode(data, &out), ErrCorruptPayload)
		})
	}
}

func TestCodec_TypeMismatch(t *testing.T) {
	c := newCodec(t, compression.Gzip, 0)

	p, err := c.Encode([]string{"@bob", "@carol"})
	require.NoError(t, err)

	var wrong int
	err = c.Decode(p.Data, &wrong)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.NotErrorIs(t, err, ErrCorruptPayload)

	var right []string
	require.NoError(t, c.Decode(p.Data, &right))
	assert.Equal(t, []string{"@bob", "@carol"}, right)

	// a framed body the serializer rejects is not a framing problem
	var out string
	assert.ErrorIs(t, c.Decode([]byte{formatVersion, byte(compression.None), '{'}, &out), ErrTypeMismatch)
}
