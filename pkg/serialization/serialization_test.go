package serialization

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type friendList struct {
	User    string   `json:"user"`
	Friends []string `json:"friends"`
}

func TestSerializers_RoundTrip(t *testing.T) {
	for _, typ := range Types() {
		t.Run(typ, func(t *testing.T) {
			s, err := New(typ)
			require.NoError(t, err)

			in := friendList{User: "@alice", Friends: []string{"@bob", "@carol"}}
			var buf bytes.Buffer
			require.NoError(t, s.Encoder(&buf).Encode(in))

			var out friendList
			require.NoError(t, s.Decoder(bytes.NewReader(buf.Bytes())).Decode(&out))
			assert.Equal(t, in, out)
		})
	}
}

func TestNew_Unsupported(t *testing.T) {
	_, err := New("xml")
	assert.Error(t, err)
	assert.False(t, IsSupported("xml"))
	assert.True(t, IsSupported(JSONType))
}
