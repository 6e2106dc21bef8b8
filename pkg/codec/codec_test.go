package codec

import (
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func testKey(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "nil key disables encryption",
			key:     nil,
			wantErr: false,
		},
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrEncryptionKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.key != nil, c.Encrypted())
		})
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	value := map[string]any{
		"name":  "widget",
		"price": float64(9.99),
		"tags":  []any{"a", "b"},
		"attrs": map[string]any{"color": "red"},
	}

	for _, key := range [][]byte{nil, testKey("roundtrip")} {
		c, err := New(key)
		require.NoError(t, err)

		data, err := c.Encode(value)
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, c.Decode(data, &got))
		assert.Equal(t, value, got)
	}
}

func TestEncryptedPayloadIsOpaque(t *testing.T) {
	c, err := New(testKey("opaque"))
	require.NoError(t, err)

	data, err := c.Encode(map[string]any{"secret": "value"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}

func TestDecodeWrongKey(t *testing.T) {
	enc, err := New(testKey("right"))
	require.NoError(t, err)
	data, err := enc.Encode(map[string]any{"a": float64(1)})
	require.NoError(t, err)

	dec, err := New(testKey("wrong"))
	require.NoError(t, err)

	var got map[string]any
	err = dec.Decode(data, &got)
	assert.True(t, errors.Is(err, types.ErrEncryptionKey))
}

func TestDecodeTruncatedCiphertext(t *testing.T) {
	c, err := New(testKey("trunc"))
	require.NoError(t, err)

	var got map[string]any
	err = c.Decode([]byte{0x01, 0x02}, &got)
	assert.ErrorIs(t, err, types.ErrEncryptionKey)
}
