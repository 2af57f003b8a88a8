package game

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestAnswerCodec_Plain(t *testing.T) {
	c := NewAnswerCodec(nil)
	p, err := c.Pack("CRANE")
	require.NoError(t, err)
	assert.Equal(t, PackedAnswer("plain:CRANE"), p)

	w, err := c.Unpack(p)
	require.NoError(t, err)
	assert.Equal(t, "CRANE", w)
}

func TestAnswerCodec_Sealed(t *testing.T) {
	sealer, err := NewXChaChaSealer(testKeyHex)
	require.NoError(t, err)
	c := NewAnswerCodec(sealer)

	a, err := c.Pack("CRANE")
	require.NoError(t, err)
	b, err := c.Pack("CRANE")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(a), "sealed:v1:"))
	assert.NotEqual(t, a, b, "nonces must differ")

	w, err := c.Unpack(a)
	require.NoError(t, err)
	assert.Equal(t, "CRANE", w)

	// a codec without the key can still read plain rows but not sealed ones
	_, err = NewAnswerCodec(nil).Unpack(a)
	assert.Error(t, err)
}

func TestAnswerCodec_TamperedCiphertext(t *testing.T) {
	sealer, err := NewXChaChaSealer(testKeyHex)
	require.NoError(t, err)
	c := NewAnswerCodec(sealer)

	p, err := c.Pack("CRANE")
	require.NoError(t, err)
	s := []byte(p)
	i := len(s) - 2
	if s[i] == 'A' {
		s[i] = 'B'
	} else {
		s[i] = 'A'
	}
	_, err = c.Unpack(PackedAnswer(s))
	assert.Error(t, err)
}

func TestAnswerCodec_Legacy(t *testing.T) {
	c := NewAnswerCodec(nil)
	w, err := c.Unpack("CRANE")
	require.NoError(t, err)
	assert.Equal(t, "CRANE", w)

	for _, bad := range []PackedAnswer{"", "crane", "v2:CRANE"} {
		_, err := c.Unpack(bad)
		assert.ErrorIs(t, err, ErrUnknownAnswerEncoding, string(bad))
	}
}

func TestNewXChaChaSealer_BadKey(t *testing.T) {
	_, err := NewXChaChaSealer("zz")
	assert.Error(t, err)
	_, err = NewXChaChaSealer("0011")
	assert.Error(t, err)
}
