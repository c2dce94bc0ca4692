package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sefisk/10minutemail/internal/apperrors"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	cases := []string{
		"password",
		"p",
		"带中文的口令",
		strings.Repeat("x", 4096),
	}

	for _, plaintext := range cases {
		blob, err := c.Encrypt(plaintext)
		require.NoError(t, err)

		got, err := c.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestCipherFreshIV(t *testing.T) {
	c, err := NewCipher("some-passphrase-key")
	require.NoError(t, err)

	a, err := c.Encrypt("same input")
	require.NoError(t, err)
	b, err := c.Encrypt("same input")
	require.NoError(t, err)

	// 每次加密生成新 IV，密文必须不同
	assert.NotEqual(t, a, b)
}

func TestCipherBitFlipFailsAuthentication(t *testing.T) {
	c, err := NewCipher("bit-flip-test-key")
	require.NoError(t, err)

	blob, err := c.Encrypt("sensitive credential")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	for i := range raw {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] ^= 0x01

		_, err := c.Decrypt(base64.StdEncoding.EncodeToString(tampered))
		assert.Error(t, err, "flipped byte %d must fail", i)
		assert.True(t, apperrors.Is(err, apperrors.KindEncryption))
	}
}

func TestCipherRejectsShortBlob(t *testing.T) {
	c, err := NewCipher("short-blob-key")
	require.NoError(t, err)

	// IV(12) + tag(16) 共 28 字节，不含任何密文，必须拒绝
	short := base64.StdEncoding.EncodeToString(make([]byte, 28))
	_, err = c.Decrypt(short)
	assert.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindEncryption))

	_, err = c.Decrypt("not base64 !!!")
	assert.Error(t, err)
}

func TestCipherKeyDerivation(t *testing.T) {
	// 两种密钥形式各自可用，且互不等价
	hexKey, err := NewCipher("00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	passphrase, err := NewCipher("just a passphrase")
	require.NoError(t, err)

	blob, err := hexKey.Encrypt("secret")
	require.NoError(t, err)
	_, err = passphrase.Decrypt(blob)
	assert.Error(t, err)

	_, err = NewCipher("")
	assert.Error(t, err)
}

func TestHashToken(t *testing.T) {
	h := HashToken("raw-token")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashToken("raw-token"))
	assert.NotEqual(t, h, HashToken("raw-token2"))
	// 十六进制小写
	assert.Equal(t, strings.ToLower(h), h)
}
