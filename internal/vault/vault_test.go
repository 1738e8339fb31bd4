package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	inputs := []string{
		"a",
		"my-api-key-12345",
		"secret with spaces and symbols !@#$%^&*()",
		strings.Repeat("x", 512),
	}
	for _, in := range inputs {
		enc, err := v.Encrypt(in)
		require.NoError(t, err)
		assert.NotEqual(t, in, enc)
		assert.Contains(t, enc, ":")

		dec, err := v.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, in, dec)
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	first, err := v.Encrypt("same-plaintext")
	require.NoError(t, err)
	second, err := v.Encrypt("same-plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "two encryptions of the same value must differ")
}

func TestDecryptPassesThroughLegacyPlaintext(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	// No delimiter: treated as a legacy plaintext value.
	out, err := v.Decrypt("plain-api-key-without-delimiter")
	require.NoError(t, err)
	assert.Equal(t, "plain-api-key-without-delimiter", out)
}

func TestDecryptEmptyString(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	out, err := v.Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestDecryptRejectsBadHex(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	_, err = v.Decrypt("nothex!!:deadbeef")
	assert.Error(t, err)
}

func TestDifferentSecretsProduceDifferentKeys(t *testing.T) {
	v1, err := New("secret-one")
	require.NoError(t, err)
	v2, err := New("secret-two")
	require.NoError(t, err)

	enc, err := v1.Encrypt("api-key")
	require.NoError(t, err)

	// CTR mode has no integrity check, so decrypting with the wrong key
	// yields garbage rather than an error.
	dec, err := v2.Decrypt(enc)
	require.NoError(t, err)
	assert.NotEqual(t, "api-key", dec)
}

func TestEmptySecretFallsBack(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)

	enc, err := v.Encrypt("value")
	require.NoError(t, err)
	dec, err := v.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "value", dec)
}
