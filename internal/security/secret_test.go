package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretCipher_RoundTrip(t *testing.T) {
	c, err := NewSecretCipher("unit-test-seed")
	require.NoError(t, err)
	require.NotNil(t, c)

	enc, err := c.Encrypt("sk-user-123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, encryptedPrefix))
	assert.NotContains(t, enc, "sk-user-123")

	plain, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "sk-user-123", plain)
}

func TestSecretCipher_NilPassesThrough(t *testing.T) {
	c, err := NewSecretCipher("  ")
	require.NoError(t, err)
	assert.Nil(t, c)

	enc, err := c.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", enc)

	plain, err := c.Decrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", plain)

	_, err = c.Decrypt(encryptedPrefix + "AAAA")
	assert.Error(t, err)
}

func TestSecretCipher_EmptyValue(t *testing.T) {
	c, err := NewSecretCipher("seed")
	require.NoError(t, err)

	enc, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", enc)
}
