package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestRoundTrip(t *testing.T) {
	c, err := NewAEADCipher(testKey)
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("smpp-password"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "smpp-password")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "smpp-password", string(plain))
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c, err := NewAEADCipher(testKey)
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = c.Decrypt(sealed)
	assert.Error(t, err)
}

func TestNewAEADCipherKeyValidation(t *testing.T) {
	_, err := NewAEADCipher("not-hex")
	assert.Error(t, err)

	_, err = NewAEADCipher(strings.Repeat("ab", 16))
	assert.Error(t, err, "16-byte key rejected")
}
