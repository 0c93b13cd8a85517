package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, pin string) *SecretStore {
	t.Helper()
	salt, err := GenerateSalt()
	require.NoError(t, err)
	return NewSecretStore(pin, salt)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store := newTestStore(t, "1234")

	ciphertext, err := store.Encrypt("refresh-token-value")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ciphertext, EncryptedPrefix))
	assert.NotContains(t, ciphertext, "refresh-token-value")

	plaintext, err := store.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-value", plaintext)
}

func TestEncryptEmptyValue(t *testing.T) {
	store := newTestStore(t, "1234")

	ciphertext, err := store.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, ciphertext)
}

func TestDecryptPassthroughForPlaintext(t *testing.T) {
	store := newTestStore(t, "1234")

	// Legacy settings written before encryption existed come back as-is.
	value, err := store.Decrypt("plain-legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "plain-legacy-token", value)
}

func TestDecryptWrongPIN(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	ciphertext, err := NewSecretStore("1234", salt).Encrypt("secret")
	require.NoError(t, err)

	_, err = NewSecretStore("9999", salt).Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptInvalidCiphertext(t *testing.T) {
	store := newTestStore(t, "1234")

	_, err := store.Decrypt(EncryptedPrefix + "not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = store.Decrypt(EncryptedPrefix + "YWJj")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestGenerateSaltUnique(t *testing.T) {
	a, err := GenerateSalt()
	require.NoError(t, err)
	b, err := GenerateSalt()
	require.NoError(t, err)

	assert.Len(t, a, saltLength)
	assert.NotEqual(t, a, b)
}

func TestIsEncrypted(t *testing.T) {
	assert.True(t, IsEncrypted(EncryptedPrefix+"abc"))
	assert.False(t, IsEncrypted("abc"))
	assert.False(t, IsEncrypted(""))
}
