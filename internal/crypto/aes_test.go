package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys() map[string][]byte {
	k1 := make([]byte, 32)
	k2 := make([]byte, 32)
	k2[0] = 1
	return map[string][]byte{"v1": k1, "v2": k2}
}

func TestEncryptDecrypt(t *testing.T) {
	keys := testKeys()
	plain := []byte("dado sensível")
	ct, nonce, err := Encrypt(plain, "v1", keys)
	require.NoError(t, err)
	require.NotEmpty(t, ct)
	require.NotEmpty(t, nonce)

	dec, err := Decrypt(ct, nonce, "v1", keys)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)

	_, err = Decrypt(ct, nonce, "v2", keys)
	assert.Error(t, err)
	_, _, err = Encrypt(plain, "v9", keys)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFieldCipherRoundTripAndRotation(t *testing.T) {
	keys := testKeys()
	old, err := NewFieldCipher("v1", keys)
	require.NoError(t, err)
	sealed, err := old.Seal("12345678901")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "12345678901")

	again, err := old.Seal("12345678901")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce aleatório")

	rotated, err := NewFieldCipher("v2", keys)
	require.NoError(t, err)
	plain, err := rotated.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "12345678901", plain)
}

func TestFieldCipherPassthrough(t *testing.T) {
	f, err := NewFieldCipher("v1", testKeys())
	require.NoError(t, err)

	empty, err := f.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	plain, err := f.Open("12345678901")
	require.NoError(t, err)
	assert.Equal(t, "12345678901", plain)

	_, err = f.Open("enc:v1:!!!")
	assert.Error(t, err)
	_, err = f.Open("enc:v7:AAAA")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestNewFieldCipherUnknownVersion(t *testing.T) {
	_, err := NewFieldCipher("v3", testKeys())
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestParseKeysEnv(t *testing.T) {
	key := strings.Repeat("A", 43)
	m, err := ParseKeysEnv("v1:" + key)
	require.NoError(t, err)
	assert.Len(t, m["v1"], 32)

	// com padding também funciona
	padded := base64.StdEncoding.EncodeToString(make([]byte, 32))
	m, err = ParseKeysEnv("v1:" + key + ", v2:" + padded)
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.Len(t, m["v2"], 32)

	_, err = ParseKeysEnv("v1:AAAA")
	assert.Error(t, err)

	m, err = ParseKeysEnv("")
	require.NoError(t, err)
	assert.Empty(t, m)
}
