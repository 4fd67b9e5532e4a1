package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncrypt_NoKeyPassesThrough(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")

	content := []byte(`{"version":1}`)
	out, err := Encrypt(content)
	require.NoError(t, err)
	assert.Equal(t, content, out)
	assert.False(t, IsEncrypted(out))
}

func TestEncrypt_RoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "test-key")

	content := []byte(`{"version":1,"serial":3}`)
	encrypted, err := Encrypt(content)
	require.NoError(t, err)

	assert.True(t, IsEncrypted(encrypted))
	assert.NotContains(t, string(encrypted), "serial")

	decrypted, err := Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestDecrypt_PlaintextPassesThrough(t *testing.T) {
	content := []byte(`{"version":1}`)
	out, err := Decrypt(content)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestDecrypt_MissingKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "test-key")
	encrypted, err := Encrypt([]byte(`{"version":1}`))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "")
	_, err = Decrypt(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EncryptionKeyEnvVar)
}

func TestDecrypt_WrongKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "first-key")
	encrypted, err := Encrypt([]byte(`{"version":1}`))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "second-key")
	_, err = Decrypt(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong key")
}

func TestFileStore_EncryptedRoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "store-key")

	path := filepath.Join(t.TempDir(), "state.json")
	store, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, store.Write("test:Thing.one", record("test:Thing", "one", "id-1")))

	// Bytes on disk carry the encryption header, not the record.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "id-1")

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	rs, ok := reopened.Read("test:Thing.one")
	require.True(t, ok)
	assert.Equal(t, "id-1", rs.ID)
}

func TestFileStore_EncryptedFileWithoutKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "store-key")

	path := filepath.Join(t.TempDir(), "state.json")
	store, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, store.Write("test:Thing.one", record("test:Thing", "one", "id-1")))

	t.Setenv(EncryptionKeyEnvVar, "")
	_, err = OpenFile(path)

	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
}
