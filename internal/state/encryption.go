package state

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

// EncryptionKeyEnvVar names the environment variable holding the state
// encryption passphrase. When it is unset, state is written in the
// clear.
const EncryptionKeyEnvVar = "ACCORD_STATE_ENCRYPTION_KEY"

// encryptedHeader marks a state file as ciphertext and is how
// IsEncrypted tells the two apart.
const encryptedHeader = "# ACCORD_ENCRYPTED_STATE\n"

// Encrypt seals state bytes with AES-256-GCM under the key derived
// from the environment. With no key configured the bytes pass through
// untouched.
func Encrypt(content []byte) ([]byte, error) {
	aead, err := envAEAD()
	if err != nil {
		return nil, err
	}
	if aead == nil {
		return content, nil
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, content, nil)
	return []byte(encryptedHeader + base64.StdEncoding.EncodeToString(sealed) + "\n"), nil
}

// Decrypt opens a sealed state file. Plaintext files are handed back
// unchanged.
func Decrypt(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	aead, err := envAEAD()
	if err != nil {
		return nil, err
	}
	if aead == nil {
		return nil, fmt.Errorf("state file is encrypted but %s is not set", EncryptionKeyEnvVar)
	}

	encoded := strings.TrimSpace(strings.TrimPrefix(string(content), encryptedHeader))
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted state: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("encrypted state is truncated")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong key?): %w", err)
	}
	return plaintext, nil
}

// IsEncrypted reports whether the bytes carry the ciphertext header.
func IsEncrypted(content []byte) bool {
	return strings.HasPrefix(string(content), encryptedHeader)
}

// envAEAD builds the cipher from the configured passphrase, or returns
// nil when encryption is off. The passphrase is hashed down to a fixed
// AES-256 key, so any length works.
func envAEAD() (cipher.AEAD, error) {
	passphrase := os.Getenv(EncryptionKeyEnvVar)
	if passphrase == "" {
		return nil, nil
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
