package cipher

import (
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecryptionFailed is returned when a sealed blob cannot be opened. A
// failed open reliably signals either a wrong tenant key or corrupted data,
// so callers must surface it instead of substituting a default value.
var ErrDecryptionFailed = errors.New("decryption failed")

// argon2id parameters for deriving the storage key from the wallet passphrase.
const (
	keyTime    = 1
	keyMemory  = 64 * 1024
	keyThreads = 4
)

// saltPrefix namespaces the key derivation so the same passphrase yields
// different keys for different tenants.
const saltPrefix = "kasiad/storage/"

// Box seals and opens the sensitive bags of repository entities with
// XChaCha20-Poly1305. One Box is created per unlocked wallet and keyed by
// that wallet's passphrase.
type Box struct {
	aead stdcipher.AEAD
}

// NewBox derives the tenant storage key from the passphrase and tenant id
// and returns a Box ready for use.
func NewBox(passphrase, tenantID string) (*Box, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is empty")
	}

	salt := []byte(saltPrefix + tenantID)
	key := argon2.IDKey([]byte(passphrase), salt, keyTime, keyMemory, keyThreads, chacha20poly1305.KeySize)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build AEAD: %w", err)
	}

	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext and returns a base64 blob. A random nonce is
// generated per call and stored in the first 24 bytes of the blob.
func (b *Box) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := b.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal. Any authentication or format
// failure is reported as ErrDecryptionFailed.
func (b *Box) Open(blob string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: blob is not valid base64", ErrDecryptionFailed)
	}

	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: blob shorter than nonce", ErrDecryptionFailed)
	}

	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
