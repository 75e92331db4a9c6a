// Package crypto provides AES-256-GCM encryption for stored credentials with
// support for key rotation. A cipher is constructed with one active key and any
// number of previous keys; everything is encrypted under the active key, while
// decryption falls back through the previous keys in order so that blobs written
// before a rotation stay readable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"connector-hub/internal/common/errors"
)

const (
	// keyBytes is the raw AES-256 key length
	keyBytes = 32
	// nonceBytes is the GCM nonce length used on the wire format
	nonceBytes = 16
)

// TokenCipher encrypts and decrypts credential blobs. It is safe for
// concurrent use by multiple goroutines.
type TokenCipher struct {
	active   []byte
	previous [][]byte
}

// NewTokenCipher creates a cipher from hex-encoded 32-byte keys. The active key
// encrypts all new blobs; previousKeys are decryption fallbacks for blobs written
// before a key rotation, tried in the order given.
func NewTokenCipher(activeKeyHex string, previousKeysHex ...string) (*TokenCipher, error) {
	active, err := decodeKey(activeKeyHex)
	if err != nil {
		return nil, err
	}

	previous := make([][]byte, 0, len(previousKeysHex))
	for _, keyHex := range previousKeysHex {
		key, err := decodeKey(keyHex)
		if err != nil {
			return nil, err
		}
		previous = append(previous, key)
	}

	return &TokenCipher{active: active, previous: previous}, nil
}

// decodeKey validates and decodes a single hex key
func decodeKey(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, errors.ValidationError("encryption key must be hex-encoded")
	}
	if len(key) != keyBytes {
		return nil, errors.ValidationError("encryption key must be 32 bytes (64 hex characters)")
	}
	return key, nil
}

// Encrypt encrypts plaintext under the active key with a fresh random nonce,
// producing the opaque "iv:authTag:ciphertext" hex triplet.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	gcm, err := newGCM(c.active)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceBytes)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	// Seal appends the auth tag to the ciphertext; the wire format keeps them apart
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt decrypts a blob produced by Encrypt, trying the active key first and
// then each previous key in declaration order. All failure modes collapse into a
// single decryption error that does not reveal which keys were attempted.
func (c *TokenCipher) Decrypt(blob string) (string, error) {
	nonce, tag, ciphertext, err := parseBlob(blob)
	if err != nil {
		return "", errors.DecryptionError()
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)

	candidates := make([][]byte, 0, 1+len(c.previous))
	candidates = append(candidates, c.active)
	candidates = append(candidates, c.previous...)

	for _, key := range candidates {
		gcm, err := newGCM(key)
		if err != nil {
			continue
		}
		plaintext, err := gcm.Open(nil, nonce, sealed, nil)
		if err == nil {
			return string(plaintext), nil
		}
	}

	return "", errors.DecryptionError()
}

// parseBlob splits and decodes the iv:authTag:ciphertext triplet
func parseBlob(blob string) (nonce, tag, ciphertext []byte, err error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return nil, nil, nil, errors.ValidationError("malformed encrypted blob")
	}

	if nonce, err = hex.DecodeString(parts[0]); err != nil {
		return nil, nil, nil, err
	}
	if len(nonce) != nonceBytes {
		return nil, nil, nil, errors.ValidationError("malformed encrypted blob")
	}
	if tag, err = hex.DecodeString(parts[1]); err != nil {
		return nil, nil, nil, err
	}
	if ciphertext, err = hex.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, err
	}
	return nonce, tag, ciphertext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceBytes)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}
	return gcm, nil
}

// DeriveKey derives a valid hex-encoded cipher key from a passphrase using
// PBKDF2, for deployments that configure a passphrase instead of raw key bytes.
func DeriveKey(passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.ValidationError("passphrase cannot be empty")
	}

	// Static salt keeps derivation deterministic across restarts
	salt := []byte("connector-hub-token-key")
	derived := pbkdf2.Key([]byte(passphrase), salt, 10000, keyBytes, sha256.New)
	return hex.EncodeToString(derived), nil
}
