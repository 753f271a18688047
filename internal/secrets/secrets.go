// Package secrets seals MFA secrets for at-rest storage in the .env file.
// The construction is AES-256-GCM with a key derived from an operator
// passphrase via argon2id; plain values pass through untouched.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	prefix     = "enc:"
	saltLength = 16
	keyLength  = 32 // AES-256
)

// argon2id parameters, RFC 9106 second recommended option
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

var (
	ErrNoPassphrase = errors.New("secret is encrypted but no passphrase is configured")
	ErrMalformed    = errors.New("encrypted secret is malformed")
)

// IsSealed reports whether a stored value carries the encrypted marker.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, prefix)
}

// Seal encrypts a secret under the passphrase.
// Output layout: "enc:" + base64(salt | nonce | ciphertext).
func Seal(secret, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrNoPassphrase
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := append(salt, nonce...)
	blob = gcm.Seal(blob, nonce, []byte(secret), nil)
	return prefix + base64.StdEncoding.EncodeToString(blob), nil
}

// Open decrypts a sealed secret. Plain values are returned as-is so callers
// can treat stored secrets uniformly.
func Open(stored, passphrase string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if passphrase == "" {
		return "", ErrNoPassphrase
	}

	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(blob) < saltLength {
		return "", ErrMalformed
	}

	salt := blob[:saltLength]
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(blob) < saltLength+gcm.NonceSize() {
		return "", ErrMalformed
	}

	nonce := blob[saltLength : saltLength+gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, blob[saltLength+gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLength)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
