// Package vault provides symmetric encryption of API key material at rest.
//
// Ciphertext format is "<iv-hex>:<cipher-hex>". The scheme is AES-256-CTR
// keyed by scrypt over a process-wide secret. There is no authentication
// tag, so ciphertext integrity is not verified on decrypt; this is a known
// weakness carried for compatibility with previously stored values.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	ivLength = 16
	keySize  = 32

	// DefaultSecret is the insecure fallback used when no secret is
	// configured. It must never be used in production.
	DefaultSecret = "default-insecure-password-change-me"

	// Fixed salt, matching values encrypted by earlier deployments.
	keySalt = "salt"
)

// Vault encrypts and decrypts credential strings.
type Vault struct {
	key []byte
}

// New derives the encryption key from the given secret. An empty secret
// falls back to DefaultSecret.
func New(secret string) (*Vault, error) {
	if secret == "" {
		secret = DefaultSecret
	}
	// scrypt parameters match Node's crypto.scrypt defaults (N=16384, r=8, p=1).
	key, err := scrypt.Key([]byte(secret), []byte(keySalt), 16384, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("vault key derivation failed: %w", err)
	}
	return &Vault{key: key}, nil
}

// Encrypt encrypts plaintext with a fresh random IV per call.
// Empty input is returned unchanged.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, []byte(plaintext))

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Malformed input (missing ":" delimiter) is
// returned unchanged to tolerate legacy plaintext values; callers must
// trim the result before use.
func (v *Vault) Decrypt(text string) (string, error) {
	if text == "" {
		return text, nil
	}

	ivPart, cipherPart, found := strings.Cut(text, ":")
	if !found || ivPart == "" || cipherPart == "" {
		return text, nil
	}

	iv, err := hex.DecodeString(ivPart)
	if err != nil {
		return "", fmt.Errorf("invalid IV encoding: %w", err)
	}
	if len(iv) != ivLength {
		return "", fmt.Errorf("invalid IV length %d", len(iv))
	}
	ciphertext, err := hex.DecodeString(cipherPart)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	return string(plaintext), nil
}
