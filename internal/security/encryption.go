package security

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
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256
	saltLen      = 16

	// vaultFormat prefixes every sealed blob.
	vaultFormat = "slackmind-vault-v1:"
)

// ErrWrongPassword is returned when a vault cannot be opened with the
// configured master password.
var ErrWrongPassword = errors.New("vault: wrong master password or corrupted data")

// DeriveKey derives an AES-256 key from a password using Argon2id.
func DeriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// GenerateSalt creates a random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// sealer encrypts vault contents with AES-256-GCM. The associated data
// binds a blob to the purpose it was written for, so a secrets vault
// cannot be swapped for another file sealed with the same key.
type sealer struct {
	aead cipher.AEAD
	aad  []byte
}

func newSealer(key []byte, purpose string) (*sealer, error) {
	if len(key) != argonKeyLen {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", argonKeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &sealer{aead: gcm, aad: []byte(purpose)}, nil
}

// Seal returns the versioned, base64-encoded ciphertext (nonce prepended).
func (s *sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, plaintext, s.aad)
	return vaultFormat + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal.
func (s *sealer) Open(encoded string) ([]byte, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(encoded), vaultFormat)
	if !ok {
		return nil, fmt.Errorf("vault: unknown format")
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("vault: ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, s.aad)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}
