// Package envelope implements the symmetric envelope shared by the encrypted
// request client and the backend: AES-256-GCM with a fresh 12-byte IV per
// message, additional authenticated data bound to the request metadata, and
// base64(IV || ciphertext || tag) on the wire.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32
	ivSize    = 12
	tagSize   = 16
	minSealed = ivSize + tagSize
)

var (
	ErrInvalidKeyLength   = errors.New("envelope: invalid key length")
	ErrCiphertextTooShort = errors.New("envelope: ciphertext too short")
	ErrDecrypt            = errors.New("envelope: decryption failed")
)

// Key is an AES-256 key.
type Key [KeySize]byte

// NewKey copies raw key material, which must be exactly 32 bytes.
func NewKey(raw []byte) (Key, error) {
	var k Key
	if len(raw) != KeySize {
		return k, fmt.Errorf("%w: %d", ErrInvalidKeyLength, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// ParseKey decodes a base64 encoded 32-byte key.
func ParseKey(b64 string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return Key{}, fmt.Errorf("envelope: decode key: %w", err)
	}
	return NewKey(raw)
}

// RandomKey returns a fresh random key.
func RandomKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, fmt.Errorf("envelope: generate key: %w", err)
	}
	return k, nil
}

func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// DeriveKey derives a key from a pre-shared secret with HKDF-SHA256.
func DeriveKey(secret, salt []byte, info string) (Key, error) {
	var k Key
	if len(secret) == 0 {
		return k, fmt.Errorf("%w: empty secret", ErrInvalidKeyLength)
	}
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return k, fmt.Errorf("envelope: hkdf expand: %w", err)
	}
	return k, nil
}

// NewNonce returns a unique request nonce.
func NewNonce() string {
	return uuid.NewString()
}

// BuildAAD binds a message to its timestamp, nonce, key id and operation.
func BuildAAD(timestamp, nonce, kid, operation string) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s", timestamp, nonce, kid, operation))
}

// BuildResponseAAD is BuildAAD for a reply, additionally bound to the
// idempotency key of the request it answers. A reply captured from one call
// does not open under another.
func BuildResponseAAD(timestamp, nonce, kid, operation, requestKey string) []byte {
	return append(BuildAAD(timestamp, nonce, kid, operation), "|"+requestKey...)
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: aes: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under key with a fresh IV.
func Seal(key Key, plaintext, aad []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize, ivSize+len(plaintext)+tagSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("envelope: generate iv: %w", err)
	}

	// Seal appends ciphertext+tag after the iv
	sealed := gcm.Seal(iv, iv, plaintext, aad)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any tampering with the ciphertext, IV or AAD yields
// ErrDecrypt.
func Open(key Key, sealedB64 string, aad []byte) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(sealedB64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecrypt, err)
	}
	if len(sealed) < minSealed {
		return nil, ErrCiphertextTooShort
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plain, err := gcm.Open(nil, sealed[:ivSize], sealed[ivSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}
