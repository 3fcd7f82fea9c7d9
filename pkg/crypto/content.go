// Package crypto provides the two cryptographic primitives of the sealing
// protocol: symmetric authenticated encryption of canonical capsule bytes
// (AES-256-GCM) and asymmetric wrapping of content keys for one recipient
// (X25519 + XSalsa20-Poly1305 box sealing).
//
// Content keys are strictly single-use: one key seals exactly one capsule,
// so a (key, nonce) pair can never repeat.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

const (
	// KeySize is the content key length (AES-256).
	KeySize = 32
	// NonceSize is the GCM nonce length prepended to sealed content.
	NonceSize = 12
	// TagSize is the GCM authentication tag length appended to sealed content.
	TagSize = 16
	// minSealedSize is an empty plaintext sealed: nonce plus tag.
	minSealedSize = NonceSize + TagSize
)

var (
	// ErrInvalidKeyLength reports a content key that is not exactly 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: content key must be 32 bytes")

	// ErrTooShort reports sealed input shorter than nonce plus tag.
	ErrTooShort = errors.New("crypto: sealed content too short")

	// ErrAuthenticationFailed reports a GCM tag failure: wrong key, corrupted
	// ciphertext, or tampering.
	ErrAuthenticationFailed = errors.New("crypto: authentication failed")
)

// GenerateContentKey returns a fresh random 32-byte content key.
func GenerateContentKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptContent seals plaintext under key with AES-256-GCM. The output
// layout is fixed: nonce(12) ‖ ciphertext ‖ tag(16). A fresh random nonce is
// drawn per call.
func EncryptContent(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptContent opens sealed bytes produced by EncryptContent. Failure modes
// are distinct and diagnosable: ErrInvalidKeyLength, ErrTooShort, and
// ErrAuthenticationFailed for any tag failure.
func DecryptContent(sealed, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	if len(sealed) < minSealedSize {
		return nil, ErrTooShort
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce, ct := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
