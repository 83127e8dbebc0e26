package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM    CipherType = "aes-gcm"
	CipherXChaCha20 CipherType = "xchacha20-poly1305"
)

// KeySize is the key length accepted by every cipher type.
const KeySize = 32

// MinSecretLength is the minimum length of a secret passed to DeriveKey.
const MinSecretLength = 16

var (
	ErrKeySize              = errors.New("adaptive: key must be 32 bytes")
	ErrSecretTooShort       = errors.New("adaptive: secret too short (minimum 16 bytes)")
	ErrCiphertextShort      = errors.New("adaptive: ciphertext too short")
	ErrUnknownCipher        = errors.New("adaptive: unknown cipher type")
	ErrAuthenticationFailed = errors.New("adaptive: authentication failed")
)

// Cipher provides authenticated encryption of independent messages.
type Cipher interface {
	// Type returns the cipher type.
	Type() CipherType

	// Seal encrypts plaintext and returns nonce||ciphertext||tag.
	Seal(plaintext, additionalData []byte) ([]byte, error)

	// Open reverses Seal.
	Open(sealed, additionalData []byte) ([]byte, error)

	// Overhead returns how many bytes Seal adds to a plaintext.
	Overhead() int
}

// New creates a cipher for key, choosing the algorithm from the hardware.
func New(key []byte) (Cipher, error) {
	if hasAESAcceleration() {
		return NewWithType(key, CipherAESGCM)
	}
	return NewWithType(key, CipherXChaCha20)
}

// NewWithType creates a cipher of the specified type.
func NewWithType(key []byte, cipherType CipherType) (Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch cipherType {
	case CipherAESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case CipherXChaCha20:
		aead, err = chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCipher, cipherType)
	}
	if err != nil {
		return nil, err
	}
	return &aeadCipher{typ: cipherType, aead: aead}, nil
}

// ParseCipherType parses a cipher name. An empty name selects by hardware.
func ParseCipherType(name string) (CipherType, error) {
	switch CipherType(name) {
	case "":
		if hasAESAcceleration() {
			return CipherAESGCM, nil
		}
		return CipherXChaCha20, nil
	case CipherAESGCM, CipherXChaCha20:
		return CipherType(name), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCipher, name)
	}
}

// DeriveKey derives a KeySize key from secret with HKDF-SHA256.
func DeriveKey(secret, salt []byte, info string) ([]byte, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("adaptive: derive key: %w", err)
	}
	return key, nil
}

// Go's crypto/aes uses AES-NI on amd64 and the ARMv8 crypto extensions on arm64.
func hasAESAcceleration() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return true
	default:
		return false
	}
}

type aeadCipher struct {
	typ  CipherType
	aead cipher.AEAD
}

func (c *aeadCipher) Type() CipherType { return c.typ }

func (c *aeadCipher) Overhead() int {
	return c.aead.NonceSize() + c.aead.Overhead()
}

func (c *aeadCipher) Seal(plaintext, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	out := make([]byte, ns, ns+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, err
	}
	return c.aead.Seal(out, out[:ns], plaintext, additionalData), nil
}

func (c *aeadCipher) Open(sealed, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, ErrCiphertextShort
	}
	plain, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], additionalData)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plain, nil
}
