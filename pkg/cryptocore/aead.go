package cryptocore

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// SharedKey is an AES-256-GCM key usable only for Encrypt and Decrypt. The raw
// key bytes are not retained after construction.
type SharedKey struct {
	aead cipher.AEAD
}

// Sealed is one encrypted payload together with the nonce it was sealed under.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
}

func newSharedKey(raw []byte) (*SharedKey, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("cryptocore: key must be %d bytes, got %d", KeySize, len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SharedKey{aead: aead}, nil
}

// NewContentKey draws a random 256-bit key for a single group message. The raw
// bytes are returned so they can be wrapped for each member.
func NewContentKey() (*SharedKey, []byte, error) {
	raw := make([]byte, KeySize)
	if err := readRandom(raw); err != nil {
		return nil, nil, err
	}
	key, err := newSharedKey(raw)
	if err != nil {
		return nil, nil, err
	}
	return key, raw, nil
}

// OpenContentKey rebuilds a content key from unwrapped bytes.
func OpenContentKey(raw []byte) (*SharedKey, error) {
	if len(raw) != KeySize {
		return nil, ErrAuthenticationFailed
	}
	return newSharedKey(raw)
}

// Encrypt seals plaintext under a fresh random 96-bit nonce.
func (k *SharedKey) Encrypt(plaintext []byte) (Sealed, error) {
	if k == nil || k.aead == nil {
		return Sealed{}, fmt.Errorf("cryptocore: nil key")
	}
	nonce := make([]byte, NonceSize)
	if err := readRandom(nonce); err != nil {
		return Sealed{}, fmt.Errorf("cryptocore: nonce: %w", err)
	}
	ct := k.aead.Seal(nil, nonce, plaintext, nil)
	return Sealed{Ciphertext: ct, Nonce: nonce}, nil
}

// Decrypt opens ciphertext sealed with nonce. Any tag mismatch, including a
// wrong key or a nonce of the wrong length, returns ErrAuthenticationFailed.
func (k *SharedKey) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if k == nil || k.aead == nil {
		return nil, fmt.Errorf("cryptocore: nil key")
	}
	if len(nonce) != NonceSize || len(ciphertext) < k.aead.Overhead() {
		return nil, ErrAuthenticationFailed
	}
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Open is Decrypt for a Sealed value.
func (k *SharedKey) Open(s Sealed) ([]byte, error) {
	return k.Decrypt(s.Ciphertext, s.Nonce)
}

// Encode returns the base64 text forms used for storage and transport.
func (s Sealed) Encode() (ciphertext, nonce string) {
	return base64.StdEncoding.EncodeToString(s.Ciphertext), base64.StdEncoding.EncodeToString(s.Nonce)
}

// DecodeSealed parses the base64 forms produced by Encode.
func DecodeSealed(ciphertext, nonce string) (Sealed, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return Sealed{}, fmt.Errorf("cryptocore: decode ciphertext: %w", err)
	}
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return Sealed{}, fmt.Errorf("cryptocore: decode nonce: %w", err)
	}
	return Sealed{Ciphertext: ct, Nonce: n}, nil
}
