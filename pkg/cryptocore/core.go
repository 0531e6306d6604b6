package cryptocore

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	// hkdfSalt and hkdfInfo are fixed for every deployment. Changing either one
	// makes every previously stored message undecryptable.
	hkdfSalt = "e2eechat/v1/pairwise-salt"
	hkdfInfo = "e2eechat/v1/aes-256-gcm message key"

	// KeySize is the symmetric key length in bytes (AES-256).
	KeySize = 32
	// NonceSize is the AES-GCM nonce length in bytes (96 bits).
	NonceSize = 12
)

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = randReader{}
)

// randReader wraps crypto/rand.Reader but keeps the type unexported so tests can
// substitute other sources.
type randReader struct{}

func (randReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// UseRandom swaps the randomness source used for nonces, content keys and key
// generation, and returns a restore function that must be called when the test
// completes.
func UseRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

func currentRandom() io.Reader {
	randMu.RLock()
	defer randMu.RUnlock()
	return randomnessSrc
}

func readRandom(b []byte) error {
	_, err := io.ReadFull(currentRandom(), b)
	return err
}

// Identity is one device's key-agreement key pair on P-256. The private half
// never leaves the process except through Export for local storage.
type Identity struct {
	private *ecdh.PrivateKey
	public  *PublicKey
}

// GenerateIdentity creates a fresh P-256 key pair. It fails only when the
// platform random source is unavailable.
func GenerateIdentity() (*Identity, error) {
	priv, err := ecdh.P256().GenerateKey(currentRandom())
	if err != nil {
		return nil, err
	}
	return identityFromPrivate(priv), nil
}

func identityFromPrivate(priv *ecdh.PrivateKey) *Identity {
	return &Identity{
		private: priv,
		public:  &PublicKey{key: priv.PublicKey()},
	}
}

// PublicKey returns the exportable half of the identity.
func (id *Identity) PublicKey() *PublicKey {
	if id == nil {
		return nil
	}
	return id.public
}

// Fingerprint is shorthand for id.PublicKey().Fingerprint().
func (id *Identity) Fingerprint() string {
	if id == nil {
		return ""
	}
	return id.public.Fingerprint()
}

// Fingerprint returns the lowercase hex SHA-256 of raw public key bytes. It is
// for display and audit only and is never used as key material.
func Fingerprint(rawPublicKey []byte) string {
	sum := sha256.Sum256(rawPublicKey)
	return hex.EncodeToString(sum[:])
}

// DeriveSharedKey runs ECDH between own and peer and expands the shared bits
// with HKDF-SHA256 into an AES-256-GCM key. Deriving from (A private, B public)
// and (B private, A public) yields the same key.
func DeriveSharedKey(own *Identity, peer *PublicKey) (*SharedKey, error) {
	if own == nil || own.private == nil {
		return nil, errors.New("cryptocore: nil identity")
	}
	if peer == nil || peer.key == nil {
		return nil, ErrInvalidPublicKey
	}
	raw, err := deriveKeyBytes(own.private, peer.key)
	if err != nil {
		return nil, err
	}
	return newSharedKey(raw)
}

func deriveKeyBytes(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	kdf := hkdf.New(sha256.New, secret, []byte(hkdfSalt), []byte(hkdfInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}
