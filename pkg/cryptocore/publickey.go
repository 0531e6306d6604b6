package cryptocore

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
)

// PublicKey is a peer's P-256 key-agreement public key.
type PublicKey struct {
	key *ecdh.PublicKey
}

// Raw returns the uncompressed point encoding (65 bytes).
func (p *PublicKey) Raw() []byte {
	if p == nil || p.key == nil {
		return nil
	}
	return p.key.Bytes()
}

// Fingerprint hashes the raw point encoding.
func (p *PublicKey) Fingerprint() string {
	return Fingerprint(p.Raw())
}

// Export encodes the key as base64 SubjectPublicKeyInfo DER, the same form
// WebCrypto produces for exportKey("spki", ...).
func (p *PublicKey) Export() (string, error) {
	if p == nil || p.key == nil {
		return "", ErrInvalidPublicKey
	}
	der, err := x509.MarshalPKIXPublicKey(p.key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Equal reports whether both keys hold the same point.
func (p *PublicKey) Equal(other *PublicKey) bool {
	if p == nil || other == nil || p.key == nil || other.key == nil {
		return false
	}
	return p.key.Equal(other.key)
}

// ParsePublicKey accepts the Export form and, for interoperability, a base64
// raw uncompressed point.
func ParsePublicKey(exported string) (*PublicKey, error) {
	data, err := base64.StdEncoding.DecodeString(exported)
	if err != nil || len(data) == 0 {
		return nil, ErrInvalidPublicKey
	}
	if len(data) == 65 && data[0] == 0x04 {
		key, err := ecdh.P256().NewPublicKey(data)
		if err != nil {
			return nil, ErrInvalidPublicKey
		}
		return &PublicKey{key: key}, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(data)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	var key *ecdh.PublicKey
	switch k := parsed.(type) {
	case *ecdsa.PublicKey:
		key, err = k.ECDH()
		if err != nil {
			return nil, ErrInvalidPublicKey
		}
	case *ecdh.PublicKey:
		key = k
	default:
		return nil, ErrInvalidPublicKey
	}
	if key.Curve() != ecdh.P256() {
		return nil, ErrInvalidPublicKey
	}
	return &PublicKey{key: key}, nil
}
