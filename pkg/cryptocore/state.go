package cryptocore

import (
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
)

// IdentityState is the persisted form of an Identity. It contains the private
// scalar and must only be written to storage readable by the owning user.
type IdentityState struct {
	PrivateKey  string `json:"privateKey"`
	PublicKey   string `json:"publicKey"`
	Fingerprint string `json:"fingerprint"`
}

// Export serializes the identity for local storage.
func (id *Identity) Export() (*IdentityState, error) {
	if id == nil || id.private == nil {
		return nil, errors.New("cryptocore: nil identity")
	}
	pub, err := id.public.Export()
	if err != nil {
		return nil, err
	}
	return &IdentityState{
		PrivateKey:  base64.StdEncoding.EncodeToString(id.private.Bytes()),
		PublicKey:   pub,
		Fingerprint: id.Fingerprint(),
	}, nil
}

// ImportIdentity restores an identity and checks the stored public half and
// fingerprint still match the private scalar.
func ImportIdentity(state *IdentityState) (*Identity, error) {
	if state == nil {
		return nil, errors.New("cryptocore: nil identity state")
	}
	raw, err := base64.StdEncoding.DecodeString(state.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("cryptocore: decode private key: %w", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	id := identityFromPrivate(priv)
	if state.PublicKey != "" {
		stored, err := ParsePublicKey(state.PublicKey)
		if err != nil || !stored.Equal(id.public) {
			return nil, fmt.Errorf("%w: public key mismatch", ErrInvalidIdentity)
		}
	}
	if state.Fingerprint != "" && state.Fingerprint != id.Fingerprint() {
		return nil, fmt.Errorf("%w: fingerprint mismatch", ErrInvalidIdentity)
	}
	return id, nil
}
