package chatclient

import (
	"context"
	"fmt"

	"e2eechat/pkg/cryptocore"

	"github.com/google/uuid"
)

// seal encrypts payload for conv. The caller holds keysMu for reading.
func (s *Session) seal(ctx context.Context, conv Conversation, payload []byte) (OutgoingMessage, error) {
	ownKeyID, own, ok := s.ring.Active()
	if !ok {
		return OutgoingMessage{}, ErrNoIdentity
	}
	if conv.IsGroup {
		return s.sealGroup(ctx, conv, ownKeyID, own, payload)
	}

	peer, ok := conv.Counterpart(s.self)
	if !ok {
		return OutgoingMessage{}, fmt.Errorf("%w: conversation has no counterpart", ErrInvalidInput)
	}
	peerKey, err := s.activeKeyFor(ctx, peer)
	if err != nil {
		return OutgoingMessage{}, err
	}
	key, err := cryptocore.DeriveSharedKey(own, peerKey.pub)
	if err != nil {
		return OutgoingMessage{}, err
	}
	sealed, err := key.Encrypt(payload)
	if err != nil {
		return OutgoingMessage{}, err
	}
	ct, nonce := sealed.Encode()
	return OutgoingMessage{
		Ciphertext:     ct,
		Nonce:          nonce,
		SenderKeyID:    &ownKeyID,
		RecipientKeyID: &peerKey.id,
	}, nil
}

// sealGroup encrypts payload under a one-off content key and wraps that key
// for every active member, the sender included.
func (s *Session) sealGroup(ctx context.Context, conv Conversation, ownKeyID uuid.UUID, own *cryptocore.Identity, payload []byte) (OutgoingMessage, error) {
	content, raw, err := cryptocore.NewContentKey()
	if err != nil {
		return OutgoingMessage{}, err
	}
	sealed, err := content.Encrypt(payload)
	if err != nil {
		return OutgoingMessage{}, err
	}

	wraps := make([]KeyWrap, 0, len(conv.Members))
	for _, m := range conv.Members {
		recipient := activeKey{id: ownKeyID, pub: own.PublicKey()}
		if m.UserID != s.self {
			if recipient, err = s.activeKeyFor(ctx, m.UserID); err != nil {
				return OutgoingMessage{}, err
			}
		}
		pairwise, err := cryptocore.DeriveSharedKey(own, recipient.pub)
		if err != nil {
			return OutgoingMessage{}, err
		}
		w, err := pairwise.Encrypt(raw)
		if err != nil {
			return OutgoingMessage{}, err
		}
		wrapped, nonce := w.Encode()
		wraps = append(wraps, KeyWrap{UserID: m.UserID, KeyID: recipient.id, WrappedKey: wrapped, Nonce: nonce})
	}

	ct, nonce := sealed.Encode()
	return OutgoingMessage{
		Ciphertext:  ct,
		Nonce:       nonce,
		SenderKeyID: &ownKeyID,
		KeyWraps:    wraps,
	}, nil
}

func (s *Session) decrypt(ctx context.Context, conv Conversation, m Message, ring *KeyRing) ([]byte, error) {
	sealed, err := cryptocore.DecodeSealed(m.Ciphertext, m.Nonce)
	if err != nil {
		return nil, err
	}
	key, err := s.messageKey(ctx, conv, m, ring)
	if err != nil {
		return nil, err
	}
	return key.Open(sealed)
}

func (s *Session) messageKey(ctx context.Context, conv Conversation, m Message, ring *KeyRing) (*cryptocore.SharedKey, error) {
	if conv.IsGroup || len(m.KeyWraps) > 0 {
		return s.unwrapGroupKey(ctx, m, ring)
	}

	// For our own messages the local half is the sender key, otherwise the
	// recipient key.
	localKeyID, peerKeyID := m.RecipientKeyID, m.SenderKeyID
	peerUser := m.SenderID
	if m.SenderID == s.self {
		localKeyID, peerKeyID = m.SenderKeyID, m.RecipientKeyID
		peerUser, _ = conv.Counterpart(s.self)
	}

	own, err := localIdentity(ring, localKeyID)
	if err != nil {
		return nil, err
	}
	var peer *cryptocore.PublicKey
	if peerKeyID != nil {
		peer, err = s.publicKeyByID(ctx, *peerKeyID)
	} else {
		var k activeKey
		k, err = s.activeKeyFor(ctx, peerUser)
		peer = k.pub
	}
	if err != nil {
		return nil, err
	}
	return cryptocore.DeriveSharedKey(own, peer)
}

func (s *Session) unwrapGroupKey(ctx context.Context, m Message, ring *KeyRing) (*cryptocore.SharedKey, error) {
	var wrap *KeyWrap
	for i := range m.KeyWraps {
		if m.KeyWraps[i].UserID == s.self {
			wrap = &m.KeyWraps[i]
			break
		}
	}
	if wrap == nil {
		return nil, fmt.Errorf("%w: no key wrap for this user", ErrKeyUnavailable)
	}
	own, ok := ring.Get(wrap.KeyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyUnavailable, wrap.KeyID)
	}
	if m.SenderKeyID == nil {
		return nil, fmt.Errorf("%w: group message without sender key", ErrKeyUnavailable)
	}
	senderPub, err := s.publicKeyByID(ctx, *m.SenderKeyID)
	if err != nil {
		return nil, err
	}
	pairwise, err := cryptocore.DeriveSharedKey(own, senderPub)
	if err != nil {
		return nil, err
	}
	wrapped, err := cryptocore.DecodeSealed(wrap.WrappedKey, wrap.Nonce)
	if err != nil {
		return nil, err
	}
	raw, err := pairwise.Open(wrapped)
	if err != nil {
		return nil, err
	}
	return cryptocore.OpenContentKey(raw)
}

func localIdentity(ring *KeyRing, keyID *uuid.UUID) (*cryptocore.Identity, error) {
	if keyID == nil {
		_, id, ok := ring.Active()
		if !ok {
			return nil, ErrNoIdentity
		}
		return id, nil
	}
	id, ok := ring.Get(*keyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyUnavailable, *keyID)
	}
	return id, nil
}
