package chatclient

import (
	"e2eechat/pkg/cryptocore"

	"github.com/google/uuid"
)

// KeyRing holds every identity this device has registered, by server key id.
// Older identities are kept so messages sealed under them stay readable.
// A KeyRing is not safe for concurrent use; Session guards its own.
type KeyRing struct {
	active uuid.UUID
	keys   map[uuid.UUID]*cryptocore.Identity
}

func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[uuid.UUID]*cryptocore.Identity)}
}

// Add stores id under keyID and makes it the active identity.
func (k *KeyRing) Add(keyID uuid.UUID, id *cryptocore.Identity) {
	k.keys[keyID] = id
	k.active = keyID
}

func (k *KeyRing) Active() (uuid.UUID, *cryptocore.Identity, bool) {
	id, ok := k.keys[k.active]
	if !ok {
		return uuid.Nil, nil, false
	}
	return k.active, id, true
}

func (k *KeyRing) Get(keyID uuid.UUID) (*cryptocore.Identity, bool) {
	id, ok := k.keys[keyID]
	return id, ok
}

func (k *KeyRing) Len() int { return len(k.keys) }

func (k *KeyRing) clone() *KeyRing {
	out := NewKeyRing()
	for id, ident := range k.keys {
		out.keys[id] = ident
	}
	out.active = k.active
	return out
}
