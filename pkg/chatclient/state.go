package chatclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"e2eechat/pkg/cryptocore"

	"github.com/google/uuid"
)

// State is the CLI's on-disk session: server location, credentials and the
// private key ring. It is written with mode 0600.
type State struct {
	UserID      uuid.UUID   `json:"user_id"`
	BaseURL     string      `json:"base_url"`
	Token       string      `json:"token,omitempty"`
	DeviceLabel string      `json:"device_label,omitempty"`
	ActiveKeyID *uuid.UUID  `json:"active_key_id,omitempty"`
	Keys        []StoredKey `json:"keys,omitempty"`

	path string
}

type StoredKey struct {
	KeyID    uuid.UUID                 `json:"key_id"`
	Identity *cryptocore.IdentityState `json:"identity"`
}

func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	st.BaseURL = normalizeBaseURL(st.BaseURL)
	st.path = path
	return &st, nil
}

func (s *State) SetPath(path string) { s.path = path }

func (s *State) Path() string { return s.path }

// Save writes the state atomically through a temporary file.
func (s *State) Save() error {
	if s.path == "" {
		return errors.New("state path not set")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// KeyRing rebuilds the identities stored in the state.
func (s *State) KeyRing() (*KeyRing, error) {
	ring := NewKeyRing()
	for _, k := range s.Keys {
		id, err := cryptocore.ImportIdentity(k.Identity)
		if err != nil {
			return nil, fmt.Errorf("import key %s: %w", k.KeyID, err)
		}
		ring.keys[k.KeyID] = id
	}
	if s.ActiveKeyID != nil {
		if _, ok := ring.keys[*s.ActiveKeyID]; !ok {
			return nil, fmt.Errorf("active key %s missing from state", *s.ActiveKeyID)
		}
		ring.active = *s.ActiveKeyID
	}
	return ring, nil
}

// StoreKeyRing replaces the stored identities with ring's.
func (s *State) StoreKeyRing(ring *KeyRing) error {
	keys := make([]StoredKey, 0, len(ring.keys))
	for keyID, id := range ring.keys {
		exported, err := id.Export()
		if err != nil {
			return err
		}
		keys = append(keys, StoredKey{KeyID: keyID, Identity: exported})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].KeyID.String() < keys[j].KeyID.String() })
	s.Keys = keys
	s.ActiveKeyID = nil
	if activeID, _, ok := ring.Active(); ok {
		s.ActiveKeyID = &activeID
	}
	return nil
}
