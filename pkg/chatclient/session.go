package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"e2eechat/pkg/cryptocore"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultHistoryLimit = 50
	decryptWorkers      = 8
)

// Session is one user's client-side messaging context: the local key ring,
// a cache of peer public keys, and the views of opened conversations.
// Independent sessions can coexist in one process.
type Session struct {
	remote Remote
	self   uuid.UUID

	// keysMu is held for writing while an identity is generated and
	// registered. Sends hold it for reading, so they wait for generation
	// instead of racing it.
	keysMu sync.RWMutex
	ring   *KeyRing

	flight   singleflight.Group
	cacheMu  sync.RWMutex
	keyCache map[uuid.UUID]*cryptocore.PublicKey

	viewsMu sync.Mutex
	views   map[uuid.UUID]*View
	convs   map[uuid.UUID]Conversation

	now func() time.Time
}

func NewSession(remote Remote, self uuid.UUID, ring *KeyRing) *Session {
	if ring == nil {
		ring = NewKeyRing()
	}
	return &Session{
		remote:   remote,
		self:     self,
		ring:     ring,
		keyCache: make(map[uuid.UUID]*cryptocore.PublicKey),
		views:    make(map[uuid.UUID]*View),
		convs:    make(map[uuid.UUID]Conversation),
		now:      time.Now,
	}
}

func (s *Session) UserID() uuid.UUID { return s.self }

// Remote exposes the server client for calls that need no local keys.
func (s *Session) Remote() Remote { return s.remote }

// KeyRing returns a copy of the current key ring for persistence.
func (s *Session) KeyRing() *KeyRing {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()
	return s.ring.clone()
}

// EnsureIdentity registers a key pair for this device if the ring has no
// active one yet. It returns the server record of the active key.
func (s *Session) EnsureIdentity(ctx context.Context, deviceLabel string) (KeyRecord, error) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	if _, id, ok := s.ring.Active(); ok {
		return s.register(ctx, id, deviceLabel)
	}
	return s.generate(ctx, deviceLabel)
}

// RotateIdentity replaces the active key pair. The previous one stays in the
// ring so history sealed under it remains readable.
func (s *Session) RotateIdentity(ctx context.Context, deviceLabel string) (KeyRecord, error) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	return s.generate(ctx, deviceLabel)
}

func (s *Session) generate(ctx context.Context, deviceLabel string) (KeyRecord, error) {
	id, err := cryptocore.GenerateIdentity()
	if err != nil {
		return KeyRecord{}, fmt.Errorf("generate identity: %w", err)
	}
	return s.register(ctx, id, deviceLabel)
}

func (s *Session) register(ctx context.Context, id *cryptocore.Identity, deviceLabel string) (KeyRecord, error) {
	exported, err := id.PublicKey().Export()
	if err != nil {
		return KeyRecord{}, err
	}
	rec, err := s.remote.UpsertKey(ctx, exported, id.Fingerprint(), deviceLabel)
	if err != nil {
		return KeyRecord{}, fmt.Errorf("register public key: %w", err)
	}
	s.ring.Add(rec.ID, id)
	s.cacheKey(rec.ID, id.PublicKey())
	return rec, nil
}

// Conversation returns the conversation, refreshing it from the server.
func (s *Session) Conversation(ctx context.Context, id uuid.UUID) (Conversation, error) {
	conv, err := s.remote.Conversation(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	s.viewsMu.Lock()
	s.convs[id] = conv
	s.viewsMu.Unlock()
	return conv, nil
}

func (s *Session) cachedConversation(ctx context.Context, id uuid.UUID) (Conversation, error) {
	s.viewsMu.Lock()
	conv, ok := s.convs[id]
	s.viewsMu.Unlock()
	if ok && !conv.IsGroup {
		return conv, nil
	}
	// Group rosters change, so every send sees the current member list.
	return s.Conversation(ctx, id)
}

// View returns the local view for a conversation, creating an empty one.
func (s *Session) View(conversationID uuid.UUID) *View {
	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()
	v, ok := s.views[conversationID]
	if !ok {
		v = newView(conversationID, s.now)
		s.views[conversationID] = v
	}
	return v
}

// Open fetches the newest messages of a conversation, decrypts them and
// resolves their attachments. A message that cannot be decrypted carries its
// own Err and does not fail the call.
func (s *Session) Open(ctx context.Context, conversationID uuid.UUID, limit int) (*View, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	conv, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.remote.Messages(ctx, conversationID, limit, 0)
	if err != nil {
		return nil, err
	}

	s.keysMu.RLock()
	ring := s.ring.clone()
	s.keysMu.RUnlock()

	entries := make([]Entry, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(decryptWorkers)
	for i := range msgs {
		// Server order is newest first; the view is oldest first.
		slot := len(msgs) - 1 - i
		m := msgs[i]
		g.Go(func() error {
			entries[slot] = s.historyEntry(gctx, conv, m, ring)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.resolveAttachments(ctx, entries); err != nil {
		slog.Warn("attachment lookup failed", "error", err, "conversation_id", conversationID)
	}

	v := s.View(conversationID)
	v.replaceHistory(entries)
	return v, nil
}

func (s *Session) historyEntry(ctx context.Context, conv Conversation, m Message, ring *KeyRing) Entry {
	e := Entry{
		LocalID:   m.ID,
		ID:        m.ID,
		State:     StateConfirmed,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
		Deleted:   m.Deleted,
	}
	if m.Deleted {
		return e
	}
	payload, err := s.decrypt(ctx, conv, m, ring)
	if err != nil {
		e.Err = err
		return e
	}
	e.Content = ParseContent(payload)
	return e
}

func (s *Session) resolveAttachments(ctx context.Context, entries []Entry) error {
	var ids []uuid.UUID
	for _, e := range entries {
		if e.Content != nil {
			ids = append(ids, AttachmentIDs(e.Content)...)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	metas, err := s.remote.Attachments(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]Attachment, len(metas))
	for _, a := range metas {
		byID[a.ID] = a
	}
	for i := range entries {
		if entries[i].Content == nil {
			continue
		}
		for _, id := range AttachmentIDs(entries[i].Content) {
			if a, ok := byID[id]; ok {
				entries[i].Attachments = append(entries[i].Attachments, a)
			}
		}
	}
	return nil
}

type SendOptions struct {
	AttachmentIDs []uuid.UUID
	Refs          []EntityRef
}

// Send shows the message in the local view at once, then encrypts and
// submits it. On success the pending entry becomes the confirmed message in
// the same position; on failure it is removed and the error returned.
func (s *Session) Send(ctx context.Context, conversationID uuid.UUID, text string, opts SendOptions) (Entry, error) {
	content := NewContent(text, opts.AttachmentIDs, opts.Refs)
	v := s.View(conversationID)
	pending := v.insertPending(s.self, content)

	msg, err := s.submit(ctx, conversationID, content, opts.AttachmentIDs)
	if err != nil {
		v.rollback(pending.LocalID)
		return Entry{}, err
	}
	confirmed := Entry{ID: msg.ID, CreatedAt: msg.CreatedAt}
	if len(opts.AttachmentIDs) > 0 {
		if metas, err := s.remote.Attachments(ctx, opts.AttachmentIDs); err == nil {
			confirmed.Attachments = metas
		}
	}
	return v.confirm(pending.LocalID, confirmed), nil
}

func (s *Session) submit(ctx context.Context, conversationID uuid.UUID, content Content, attachmentIDs []uuid.UUID) (Message, error) {
	payload, err := content.encode()
	if err != nil {
		return Message{}, err
	}
	conv, err := s.cachedConversation(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}

	s.keysMu.RLock()
	out, err := s.seal(ctx, conv, payload)
	s.keysMu.RUnlock()
	if err != nil {
		return Message{}, err
	}
	out.AttachmentIDs = attachmentIDs
	return s.remote.SendMessage(ctx, conversationID, out)
}

// Delete tombstones the message locally, asks the server to delete it and
// restores it if the server refuses.
func (s *Session) Delete(ctx context.Context, conversationID, messageID uuid.UUID) error {
	v := s.View(conversationID)
	prev := v.markDeleted(messageID)
	if err := s.remote.DeleteMessage(ctx, messageID); err != nil {
		if prev.LocalID != uuid.Nil {
			v.revertDelete(messageID, prev)
		}
		return err
	}
	return nil
}

func (s *Session) MarkRead(ctx context.Context, conversationID uuid.UUID) error {
	return s.remote.MarkRead(ctx, conversationID)
}

// Upload stores an attachment for later use in Send. The bytes are not
// encrypted by the session.
func (s *Session) Upload(ctx context.Context, conversationID uuid.UUID, fileName, contentType string, body io.Reader) (Attachment, error) {
	name := strings.TrimSpace(fileName)
	if name == "" {
		return Attachment{}, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	return s.remote.UploadAttachment(ctx, conversationID, name, contentType, body)
}

// publicKeyByID resolves an exact, possibly revoked, key. Key records are
// immutable so results are cached for the session lifetime.
func (s *Session) publicKeyByID(ctx context.Context, keyID uuid.UUID) (*cryptocore.PublicKey, error) {
	s.cacheMu.RLock()
	pub, ok := s.keyCache[keyID]
	s.cacheMu.RUnlock()
	if ok {
		return pub, nil
	}
	// The lookup is shared with other callers and must outlive this one's
	// cancellation.
	fctx := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do("id:"+keyID.String(), func() (any, error) {
		rec, err := s.remote.KeyByID(fctx, keyID)
		if err != nil {
			return nil, err
		}
		return s.parseRecord(rec)
	})
	if err != nil {
		return nil, err
	}
	return v.(*cryptocore.PublicKey), nil
}

type activeKey struct {
	id  uuid.UUID
	pub *cryptocore.PublicKey
}

// activeKeyFor fetches the user's current key. It is not cached since the
// user may rotate at any time.
func (s *Session) activeKeyFor(ctx context.Context, userID uuid.UUID) (activeKey, error) {
	fctx := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do("user:"+userID.String(), func() (any, error) {
		rec, err := s.remote.ActiveKey(fctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrRecipientKeyMissing, userID)
			}
			return nil, err
		}
		pub, err := s.parseRecord(rec)
		if err != nil {
			return nil, err
		}
		return activeKey{id: rec.ID, pub: pub}, nil
	})
	if err != nil {
		return activeKey{}, err
	}
	return v.(activeKey), nil
}

func (s *Session) parseRecord(rec KeyRecord) (*cryptocore.PublicKey, error) {
	pub, err := cryptocore.ParsePublicKey(rec.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", rec.ID, err)
	}
	if rec.Fingerprint != "" && !strings.EqualFold(rec.Fingerprint, pub.Fingerprint()) {
		return nil, fmt.Errorf("key %s: fingerprint does not match key material", rec.ID)
	}
	s.cacheKey(rec.ID, pub)
	return pub, nil
}

func (s *Session) cacheKey(id uuid.UUID, pub *cryptocore.PublicKey) {
	s.cacheMu.Lock()
	s.keyCache[id] = pub
	s.cacheMu.Unlock()
}

func (s *Session) Unread(ctx context.Context) (int64, error) {
	return s.remote.Unread(ctx)
}
