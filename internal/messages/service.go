package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"e2eechat/internal/conversations"
	"e2eechat/internal/domain"
	"e2eechat/internal/notify"
	"e2eechat/internal/observability/metrics"
	"e2eechat/internal/store"
	"e2eechat/pkg/cryptocore"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type SendInput struct {
	ConversationID uuid.UUID
	Ciphertext     []byte
	Nonce          []byte
	SenderKeyID    *uuid.UUID
	RecipientKeyID *uuid.UUID
	KeyWraps       []domain.KeyWrap
	AttachmentIDs  []uuid.UUID
}

type Service struct {
	store     *store.Store
	publisher notify.Publisher
	now       func() time.Time
}

func New(st *store.Store, publisher notify.Publisher) *Service {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Service{store: st, publisher: publisher, now: time.Now}
}

// List returns a page of the conversation newest first. Deleted messages
// keep their place with content withheld. Messages from before the caller
// last cleared the conversation are not returned.
func (s *Service) List(ctx context.Context, caller domain.Caller, conversationID uuid.UUID, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidInput)
	}
	_, member, err := s.membership(ctx, s.store, caller, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages().Page(ctx, conversationID, member.ClearedAt, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i] = conversations.Redact(msgs[i])
	}
	return msgs, nil
}

// Send stores one ciphertext envelope, links the listed attachments to it,
// moves the conversation's last-message pointer and bumps every other
// member's unread counter, all in one transaction.
func (s *Service) Send(ctx context.Context, caller domain.Caller, in SendInput) (domain.Message, error) {
	if len(in.Ciphertext) == 0 {
		return domain.Message{}, fmt.Errorf("%w: ciphertext is required", domain.ErrInvalidInput)
	}
	if len(in.Nonce) != cryptocore.NonceSize {
		return domain.Message{}, fmt.Errorf("%w: nonce must be %d bytes", domain.ErrInvalidInput, cryptocore.NonceSize)
	}
	attachmentIDs := distinct(in.AttachmentIDs)

	var (
		msg        domain.Message
		recipients []uuid.UUID
		isGroup    bool
	)
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		conv, _, err := s.membership(ctx, tx, caller, in.ConversationID)
		if err != nil {
			return err
		}
		isGroup = conv.IsGroup
		if in.SenderKeyID != nil {
			owned, err := tx.Keys().OwnedBy(ctx, *in.SenderKeyID, caller.UserID)
			if err != nil {
				return err
			}
			if !owned {
				return fmt.Errorf("%w: senderKeyId does not belong to sender", domain.ErrInvalidInput)
			}
		}
		wraps, err := encodeWraps(in.KeyWraps)
		if err != nil {
			return err
		}

		msg = domain.Message{
			ConversationID: in.ConversationID,
			SenderID:       caller.UserID,
			Ciphertext:     in.Ciphertext,
			Nonce:          in.Nonce,
			SenderKeyID:    in.SenderKeyID,
			RecipientKeyID: in.RecipientKeyID,
			KeyWraps:       wraps,
			CreatedAt:      s.now().UTC(),
		}
		if err := tx.Messages().Create(ctx, &msg); err != nil {
			return err
		}
		linked, err := tx.Attachments().Link(ctx, in.ConversationID, msg.ID, attachmentIDs)
		if err != nil {
			return err
		}
		if linked != int64(len(attachmentIDs)) {
			return fmt.Errorf("%w: attachments must belong to this conversation and not be sent yet", domain.ErrInvalidAttachment)
		}
		if err := tx.Conversations().RecordMessage(ctx, in.ConversationID, msg.ID, msg.CreatedAt); err != nil {
			return err
		}
		if err := tx.Members().BumpUnread(ctx, in.ConversationID, caller.UserID); err != nil {
			return err
		}
		roster, err := tx.Members().Active(ctx, in.ConversationID)
		if err != nil {
			return err
		}
		for _, m := range roster {
			if m.UserID != caller.UserID {
				recipients = append(recipients, m.UserID)
			}
		}
		return nil
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return domain.Message{}, fmt.Errorf("%w: nonce already used in this conversation", domain.ErrConflict)
		}
		return domain.Message{}, err
	}

	ev := notify.MessageSent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		RecipientIDs:   recipients,
		CreatedAt:      msg.CreatedAt,
	}
	if err := s.publisher.PublishMessageSent(ctx, ev); err != nil {
		slog.Warn("message notification failed", "error", err, "message_id", msg.ID, "conversation_id", msg.ConversationID)
	}
	chatType := "personal"
	if isGroup {
		chatType = "group"
	}
	metrics.MessagesStoredTotal.WithLabelValues(chatType).Inc()
	metrics.MessagesCiphertextBytes.WithLabelValues(chatType).Observe(float64(len(msg.Ciphertext)))
	slog.Debug("message stored", "message_id", msg.ID, "conversation_id", msg.ConversationID, "group", isGroup, "bytes", len(msg.Ciphertext))
	return msg, nil
}

// Delete soft-deletes a message. Only its sender may do so; deleting an
// already deleted message succeeds without changes.
func (s *Service) Delete(ctx context.Context, caller domain.Caller, messageID uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx *store.Store) error {
		msg, err := tx.Messages().Get(ctx, messageID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return fmt.Errorf("%w: message", domain.ErrNotFound)
			}
			return err
		}
		if _, _, err := s.membership(ctx, tx, caller, msg.ConversationID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: message", domain.ErrNotFound)
			}
			return err
		}
		if msg.SenderID != caller.UserID {
			return fmt.Errorf("%w: only the sender can delete a message", domain.ErrForbidden)
		}
		if msg.Deleted() {
			return nil
		}
		_, err = tx.Messages().SoftDelete(ctx, messageID, s.now().UTC())
		return err
	})
}

// Clear hides every current message from the caller's own view. Other
// members keep their history.
func (s *Service) Clear(ctx context.Context, caller domain.Caller, conversationID uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, _, err := s.membership(ctx, tx, caller, conversationID); err != nil {
			return err
		}
		return tx.Members().Update(ctx, conversationID, caller.UserID, map[string]any{
			"cleared_at":   s.now().UTC(),
			"unread_count": 0,
		})
	})
}

func (s *Service) membership(ctx context.Context, st *store.Store, caller domain.Caller, conversationID uuid.UUID) (*domain.Conversation, *domain.ConversationMember, error) {
	conv, member, err := st.Membership(ctx, caller, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: conversation", domain.ErrNotFound)
		}
		return nil, nil, err
	}
	return conv, member, nil
}

// DecodeWraps parses the stored group key wraps of a message.
func DecodeWraps(raw datatypes.JSON) ([]domain.KeyWrap, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var wraps []domain.KeyWrap
	if err := json.Unmarshal(raw, &wraps); err != nil {
		return nil, err
	}
	return wraps, nil
}

func encodeWraps(wraps []domain.KeyWrap) (datatypes.JSON, error) {
	if len(wraps) == 0 {
		return nil, nil
	}
	seen := make(map[uuid.UUID]struct{}, len(wraps))
	for _, w := range wraps {
		if w.UserID == uuid.Nil || w.KeyID == uuid.Nil || w.WrappedKey == "" || w.Nonce == "" {
			return nil, fmt.Errorf("%w: incomplete key wrap", domain.ErrInvalidInput)
		}
		if _, dup := seen[w.UserID]; dup {
			return nil, fmt.Errorf("%w: duplicate key wrap for %s", domain.ErrInvalidInput, w.UserID)
		}
		seen[w.UserID] = struct{}{}
	}
	raw, err := json.Marshal(wraps)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func distinct(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
