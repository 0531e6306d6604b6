package store

import (
	"context"
	"time"

	"e2eechat/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	return m.db.WithContext(ctx).Create(msg).Error
}

func (m *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

func (m *MessageStore) ByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var msgs []domain.Message
	return msgs, m.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error
}

// Page returns messages newest first. Messages created at or before after
// are excluded when after is set.
func (m *MessageStore) Page(ctx context.Context, conversationID uuid.UUID, after *time.Time, limit, offset int) ([]domain.Message, error) {
	tx := m.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if after != nil {
		tx = tx.Where("created_at > ?", *after)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	var msgs []domain.Message
	if err := tx.Order("created_at DESC, id DESC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// SoftDelete marks the message deleted. A message that is already deleted
// is left alone and zero rows are reported.
func (m *MessageStore) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	tx := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", at)
	return tx.RowsAffected, tx.Error
}
