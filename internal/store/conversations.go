package store

import (
	"context"
	"time"

	"e2eechat/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationStore struct{ db *gorm.DB }

func (s *Store) Conversations() *ConversationStore { return &ConversationStore{db: s.DB} }

func (c *ConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	return c.db.WithContext(ctx).Create(conv).Error
}

// CreateIfAbsent inserts a personal conversation unless one already exists
// for the same (company, pair key). It reports whether the row was inserted.
func (c *ConversationStore) CreateIfAbsent(ctx context.Context, conv *domain.Conversation) (bool, error) {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	tx := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_id"}, {Name: "pair_key"}},
			DoNothing: true,
		}).
		Create(conv)
	return tx.RowsAffected == 1, tx.Error
}

func (c *ConversationStore) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := c.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// GetForUpdate locks the conversation row so counter updates in the same
// conversation serialize behind it.
func (c *ConversationStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := c.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&conv, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

func (c *ConversationStore) ByPairKey(ctx context.Context, companyID uuid.UUID, pairKey string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := c.db.WithContext(ctx).
		First(&conv, "company_id = ? AND pair_key = ?", companyID, pairKey).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// ByIDs returns the listed conversations in the company, most recent
// activity first, optionally restricted to groups or personal chats.
func (c *ConversationStore) ByIDs(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID, isGroup *bool) ([]domain.Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx := c.db.WithContext(ctx).Where("company_id = ? AND id IN ?", companyID, ids)
	if isGroup != nil {
		tx = tx.Where("is_group = ?", *isGroup)
	}
	var convs []domain.Conversation
	if err := tx.Order("last_activity_at DESC, id DESC").Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *ConversationStore) RecordMessage(ctx context.Context, id, messageID uuid.UUID, at time.Time) error {
	return c.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_message_id":  messageID,
			"last_activity_at": at,
			"updated_at":       at,
		}).Error
}

func (c *ConversationStore) Rename(ctx context.Context, id uuid.UUID, name string, at time.Time) error {
	return c.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"name": name, "updated_at": at}).Error
}

func (c *ConversationStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return c.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", at).Error
}
