package store

import (
	"context"
	"time"

	"e2eechat/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AttachmentStore struct{ db *gorm.DB }

func (s *Store) Attachments() *AttachmentStore { return &AttachmentStore{db: s.DB} }

func (a *AttachmentStore) Create(ctx context.Context, meta *domain.AttachmentMeta) error {
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	return a.db.WithContext(ctx).Create(meta).Error
}

func (a *AttachmentStore) Get(ctx context.Context, id uuid.UUID) (*domain.AttachmentMeta, error) {
	var meta domain.AttachmentMeta
	if err := a.db.WithContext(ctx).First(&meta, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &meta, nil
}

func (a *AttachmentStore) ByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.AttachmentMeta, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var metas []domain.AttachmentMeta
	err := a.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at ASC, id ASC").Find(&metas).Error
	return metas, err
}

// Link attaches unattached uploads in the conversation to a message and
// returns how many rows were claimed.
func (a *AttachmentStore) Link(ctx context.Context, conversationID, messageID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := a.db.WithContext(ctx).
		Model(&domain.AttachmentMeta{}).
		Where("id IN ? AND conversation_id = ? AND message_id IS NULL", ids, conversationID).
		Update("message_id", messageID)
	return tx.RowsAffected, tx.Error
}

// Orphans lists uploads never linked to a message and created before cutoff.
func (a *AttachmentStore) Orphans(ctx context.Context, cutoff time.Time, limit int) ([]domain.AttachmentMeta, error) {
	var metas []domain.AttachmentMeta
	tx := a.db.WithContext(ctx).Where("message_id IS NULL AND created_at < ?", cutoff).Order("created_at ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	return metas, tx.Find(&metas).Error
}

// Delete removes an upload that is still unattached and reports how many rows
// went. Zero means a message claimed it first.
func (a *AttachmentStore) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	tx := a.db.WithContext(ctx).Where("id = ? AND message_id IS NULL", id).Delete(&domain.AttachmentMeta{})
	return tx.RowsAffected, tx.Error
}
