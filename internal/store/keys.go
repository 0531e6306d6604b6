package store

import (
	"context"
	"time"

	"e2eechat/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type KeyStore struct{ db *gorm.DB }

func (s *Store) Keys() *KeyStore { return &KeyStore{db: s.DB} }

func (k *KeyStore) Create(ctx context.Context, key *domain.UserPublicKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	return k.db.WithContext(ctx).Create(key).Error
}

func (k *KeyStore) Get(ctx context.Context, id uuid.UUID) (*domain.UserPublicKey, error) {
	var key domain.UserPublicKey
	if err := k.db.WithContext(ctx).First(&key, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &key, nil
}

// Active returns the newest non-revoked key for the user. An empty label
// matches any device.
func (k *KeyStore) Active(ctx context.Context, userID uuid.UUID, label string) (*domain.UserPublicKey, error) {
	return k.active(k.db.WithContext(ctx), userID, label)
}

// ActiveForUpdate is Active with a row lock, for use inside WithTx.
func (k *KeyStore) ActiveForUpdate(ctx context.Context, userID uuid.UUID, label string) (*domain.UserPublicKey, error) {
	return k.active(k.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), userID, label)
}

func (k *KeyStore) active(tx *gorm.DB, userID uuid.UUID, label string) (*domain.UserPublicKey, error) {
	tx = tx.Where("user_id = ? AND revoked_at IS NULL", userID)
	if label != "" {
		tx = tx.Where("device_label = ?", label)
	}
	var key domain.UserPublicKey
	if err := tx.Order("created_at DESC, id DESC").First(&key).Error; err != nil {
		return nil, notFound(err)
	}
	return &key, nil
}

func (k *KeyStore) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	return k.db.WithContext(ctx).
		Model(&domain.UserPublicKey{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at).Error
}

// OwnedBy reports whether key id belongs to the user, revoked or not.
func (k *KeyStore) OwnedBy(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	var n int64
	err := k.db.WithContext(ctx).
		Model(&domain.UserPublicKey{}).
		Where("id = ? AND user_id = ?", id, userID).
		Count(&n).Error
	return n > 0, err
}
