package store

import (
	"context"
	"time"

	"e2eechat/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MemberStore struct{ db *gorm.DB }

func (s *Store) Members() *MemberStore { return &MemberStore{db: s.DB} }

// Ensure inserts members that are not already on the roster. Existing rows,
// including members who left, are left untouched.
func (m *MemberStore) Ensure(ctx context.Context, members []domain.ConversationMember) error {
	if len(members) == 0 {
		return nil
	}
	return m.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&members).Error
}

func (m *MemberStore) Get(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationMember, error) {
	var member domain.ConversationMember
	err := m.db.WithContext(ctx).
		First(&member, "conversation_id = ? AND user_id = ?", conversationID, userID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &member, nil
}

// Active lists the current roster, longest-standing first.
func (m *MemberStore) Active(ctx context.Context, conversationID uuid.UUID) ([]domain.ConversationMember, error) {
	var members []domain.ConversationMember
	err := m.db.WithContext(ctx).
		Where("conversation_id = ? AND left_at IS NULL", conversationID).
		Order("joined_at ASC, user_id ASC").
		Find(&members).Error
	return members, err
}

// ActiveIn returns the current rosters of several conversations at once.
func (m *MemberStore) ActiveIn(ctx context.Context, conversationIDs []uuid.UUID) ([]domain.ConversationMember, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	var members []domain.ConversationMember
	err := m.db.WithContext(ctx).
		Where("conversation_id IN ? AND left_at IS NULL", conversationIDs).
		Order("joined_at ASC, user_id ASC").
		Find(&members).Error
	return members, err
}

// ForUser lists the user's active, visible memberships.
func (m *MemberStore) ForUser(ctx context.Context, userID uuid.UUID, archived bool) ([]domain.ConversationMember, error) {
	tx := m.db.WithContext(ctx).
		Where("user_id = ? AND left_at IS NULL AND hidden_at IS NULL", userID)
	if archived {
		tx = tx.Where("archived_at IS NOT NULL")
	} else {
		tx = tx.Where("archived_at IS NULL")
	}
	var members []domain.ConversationMember
	return members, tx.Find(&members).Error
}

func (m *MemberStore) Update(ctx context.Context, conversationID, userID uuid.UUID, fields map[string]any) error {
	return m.db.WithContext(ctx).
		Model(&domain.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(fields).Error
}

// Rejoin reactivates a member who previously left.
func (m *MemberStore) Rejoin(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	return m.Update(ctx, conversationID, userID, map[string]any{
		"left_at":     nil,
		"joined_at":   at,
		"role":        domain.RoleMember,
		"hidden_at":   nil,
		"archived_at": nil,
	})
}

// BumpUnread increments every other active member's counter in a single
// statement and brings hidden conversations back into their lists.
func (m *MemberStore) BumpUnread(ctx context.Context, conversationID, senderID uuid.UUID) error {
	return m.db.WithContext(ctx).
		Model(&domain.ConversationMember{}).
		Where("conversation_id = ? AND user_id <> ? AND left_at IS NULL", conversationID, senderID).
		Updates(map[string]any{
			"unread_count": gorm.Expr("unread_count + 1"),
			"hidden_at":    nil,
		}).Error
}

func (m *MemberStore) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, lastMessageID *uuid.UUID, at time.Time) error {
	return m.Update(ctx, conversationID, userID, map[string]any{
		"unread_count":         0,
		"last_read_message_id": lastMessageID,
		"last_read_at":         at,
	})
}

// UnreadTotal sums the user's counters across visible conversations in the company.
func (m *MemberStore) UnreadTotal(ctx context.Context, companyID, userID uuid.UUID) (int64, error) {
	var total int64
	err := m.db.WithContext(ctx).
		Model(&domain.ConversationMember{}).
		Joins("JOIN conversations ON conversations.id = conversation_members.conversation_id").
		Where("conversation_members.user_id = ? AND conversation_members.left_at IS NULL AND conversation_members.hidden_at IS NULL", userID).
		Where("conversations.company_id = ?", companyID).
		Select("COALESCE(SUM(conversation_members.unread_count), 0)").
		Scan(&total).Error
	return total, err
}
