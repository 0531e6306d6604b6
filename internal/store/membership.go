package store

import (
	"context"

	"e2eechat/internal/domain"

	"github.com/google/uuid"
)

// Membership resolves the conversation and the caller's active roster entry.
// A conversation outside the caller's company, or one the caller is not an
// active member of, is reported as ErrRecordNotFound.
func (s *Store) Membership(ctx context.Context, caller domain.Caller, conversationID uuid.UUID) (*domain.Conversation, *domain.ConversationMember, error) {
	conv, err := s.Conversations().Get(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if conv.CompanyID != caller.CompanyID {
		return nil, nil, ErrRecordNotFound
	}
	member, err := s.Members().Get(ctx, conversationID, caller.UserID)
	if err != nil {
		return nil, nil, err
	}
	if !member.Active() {
		return nil, nil, ErrRecordNotFound
	}
	return conv, member, nil
}
