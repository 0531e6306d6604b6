package conversations

import (
	"context"

	"e2eechat/internal/domain"
	"e2eechat/internal/store"

	"github.com/google/uuid"
)

// MarkRead resets the caller's unread counter and moves the read marker to
// the latest message. The conversation row is locked first so a concurrent
// send either lands before the reset or increments after it.
func (s *Service) MarkRead(ctx context.Context, caller domain.Caller, id uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, _, err := s.membership(ctx, tx, caller, id); err != nil {
			return err
		}
		conv, err := tx.Conversations().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return tx.Members().MarkRead(ctx, id, caller.UserID, conv.LastMessageID, s.now().UTC())
	})
}

// Archive moves the conversation out of the caller's main list.
func (s *Service) Archive(ctx context.Context, caller domain.Caller, id uuid.UUID) error {
	return s.setMemberFields(ctx, caller, id, func() map[string]any {
		return map[string]any{"archived_at": s.now().UTC()}
	})
}

func (s *Service) Unarchive(ctx context.Context, caller domain.Caller, id uuid.UUID) error {
	return s.setMemberFields(ctx, caller, id, func() map[string]any {
		return map[string]any{"archived_at": nil}
	})
}

// Delete hides the conversation and its current history for the caller only.
// A later message brings it back with only the newer history visible.
func (s *Service) Delete(ctx context.Context, caller domain.Caller, id uuid.UUID) error {
	return s.setMemberFields(ctx, caller, id, func() map[string]any {
		now := s.now().UTC()
		return map[string]any{"hidden_at": now, "cleared_at": now, "unread_count": 0}
	})
}

// UnreadCount totals the caller's unread counters across visible conversations.
func (s *Service) UnreadCount(ctx context.Context, caller domain.Caller) (int64, error) {
	return s.store.Members().UnreadTotal(ctx, caller.CompanyID, caller.UserID)
}

func (s *Service) setMemberFields(ctx context.Context, caller domain.Caller, id uuid.UUID, fields func() map[string]any) error {
	return s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, _, err := s.membership(ctx, tx, caller, id); err != nil {
			return err
		}
		return tx.Members().Update(ctx, id, caller.UserID, fields())
	})
}
