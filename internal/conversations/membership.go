package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"e2eechat/internal/domain"
	"e2eechat/internal/store"

	"github.com/google/uuid"
)

// AddMembers puts users on a group roster. Any active member may add people;
// users who left earlier rejoin as plain members.
func (s *Service) AddMembers(ctx context.Context, caller domain.Caller, id uuid.UUID, memberIDs []uuid.UUID) (View, error) {
	others := distinctOthers(caller.UserID, memberIDs)
	if len(others) == 0 {
		return View{}, fmt.Errorf("%w: no members to add", domain.ErrInvalidInput)
	}
	var out View
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		conv, self, err := s.membership(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if !conv.IsGroup {
			return fmt.Errorf("%w: members can only be added to groups", domain.ErrInvalidInput)
		}
		now := s.now().UTC()
		for _, userID := range others {
			existing, err := tx.Members().Get(ctx, id, userID)
			switch {
			case errors.Is(err, store.ErrRecordNotFound):
				if err := tx.Members().Ensure(ctx, []domain.ConversationMember{{
					ConversationID: id, UserID: userID, Role: domain.RoleMember, JoinedAt: now,
				}}); err != nil {
					return err
				}
			case err != nil:
				return err
			case !existing.Active():
				if err := tx.Members().Rejoin(ctx, id, userID, now); err != nil {
					return err
				}
			}
		}
		if err := tx.Conversations().Touch(ctx, id, now); err != nil {
			return err
		}
		out, err = s.view(ctx, tx, *conv, *self)
		return err
	})
	return out, err
}

// RemoveMember takes someone off a group roster. Only owners and admins may
// remove others, and admins cannot remove an owner. Removing yourself is Leave.
func (s *Service) RemoveMember(ctx context.Context, caller domain.Caller, id, userID uuid.UUID) error {
	if userID == caller.UserID {
		return s.Leave(ctx, caller, id)
	}
	return s.store.WithTx(ctx, func(tx *store.Store) error {
		conv, self, err := s.membership(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if !conv.IsGroup {
			return fmt.Errorf("%w: members can only be removed from groups", domain.ErrInvalidInput)
		}
		if !self.CanManage() {
			return fmt.Errorf("%w: only owners and admins can remove members", domain.ErrForbidden)
		}
		target, err := tx.Members().Get(ctx, id, userID)
		if err != nil || !target.Active() {
			if err == nil || errors.Is(err, store.ErrRecordNotFound) {
				return fmt.Errorf("%w: member", domain.ErrNotFound)
			}
			return err
		}
		if target.Role == domain.RoleOwner && self.Role != domain.RoleOwner {
			return fmt.Errorf("%w: admins cannot remove an owner", domain.ErrForbidden)
		}
		now := s.now().UTC()
		if err := tx.Members().Update(ctx, id, userID, map[string]any{"left_at": now, "unread_count": 0}); err != nil {
			return err
		}
		return tx.Conversations().Touch(ctx, id, now)
	})
}

// Leave removes the caller from a group. When nobody with a managing role
// remains, the longest-standing member becomes owner. The conversation row
// and its history stay even after the last member leaves.
func (s *Service) Leave(ctx context.Context, caller domain.Caller, id uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx *store.Store) error {
		conv, _, err := s.membership(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if !conv.IsGroup {
			return fmt.Errorf("%w: personal conversations cannot be left, delete them instead", domain.ErrInvalidInput)
		}
		now := s.now().UTC()
		if err := tx.Members().Update(ctx, id, caller.UserID, map[string]any{"left_at": now, "unread_count": 0}); err != nil {
			return err
		}
		remaining, err := tx.Members().Active(ctx, id)
		if err != nil {
			return err
		}
		if len(remaining) > 0 && !anyManager(remaining) {
			if err := tx.Members().Update(ctx, id, remaining[0].UserID, map[string]any{"role": domain.RoleOwner}); err != nil {
				return err
			}
		}
		return tx.Conversations().Touch(ctx, id, now)
	})
}

// Rename changes a group's display name. Owners and admins only.
func (s *Service) Rename(ctx context.Context, caller domain.Caller, id uuid.UUID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: group name is required", domain.ErrInvalidInput)
	}
	return s.store.WithTx(ctx, func(tx *store.Store) error {
		conv, self, err := s.membership(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if !conv.IsGroup {
			return fmt.Errorf("%w: personal conversations have no name", domain.ErrInvalidInput)
		}
		if !self.CanManage() {
			return fmt.Errorf("%w: only owners and admins can rename", domain.ErrForbidden)
		}
		return tx.Conversations().Rename(ctx, id, name, s.now().UTC())
	})
}

func anyManager(members []domain.ConversationMember) bool {
	for _, m := range members {
		if m.CanManage() {
			return true
		}
	}
	return false
}

func distinctOthers(self uuid.UUID, ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || id == self {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
