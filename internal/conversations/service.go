package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"e2eechat/internal/domain"
	"e2eechat/internal/store"

	"github.com/google/uuid"
)

// Type filters List results.
type Type string

const (
	TypeAll      Type = ""
	TypePersonal Type = "personal"
	TypeGroup    Type = "group"
)

func ParseType(v string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(v))) {
	case TypeAll:
		return TypeAll, nil
	case TypePersonal:
		return TypePersonal, nil
	case TypeGroup:
		return TypeGroup, nil
	}
	return "", fmt.Errorf("%w: unknown conversation type %q", domain.ErrInvalidInput, v)
}

type ListOptions struct {
	Type     Type
	Archived bool
}

// View is a conversation as seen by one member.
type View struct {
	Conversation domain.Conversation
	Self         domain.ConversationMember
	Members      []domain.ConversationMember
	// LastMessage is nil when there is none or the caller cleared it.
	LastMessage *domain.Message
}

type Service struct {
	store *store.Store
	now   func() time.Time
}

func New(st *store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

func (s *Service) List(ctx context.Context, caller domain.Caller, opts ListOptions) ([]View, error) {
	memberships, err := s.store.Members().ForUser(ctx, caller.UserID, opts.Archived)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return []View{}, nil
	}
	self := make(map[uuid.UUID]domain.ConversationMember, len(memberships))
	ids := make([]uuid.UUID, 0, len(memberships))
	for _, m := range memberships {
		self[m.ConversationID] = m
		ids = append(ids, m.ConversationID)
	}

	var isGroup *bool
	switch opts.Type {
	case TypePersonal:
		v := false
		isGroup = &v
	case TypeGroup:
		v := true
		isGroup = &v
	}
	convs, err := s.store.Conversations().ByIDs(ctx, caller.CompanyID, ids, isGroup)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, s.store, convs, self)
}

// Get returns one conversation the caller is an active member of.
func (s *Service) Get(ctx context.Context, caller domain.Caller, id uuid.UUID) (View, error) {
	conv, member, err := s.membership(ctx, s.store, caller, id)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, s.store, *conv, *member)
}

// GetOrCreatePersonal returns the single personal conversation between the
// caller and recipient, creating it on first contact. Concurrent first
// contact from both sides converges on one row through the pair key.
func (s *Service) GetOrCreatePersonal(ctx context.Context, caller domain.Caller, recipientID uuid.UUID) (View, error) {
	return s.getOrCreatePersonal(ctx, caller, recipientID, true)
}

func (s *Service) getOrCreatePersonal(ctx context.Context, caller domain.Caller, recipientID uuid.UUID, retry bool) (View, error) {
	if recipientID == uuid.Nil || recipientID == caller.UserID {
		return View{}, fmt.Errorf("%w: recipient must be another user", domain.ErrInvalidInput)
	}
	pairKey := PairKey(caller.UserID, recipientID)

	var out View
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		conv, err := tx.Conversations().ByPairKey(ctx, caller.CompanyID, pairKey)
		if errors.Is(err, store.ErrRecordNotFound) {
			now := s.now().UTC()
			candidate := &domain.Conversation{
				CompanyID:      caller.CompanyID,
				PairKey:        &pairKey,
				CreatedBy:      caller.UserID,
				CreatedAt:      now,
				UpdatedAt:      now,
				LastActivityAt: now,
			}
			if _, err := tx.Conversations().CreateIfAbsent(ctx, candidate); err != nil {
				return err
			}
			conv, err = tx.Conversations().ByPairKey(ctx, caller.CompanyID, pairKey)
			if err != nil {
				return err
			}
			if err := tx.Members().Ensure(ctx, []domain.ConversationMember{
				{ConversationID: conv.ID, UserID: caller.UserID, Role: domain.RoleMember, JoinedAt: now},
				{ConversationID: conv.ID, UserID: recipientID, Role: domain.RoleMember, JoinedAt: now},
			}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		member, err := tx.Members().Get(ctx, conv.ID, caller.UserID)
		if err != nil {
			return err
		}
		if member.HiddenAt != nil {
			if err := tx.Members().Update(ctx, conv.ID, caller.UserID, map[string]any{"hidden_at": nil}); err != nil {
				return err
			}
			member.HiddenAt = nil
		}
		out, err = s.view(ctx, tx, *conv, *member)
		return err
	})
	if err != nil {
		if retry && store.IsUniqueViolation(err) {
			// Lost a race the conflict clause could not absorb; the winner's
			// row is visible now.
			return s.getOrCreatePersonal(ctx, caller, recipientID, false)
		}
		return View{}, err
	}
	return out, nil
}

// CreateGroup creates a named group with the caller as owner.
func (s *Service) CreateGroup(ctx context.Context, caller domain.Caller, name string, memberIDs []uuid.UUID) (View, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return View{}, fmt.Errorf("%w: group name is required", domain.ErrInvalidInput)
	}
	others := distinctOthers(caller.UserID, memberIDs)
	if len(others) == 0 {
		return View{}, fmt.Errorf("%w: a group needs at least one other member", domain.ErrInvalidInput)
	}

	var out View
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		now := s.now().UTC()
		conv := &domain.Conversation{
			CompanyID:      caller.CompanyID,
			IsGroup:        true,
			Name:           name,
			CreatedBy:      caller.UserID,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastActivityAt: now,
		}
		if err := tx.Conversations().Create(ctx, conv); err != nil {
			return err
		}
		members := make([]domain.ConversationMember, 0, len(others)+1)
		members = append(members, domain.ConversationMember{ConversationID: conv.ID, UserID: caller.UserID, Role: domain.RoleOwner, JoinedAt: now})
		for _, id := range others {
			members = append(members, domain.ConversationMember{ConversationID: conv.ID, UserID: id, Role: domain.RoleMember, JoinedAt: now})
		}
		if err := tx.Members().Ensure(ctx, members); err != nil {
			return err
		}
		var err error
		out, err = s.view(ctx, tx, *conv, members[0])
		return err
	})
	if err != nil {
		return View{}, err
	}
	return out, nil
}
