package conversations

import (
	"context"
	"errors"
	"fmt"

	"e2eechat/internal/domain"
	"e2eechat/internal/store"

	"github.com/google/uuid"
)

// PairKey is the order-independent identity of a personal conversation.
func PairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}

func (s *Service) membership(ctx context.Context, st *store.Store, caller domain.Caller, id uuid.UUID) (*domain.Conversation, *domain.ConversationMember, error) {
	conv, member, err := st.Membership(ctx, caller, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: conversation", domain.ErrNotFound)
		}
		return nil, nil, err
	}
	return conv, member, nil
}

func (s *Service) view(ctx context.Context, st *store.Store, conv domain.Conversation, self domain.ConversationMember) (View, error) {
	views, err := s.assemble(ctx, st, []domain.Conversation{conv}, map[uuid.UUID]domain.ConversationMember{conv.ID: self})
	if err != nil {
		return View{}, err
	}
	return views[0], nil
}

// assemble attaches rosters and last-message previews in two batch queries.
func (s *Service) assemble(ctx context.Context, st *store.Store, convs []domain.Conversation, self map[uuid.UUID]domain.ConversationMember) ([]View, error) {
	ids := make([]uuid.UUID, 0, len(convs))
	lastIDs := make([]uuid.UUID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
		if c.LastMessageID != nil {
			lastIDs = append(lastIDs, *c.LastMessageID)
		}
	}
	members, err := st.Members().ActiveIn(ctx, ids)
	if err != nil {
		return nil, err
	}
	roster := make(map[uuid.UUID][]domain.ConversationMember, len(convs))
	for _, m := range members {
		roster[m.ConversationID] = append(roster[m.ConversationID], m)
	}
	msgs, err := st.Messages().ByIDs(ctx, lastIDs)
	if err != nil {
		return nil, err
	}
	last := make(map[uuid.UUID]domain.Message, len(msgs))
	for _, m := range msgs {
		last[m.ID] = m
	}

	views := make([]View, 0, len(convs))
	for _, c := range convs {
		v := View{Conversation: c, Self: self[c.ID], Members: roster[c.ID]}
		if c.LastMessageID != nil {
			if m, ok := last[*c.LastMessageID]; ok && visibleTo(m, v.Self) {
				m = Redact(m)
				v.LastMessage = &m
			}
		}
		views = append(views, v)
	}
	return views, nil
}

func visibleTo(m domain.Message, member domain.ConversationMember) bool {
	return member.ClearedAt == nil || m.CreatedAt.After(*member.ClearedAt)
}

// Redact withholds the content of a deleted message.
func Redact(m domain.Message) domain.Message {
	if m.Deleted() {
		m.Ciphertext = nil
		m.Nonce = nil
		m.KeyWraps = nil
	}
	return m
}
