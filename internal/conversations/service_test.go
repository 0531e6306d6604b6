package conversations_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"e2eechat/internal/conversations"
	"e2eechat/internal/domain"
	"e2eechat/internal/store/storetest"

	"github.com/google/uuid"
)

func caller(company uuid.UUID) domain.Caller {
	return domain.Caller{UserID: uuid.New(), CompanyID: company}
}

func TestGetOrCreatePersonalIsIdempotent(t *testing.T) {
	svc := conversations.New(storetest.Open(t))
	ctx := context.Background()
	company := uuid.New()
	alice, bob := caller(company), caller(company)

	first, err := svc.GetOrCreatePersonal(ctx, alice, bob.UserID)
	if err != nil {
		t.Fatalf("alice -> bob: %v", err)
	}
	again, err := svc.GetOrCreatePersonal(ctx, alice, bob.UserID)
	if err != nil {
		t.Fatalf("alice -> bob again: %v", err)
	}
	reverse, err := svc.GetOrCreatePersonal(ctx, bob, alice.UserID)
	if err != nil {
		t.Fatalf("bob -> alice: %v", err)
	}
	if first.Conversation.ID != again.Conversation.ID || first.Conversation.ID != reverse.Conversation.ID {
		t.Fatalf("expected one conversation, got %s %s %s", first.Conversation.ID, again.Conversation.ID, reverse.Conversation.ID)
	}
	if first.Conversation.IsGroup {
		t.Fatalf("personal conversation flagged as group")
	}
	if len(first.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(first.Members))
	}

	if _, err := svc.GetOrCreatePersonal(ctx, alice, alice.UserID); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for self conversation, got %v", err)
	}
}

func TestGetOrCreatePersonalConcurrentFirstContact(t *testing.T) {
	svc := conversations.New(storetest.Open(t))
	ctx := context.Background()
	company := uuid.New()
	alice, bob := caller(company), caller(company)

	var (
		wg   sync.WaitGroup
		ids  [8]uuid.UUID
		errs [8]error
	)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := alice, bob.UserID
			if i%2 == 1 {
				from, to = bob, alice.UserID
			}
			v, err := svc.GetOrCreatePersonal(ctx, from, to)
			ids[i], errs[i] = v.Conversation.ID, err
		}(i)
	}
	wg.Wait()
	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("call %d created a second conversation %s (first %s)", i, ids[i], ids[0])
		}
	}
}

func TestCreateGroupValidation(t *testing.T) {
	svc := conversations.New(storetest.Open(t))
	ctx := context.Background()
	owner := caller(uuid.New())

	if _, err := svc.CreateGroup(ctx, owner, "   ", []uuid.UUID{uuid.New()}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("blank name: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateGroup(ctx, owner, "ops", nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("no members: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateGroup(ctx, owner, "ops", []uuid.UUID{owner.UserID}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("only self: expected ErrInvalidInput, got %v", err)
	}

	v, err := svc.CreateGroup(ctx, owner, " ops ", []uuid.UUID{uuid.New(), uuid.New()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.Conversation.Name != "ops" || !v.Conversation.IsGroup {
		t.Fatalf("unexpected conversation: %+v", v.Conversation)
	}
	if v.Self.Role != domain.RoleOwner {
		t.Fatalf("creator should be owner, got %q", v.Self.Role)
	}
	if len(v.Members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(v.Members))
	}
}

func TestNonMemberSeesNotFound(t *testing.T) {
	svc := conversations.New(storetest.Open(t))
	ctx := context.Background()
	company := uuid.New()
	owner := caller(company)
	outsider := caller(company)
	otherTenant := domain.Caller{UserID: owner.UserID, CompanyID: uuid.New()}

	v, err := svc.CreateGroup(ctx, owner, "ops", []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := v.Conversation.ID
	if _, err := svc.Get(ctx, outsider, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("outsider get: expected ErrNotFound, got %v", err)
	}
	if err := svc.MarkRead(ctx, outsider, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("outsider mark read: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(ctx, otherTenant, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("other tenant get: expected ErrNotFound, got %v", err)
	}
}

func TestGroupMembershipLifecycle(t *testing.T) {
	svc := conversations.New(storetest.Open(t))
	ctx := context.Background()
	company := uuid.New()
	owner, b, c := caller(company), caller(company), caller(company)

	v, err := svc.CreateGroup(ctx, owner, "ops", []uuid.UUID{b.UserID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := v.Conversation.ID

	if _, err := svc.AddMembers(ctx, b, id, []uuid.UUID{c.UserID}); err != nil {
		t.Fatalf("member adds c: %v", err)
	}
	if err := svc.RemoveMember(ctx, c, id, b.UserID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("plain member removing: expected ErrForbidden, got %v", err)
	}
	if err := svc.Rename(ctx, b, id, "new"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("plain member renaming: expected ErrForbidden, got %v", err)
	}
	if err := svc.Rename(ctx, owner, id, "platform"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := svc.RemoveMember(ctx, owner, id, c.UserID); err != nil {
		t.Fatalf("remove c: %v", err)
	}
	if _, err := svc.Get(ctx, c, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("removed member should see ErrNotFound, got %v", err)
	}

	if err := svc.Leave(ctx, owner, id); err != nil {
		t.Fatalf("owner leaves: %v", err)
	}
	got, err := svc.Get(ctx, b, id)
	if err != nil {
		t.Fatalf("remaining member get: %v", err)
	}
	if got.Self.Role != domain.RoleOwner {
		t.Fatalf("expected remaining member to be promoted, got %q", got.Self.Role)
	}
	if got.Conversation.Name != "platform" {
		t.Fatalf("expected renamed group, got %q", got.Conversation.Name)
	}

	if _, err := svc.AddMembers(ctx, b, id, []uuid.UUID{c.UserID}); err != nil {
		t.Fatalf("re-add c: %v", err)
	}
	back, err := svc.Get(ctx, c, id)
	if err != nil {
		t.Fatalf("rejoined member get: %v", err)
	}
	if back.Self.Role != domain.RoleMember {
		t.Fatalf("rejoined member role %q", back.Self.Role)
	}

	if err := svc.Leave(ctx, b, id); err != nil {
		t.Fatalf("b leaves: %v", err)
	}
	if err := svc.Leave(ctx, c, id); err != nil {
		t.Fatalf("c leaves: %v", err)
	}
	if err := svc.Leave(ctx, c, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("leaving twice: expected ErrNotFound, got %v", err)
	}
}

func TestPersonalRejectsGroupOperations(t *testing.T) {
	svc := conversations.New(storetest.Open(t))
	ctx := context.Background()
	company := uuid.New()
	alice, bob := caller(company), caller(company)

	v, err := svc.GetOrCreatePersonal(ctx, alice, bob.UserID)
	if err != nil {
		t.Fatalf("personal: %v", err)
	}
	id := v.Conversation.ID
	if _, err := svc.AddMembers(ctx, alice, id, []uuid.UUID{uuid.New()}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("add to personal: expected ErrInvalidInput, got %v", err)
	}
	if err := svc.Leave(ctx, alice, id); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("leave personal: expected ErrInvalidInput, got %v", err)
	}
	if err := svc.Rename(ctx, alice, id, "x"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("rename personal: expected ErrInvalidInput, got %v", err)
	}
}

func TestListFiltersArchiveAndDelete(t *testing.T) {
	svc := conversations.New(storetest.Open(t))
	ctx := context.Background()
	company := uuid.New()
	alice, bob := caller(company), caller(company)

	personal, err := svc.GetOrCreatePersonal(ctx, alice, bob.UserID)
	if err != nil {
		t.Fatalf("personal: %v", err)
	}
	group, err := svc.CreateGroup(ctx, alice, "ops", []uuid.UUID{bob.UserID})
	if err != nil {
		t.Fatalf("group: %v", err)
	}

	all, err := svc.List(ctx, alice, conversations.ListOptions{})
	if err != nil || len(all) != 2 {
		t.Fatalf("list all: %d %v", len(all), err)
	}
	if all[0].Conversation.ID != group.Conversation.ID {
		t.Fatalf("expected most recent activity first")
	}
	groups, err := svc.List(ctx, alice, conversations.ListOptions{Type: conversations.TypeGroup})
	if err != nil || len(groups) != 1 || groups[0].Conversation.ID != group.Conversation.ID {
		t.Fatalf("list groups: %+v %v", groups, err)
	}
	personals, err := svc.List(ctx, alice, conversations.ListOptions{Type: conversations.TypePersonal})
	if err != nil || len(personals) != 1 || personals[0].Conversation.ID != personal.Conversation.ID {
		t.Fatalf("list personal: %+v %v", personals, err)
	}

	if err := svc.Archive(ctx, alice, group.Conversation.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	active, _ := svc.List(ctx, alice, conversations.ListOptions{})
	archived, _ := svc.List(ctx, alice, conversations.ListOptions{Archived: true})
	if len(active) != 1 || len(archived) != 1 {
		t.Fatalf("after archive: active=%d archived=%d", len(active), len(archived))
	}
	bobView, _ := svc.List(ctx, bob, conversations.ListOptions{})
	if len(bobView) != 2 {
		t.Fatalf("archive must be member scoped, bob sees %d", len(bobView))
	}
	if err := svc.Unarchive(ctx, alice, group.Conversation.ID); err != nil {
		t.Fatalf("unarchive: %v", err)
	}

	if err := svc.Delete(ctx, alice, personal.Conversation.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	after, _ := svc.List(ctx, alice, conversations.ListOptions{})
	if len(after) != 1 {
		t.Fatalf("deleted conversation still listed: %d", len(after))
	}
	reopened, err := svc.GetOrCreatePersonal(ctx, alice, bob.UserID)
	if err != nil || reopened.Conversation.ID != personal.Conversation.ID {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Self.HiddenAt != nil {
		t.Fatalf("reopening should unhide")
	}

	if _, err := conversations.ParseType("channel"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown type, got %v", err)
	}
}
