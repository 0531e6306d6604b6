package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"e2eechat/internal/domain"
	"e2eechat/internal/store"
	"e2eechat/internal/store/storetest"

	"github.com/google/uuid"
)

func TestActiveKeyUniquePerLabel(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()

	first := &domain.UserPublicKey{UserID: userID, DeviceLabel: "laptop", PublicKey: "pk-1", Fingerprint: "fp-1", CreatedAt: now}
	if err := st.Keys().Create(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	dup := &domain.UserPublicKey{UserID: userID, DeviceLabel: "laptop", PublicKey: "pk-2", Fingerprint: "fp-2", CreatedAt: now}
	err := st.Keys().Create(ctx, dup)
	if !store.IsUniqueViolation(err) {
		t.Fatalf("expected unique violation for second active key, got %v", err)
	}

	if err := st.Keys().Revoke(ctx, first.ID, now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	dup.ID = uuid.Nil
	if err := st.Keys().Create(ctx, dup); err != nil {
		t.Fatalf("create after revoke: %v", err)
	}

	active, err := st.Keys().Active(ctx, userID, "laptop")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ID != dup.ID {
		t.Fatalf("expected replacement key to be active")
	}
	old, err := st.Keys().Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get revoked: %v", err)
	}
	if old.RevokedAt == nil {
		t.Fatalf("expected revoked_at to be set")
	}
	if _, err := st.Keys().Active(ctx, uuid.New(), ""); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestCreateIfAbsentDeduplicatesPairs(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	company := uuid.New()
	pair := "a:b"
	now := time.Now().UTC()

	winner := &domain.Conversation{CompanyID: company, PairKey: &pair, CreatedBy: uuid.New(), CreatedAt: now, UpdatedAt: now, LastActivityAt: now}
	inserted, err := st.Conversations().CreateIfAbsent(ctx, winner)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	loser := &domain.Conversation{CompanyID: company, PairKey: &pair, CreatedBy: uuid.New(), CreatedAt: now, UpdatedAt: now, LastActivityAt: now}
	inserted, err = st.Conversations().CreateIfAbsent(ctx, loser)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatalf("expected second insert to be skipped")
	}
	got, err := st.Conversations().ByPairKey(ctx, company, pair)
	if err != nil {
		t.Fatalf("by pair key: %v", err)
	}
	if got.ID != winner.ID {
		t.Fatalf("expected winner %s, got %s", winner.ID, got.ID)
	}

	other := &domain.Conversation{CompanyID: uuid.New(), PairKey: &pair, CreatedBy: uuid.New(), CreatedAt: now, UpdatedAt: now, LastActivityAt: now}
	if inserted, err := st.Conversations().CreateIfAbsent(ctx, other); err != nil || !inserted {
		t.Fatalf("same pair in another company should insert: inserted=%v err=%v", inserted, err)
	}
}

func TestLinkClaimsOnlyUnattached(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	conv := uuid.New()
	now := time.Now().UTC()

	meta := &domain.AttachmentMeta{ConversationID: conv, UploaderID: uuid.New(), FileName: "a.txt", ContentType: "text/plain", Size: 1, StorageKey: "k", Category: domain.CategoryDocument, CreatedAt: now}
	if err := st.Attachments().Create(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	n, err := st.Attachments().Link(ctx, uuid.New(), uuid.New(), []uuid.UUID{meta.ID})
	if err != nil || n != 0 {
		t.Fatalf("link from another conversation: n=%d err=%v", n, err)
	}
	n, err = st.Attachments().Link(ctx, conv, uuid.New(), []uuid.UUID{meta.ID})
	if err != nil || n != 1 {
		t.Fatalf("first link: n=%d err=%v", n, err)
	}
	n, err = st.Attachments().Link(ctx, conv, uuid.New(), []uuid.UUID{meta.ID})
	if err != nil || n != 0 {
		t.Fatalf("second link should claim nothing: n=%d err=%v", n, err)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	now := time.Now().UTC()
	conv := &domain.Conversation{CompanyID: uuid.New(), IsGroup: true, Name: "g", CreatedBy: uuid.New(), CreatedAt: now, UpdatedAt: now, LastActivityAt: now}

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Conversations().Create(ctx, conv); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := st.Conversations().Get(ctx, conv.ID); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}
}
