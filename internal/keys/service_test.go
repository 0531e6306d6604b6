package keys_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"e2eechat/internal/domain"
	"e2eechat/internal/keys"
	"e2eechat/internal/observability/metrics"
	"e2eechat/internal/store/storetest"
	"e2eechat/pkg/cryptocore"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("keys-test")
	os.Exit(m.Run())
}

func newPublicKey(t *testing.T) (string, string) {
	t.Helper()
	id, err := cryptocore.GenerateIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	exported, err := id.PublicKey().Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	return exported, id.Fingerprint()
}

func TestUpsertIsIdempotentAndRotates(t *testing.T) {
	svc := keys.New(storetest.Open(t), nil)
	ctx := context.Background()
	userID := uuid.New()

	pk1, fp1 := newPublicKey(t)
	first, outcome, err := svc.Upsert(ctx, userID, keys.UpsertInput{PublicKey: pk1, Fingerprint: fp1, DeviceLabel: "laptop"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if outcome != keys.OutcomeCreated {
		t.Fatalf("expected created, got %s", outcome)
	}

	again, outcome, err := svc.Upsert(ctx, userID, keys.UpsertInput{PublicKey: pk1, Fingerprint: strings.ToUpper(fp1), DeviceLabel: "laptop"})
	if err != nil {
		t.Fatalf("repeat upsert: %v", err)
	}
	if outcome != keys.OutcomeUnchanged || again.ID != first.ID {
		t.Fatalf("expected unchanged record %s, got %s (%s)", first.ID, again.ID, outcome)
	}

	pk2, fp2 := newPublicKey(t)
	second, outcome, err := svc.Upsert(ctx, userID, keys.UpsertInput{PublicKey: pk2, Fingerprint: fp2, DeviceLabel: "laptop"})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if outcome != keys.OutcomeRotated || second.ID == first.ID {
		t.Fatalf("expected a new rotated record, got %s (%s)", second.ID, outcome)
	}

	active, err := svc.Get(ctx, userID, "laptop")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if active.ID != second.ID || active.Fingerprint != fp2 {
		t.Fatalf("expected rotated key to be active")
	}

	old, err := svc.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if old.RevokedAt == nil {
		t.Fatalf("expected superseded key to be revoked")
	}
	if old.PublicKey != pk1 {
		t.Fatalf("historical key material changed")
	}
}

func TestUpsertRejectsBadInput(t *testing.T) {
	svc := keys.New(storetest.Open(t), nil)
	ctx := context.Background()
	pk, _ := newPublicKey(t)

	cases := []keys.UpsertInput{
		{PublicKey: "not-base64!", DeviceLabel: "x"},
		{PublicKey: pk, Fingerprint: strings.Repeat("ab", 32), DeviceLabel: "x"},
	}
	for i, in := range cases {
		if _, _, err := svc.Upsert(ctx, uuid.New(), in); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestGetPicksNewestAcrossDevices(t *testing.T) {
	svc := keys.New(storetest.Open(t), nil)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.Get(ctx, userID, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before registration, got %v", err)
	}

	pkA, _ := newPublicKey(t)
	a, _, err := svc.Upsert(ctx, userID, keys.UpsertInput{PublicKey: pkA, DeviceLabel: "phone"})
	if err != nil {
		t.Fatalf("upsert phone: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	pkB, _ := newPublicKey(t)
	b, _, err := svc.Upsert(ctx, userID, keys.UpsertInput{PublicKey: pkB})
	if err != nil {
		t.Fatalf("upsert default: %v", err)
	}
	if b.DeviceLabel != keys.DefaultDeviceLabel {
		t.Fatalf("expected default label, got %q", b.DeviceLabel)
	}

	own, err := svc.GetOwn(ctx, domain.Caller{UserID: userID})
	if err != nil {
		t.Fatalf("get own: %v", err)
	}
	if own.ID != b.ID {
		t.Fatalf("expected newest key %s, got %s", b.ID, own.ID)
	}
	phone, err := svc.Get(ctx, userID, "phone")
	if err != nil || phone.ID != a.ID {
		t.Fatalf("expected phone key %s, got %s (%v)", a.ID, phone.ID, err)
	}
}

func TestRedisCacheInvalidatedOnRotate(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := keys.NewRedisCache(mr.Addr(), "", time.Minute)
	defer cache.Close()
	svc := keys.New(storetest.Open(t), cache)
	ctx := context.Background()
	userID := uuid.New()

	pk1, _ := newPublicKey(t)
	first, _, err := svc.Upsert(ctx, userID, keys.UpsertInput{PublicKey: pk1, DeviceLabel: "laptop"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := svc.Get(ctx, userID, "laptop"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	cacheKey := "chatd:keys:" + userID.String() + ":laptop"
	if !mr.Exists(cacheKey) {
		t.Fatalf("expected %s to be cached", cacheKey)
	}

	cached, err := cache.Get(ctx, userID, "laptop")
	if err != nil || cached == nil || cached.ID != first.ID {
		t.Fatalf("cache returned %+v, %v", cached, err)
	}

	pk2, _ := newPublicKey(t)
	second, _, err := svc.Upsert(ctx, userID, keys.UpsertInput{PublicKey: pk2, DeviceLabel: "laptop"})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if mr.Exists(cacheKey) {
		t.Fatalf("expected rotate to invalidate the cached key")
	}
	got, err := svc.Get(ctx, userID, "laptop")
	if err != nil || got.ID != second.ID {
		t.Fatalf("expected rotated key after invalidation, got %s (%v)", got.ID, err)
	}
}

// rotatingCache runs onPut once, just before the first cache write.
type rotatingCache struct {
	keys.Cache
	onPut func()
}

func (c *rotatingCache) Put(ctx context.Context, label string, key domain.UserPublicKey) error {
	if f := c.onPut; f != nil {
		c.onPut = nil
		f()
	}
	return c.Cache.Put(ctx, label, key)
}

func TestCacheFillRacingRotationIsDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache := keys.NewRedisCache(mr.Addr(), "", time.Minute)
	defer redisCache.Close()
	cache := &rotatingCache{Cache: redisCache}
	svc := keys.New(storetest.Open(t), cache)
	ctx := context.Background()
	userID := uuid.New()

	pk1, _ := newPublicKey(t)
	first, _, err := svc.Upsert(ctx, userID, keys.UpsertInput{PublicKey: pk1, DeviceLabel: "laptop"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var second domain.UserPublicKey
	cache.onPut = func() {
		pk2, _ := newPublicKey(t)
		second, _, err = svc.Upsert(ctx, userID, keys.UpsertInput{PublicKey: pk2, DeviceLabel: "laptop"})
		if err != nil {
			t.Fatalf("rotate during fill: %v", err)
		}
	}
	got, err := svc.Get(ctx, userID, "laptop")
	if err != nil || got.ID != first.ID {
		t.Fatalf("first read = %s (%v), want %s", got.ID, err, first.ID)
	}
	if mr.Exists("chatd:keys:" + userID.String() + ":laptop") {
		t.Fatalf("stale key left in cache after concurrent rotation")
	}

	got, err = svc.Get(ctx, userID, "laptop")
	if err != nil || got.ID != second.ID {
		t.Fatalf("expected rotated key %s, got %s (%v)", second.ID, got.ID, err)
	}
}
