package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"e2eechat/internal/domain"
	"e2eechat/internal/observability/metrics"
	"e2eechat/internal/store"
	"e2eechat/pkg/cryptocore"

	"github.com/google/uuid"
)

// DefaultDeviceLabel is used when a client does not name its device.
const DefaultDeviceLabel = "default"

// Outcome describes what an upsert did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeRotated   Outcome = "rotated"
)

type UpsertInput struct {
	PublicKey   string
	Fingerprint string
	DeviceLabel string
}

type Service struct {
	store *store.Store
	cache Cache
	now   func() time.Time
}

func New(st *store.Store, cache Cache) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{store: st, cache: cache, now: time.Now}
}

// Upsert makes the given public key the active key for (user, label).
// Re-submitting the active key is a no-op; a different key revokes the
// previous one, which stays readable through GetByID.
func (s *Service) Upsert(ctx context.Context, userID uuid.UUID, in UpsertInput) (domain.UserPublicKey, Outcome, error) {
	if userID == uuid.Nil {
		return domain.UserPublicKey{}, "", fmt.Errorf("%w: missing user", domain.ErrInvalidInput)
	}
	pub, err := cryptocore.ParsePublicKey(strings.TrimSpace(in.PublicKey))
	if err != nil {
		return domain.UserPublicKey{}, "", fmt.Errorf("%w: publicKey is not a P-256 key", domain.ErrInvalidInput)
	}
	exported, err := pub.Export()
	if err != nil {
		return domain.UserPublicKey{}, "", err
	}
	fingerprint := pub.Fingerprint()
	if claimed := strings.ToLower(strings.TrimSpace(in.Fingerprint)); claimed != "" && claimed != fingerprint {
		return domain.UserPublicKey{}, "", fmt.Errorf("%w: fingerprint does not match publicKey", domain.ErrInvalidInput)
	}
	label := strings.TrimSpace(in.DeviceLabel)
	if label == "" {
		label = DefaultDeviceLabel
	}

	var (
		stored  domain.UserPublicKey
		outcome Outcome
	)
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		current, err := tx.Keys().ActiveForUpdate(ctx, userID, label)
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			outcome = OutcomeCreated
		case err != nil:
			return err
		case current.Fingerprint == fingerprint:
			stored = *current
			outcome = OutcomeUnchanged
			return nil
		default:
			outcome = OutcomeRotated
		}

		now := s.now().UTC()
		if current != nil {
			if err := tx.Keys().Revoke(ctx, current.ID, now); err != nil {
				return err
			}
		}
		stored = domain.UserPublicKey{
			UserID:      userID,
			DeviceLabel: label,
			PublicKey:   exported,
			Fingerprint: fingerprint,
			CreatedAt:   now,
		}
		return tx.Keys().Create(ctx, &stored)
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return domain.UserPublicKey{}, "", fmt.Errorf("%w: concurrent key registration for %q", domain.ErrConflict, label)
		}
		return domain.UserPublicKey{}, "", err
	}

	if outcome != OutcomeUnchanged {
		if err := s.cache.Invalidate(ctx, userID, label); err != nil {
			slog.Warn("key cache invalidate failed", "error", err, "user_id", userID)
		}
	}
	return stored, outcome, nil
}

// Get returns the user's active key for label, or the newest active key on
// any device when label is empty.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, label string) (domain.UserPublicKey, error) {
	label = strings.TrimSpace(label)
	if cached, err := s.cache.Get(ctx, userID, label); err != nil {
		slog.Warn("key cache read failed", "error", err, "user_id", userID)
	} else if cached != nil {
		metrics.KeyCacheLookupsTotal.WithLabelValues("hit").Inc()
		return *cached, nil
	}
	metrics.KeyCacheLookupsTotal.WithLabelValues("miss").Inc()

	key, err := s.store.Keys().Active(ctx, userID, label)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return domain.UserPublicKey{}, fmt.Errorf("%w: no active key for user", domain.ErrNotFound)
		}
		return domain.UserPublicKey{}, err
	}
	s.fill(ctx, userID, label, *key)
	return *key, nil
}

// fill caches key, then re-reads the active row. An upsert that committed
// between the read and the write has already invalidated, so the entry just
// written would be stale; it is dropped again.
func (s *Service) fill(ctx context.Context, userID uuid.UUID, label string, key domain.UserPublicKey) {
	if err := s.cache.Put(ctx, label, key); err != nil {
		slog.Warn("key cache write failed", "error", err, "user_id", userID)
		return
	}
	current, err := s.store.Keys().Active(ctx, userID, label)
	if err == nil && current.ID == key.ID {
		return
	}
	if err := s.cache.Invalidate(ctx, userID, label); err != nil {
		slog.Warn("key cache invalidate failed", "error", err, "user_id", userID)
	}
}

// GetOwn is Get for the caller's newest key on any device.
func (s *Service) GetOwn(ctx context.Context, caller domain.Caller) (domain.UserPublicKey, error) {
	return s.Get(ctx, caller.UserID, "")
}

// GetByID returns any key record, including revoked ones, so old messages
// can be decrypted with the key they were sealed under.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (domain.UserPublicKey, error) {
	key, err := s.store.Keys().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return domain.UserPublicKey{}, fmt.Errorf("%w: key", domain.ErrNotFound)
		}
		return domain.UserPublicKey{}, err
	}
	return *key, nil
}
