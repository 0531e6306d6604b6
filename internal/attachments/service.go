package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"e2eechat/internal/domain"
	"e2eechat/internal/store"

	"github.com/google/uuid"
)

const (
	DefaultMaxUploadBytes = 25 << 20
	defaultURLExpiry      = 15 * time.Minute
)

type Config struct {
	MaxUploadBytes int64
	// PublicBaseURL prefixes content URLs when the object store cannot
	// presign, e.g. "https://chat.example.com".
	PublicBaseURL string
	URLExpiry     time.Duration
}

type UploadInput struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// View is attachment metadata plus a download URL for the caller.
type View struct {
	Meta domain.AttachmentMeta
	URL  string
}

type Service struct {
	store   *store.Store
	objects ObjectStore
	cfg     Config
	now     func() time.Time
}

func New(st *store.Store, objects ObjectStore, cfg Config) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = defaultURLExpiry
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Service{store: st, objects: objects, cfg: cfg, now: time.Now}
}

// Upload stores the bytes opaquely and records unattached metadata. The
// upload is linked to a message when that message is sent.
func (s *Service) Upload(ctx context.Context, caller domain.Caller, conversationID uuid.UUID, in UploadInput) (View, error) {
	if _, err := s.authorize(ctx, caller, conversationID); err != nil {
		return View{}, err
	}
	if in.Body == nil {
		return View{}, fmt.Errorf("%w: file is required", domain.ErrInvalidInput)
	}
	data, err := io.ReadAll(io.LimitReader(in.Body, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return View{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return View{}, fmt.Errorf("%w: file is empty", domain.ErrInvalidInput)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return View{}, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidInput, s.cfg.MaxUploadBytes)
	}

	contentType := normalizeContentType(in.ContentType, data)
	name := safeFilename(in.FileName)
	meta := domain.AttachmentMeta{
		ID:             uuid.New(),
		ConversationID: conversationID,
		UploaderID:     caller.UserID,
		FileName:       name,
		ContentType:    contentType,
		Size:           int64(len(data)),
		Category:       Category(contentType),
		CreatedAt:      s.now().UTC(),
	}
	meta.StorageKey = fmt.Sprintf("conversations/%s/%s/%s", conversationID, meta.ID, name)
	if meta.Category == domain.CategoryImage {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			meta.Width, meta.Height = &cfg.Width, &cfg.Height
		}
	}

	if err := s.objects.Put(ctx, meta.StorageKey, bytes.NewReader(data), meta.Size, contentType); err != nil {
		return View{}, err
	}
	if err := s.store.Attachments().Create(ctx, &meta); err != nil {
		if delErr := s.objects.Delete(context.WithoutCancel(ctx), meta.StorageKey); delErr != nil {
			slog.Warn("attachment cleanup failed", "error", delErr, "storage_key", meta.StorageKey)
		}
		return View{}, err
	}
	return s.view(ctx, meta)
}

// Get returns one attachment the caller can see through conversation membership.
func (s *Service) Get(ctx context.Context, caller domain.Caller, id uuid.UUID) (View, error) {
	meta, err := s.visible(ctx, caller, id)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, *meta)
}

// GetBatch resolves several ids at once. Ids the caller cannot see are
// skipped rather than failing the batch.
func (s *Service) GetBatch(ctx context.Context, caller domain.Caller, ids []uuid.UUID) ([]View, error) {
	metas, err := s.store.Attachments().ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	allowed := make(map[uuid.UUID]bool)
	views := make([]View, 0, len(metas))
	for _, meta := range metas {
		ok, seen := allowed[meta.ConversationID]
		if !seen {
			_, err := s.authorize(ctx, caller, meta.ConversationID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			ok = err == nil
			allowed[meta.ConversationID] = ok
		}
		if !ok {
			continue
		}
		v, err := s.view(ctx, meta)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Open streams the stored bytes. The caller closes the reader.
func (s *Service) Open(ctx context.Context, caller domain.Caller, id uuid.UUID) (io.ReadCloser, domain.AttachmentMeta, error) {
	meta, err := s.visible(ctx, caller, id)
	if err != nil {
		return nil, domain.AttachmentMeta{}, err
	}
	body, err := s.objects.Get(ctx, meta.StorageKey)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, domain.AttachmentMeta{}, fmt.Errorf("%w: attachment content", domain.ErrNotFound)
		}
		return nil, domain.AttachmentMeta{}, err
	}
	return body, *meta, nil
}

// PurgeOrphans removes uploads that were never sent and are older than maxAge.
func (s *Service) PurgeOrphans(ctx context.Context, maxAge time.Duration) (int, error) {
	orphans, err := s.store.Attachments().Orphans(ctx, s.now().UTC().Add(-maxAge), 500)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, meta := range orphans {
		n, err := s.store.Attachments().Delete(ctx, meta.ID)
		if err != nil {
			return purged, err
		}
		if n == 0 {
			// Linked to a message after the listing.
			continue
		}
		purged++
		if err := s.objects.Delete(ctx, meta.StorageKey); err != nil {
			slog.Warn("orphan object delete failed", "error", err, "attachment_id", meta.ID, "storage_key", meta.StorageKey)
		}
	}
	return purged, nil
}

// Category buckets a content type into image or document.
func Category(contentType string) string {
	if strings.HasPrefix(contentType, "image/") {
		return domain.CategoryImage
	}
	return domain.CategoryDocument
}

func (s *Service) visible(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.AttachmentMeta, error) {
	meta, err := s.store.Attachments().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: attachment", domain.ErrNotFound)
		}
		return nil, err
	}
	if _, err := s.authorize(ctx, caller, meta.ConversationID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: attachment", domain.ErrNotFound)
		}
		return nil, err
	}
	return meta, nil
}

func (s *Service) authorize(ctx context.Context, caller domain.Caller, conversationID uuid.UUID) (*domain.Conversation, error) {
	conv, _, err := s.store.Membership(ctx, caller, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: conversation", domain.ErrNotFound)
		}
		return nil, err
	}
	return conv, nil
}

func (s *Service) view(ctx context.Context, meta domain.AttachmentMeta) (View, error) {
	if p, ok := s.objects.(Presigner); ok {
		u, err := p.PresignGet(ctx, meta.StorageKey, meta.FileName, s.cfg.URLExpiry)
		if err != nil {
			return View{}, err
		}
		return View{Meta: meta, URL: u}, nil
	}
	return View{Meta: meta, URL: fmt.Sprintf("%s/v1/attachments/%s/content", s.cfg.PublicBaseURL, meta.ID)}, nil
}

func normalizeContentType(declared string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	if sniffed == "" {
		return "application/octet-stream"
	}
	return sniffed
}
