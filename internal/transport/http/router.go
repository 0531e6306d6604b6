package http

import (
	"net/http"
	"strings"
	"time"

	"e2eechat/internal/attachments"
	"e2eechat/internal/authz"
	"e2eechat/internal/conversations"
	"e2eechat/internal/httpx"
	"e2eechat/internal/keys"
	"e2eechat/internal/messages"
	obsmw "e2eechat/internal/observability/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Keys          *keys.Service
	Conversations *conversations.Service
	Messages      *messages.Service
	Attachments   *attachments.Service
	Auth          authz.Authenticator

	CORSOrigins        []string
	RateLimitPerMinute int
	RequestTimeout     time.Duration
	MaxUploadBytes     int64
}

type Handler struct {
	keys        *keys.Service
	convs       *conversations.Service
	msgs        *messages.Service
	attachments *attachments.Service
	maxUpload   int64
}

func NewRouter(d Deps) http.Handler {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = attachments.DefaultMaxUploadBytes
	}
	h := &Handler{
		keys:        d.Keys,
		convs:       d.Conversations,
		msgs:        d.Messages,
		attachments: d.Attachments,
		maxUpload:   d.MaxUploadBytes,
	}

	r := chi.NewRouter()
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(chimw.RealIP)
	r.Use(httpx.AccessLog)
	r.Use(chimw.Recoverer)
	r.Use(obsmw.WithMetrics)
	r.Use(chimw.Timeout(d.RequestTimeout))
	if d.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(d.RateLimitPerMinute, time.Minute))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsIfSet(d.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Trace-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(d.Auth.Middleware)

		r.Route("/keys", func(r chi.Router) {
			r.Put("/", h.upsertKey)
			r.Get("/me", h.ownKey)
			r.Get("/users/{userID}", h.userKey)
			r.Get("/id/{keyID}", h.keyByID)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.listConversations)
			r.Post("/personal", h.openPersonal)
			r.Post("/groups", h.createGroup)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getConversation)
				r.Patch("/", h.renameConversation)
				r.Delete("/", h.deleteConversation)
				r.Post("/members", h.addMembers)
				r.Delete("/members/{userID}", h.removeMember)
				r.Post("/leave", h.leaveConversation)
				r.Post("/read", h.markRead)
				r.Post("/archive", h.archive)
				r.Post("/unarchive", h.unarchive)
				r.Post("/clear", h.clearConversation)
				r.Get("/messages", h.listMessages)
				r.Post("/messages", h.sendMessage)
				r.Post("/attachments", h.uploadAttachment)
			})
		})

		r.Delete("/messages/{id}", h.deleteMessage)

		r.Get("/attachments", h.attachmentBatch)
		r.Get("/attachments/{id}", h.getAttachment)
		r.Get("/attachments/{id}/content", h.attachmentContent)

		r.Get("/unread", h.unread)
	})

	return r
}

func originsIfSet(in []string) []string {
	out := []string{}
	for _, o := range in {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
