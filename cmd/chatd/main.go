package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"e2eechat/internal/attachments"
	"e2eechat/internal/authz"
	"e2eechat/internal/config"
	"e2eechat/internal/conversations"
	"e2eechat/internal/keys"
	"e2eechat/internal/messages"
	"e2eechat/internal/notify"
	"e2eechat/internal/observability/logging"
	"e2eechat/internal/observability/metrics"
	"e2eechat/internal/store"
	transport "e2eechat/internal/transport/http"
)

func main() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "chatd",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})

	slog.SetDefault(logger)
	metrics.MustRegister("chatd")

	logger.Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	logger = logging.NewLogger(logging.Config{
		ServiceName: "chatd",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("chatd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

// run serves until ctx is done. Every resource it opens is released before it
// returns, including on startup errors.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := store.Open(cfg.DBDriver, cfg.DatabaseURL, cfg.LogSQL)
	if err != nil {
		return fmt.Errorf("gorm open: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	st := store.New(db)
	if err := st.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	var cache keys.Cache = keys.NopCache{}
	if cfg.RedisAddr != "" {
		rc := keys.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.KeyCacheTTL)
		if err := rc.Ping(ctx); err != nil {
			// The cache is optional; keys are always served from the database.
			logger.Warn("redis unavailable, continuing without key cache", "error", err)
		}
		defer rc.Close()
		cache = rc
	}

	var publisher notify.Publisher = notify.NopPublisher{}
	if cfg.AMQPURL != "" {
		p, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	}

	objects, err := openObjectStore(cfg)
	if err != nil {
		return fmt.Errorf("object store %s: %w", cfg.StorageBackend, err)
	}

	auth, closeAuth, err := authenticator(cfg)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	defer closeAuth()

	attachmentSvc := attachments.New(st, objects, attachments.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		PublicBaseURL:  cfg.PublicBaseURL,
	})

	handler := transport.NewRouter(transport.Deps{
		Keys:               keys.New(st, cache),
		Conversations:      conversations.New(st),
		Messages:           messages.New(st, publisher),
		Attachments:        attachmentSvc,
		Auth:               auth,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxUploadBytes:     cfg.MaxUploadBytes,
	})

	if cfg.OrphanTTL > 0 {
		go sweepOrphans(ctx, attachmentSvc, cfg.OrphanTTL)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("chatd listening", "addr", cfg.Addr, "db", cfg.DBDriver, "storage", cfg.StorageBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func openObjectStore(cfg config.Config) (attachments.ObjectStore, error) {
	if cfg.StorageBackend == "minio" {
		m, err := attachments.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	f, err := attachments.NewFileStore(cfg.StorageDir)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func authenticator(cfg config.Config) (authz.Authenticator, func(), error) {
	if cfg.HS256Secret != "" {
		slog.Info("using HS256 shared-secret token validation")
		return authz.NewHMACValidator(cfg.HS256Secret, cfg.Issuer), func() {}, nil
	}
	slog.Info("using JWKS token validation", "jwks_url", cfg.JWKSURL)
	jv, err := authz.NewJWTValidator(cfg.JWKSURL, cfg.Issuer)
	if err != nil {
		return nil, nil, err
	}
	return jv, jv.Close, nil
}

func sweepOrphans(ctx context.Context, svc *attachments.Service, maxAge time.Duration) {
	interval := maxAge / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.PurgeOrphans(ctx, maxAge)
			if err != nil {
				slog.Warn("orphan sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("orphan attachments purged", "count", n)
			}
		}
	}
}
