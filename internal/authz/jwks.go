package authz

import (
	"log/slog"
	"net/http"
	"time"

	"e2eechat/internal/observability/metrics"
	obsmw "e2eechat/internal/observability/middleware"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// JWTValidator verifies asymmetric tokens against a remote JWKS document that
// is refreshed in the background.
type JWTValidator struct {
	jwks   *keyfunc.JWKS
	issuer string
}

func NewJWTValidator(jwksURL, issuer string) (*JWTValidator, error) {
	options := keyfunc.Options{
		RefreshInterval:   time.Minute * 15,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			slog.Warn("jwks refresh failed", "error", err, "url", jwksURL)
		},
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{jwks: jwks, issuer: issuer}, nil
}

// Close stops the background refresh.
func (j *JWTValidator) Close() {
	j.jwks.EndBackground()
}

func (j *JWTValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues("jwks", result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())

		tokStr, err := bearer(r)
		if err != nil {
			result = "failure"
			http.Error(w, err.Error(), http.StatusUnauthorized)
			slog.Warn("jwks missing bearer", "request_id", reqID)
			return
		}

		token, err := jwt.Parse(tokStr, j.jwks.Keyfunc)
		if err != nil || !token.Valid {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("jwks invalid token", "error", err, "request_id", reqID)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			result = "failure"
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}
		caller, err := callerFromClaims(claims, j.issuer)
		if err != nil {
			result = "failure"
			http.Error(w, err.Error(), http.StatusUnauthorized)
			slog.Warn("jwks rejected claims", "error", err, "request_id", reqID)
			return
		}

		slog.Debug("auth passed", "method", "jwks", "user_id", caller.UserID, "request_id", reqID)
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}
