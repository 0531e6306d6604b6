package authz

import (
	"fmt"
	"log/slog"
	"net/http"

	"e2eechat/internal/observability/metrics"
	obsmw "e2eechat/internal/observability/middleware"

	"github.com/golang-jwt/jwt/v5"
)

type HMACValidator struct {
	secret []byte
	issuer string
}

func NewHMACValidator(secret, issuer string) *HMACValidator {
	return &HMACValidator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

func (h *HMACValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues("hmac", result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())

		tokStr, err := bearer(r)
		if err != nil {
			result = "failure"
			http.Error(w, err.Error(), http.StatusUnauthorized)
			slog.Warn("auth missing bearer", "request_id", reqID)
			return
		}

		token, err := jwt.Parse(tokStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
			}
			return h.secret, nil
		})
		if err != nil || !token.Valid {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("auth invalid token", "error", err, "request_id", reqID)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			result = "failure"
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}
		caller, err := callerFromClaims(claims, h.issuer)
		if err != nil {
			result = "failure"
			http.Error(w, err.Error(), http.StatusUnauthorized)
			slog.Warn("auth rejected claims", "error", err, "request_id", reqID)
			return
		}

		slog.Debug("auth passed", "method", "hmac", "user_id", caller.UserID, "request_id", reqID)
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}
