// Package authz turns bearer tokens into a domain.Caller. Tokens carry the
// user id in "sub" and the tenant in "company".
package authz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"e2eechat/internal/domain"

	"github.com/google/uuid"
)

const ClaimCompany = "company"

var (
	errMissingBearer = errors.New("missing bearer token")
	errNoSubject     = errors.New("no subject")
	errNoCompany     = errors.New("no company")
)

// Authenticator is satisfied by both validators.
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func CallerFrom(ctx context.Context) (domain.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(domain.Caller)
	return c, ok
}

func bearer(r *http.Request) (string, error) {
	raw := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return "", errMissingBearer
	}
	tok := strings.TrimSpace(raw[len("Bearer "):])
	if tok == "" {
		return "", errMissingBearer
	}
	return tok, nil
}

func callerFromClaims(claims map[string]any, issuer string) (domain.Caller, error) {
	if iss, _ := claims["iss"].(string); iss != "" && issuer != "" && iss != issuer {
		return domain.Caller{}, fmt.Errorf("issuer mismatch: %s", iss)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Caller{}, errNoSubject
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return domain.Caller{}, fmt.Errorf("subject is not a uuid: %w", err)
	}
	company, _ := claims[ClaimCompany].(string)
	if company == "" {
		return domain.Caller{}, errNoCompany
	}
	companyID, err := uuid.Parse(company)
	if err != nil {
		return domain.Caller{}, fmt.Errorf("company is not a uuid: %w", err)
	}
	return domain.Caller{UserID: userID, CompanyID: companyID}, nil
}
