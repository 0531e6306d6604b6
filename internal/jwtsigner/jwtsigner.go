// Package jwtsigner issues HS256 bearer tokens accepted by authz.HMACValidator.
// It backs local development and tests; production deployments normally sit
// behind an identity provider validated through JWKS.
package jwtsigner

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Signer struct {
	secret []byte
	Issuer string
}

func New(secret, iss string) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("hmac secret must be at least 16 bytes")
	}
	return &Signer{secret: []byte(secret), Issuer: iss}, nil
}

// Sign issues a token for userID within companyID.
func (s *Signer) Sign(userID, companyID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	m := jwt.MapClaims{
		"sub":     userID.String(),
		"company": companyID.String(),
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	if s.Issuer != "" {
		m["iss"] = s.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, m).SignedString(s.secret)
}
