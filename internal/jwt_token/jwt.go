// Package jwttoken issues and validates the HS256 bearer tokens merchants may
// present instead of the shared API key.
package jwttoken

import (
	"errors"
	"time"

	dErrors "payguard/pkg/domain-errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer   = "payguard"
	DefaultAudience = "payguard-api"
)

// Claims are the claims carried by merchant access tokens.
type Claims struct {
	MerchantID string `json:"merchant_id"`
	jwt.RegisteredClaims
}

// Signer issues and validates merchant tokens with one shared secret.
type Signer struct {
	key      []byte
	issuer   string
	audience string
	now      func() time.Time
}

type Option func(*Signer)

func WithIssuer(issuer string) Option {
	return func(s *Signer) { s.issuer = issuer }
}

func WithAudience(audience string) Option {
	return func(s *Signer) { s.audience = audience }
}

// WithClock overrides the time source used for iat, exp and validation.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	s := &Signer{
		key:      []byte(secret),
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for merchantID that expires after ttl.
func (s *Signer) Issue(merchantID string, ttl time.Duration) (string, error) {
	if merchantID == "" {
		return "", dErrors.New(dErrors.CodeValidation, "merchant id is required")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		MerchantID: merchantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   merchantID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.key)
}

// Validate verifies signature, issuer, audience and expiry. Every failure is
// CodeUnauthorized; expiry gets its own message.
func (s *Signer) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.key, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
	case err != nil:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	case claims.MerchantID == "":
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
