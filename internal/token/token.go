// Package token issues and verifies the short-lived bearer tokens that carry
// a session identifier (jti). Signature validity alone never grants access:
// callers must confirm session liveness against the session cache.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken covers bad signatures, expired tokens and tokens
	// missing a session identifier. Callers must not distinguish these
	// cases to avoid leaking token state.
	ErrInvalidToken = errors.New("invalid token")
)

// Config holds token signing parameters.
type Config struct {
	Secret    []byte
	TTL       time.Duration // defaults to 24h
	Issuer    string
	ClockSkew time.Duration
}

// Claims is the verified token payload.
type Claims struct {
	UID  string `json:"uid"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and verifies access tokens with a process-wide HS256 secret.
type Service struct {
	config Config
}

// NewService validates the signing configuration and returns a token Service.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ClockSkew < 0 || cfg.ClockSkew > 2*time.Minute {
		return nil, errors.New("invalid clock skew configuration")
	}
	return &Service{config: cfg}, nil
}

// TTL reports the configured token lifetime. The session cache TTL must be
// set consistently so a structurally valid but orphaned token is rejected.
func (s *Service) TTL() time.Duration {
	return s.config.TTL
}

// Issue produces a signed token for the account carrying a freshly generated
// session identifier. The jti is returned alongside the token so the caller
// can key the session cache with it.
func (s *Service) Issue(accountID, role string) (string, string, error) {
	jti := uuid.NewString()
	now := time.Now()

	claims := Claims{
		UID:  accountID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TTL)),
		},
	}
	if s.config.Issuer != "" {
		claims.Issuer = s.config.Issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// Verify checks signature and expiry and returns the payload. It fails with
// ErrInvalidToken if the signature does not match, the token is expired, or
// the payload lacks a session identifier.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.config.ClockSkew > 0 {
		options = append(options, jwt.WithLeeway(s.config.ClockSkew))
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return s.config.Secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
