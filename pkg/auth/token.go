// Package auth verifies the HS256 bearer tokens presented to the API.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/codevault-backend/pkg/config"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
)

const clockSkew = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

var signingMethod = jwt.SigningMethodHS256

// Principal is the caller a verified token speaks for.
type Principal struct {
	UserID  uuid.UUID
	Role    enums.UserRole
	TokenID string
}

// claims carries the user id in "sub".
type claims struct {
	Role enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	return &Verifier{
		key: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}, nil
}

// Verify checks signature, issuer and expiry. Every failure wraps ErrInvalidToken or
// ErrExpiredToken.
func (v *Verifier) Verify(raw string) (Principal, error) {
	var c claims
	_, err := v.parser.ParseWithClaims(strings.TrimSpace(raw), &c, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Principal{}, ErrExpiredToken
	case err != nil:
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil || userID == uuid.Nil {
		return Principal{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	if !c.Role.IsValid() {
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	return Principal{UserID: userID, Role: c.Role, TokenID: c.ID}, nil
}

// Sign mints a token for p valid from issuedAt. Production tokens come from the identity
// service; this exists for local tooling and tests.
func Sign(cfg config.JWTConfig, p Principal, issuedAt time.Time) (string, error) {
	if cfg.Secret == "" || cfg.Issuer == "" {
		return "", errors.New("jwt secret and issuer are required")
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", errors.New("jwt expiration minutes must be positive")
	}
	if p.UserID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	if !p.Role.IsValid() {
		return "", fmt.Errorf("invalid user role %q", p.Role)
	}
	if p.TokenID == "" {
		p.TokenID = uuid.NewString()
	}

	token := jwt.NewWithClaims(signingMethod, claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			Issuer:    cfg.Issuer,
			ID:        p.TokenID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
		},
	})
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}
