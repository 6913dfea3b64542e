// Package auth resolves bearer tokens into user ids.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/PabloGalante/personai/internal/domain"
)

// JWTVerifier accepts HS256 tokens signed with a shared secret. The user id
// is the `sub` claim.
type JWTVerifier struct {
	secret []byte
	skew   time.Duration
}

var _ domain.Authenticator = (*JWTVerifier)(nil)

func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTVerifier{secret: []byte(secret), skew: 30 * time.Second}, nil
}

func (v *JWTVerifier) Authenticate(_ context.Context, token string) (domain.UserID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", domain.ErrUnauthorized
	}

	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256(), v.secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.skew),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	sub, ok := tok.Subject()
	if !ok || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	return domain.UserID(sub), nil
}

// Sign issues a token for userID. Used by tests and local tooling.
func (v *JWTVerifier) Sign(userID domain.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(string(userID)).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), v.secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}
