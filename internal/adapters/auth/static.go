package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/PabloGalante/personai/internal/domain"
)

// StaticVerifier maps fixed tokens to users. Meant for local mode.
type StaticVerifier struct {
	tokens map[string]domain.UserID
}

var _ domain.Authenticator = (*StaticVerifier)(nil)

// NewStaticVerifier parses "token:user_id" entries.
func NewStaticVerifier(entries []string) (*StaticVerifier, error) {
	v := &StaticVerifier{tokens: make(map[string]domain.UserID, len(entries))}
	for _, e := range entries {
		token, user, ok := strings.Cut(strings.TrimSpace(e), ":")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("static token entry %q: want token:user_id", e)
		}
		v.tokens[token] = domain.UserID(user)
	}
	return v, nil
}

func (v *StaticVerifier) Authenticate(_ context.Context, token string) (domain.UserID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", domain.ErrUnauthorized
	}
	for known, user := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return user, nil
		}
	}
	return "", domain.ErrUnauthorized
}
