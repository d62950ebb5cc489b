package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"net/http"
	"strings"
)

// QueryAuthenticator trusts the userId handshake query value.
// A missing value or the literal "undefined" yields an anonymous identity.
type QueryAuthenticator struct{}

func NewQueryAuthenticator() QueryAuthenticator {
	return QueryAuthenticator{}
}

func (QueryAuthenticator) Authenticate(r *http.Request) (domain.Identity, error) {
	return domain.ParseIdentity(r.URL.Query().Get("userId")), nil
}

// TokenAuthenticator accepts an HS256 JWT from the token query value or the
// Authorization header. Handshakes without a token are anonymous, invalid
// tokens are rejected.
type TokenAuthenticator struct {
	secret []byte
}

func NewTokenAuthenticator(secret string) TokenAuthenticator {
	return TokenAuthenticator{secret: []byte(secret)}
}

func (a TokenAuthenticator) Authenticate(r *http.Request) (domain.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Anonymous, nil
	}
	claims, err := ValidateToken(a.secret, token)
	if err != nil {
		return domain.Anonymous, fmt.Errorf("%w: %w", errors.ErrUnauthenticated, err)
	}
	return domain.ParseIdentity(claims.UserID), nil
}
