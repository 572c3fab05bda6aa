package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type BasicAuthEngine struct {
	Username string
	Password string
}

func NewBasicAuthEngine(username string, password string) *BasicAuthEngine {
	return &BasicAuthEngine{
		Username: username,
		Password: password,
	}
}

// AuthenticateRequest checks the Authorization header for Basic credentials
// matching the configured pair.
func (e *BasicAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	if !equal(user, e.Username) || !equal(pass, e.Password) {
		return nil, nil
	}
	return &User{Name: user}, nil
}

const BearerPrefix = "Bearer "

// TokenAuthEngine accepts a static bearer token and reports the caller as
// Name.
type TokenAuthEngine struct {
	Name  string
	Token string
}

func NewTokenAuthEngine(name string, token string) *TokenAuthEngine {
	return &TokenAuthEngine{
		Name:  name,
		Token: token,
	}
}

func (e *TokenAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, BearerPrefix) {
		return nil, nil
	}

	if !equal(strings.TrimSpace(header[len(BearerPrefix):]), e.Token) {
		return nil, nil
	}
	return &User{Name: e.Name}, nil
}

func equal(a string, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
