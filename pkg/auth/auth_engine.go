// Package auth authenticates requests to the administrative endpoints.
package auth

import (
	"context"
	"net/http"
)

// User is the authenticated caller.
type User struct {
	Name string
}

type AuthEngine interface {

	// AuthenticateRequest inspects the request for credentials the engine
	// understands. It returns the caller when they are valid and nil
	// otherwise. An error means the credentials could not be checked.
	AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error)
}
