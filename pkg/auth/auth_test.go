package auth_test

import (
	"net/http"
	"net/http/httptest"
	"pithos/pkg/auth"
	"testing"

	"github.com/stretchr/testify/require"
)

func request(t *testing.T) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodPost, "/reconcile", nil)
}

func TestBasicAuthEngine(t *testing.T) {
	t.Parallel()

	engine := auth.NewBasicAuthEngine("admin", "secret")

	tests := []struct {
		name     string
		setup    func(r *http.Request)
		wantUser string
	}{
		{name: "no credentials", setup: func(r *http.Request) {}},
		{name: "wrong password", setup: func(r *http.Request) { r.SetBasicAuth("admin", "guess") }},
		{name: "wrong user", setup: func(r *http.Request) { r.SetBasicAuth("root", "secret") }},
		{name: "valid", setup: func(r *http.Request) { r.SetBasicAuth("admin", "secret") }, wantUser: "admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := request(t)
			tt.setup(r)

			user, err := engine.AuthenticateRequest(t.Context(), r)
			require.NoError(t, err)
			if tt.wantUser == "" {
				require.Nil(t, user)
				return
			}
			require.NotNil(t, user)
			require.Equal(t, tt.wantUser, user.Name)
		})
	}
}

func TestTokenAuthEngine(t *testing.T) {
	t.Parallel()

	engine := auth.NewTokenAuthEngine("quotaholder", "s3cr3t")

	r := request(t)
	r.Header.Set("Authorization", "Bearer s3cr3t")
	user, err := engine.AuthenticateRequest(t.Context(), r)
	require.NoError(t, err)
	require.Equal(t, &auth.User{Name: "quotaholder"}, user)

	r = request(t)
	r.Header.Set("Authorization", "Bearer other")
	user, err = engine.AuthenticateRequest(t.Context(), r)
	require.NoError(t, err)
	require.Nil(t, user)

	r = request(t)
	r.SetBasicAuth("quotaholder", "s3cr3t")
	user, err = engine.AuthenticateRequest(t.Context(), r)
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestCompoundAuthEngine(t *testing.T) {
	t.Parallel()

	engine := auth.NewCompoundAuthEngine(
		auth.NewBasicAuthEngine("admin", "secret"),
		auth.NewTokenAuthEngine("service", "token"),
	)
	require.Equal(t, 2, engine.Len())

	r := request(t)
	r.Header.Set("Authorization", "Bearer token")
	user, err := engine.AuthenticateRequest(t.Context(), r)
	require.NoError(t, err)
	require.Equal(t, "service", user.Name)

	r = request(t)
	r.SetBasicAuth("admin", "secret")
	user, err = engine.AuthenticateRequest(t.Context(), r)
	require.NoError(t, err)
	require.Equal(t, "admin", user.Name)

	user, err = engine.AuthenticateRequest(t.Context(), request(t))
	require.NoError(t, err)
	require.Nil(t, user)
}
