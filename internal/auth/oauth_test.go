package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// newFakeGoogle serves a token endpoint and a userinfo endpoint.
func newFakeGoogle(t *testing.T, userinfoStatus int, userinfo string) *GoogleProvider {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(userinfoStatus)
		w.Write([]byte(userinfo))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	endpoint := oauth2.Endpoint{
		AuthURL:   srv.URL + "/auth",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return newGoogleProvider("client-id", "client-secret", "http://localhost:8080/auth/google/callback", endpoint, srv.URL+"/userinfo")
}

func TestGoogleProvider_AuthURL(t *testing.T) {
	p := NewGoogleProvider("client-id", "secret", "http://localhost:8080/auth/google/callback")

	u, err := url.Parse(p.AuthURL("state-abc"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "state-abc", q.Get("state"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Contains(t, q.Get("scope"), "email")
}

func TestGoogleProvider_Exchange(t *testing.T) {
	p := newFakeGoogle(t, http.StatusOK,
		`{"sub":"1234567890","name":"Jane Doe","email":"Jane@Gmail.com","picture":"https://example.com/a.png"}`)

	profile, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal(t, "1234567890", profile.Subject)
	assert.Equal(t, "Jane Doe", profile.Name)
	assert.Equal(t, "jane@gmail.com", profile.Email)
	assert.Equal(t, "https://example.com/a.png", profile.Picture)
}

func TestGoogleProvider_ExchangeFailures(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		status   int
		userinfo string
	}{
		{"bad code", "bad-code", http.StatusOK, `{"sub":"1","email":"a@b.c"}`},
		{"userinfo error", "good-code", http.StatusInternalServerError, `{}`},
		{"missing subject", "good-code", http.StatusOK, `{"email":"a@b.c"}`},
		{"missing email", "good-code", http.StatusOK, `{"sub":"1"}`},
		{"malformed json", "good-code", http.StatusOK, `{"sub":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeGoogle(t, tt.status, tt.userinfo)
			_, err := p.Exchange(context.Background(), tt.code)
			assert.Error(t, err)
		})
	}
}
