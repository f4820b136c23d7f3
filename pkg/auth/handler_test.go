package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthenticator struct {
	err error
}

func (s stubAuthenticator) Authenticate(_ context.Context, email, key string) (*TokenResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	if email == "" || key == "" {
		return nil, ErrMissingCredentials
	}
	if key != authTestKey {
		return nil, ErrInvalidCredentials
	}
	return &TokenResponse{Success: true, Token: "signed", Message: "Authentication successful", ExpiresIn: 3600}, nil
}

func TestTokenHandler(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		body        string
		auth        stubAuthenticator
		wantStatus  int
		wantSuccess bool
	}{
		{name: "success", method: http.MethodPost, body: `{"email":"ops@example.com","apiKey":"tenant-api-key"}`, wantStatus: http.StatusOK, wantSuccess: true},
		{name: "wrong key", method: http.MethodPost, body: `{"email":"ops@example.com","apiKey":"nope"}`, wantStatus: http.StatusUnauthorized},
		{name: "missing key", method: http.MethodPost, body: `{"email":"ops@example.com"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed", method: http.MethodPost, body: `{`, wantStatus: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
		{name: "backend failure", method: http.MethodPost, body: `{"email":"a@b.c","apiKey":"k"}`, auth: stubAuthenticator{err: errors.New("boom")}, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/auth/token", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			TokenHandler(tt.auth).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp TokenResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.NotEmpty(t, resp.Message)
			if tt.wantSuccess {
				assert.Equal(t, "signed", resp.Token)
				assert.Equal(t, int64(3600), resp.ExpiresIn)
			} else {
				assert.Empty(t, resp.Token)
			}
		})
	}
}

func TestTokenHandlerWithService(t *testing.T) {
	svc, tn := newTestService(t, nil)
	srv := httptest.NewServer(TokenHandler(svc))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json",
		strings.NewReader(`{"email":"ops@example.com","apiKey":"`+authTestKey+`"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	id, err := svc.VerifyToken(body.Token)
	require.NoError(t, err)
	assert.Equal(t, tn.ID, id.TenantID)
}
