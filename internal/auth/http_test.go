// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, the dev fallback and the admin gate

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureAuth(got **AuthContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestHTTPAuthMiddleware(t *testing.T) {
	verifier := newTestVerifier(t)
	valid, err := verifier.Generate(Claims{AgentID: "agent-1", Name: "Ana", Admin: true}, time.Hour)
	require.NoError(t, err)
	expired, err := verifier.Generate(Claims{AgentID: "agent-1"}, -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"valid header", "Bearer " + valid, "", http.StatusOK, ""},
		{"valid query token", "", "?access_token=" + valid, http.StatusOK, ""},
		{"missing", "", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", "", http.StatusUnauthorized, "invalid authorization header format"},
		{"empty bearer", "Bearer ", "", http.StatusUnauthorized, "empty token"},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized, "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *AuthContext
			req := httptest.NewRequest(http.MethodGet, "/api/test"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			HTTPAuthMiddleware(verifier)(captureAuth(&got)).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, got)
				assert.Equal(t, "agent-1", got.AgentID)
				assert.Equal(t, "Ana", got.Name)
				assert.True(t, got.Admin)
			} else {
				assert.Nil(t, got)
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	var got *AuthContext
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevAgentHeader, "agent-7")
	req.Header.Set(DevAdminHeader, "true")
	DevAuthMiddleware()(captureAuth(&got)).ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "agent-7", got.AgentID)
	assert.True(t, got.Admin)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	DevAuthMiddleware()(captureAuth(&got)).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "dev-agent", got.AgentID)
	assert.False(t, got.Admin)
}

func TestRequireAdminHTTP(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name string
		auth *AuthContext
		want int
	}{
		{"unauthenticated", nil, http.StatusUnauthorized},
		{"agent", &AuthContext{AgentID: "a"}, http.StatusForbidden},
		{"admin", &AuthContext{AgentID: "a", Admin: true}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.auth != nil {
				req = req.WithContext(WithAuth(req.Context(), tt.auth))
			}
			rec := httptest.NewRecorder()
			RequireAdminHTTP()(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
