package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func authHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	h := newAPIHarness(t)

	w, envelope := h.do(t, http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Unauthorized: no token provided.", envelope.Message)

	w, envelope = h.do(t, http.MethodGet, "/api/auth/me", "", authHeader("not-a-jwt"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Unauthorized: invalid token.", envelope.Message)
}

func TestBearerSchemeParsing(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"empty", "", ""},
		{"no scheme", "abc.def.ghi", ""},
		{"wrong scheme", "Basic abc", ""},
		{"bearer", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"case insensitive scheme", "bearer abc.def.ghi", "abc.def.ghi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, bearerToken(tt.header))
		})
	}
}

func TestMeReturnsPrincipal(t *testing.T) {
	h := newAPIHarness(t)

	acc := h.seedVerified(t, "a@b.com")
	tok := h.loginToken(t, "a@b.com")

	w, envelope := h.do(t, http.MethodGet, "/api/auth/me", "", authHeader(tok))
	require.Equal(t, http.StatusOK, w.Code)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, acc.ID, data["id"])
	require.Equal(t, acc.Email, data["email"])
	require.Equal(t, acc.Username, data["username"])
	require.Equal(t, acc.Role, data["role"])
}

func TestLogoutRevokesImmediately(t *testing.T) {
	h := newAPIHarness(t)

	h.seedVerified(t, "a@b.com")
	tok := h.loginToken(t, "a@b.com")

	w, _ := h.do(t, http.MethodGet, "/api/auth/me", "", authHeader(tok))
	require.Equal(t, http.StatusOK, w.Code)

	w, envelope := h.do(t, http.MethodPost, "/api/auth/logout", "", authHeader(tok))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Logged out.", envelope.Message)

	// The token still carries a valid signature, but the session is gone;
	// the response is the same 401 as for a token never issued.
	w, envelope = h.do(t, http.MethodGet, "/api/auth/me", "", authHeader(tok))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Unauthorized: invalid token.", envelope.Message)
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newAPIHarness(t)

	h.seedVerified(t, "a@b.com")
	tok := h.loginToken(t, "a@b.com")

	w, _ := h.do(t, http.MethodPost, "/api/auth/logout", "", authHeader(tok))
	require.Equal(t, http.StatusOK, w.Code)

	// A second logout with the revoked session fails authentication, not
	// the revocation itself.
	w, _ = h.do(t, http.MethodPost, "/api/auth/logout", "", authHeader(tok))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
