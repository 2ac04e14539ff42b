// ABOUTME: Tests for JWT verification and the bearer auth middleware
// ABOUTME: Covers token round-trips, expiry, API key matching, and rejection paths

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("operator-1", time.Hour)
	require.NoError(t, err)

	principalID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "operator-1", principalID)
}

func TestJWTVerifier_RejectsExpiredToken(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("operator-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_RejectsWrongSecret(t *testing.T) {
	issuer := NewJWTVerifier([]byte("secret-a"))
	verifier := NewJWTVerifier([]byte("secret-b"))

	token, err := issuer.Generate("operator-1", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_RejectsGarbage(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))
	_, err := v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func newProtectedServer(t *testing.T, apiKey string, verifier TokenVerifier) *httptest.Server {
	t.Helper()
	handler := Middleware(apiKey, verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func doGet(t *testing.T, url, bearer string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestMiddleware_AcceptsAPIKey(t *testing.T) {
	srv := newProtectedServer(t, "sekrit", nil)
	assert.Equal(t, http.StatusOK, doGet(t, srv.URL, "sekrit"))
}

func TestMiddleware_AcceptsValidJWT(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))
	srv := newProtectedServer(t, "sekrit", v)

	token, err := v.Generate("operator-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doGet(t, srv.URL, token))
}

func TestMiddleware_RejectsBadCredentials(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))
	srv := newProtectedServer(t, "sekrit", v)

	assert.Equal(t, http.StatusUnauthorized, doGet(t, srv.URL, ""))
	assert.Equal(t, http.StatusUnauthorized, doGet(t, srv.URL, "wrong-key"))
}
