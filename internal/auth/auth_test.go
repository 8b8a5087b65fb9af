package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "casework"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "clerk",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeCasesRead, ScopeCasesWrite},
	}
}

func TestParse(t *testing.T) {
	claims, err := Parse(signToken(t, validClaims()), testConfig)
	require.NoError(t, err)
	require.Equal(t, "clerk", claims.Subject)
	require.True(t, claims.HasScope(ScopeCasesRead))
	require.True(t, claims.HasScope(ScopeCasesWrite))
	require.False(t, claims.HasScope(ScopeSchedulerCallback))
}

func TestParseScopesAsSpaceSeparatedString(t *testing.T) {
	mc := validClaims()
	mc["scopes"] = "cases:read  scheduler:callback"

	claims, err := Parse(signToken(t, mc), testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeCasesRead))
	require.True(t, claims.HasScope(ScopeSchedulerCallback))
}

func TestParseRejections(t *testing.T) {
	_, err := Parse("", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = Parse("not.a.token", testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err = Parse(signToken(t, expired), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "someone-else"
	_, err = Parse(signToken(t, wrongIssuer), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	noSubject := validClaims()
	delete(noSubject, "sub")
	_, err = Parse(signToken(t, noSubject), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	otherKey := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	signed, signErr := otherKey.SignedString([]byte("wrong-secret"))
	require.NoError(t, signErr)
	_, err = Parse(signed, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	var got *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw := NewMiddleware(testConfig, nil).Wrap(next)

	req := httptest.NewRequest(http.MethodGet, "/v1/cases/case-1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims()))
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	require.Equal(t, "clerk", got.Subject)
}

func TestMiddlewareRejectsBadHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})
	mw := NewMiddleware(testConfig, nil).Wrap(next)

	req := httptest.NewRequest(http.MethodGet, "/v1/cases/case-1", nil)
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/cases/case-1", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w = httptest.NewRecorder()
	mw.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareSkipper(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := NewMiddleware(testConfig, func(r *http.Request) bool {
		return r.URL.Path == "/healthz"
	}).Wrap(next)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
