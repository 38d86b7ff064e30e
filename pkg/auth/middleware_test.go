package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, subject string, roles []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func TestMiddlewareInjectsPrincipal(t *testing.T) {
	var got Principal
	handler := NewMiddleware(NewHMACVerifier(testSecret))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetPrincipal(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "maker-1", []string{RoleMaker}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "maker-1", got.GetID())
	assert.True(t, got.HasPermission(PermRuleWrite))
	assert.False(t, got.HasPermission(PermRuleApprove))
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	handler := NewMiddleware(NewHMACVerifier(testSecret))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for name, header := range map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"garbage":      "Bearer not.a.token",
		"wrong secret": "Bearer " + mustSign(t, []byte("other-secret")),
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		assert.Contains(t, rec.Body.String(), "ForbiddenError", name)
	}
}

func mustSign(t *testing.T, secret []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x"},
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestMiddlewareAllowsPublicPaths(t *testing.T) {
	called := false
	handler := NewMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, called)
}

func TestNilVerifierFailsClosed(t *testing.T) {
	handler := NewMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRolePermissions(t *testing.T) {
	admin := &BasePrincipal{ID: "a", Roles: []string{RoleAdmin}}
	assert.True(t, admin.HasPermission(PermRegistryPublish))
	assert.True(t, admin.HasPermission(PermRulesetActivate))

	checker := &BasePrincipal{ID: "c", Roles: []string{RoleChecker}}
	assert.True(t, checker.HasPermission(PermRuleApprove))
	assert.False(t, checker.HasPermission(PermRuleWrite))

	viewer := &BasePrincipal{ID: "v", Roles: []string{RoleViewer}}
	assert.True(t, viewer.HasPermission(PermRead))
	assert.False(t, viewer.HasPermission(PermFieldWrite))
}
