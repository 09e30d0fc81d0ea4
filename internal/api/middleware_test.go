package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func callWithToken(t *testing.T, mw func(http.Handler) http.Handler, token string) (*httptest.ResponseRecorder, uuid.UUID, bool) {
	t.Helper()
	var gotTenant uuid.UUID
	var gotOK bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, gotOK = GetTenantID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/payments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, gotTenant, gotOK
}

func TestTenantAuthMiddleware_ValidTokenExtractsTenant(t *testing.T) {
	tenantID := uuid.New()
	token := signToken(t, "secret", jwt.MapClaims{"tenant_id": tenantID.String(), "iss": "vendora-platform"})

	rec, gotTenant, ok := callWithToken(t, TenantAuthMiddleware("secret", "vendora-platform"), token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !ok || gotTenant != tenantID {
		t.Fatal("expected the tenant id from the token on the request context")
	}
}

func TestTenantAuthMiddleware_WrongIssuerRejected(t *testing.T) {
	token := signToken(t, "secret", jwt.MapClaims{"tenant_id": uuid.New().String(), "iss": "someone-else"})

	rec, _, _ := callWithToken(t, TenantAuthMiddleware("secret", "vendora-platform"), token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong issuer, got %d", rec.Code)
	}
}

func TestTenantAuthMiddleware_EmptyIssuerSkipsEnforcement(t *testing.T) {
	token := signToken(t, "secret", jwt.MapClaims{"tenant_id": uuid.New().String()})

	rec, _, ok := callWithToken(t, TenantAuthMiddleware("secret", ""), token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with issuer enforcement disabled, got %d", rec.Code)
	}
	if !ok {
		t.Fatal("expected the tenant id on the request context")
	}
}
