package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgauth "github.com/negomaq/storefront-backend/pkg/auth"
	"github.com/negomaq/storefront-backend/pkg/config"
	"github.com/negomaq/storefront-backend/pkg/enums"
	"github.com/negomaq/storefront-backend/pkg/logger"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "storefront-test",
		ExpirationMinutes: 15,
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestAuthSeedsIdentity(t *testing.T) {
	cfg := testJWTConfig()
	userID := uuid.New()
	token, err := pkgauth.MintAccessToken(cfg, time.Now(), pkgauth.AccessTokenPayload{
		UserID: userID,
		Email:  "ana@example.com",
		Role:   enums.MemberRoleCustomer,
	})
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}

	var gotUser uuid.UUID
	var gotRole enums.MemberRole
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserIDFromContext(r.Context())
		gotRole, _ = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	Auth(cfg, testLogger())(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if gotUser != userID {
		t.Fatalf("expected user %s got %s", userID, gotUser)
	}
	if gotRole != enums.MemberRoleCustomer {
		t.Fatalf("expected customer role got %s", gotRole)
	}
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	resp := httptest.NewRecorder()
	Auth(testJWTConfig(), testLogger())(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsTamperedToken(t *testing.T) {
	cfg := testJWTConfig()
	token, err := pkgauth.MintAccessToken(cfg, time.Now(), pkgauth.AccessTokenPayload{
		UserID: uuid.New(),
		Email:  "ana@example.com",
		Role:   enums.MemberRoleCustomer,
	})
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}

	otherCfg := cfg
	otherCfg.Secret = "other-secret"

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	Auth(otherCfg, testLogger())(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestRequireRoleBlocksCustomer(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := RequireRole(testLogger(), enums.MemberRoleAdmin)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/x/refund", nil)
	req = req.WithContext(WithUserID(req.Context(), uuid.New(), enums.MemberRoleCustomer))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestRequireRoleAllowsAdmin(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := RequireRole(testLogger(), enums.MemberRoleAdmin)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/x/refund", nil)
	req = req.WithContext(WithUserID(req.Context(), uuid.New(), enums.MemberRoleAdmin))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}
