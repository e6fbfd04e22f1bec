package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/bodhi-run/bodhi/internal"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRole_RoleHeaderSufficient(t *testing.T) {
	s := &server{}
	h := s.requireRole(gateway.RolePowerUser)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(gateway.HeaderResourceRole, "resource_admin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequireRole_RoleHeaderInsufficient(t *testing.T) {
	s := &server{}
	h := s.requireRole(gateway.RoleAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(gateway.HeaderResourceRole, "resource_user")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestRequireRole_TokenScopeSufficient(t *testing.T) {
	s := &server{}
	h := s.requireRole(gateway.RoleUser)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(gateway.HeaderResourceScope, "scope_token_power_user")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequireRole_UserScopeInsufficient(t *testing.T) {
	s := &server{}
	h := s.requireRole(gateway.RoleAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(gateway.HeaderResourceScope, "scope_user_power_user")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestRequireRole_NoCredentials(t *testing.T) {
	s := &server{}
	h := s.requireRole(gateway.RoleUser)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireRole_RoleWinsOverScope(t *testing.T) {
	s := &server{}
	h := s.requireRole(gateway.RoleAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(gateway.HeaderResourceRole, "resource_user")
	req.Header.Set(gateway.HeaderResourceScope, "scope_token_admin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (role header must take precedence)", rec.Code)
	}
}
