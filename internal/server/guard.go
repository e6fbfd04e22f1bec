package server

import (
	"net/http"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// requireRole builds the RoleScopeGuard for a route requiring at
// least required. It implements the role/scope decision table read off the
// AuthMiddleware-injected headers, never the request body or cookie --
// role and scope are compared as a total order, and a role header
// always wins when both are somehow present.
func (s *server) requireRole(required gateway.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roleHeader := r.Header.Get(gateway.HeaderResourceRole)
			scopeHeader := r.Header.Get(gateway.HeaderResourceScope)

			if roleHeader != "" {
				role, err := gateway.ParseRole(roleHeader)
				if err != nil {
					writeJSON(w, http.StatusUnauthorized, errorResponse(gateway.ErrMissingAuth))
					return
				}
				if !role.HasAccessTo(required) {
					writeJSON(w, http.StatusForbidden, errorResponse(gateway.NewForbidden("authentication_error-insufficient_role", "insufficient role")))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if scopeHeader != "" {
				requiredScope, ok := roleToTokenScope(required)
				if !ok {
					writeJSON(w, http.StatusUnauthorized, errorResponse(gateway.ErrMissingAuth))
					return
				}
				if !scopeSatisfies(scopeHeader, requiredScope) {
					writeJSON(w, http.StatusForbidden, errorResponse(gateway.NewForbidden("authentication_error-insufficient_scope", "insufficient scope")))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			writeJSON(w, http.StatusUnauthorized, errorResponse(gateway.ErrMissingAuth))
		})
	}
}

// roleToTokenScope maps a route's required Role onto the matching
// TokenScope/UserScope ordinal.
func roleToTokenScope(required gateway.Role) (gateway.TokenScope, bool) {
	switch required {
	case gateway.RoleUser:
		return gateway.TokenScopeUser, true
	case gateway.RolePowerUser:
		return gateway.TokenScopePowerUser, true
	case gateway.RoleManager:
		return gateway.TokenScopeManager, true
	case gateway.RoleAdmin:
		return gateway.TokenScopeAdmin, true
	default:
		return 0, false
	}
}

// scopeSatisfies parses the "scope_token_*" or "scope_user_*" header
// value injected by AuthMiddleware and compares it against required on
// the shared total order.
func scopeSatisfies(header string, required gateway.TokenScope) bool {
	switch {
	case hasPrefix(header, "scope_token_"):
		s, err := gateway.ParseTokenScope(header)
		if err != nil {
			return false
		}
		return s.HasAccessTo(required)
	case hasPrefix(header, "scope_user_"):
		s, err := gateway.ParseUserScope(header)
		if err != nil {
			return false
		}
		return s.HasAccessTo(gateway.UserScope(required))
	default:
		return false
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
