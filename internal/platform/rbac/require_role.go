// Package rbac gates routes on the session's role claims.
package rbac

import (
	"net/http"

	"authgate/internal/session"
	userdomain "authgate/internal/user/domain"
)

// RequireRole ensures the caller has a session whose role set contains at
// least one of the given roles. Returns 401 without a session and 403 when
// none of the roles match. The session's role claims are the only input; no
// store lookup happens here.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := session.FromContext(r.Context())
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if userdomain.HasRole(p.Roles, role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "insufficient role", http.StatusForbidden)
		})
	}
}
