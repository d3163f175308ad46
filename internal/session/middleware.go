package session

import "net/http"

// Middleware reads the session cookie on every request and, when valid, puts
// the Principal into the request context. Requests without a valid session
// continue anonymously; enforcing authentication is the rbac middleware's job.
func Middleware(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, err := m.Read(r); err == nil {
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}
