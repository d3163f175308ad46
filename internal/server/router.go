// Package server assembles the HTTP surface: middleware stack, account and
// federation routes, role-gated pages, and health probe.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authhandler "authgate/internal/auth/handler"
	"authgate/internal/platform/rbac"
	"authgate/internal/ratelimit"
	"authgate/internal/session"
)

// Deps are the router's collaborators. HealthCheck is optional; when nil the
// probe only reports process liveness.
type Deps struct {
	Accounts    *authhandler.Handler
	Sessions    *session.Manager
	Limiter     *ratelimit.Limiter
	Log         *slog.Logger
	HealthCheck func(context.Context) error
}

// NewRouter builds the chi router.
//
// Middleware stack, in order: request ID, real IP, request logging, panic
// recovery, request timeout, login throttling, session resolution. The
// throttle sits before session resolution so throttled requests do no token
// work.
func NewRouter(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(ratelimit.Middleware(deps.Limiter, ratelimit.PathClassifier("/account/login")))
	r.Use(session.Middleware(deps.Sessions))

	r.Get("/healthz", healthHandler(deps.HealthCheck))

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		if _, ok := session.FromContext(req.Context()); ok {
			http.Redirect(w, req, "/user", http.StatusTemporaryRedirect)
			return
		}
		http.Redirect(w, req, "/account/login", http.StatusTemporaryRedirect)
	})

	deps.Accounts.Routes(r)

	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireRole("User", "Admin"))
		r.Get("/user", principalPage)
	})
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireRole("Admin"))
		r.Get("/admin", principalPage)
	})

	return r
}

// principalPage echoes the caller's session claims. Serves as the landing
// page behind the role gates.
func principalPage(w http.ResponseWriter, r *http.Request) {
	p, ok := session.FromContext(r.Context())
	if !ok {
		authhandler.Unauthorized(w, "authentication required")
		return
	}
	authhandler.WriteJSON(w, http.StatusOK, map[string]any{
		"subject":  p.SubjectID,
		"email":    p.Email,
		"roles":    p.Roles,
		"provider": p.Provider,
	})
}

func healthHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				authhandler.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		authhandler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func isHealthPath(path string) bool {
	return path == "/healthz" || strings.HasPrefix(path, "/healthz/")
}

// requestLogger logs each request once on completion. Health probes log at
// debug so they do not drown everything else.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			args := []any{
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			}
			if isHealthPath(r.URL.Path) {
				log.Debug("request completed", args...)
			} else {
				log.Info("request completed", args...)
			}
		})
	}
}
