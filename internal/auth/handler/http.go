// Package handler exposes the account and federation endpoints over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"authgate/internal/auth/service"
	"authgate/internal/saml"
	"authgate/internal/session"
)

// Handler serves the account endpoints: local registration and login, the
// federation challenge and callback, and logout. The federation handshake is
// optional; without one the federation routes answer 404.
type Handler struct {
	auth      *service.AuthService
	sessions  *session.Manager
	handshake *saml.Handshake
	log       *slog.Logger
}

func New(auth *service.AuthService, sessions *session.Manager, handshake *saml.Handshake, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{auth: auth, sessions: sessions, handshake: handshake, log: log}
}

// Routes mounts the account endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/account/login", h.LoginPage)
	r.Post("/account/login", h.Login)
	r.Post("/account/register", h.Register)
	r.Get("/account/external-login", h.ExternalLogin)
	r.Get("/account/logout", h.Logout)
	r.Post("/saml/acs", h.AssertionConsumer)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userView struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// Register handles POST /account/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	user, err := h.auth.Register(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		BadRequest(w, "Email and password are required")
	case errors.Is(err, service.ErrEmailTaken):
		Conflict(w, "An account with this email already exists")
	case err != nil:
		h.log.Error("register failed", "error", err)
		InternalServerError(w, "Registration failed")
	default:
		WriteJSON(w, http.StatusCreated, userView{ID: user.ID, Email: user.Email, Roles: user.Roles})
	}
}

// loginCredentials come in as JSON or as a classic form post.
type loginCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func readCredentials(r *http.Request) (loginCredentials, error) {
	var creds loginCredentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := json.NewDecoder(r.Body).Decode(&creds)
		return creds, err
	}
	if err := r.ParseForm(); err != nil {
		return creds, err
	}
	creds.Email = r.PostFormValue("email")
	creds.Password = r.PostFormValue("password")
	return creds, nil
}

// Login handles POST /account/login. All credential failures produce the same
// 401 so callers cannot probe which emails exist.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(r)
	if err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	principal, err := h.auth.Login(r.Context(), creds.Email, creds.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		Unauthorized(w, "Invalid email or password")
		return
	case err != nil:
		h.log.Error("login failed", "error", err)
		InternalServerError(w, "Login failed")
		return
	}
	if err := h.sessions.Issue(w, principal); err != nil {
		h.log.Error("issue session", "error", err)
		InternalServerError(w, "Login failed")
		return
	}
	if redirect := localRedirect(r.FormValue("redirect")); redirect != "" {
		http.Redirect(w, r, redirect, http.StatusSeeOther)
		return
	}
	WriteJSON(w, http.StatusOK, userView{ID: principal.SubjectID, Email: principal.Email, Roles: principal.Roles})
}

// LoginPage handles GET /account/login with a minimal form so the flow works
// without a frontend.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, loginPageHTML)
}

// ExternalLogin handles GET /account/external-login by redirecting the
// browser to the identity provider with a fresh challenge. The optional
// redirect parameter rides along as relay state.
func (h *Handler) ExternalLogin(w http.ResponseWriter, r *http.Request) {
	if h.handshake == nil {
		NotFound(w, "Federated login is not configured")
		return
	}
	redirectURL, _, err := h.handshake.Challenge(localRedirect(r.URL.Query().Get("redirect")))
	if err != nil {
		h.log.Error("federation challenge", "error", err)
		InternalServerError(w, "Federated login unavailable")
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// AssertionConsumer handles POST /saml/acs, the endpoint the identity
// provider posts its response to. A valid assertion becomes a session; any
// validation failure is a generic 401.
func (h *Handler) AssertionConsumer(w http.ResponseWriter, r *http.Request) {
	if h.handshake == nil {
		NotFound(w, "Federated login is not configured")
		return
	}
	if err := r.ParseForm(); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	encoded := r.PostFormValue("SAMLResponse")
	if encoded == "" {
		BadRequest(w, "Missing SAMLResponse")
		return
	}
	principal, err := h.handshake.Consume(encoded)
	if err != nil {
		h.log.Warn("saml response rejected", "error", err)
		Unauthorized(w, "Authentication failed")
		return
	}
	if err := h.sessions.Issue(w, principal); err != nil {
		h.log.Error("issue session", "error", err)
		InternalServerError(w, "Login failed")
		return
	}
	target := localRedirect(r.PostFormValue("RelayState"))
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Logout handles GET /account/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// localRedirect accepts only same-site absolute paths, so a crafted redirect
// or relay state cannot bounce the browser to another origin.
func localRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return ""
	}
	return target
}

const loginPageHTML = `<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<form method="post" action="/account/login">
  <label>Email <input type="email" name="email" autocomplete="username"></label>
  <label>Password <input type="password" name="password" autocomplete="current-password"></label>
  <button type="submit">Sign in</button>
</form>
<p><a href="/account/external-login">Sign in with your organization</a></p>
</body>
</html>
`
