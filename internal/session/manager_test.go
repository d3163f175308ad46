package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	authdomain "authgate/internal/auth/domain"
	"authgate/internal/security"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	return NewManager(tokens, true)
}

func issueCookie(t *testing.T, m *Manager, p *authdomain.Principal) *http.Cookie {
	t.Helper()
	rr := httptest.NewRecorder()
	if err := m.Issue(rr, p); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	return cookies[0]
}

func TestIssueAndRead(t *testing.T) {
	m := newTestManager(t)
	p := &authdomain.Principal{SubjectID: "user-1", Email: "alice@example.com", Roles: []string{"User"}, Provider: authdomain.ProviderLocal}
	cookie := issueCookie(t, m, p)

	if cookie.Name != CookieName {
		t.Errorf("cookie name = %q, want %q", cookie.Name, CookieName)
	}
	if !cookie.HttpOnly {
		t.Error("cookie must be HttpOnly")
	}
	if !cookie.Secure {
		t.Error("cookie must be Secure")
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Error("cookie must be SameSite=Strict")
	}
	if cookie.Path != "/" {
		t.Errorf("cookie path = %q, want /", cookie.Path)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	got, err := m.Read(req)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.SubjectID != p.SubjectID || got.Email != p.Email {
		t.Errorf("Read principal = %+v, want %+v", got, p)
	}
	if !reflect.DeepEqual(got.Roles, p.Roles) {
		t.Errorf("Roles = %v, want %v", got.Roles, p.Roles)
	}
	if got.Provider != authdomain.ProviderLocal {
		t.Errorf("Provider = %q, want %q", got.Provider, authdomain.ProviderLocal)
	}
}

func TestRead_NoCookie(t *testing.T) {
	m := newTestManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := m.Read(req); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Read = %v, want ErrNoSession", err)
	}
}

func TestRead_ForgedCookie(t *testing.T) {
	m := newTestManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "forged.token.value"})
	if _, err := m.Read(req); !errors.Is(err, security.ErrInvalidToken) {
		t.Fatalf("Read = %v, want ErrInvalidToken", err)
	}
}

func TestClear(t *testing.T) {
	m := newTestManager(t)
	rr := httptest.NewRecorder()
	m.Clear(rr)
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Value != "" || c.MaxAge >= 0 {
		t.Errorf("Clear should expire the cookie, got value=%q maxage=%d", c.Value, c.MaxAge)
	}
}

func TestMiddleware_SetsPrincipal(t *testing.T) {
	m := newTestManager(t)
	p := &authdomain.Principal{SubjectID: "user-1", Email: "alice@example.com", Roles: []string{"Admin", "User"}}
	cookie := issueCookie(t, m, p)

	var got *authdomain.Principal
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil {
		t.Fatal("principal should be set in context")
	}
	if got.SubjectID != "user-1" {
		t.Errorf("SubjectID = %q", got.SubjectID)
	}
}

func TestMiddleware_AnonymousWithoutSession(t *testing.T) {
	m := newTestManager(t)
	var present bool
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if present {
		t.Error("anonymous request should have no principal")
	}
}

func TestFromContext_WrongType(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context should report no principal")
	}
}
