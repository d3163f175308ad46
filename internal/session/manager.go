// Package session issues, clears, and reads the signed session cookie.
package session

import (
	"errors"
	"net/http"

	authdomain "authgate/internal/auth/domain"
	"authgate/internal/security"
	userdomain "authgate/internal/user/domain"
)

// CookieName is the session cookie installed after successful authentication.
const CookieName = "authgate_session"

// ErrNoSession is returned by Read when the request carries no session cookie.
var ErrNoSession = errors.New("no session")

// Manager converts Principals into signed session cookies and back. Tokens
// are self-contained; there is no server-side session table. Clearing the
// cookie ends the current client session, but tokens already captured
// elsewhere stay valid until they expire.
type Manager struct {
	tokens *security.TokenProvider
	secure bool
}

// NewManager returns a Manager signing sessions with tokens. secure controls
// the cookie's Secure attribute; disable only for local development over HTTP.
func NewManager(tokens *security.TokenProvider, secure bool) *Manager {
	return &Manager{tokens: tokens, secure: secure}
}

// Issue signs the principal's claims into the session cookie on w.
// The cookie is HTTP-only, secure, SameSite=Strict, and scoped to the app root.
func (m *Manager) Issue(w http.ResponseWriter, p *authdomain.Principal) error {
	token, _, err := m.tokens.IssueSession(p.SubjectID, p.Email, p.Roles, p.Provider)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// Clear instructs the client to drop the session cookie immediately.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Read validates the session cookie on r and reconstructs the Principal.
// A missing cookie is ErrNoSession; an invalid or expired token is
// security.ErrInvalidToken.
func (m *Manager) Read(r *http.Request) (*authdomain.Principal, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	claims, err := m.tokens.ValidateSession(c.Value)
	if err != nil {
		return nil, err
	}
	return &authdomain.Principal{
		SubjectID: claims.Subject,
		Email:     claims.Email,
		Roles:     userdomain.NormalizeRoles(claims.Roles),
		Provider:  claims.Provider,
	}, nil
}
