package saml

import (
	"errors"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/russellhaering/gosaml2/types"
)

const (
	testIDPEntityID = "https://idp.example.com/"
	testSPEntityID  = "urn:authgate:sp"
)

func newTestHandshake(allowUnsolicited bool) *Handshake {
	return NewHandshake(Config{
		SPEntityID:       testSPEntityID,
		IDPEntityID:      testIDPEntityID,
		IDPSSOURL:        "https://idp.example.com/sso",
		ACSURL:           "https://sp.example.com/saml/acs",
		AllowUnsolicited: allowUnsolicited,
	})
}

func validResponse(now time.Time, inResponseTo string) *types.Response {
	return &types.Response{
		InResponseTo: inResponseTo,
		Issuer:       &types.Issuer{Value: testIDPEntityID},
		Assertions: []types.Assertion{
			{
				Issuer: &types.Issuer{Value: testIDPEntityID},
				Subject: &types.Subject{
					NameID: &types.NameID{Value: "alice@example.com"},
				},
				Conditions: &types.Conditions{
					NotBefore:    now.Add(-time.Minute).Format(time.RFC3339),
					NotOnOrAfter: now.Add(5 * time.Minute).Format(time.RFC3339),
				},
				AttributeStatement: &types.AttributeStatement{
					Attributes: []types.Attribute{
						{
							Name: "roles",
							Values: []types.AttributeValue{
								{Value: "Admin"},
								{Value: "User"},
							},
						},
						{
							Name:   "email",
							Values: []types.AttributeValue{{Value: "alice@corp.example.com"}},
						},
					},
				},
			},
		},
	}
}

func TestChallenge_ReturnsIdPRedirect(t *testing.T) {
	h := newTestHandshake(true)
	redirect, requestID, err := h.Challenge("/after-login")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if requestID == "" {
		t.Error("requestID should be set")
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("redirect is not a URL: %v", err)
	}
	if u.Host != "idp.example.com" {
		t.Errorf("redirect host = %q, want idp.example.com", u.Host)
	}
	q := u.Query()
	if q.Get("SAMLRequest") == "" {
		t.Error("redirect should carry a SAMLRequest parameter")
	}
	if q.Get("RelayState") != "/after-login" {
		t.Errorf("RelayState = %q, want /after-login", q.Get("RelayState"))
	}
}

func TestChallenge_RecordsPendingRequest(t *testing.T) {
	h := newTestHandshake(false)
	_, requestID, err := h.Challenge("/")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	h.mu.Lock()
	_, ok := h.pending[requestID]
	h.mu.Unlock()
	if !ok {
		t.Error("challenge should record its request ID for correlation")
	}
}

func TestEvaluate_Success(t *testing.T) {
	h := newTestHandshake(true)
	now := time.Now().UTC()
	p, err := h.evaluate(validResponse(now, ""), now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if p.SubjectID != "alice@example.com" {
		t.Errorf("SubjectID = %q", p.SubjectID)
	}
	if p.Email != "alice@corp.example.com" {
		t.Errorf("Email = %q, want attribute value preferred over NameID", p.Email)
	}
	if !reflect.DeepEqual(p.Roles, []string{"Admin", "User"}) {
		t.Errorf("Roles = %v, want [Admin User]", p.Roles)
	}
	if p.Provider != "saml" {
		t.Errorf("Provider = %q, want saml", p.Provider)
	}
}

func TestEvaluate_DefaultRoleWithoutRoleAttribute(t *testing.T) {
	h := newTestHandshake(true)
	now := time.Now().UTC()
	resp := validResponse(now, "")
	resp.Assertions[0].AttributeStatement = nil
	p, err := h.evaluate(resp, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !reflect.DeepEqual(p.Roles, []string{"User"}) {
		t.Errorf("Roles = %v, want default [User]", p.Roles)
	}
	if p.Email != "alice@example.com" {
		t.Errorf("Email = %q, want NameID fallback", p.Email)
	}
}

func TestEvaluate_RejectsIssuerMismatch(t *testing.T) {
	h := newTestHandshake(true)
	now := time.Now().UTC()

	resp := validResponse(now, "")
	resp.Issuer = &types.Issuer{Value: "https://evil.example.com/"}
	if _, err := h.evaluate(resp, now); !errors.Is(err, ErrAssertionInvalid) {
		t.Errorf("response issuer mismatch: err = %v, want ErrAssertionInvalid", err)
	}

	resp = validResponse(now, "")
	resp.Assertions[0].Issuer = &types.Issuer{Value: "https://evil.example.com/"}
	if _, err := h.evaluate(resp, now); !errors.Is(err, ErrAssertionInvalid) {
		t.Errorf("assertion issuer mismatch: err = %v, want ErrAssertionInvalid", err)
	}
}

func TestEvaluate_RejectsOutsideValidityWindow(t *testing.T) {
	h := newTestHandshake(true)
	now := time.Now().UTC()

	tests := []struct {
		name         string
		notBefore    string
		notOnOrAfter string
	}{
		{"expired", now.Add(-time.Hour).Format(time.RFC3339), now.Add(-time.Minute).Format(time.RFC3339)},
		{"not yet valid", now.Add(time.Minute).Format(time.RFC3339), now.Add(time.Hour).Format(time.RFC3339)},
		{"exactly NotOnOrAfter", now.Add(-time.Hour).Format(time.RFC3339), now.Format(time.RFC3339)},
		{"unparseable NotOnOrAfter", "", "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := validResponse(now, "")
			resp.Assertions[0].Conditions = &types.Conditions{
				NotBefore:    tt.notBefore,
				NotOnOrAfter: tt.notOnOrAfter,
			}
			p, err := h.evaluate(resp, now)
			if !errors.Is(err, ErrAssertionInvalid) {
				t.Errorf("err = %v, want ErrAssertionInvalid", err)
			}
			if p != nil {
				t.Error("no principal must be produced from an invalid assertion")
			}
		})
	}
}

func TestEvaluate_RejectsMissingPieces(t *testing.T) {
	h := newTestHandshake(true)
	now := time.Now().UTC()

	resp := validResponse(now, "")
	resp.Assertions = nil
	if _, err := h.evaluate(resp, now); !errors.Is(err, ErrAssertionInvalid) {
		t.Errorf("no assertions: err = %v", err)
	}

	resp = validResponse(now, "")
	resp.Assertions[0].Subject = nil
	if _, err := h.evaluate(resp, now); !errors.Is(err, ErrAssertionInvalid) {
		t.Errorf("no subject: err = %v", err)
	}

	resp = validResponse(now, "")
	resp.Assertions[0].Conditions = nil
	if _, err := h.evaluate(resp, now); !errors.Is(err, ErrAssertionInvalid) {
		t.Errorf("no conditions: err = %v", err)
	}
}

func TestEvaluate_SolicitedMode(t *testing.T) {
	h := newTestHandshake(false)
	now := time.Now().UTC()
	_, requestID, err := h.Challenge("/")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}

	t.Run("unsolicited rejected", func(t *testing.T) {
		if _, err := h.evaluate(validResponse(now, ""), now); !errors.Is(err, ErrAssertionInvalid) {
			t.Errorf("err = %v, want ErrAssertionInvalid", err)
		}
	})
	t.Run("unknown request id rejected", func(t *testing.T) {
		if _, err := h.evaluate(validResponse(now, "id-never-issued"), now); !errors.Is(err, ErrAssertionInvalid) {
			t.Errorf("err = %v, want ErrAssertionInvalid", err)
		}
	})
	t.Run("matching response accepted once", func(t *testing.T) {
		if _, err := h.evaluate(validResponse(now, requestID), now); err != nil {
			t.Fatalf("first consume: %v", err)
		}
		// Replay of the consumed response must fail.
		if _, err := h.evaluate(validResponse(now, requestID), now); !errors.Is(err, ErrAssertionInvalid) {
			t.Errorf("replay: err = %v, want ErrAssertionInvalid", err)
		}
	})
}

func TestEvaluate_ExpiredChallenge(t *testing.T) {
	h := newTestHandshake(false)
	h.requestTTL = time.Minute
	now := time.Now().UTC()
	_, requestID, err := h.Challenge("/")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	late := now.Add(2 * time.Minute)
	if _, err := h.evaluate(validResponse(late, requestID), late); !errors.Is(err, ErrAssertionInvalid) {
		t.Errorf("expired challenge: err = %v, want ErrAssertionInvalid", err)
	}
}

func TestEvaluate_UnsolicitedModeAcceptsReplay(t *testing.T) {
	// With unsolicited responses allowed there is no correlation state, so a
	// replayed response is accepted. This is the documented weaker guarantee.
	h := newTestHandshake(true)
	now := time.Now().UTC()
	if _, err := h.evaluate(validResponse(now, ""), now); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := h.evaluate(validResponse(now, ""), now); err != nil {
		t.Fatalf("replay: %v", err)
	}
}

func TestConsume_GarbageResponse(t *testing.T) {
	h := newTestHandshake(true)
	for _, s := range []string{"", "not-base64!!!", "aGVsbG8="} {
		p, err := h.Consume(s)
		if !errors.Is(err, ErrAssertionInvalid) {
			t.Errorf("Consume(%q) err = %v, want ErrAssertionInvalid", s, err)
		}
		if p != nil {
			t.Error("no principal from garbage input")
		}
	}
}

func TestRecordPending_PrunesExpired(t *testing.T) {
	h := newTestHandshake(false)
	h.requestTTL = time.Minute

	var mu sync.Mutex
	current := time.Now().UTC()
	h.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	h.recordPending("old-request")
	mu.Lock()
	current = current.Add(5 * time.Minute)
	mu.Unlock()
	h.recordPending("new-request")

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pending["old-request"]; ok {
		t.Error("expired pending request should be pruned")
	}
	if _, ok := h.pending["new-request"]; !ok {
		t.Error("fresh pending request should be kept")
	}
}

func TestChallenge_SAMLRequestIsDeflatedBase64(t *testing.T) {
	h := newTestHandshake(true)
	redirect, _, err := h.Challenge("")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	u, _ := url.Parse(redirect)
	raw := u.Query().Get("SAMLRequest")
	if raw == "" {
		t.Fatal("missing SAMLRequest")
	}
	if strings.Contains(raw, "<") {
		t.Error("SAMLRequest must be encoded, not raw XML")
	}
}
