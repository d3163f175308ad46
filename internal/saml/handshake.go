// Package saml drives the service-provider side of the SAML2 handshake:
// building the outbound challenge redirect and validating inbound assertions
// before any claim is trusted.
package saml

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	saml2 "github.com/russellhaering/gosaml2"
	"github.com/russellhaering/gosaml2/types"
	dsig "github.com/russellhaering/goxmldsig"

	authdomain "authgate/internal/auth/domain"
	userdomain "authgate/internal/user/domain"
)

// ErrAssertionInvalid covers every assertion validation failure: bad or
// missing signature, issuer mismatch, expired validity window, or a replayed
// or unsolicited response when those are not allowed. Callers surface it as a
// generic authentication failure; no Principal is ever produced alongside it.
var ErrAssertionInvalid = errors.New("saml assertion rejected")

// Attribute names accepted for role and email claims. Covers plain names and
// the WS-Fed style URIs common IdPs emit.
var (
	roleAttributeNames = []string{
		"roles",
		"role",
		"http://schemas.microsoft.com/ws/2008/06/identity/claims/role",
	}
	emailAttributeNames = []string{
		"email",
		"mail",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
	}
)

// Config describes the two parties of the handshake.
type Config struct {
	// SPEntityID is this service's entity identifier.
	SPEntityID string
	// IDPEntityID is the issuer every inbound assertion must carry.
	IDPEntityID string
	// IDPSSOURL is the identity provider's authentication endpoint.
	IDPSSOURL string
	// IDPCertStore holds the provider's signing certificates from metadata.
	IDPCertStore dsig.X509CertificateStore
	// ACSURL is the absolute URL of this service's assertion consumer endpoint.
	ACSURL string
	// AllowUnsolicited accepts IdP-initiated responses that answer no recorded
	// challenge. This matches the original deployment's configuration but
	// weakens replay protection; when false, every response must match a
	// pending challenge exactly once.
	AllowUnsolicited bool
	// SPKeyStore signs outbound AuthnRequests when SignRequests is set.
	// Optional; an ephemeral key is generated when nil.
	SPKeyStore dsig.X509KeyStore
	// SignRequests controls AuthnRequest signing.
	SignRequests bool
	// RequestTTL bounds how long an issued challenge stays answerable.
	// Defaults to 5 minutes.
	RequestTTL time.Duration
}

// Handshake is the federation state machine. Challenge issues the outbound
// redirect and records the request for correlation; Consume validates the
// inbound response and either produces a Principal or rejects.
type Handshake struct {
	sp               *saml2.SAMLServiceProvider
	idpEntityID      string
	allowUnsolicited bool
	requestTTL       time.Duration
	now              func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewHandshake returns a Handshake for the given configuration.
func NewHandshake(cfg Config) *Handshake {
	keyStore := cfg.SPKeyStore
	if keyStore == nil {
		keyStore = dsig.RandomKeyStoreForTest()
	}
	ttl := cfg.RequestTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.IDPSSOURL,
		IdentityProviderIssuer:      cfg.IDPEntityID,
		ServiceProviderIssuer:       cfg.SPEntityID,
		AssertionConsumerServiceURL: cfg.ACSURL,
		AudienceURI:                 cfg.SPEntityID,
		SignAuthnRequests:           cfg.SignRequests && cfg.SPKeyStore != nil,
		IDPCertificateStore:         cfg.IDPCertStore,
		SPKeyStore:                  keyStore,
	}
	return &Handshake{
		sp:               sp,
		idpEntityID:      cfg.IDPEntityID,
		allowUnsolicited: cfg.AllowUnsolicited,
		requestTTL:       ttl,
		now:              time.Now,
		pending:          make(map[string]time.Time),
	}
}

// Challenge builds an AuthnRequest, records its ID so the response can be
// matched back, and returns the IdP redirect URL. relayState is returned by
// the IdP unchanged and carries the post-login destination.
func (h *Handshake) Challenge(relayState string) (redirectURL, requestID string, err error) {
	doc, err := h.sp.BuildAuthRequestDocument()
	if err != nil {
		return "", "", fmt.Errorf("build authn request: %w", err)
	}
	requestID = doc.Root().SelectAttrValue("ID", "")
	redirectURL, err = h.sp.BuildAuthURLFromDocument(relayState, doc)
	if err != nil {
		return "", "", fmt.Errorf("build auth url: %w", err)
	}
	h.recordPending(requestID)
	return redirectURL, requestID, nil
}

// Consume validates a base64-encoded SAMLResponse and maps it to a Principal.
// Signature validation is delegated to the service provider implementation;
// issuer identity, validity window, and challenge correlation are enforced
// here explicitly. Any failure is ErrAssertionInvalid.
func (h *Handshake) Consume(encodedResponse string) (*authdomain.Principal, error) {
	response, err := h.sp.ValidateEncodedResponse(encodedResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
	}
	return h.evaluate(response, h.now().UTC())
}

// evaluate applies the post-signature checks to an already
// signature-validated response.
func (h *Handshake) evaluate(response *types.Response, now time.Time) (*authdomain.Principal, error) {
	if response == nil || len(response.Assertions) == 0 {
		return nil, fmt.Errorf("%w: response carries no assertion", ErrAssertionInvalid)
	}
	if response.Issuer != nil && response.Issuer.Value != h.idpEntityID {
		return nil, fmt.Errorf("%w: unexpected response issuer %q", ErrAssertionInvalid, response.Issuer.Value)
	}
	if err := h.correlate(response.InResponseTo, now); err != nil {
		return nil, err
	}
	assertion := &response.Assertions[0]
	if assertion.Issuer == nil || assertion.Issuer.Value != h.idpEntityID {
		return nil, fmt.Errorf("%w: assertion issuer mismatch", ErrAssertionInvalid)
	}
	if err := checkValidityWindow(assertion.Conditions, now); err != nil {
		return nil, err
	}
	if assertion.Subject == nil || assertion.Subject.NameID == nil || assertion.Subject.NameID.Value == "" {
		return nil, fmt.Errorf("%w: assertion has no subject", ErrAssertionInvalid)
	}

	subject := assertion.Subject.NameID.Value
	email := subject
	var roles []string
	if assertion.AttributeStatement != nil {
		if v := firstAttributeValue(assertion.AttributeStatement, emailAttributeNames); v != "" {
			email = v
		}
		roles = attributeValues(assertion.AttributeStatement, roleAttributeNames)
	}
	roles = userdomain.NormalizeRoles(roles)
	if len(roles) == 0 {
		roles = []string{userdomain.DefaultRole}
	}
	return &authdomain.Principal{
		SubjectID: subject,
		Email:     email,
		Roles:     roles,
		Provider:  authdomain.ProviderSAML,
	}, nil
}

// correlate enforces the challenge/response match. A matched request ID is
// consumed, so replaying the same response fails the second time.
func (h *Handshake) correlate(inResponseTo string, now time.Time) error {
	if h.allowUnsolicited {
		// Deliberate trust decision carried over from the original deployment:
		// IdP-initiated responses are accepted without correlation.
		return nil
	}
	if inResponseTo == "" {
		return fmt.Errorf("%w: unsolicited response not allowed", ErrAssertionInvalid)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	issued, ok := h.pending[inResponseTo]
	if !ok {
		return fmt.Errorf("%w: response matches no pending challenge", ErrAssertionInvalid)
	}
	delete(h.pending, inResponseTo)
	if now.Sub(issued) > h.requestTTL {
		return fmt.Errorf("%w: challenge expired", ErrAssertionInvalid)
	}
	return nil
}

func (h *Handshake) recordPending(requestID string) {
	if requestID == "" {
		return
	}
	now := h.now().UTC()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, issued := range h.pending {
		if now.Sub(issued) > h.requestTTL {
			delete(h.pending, id)
		}
	}
	h.pending[requestID] = now
}

func checkValidityWindow(c *types.Conditions, now time.Time) error {
	if c == nil {
		return fmt.Errorf("%w: assertion has no conditions", ErrAssertionInvalid)
	}
	if c.NotBefore != "" {
		notBefore, err := time.Parse(time.RFC3339, c.NotBefore)
		if err != nil {
			return fmt.Errorf("%w: bad NotBefore: %v", ErrAssertionInvalid, err)
		}
		if now.Before(notBefore) {
			return fmt.Errorf("%w: assertion not yet valid", ErrAssertionInvalid)
		}
	}
	if c.NotOnOrAfter != "" {
		notOnOrAfter, err := time.Parse(time.RFC3339, c.NotOnOrAfter)
		if err != nil {
			return fmt.Errorf("%w: bad NotOnOrAfter: %v", ErrAssertionInvalid, err)
		}
		if !now.Before(notOnOrAfter) {
			return fmt.Errorf("%w: assertion expired", ErrAssertionInvalid)
		}
	}
	return nil
}

func firstAttributeValue(stmt *types.AttributeStatement, names []string) string {
	vals := attributeValues(stmt, names)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func attributeValues(stmt *types.AttributeStatement, names []string) []string {
	var out []string
	for _, attr := range stmt.Attributes {
		if !matchesAttributeName(attr, names) {
			continue
		}
		for _, v := range attr.Values {
			if s := strings.TrimSpace(v.Value); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func matchesAttributeName(attr types.Attribute, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(attr.Name, n) || strings.EqualFold(attr.FriendlyName, n) {
			return true
		}
	}
	return false
}
