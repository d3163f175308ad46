package domain

// Principal is the authenticated identity produced by either the local
// authenticator or the federation handshake. It is transient: constructed on
// successful authentication and consumed immediately by session issuance.
type Principal struct {
	// SubjectID identifies the account (local user ID or federation NameID).
	SubjectID string
	// Email is the display identity; for federated principals it may equal SubjectID.
	Email string
	// Roles is the authorization role set carried into the session.
	Roles []string
	// Provider names the authentication source ("local" or "saml").
	Provider string
}

const (
	ProviderLocal = "local"
	ProviderSAML  = "saml"
)
