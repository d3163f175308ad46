package saml

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/russellhaering/gosaml2/types"
	dsig "github.com/russellhaering/goxmldsig"
)

const redirectBinding = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"

// metadataFetchTimeout bounds the startup metadata retrieval so a slow IdP
// fails the federation setup instead of hanging the process.
const metadataFetchTimeout = 15 * time.Second

// IDPMetadata is the provider description the handshake needs: who the
// provider claims to be, where to send challenges, and which certificates
// sign its assertions. Fetched once at startup and cached for the process
// lifetime.
type IDPMetadata struct {
	EntityID  string
	SSOURL    string
	CertStore *dsig.MemoryX509CertificateStore
}

// FetchIDPMetadata retrieves and parses the IdP metadata document from url.
// The request is bounded by metadataFetchTimeout on top of ctx.
func FetchIDPMetadata(ctx context.Context, url string) (*IDPMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata request: %w", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch idp metadata: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch idp metadata: unexpected status %d", res.StatusCode)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read idp metadata: %w", err)
	}
	return ParseIDPMetadata(raw)
}

// ParseIDPMetadata parses a metadata document into the fields the handshake
// uses. The document must describe an IdP with at least one signing
// certificate and an HTTP-Redirect SSO endpoint.
func ParseIDPMetadata(raw []byte) (*IDPMetadata, error) {
	metadata := &types.EntityDescriptor{}
	if err := xml.Unmarshal(raw, metadata); err != nil {
		return nil, fmt.Errorf("parse idp metadata: %w", err)
	}
	if metadata.IDPSSODescriptor == nil {
		return nil, fmt.Errorf("parse idp metadata: no IDPSSODescriptor")
	}

	certStore := &dsig.MemoryX509CertificateStore{}
	for _, kd := range metadata.IDPSSODescriptor.KeyDescriptors {
		if kd.Use == "encryption" {
			continue
		}
		for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
			data := strings.Map(dropSpace, xcert.Data)
			if data == "" {
				continue
			}
			der, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return nil, fmt.Errorf("parse idp certificate: %w", err)
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("parse idp certificate: %w", err)
			}
			certStore.Roots = append(certStore.Roots, cert)
		}
	}
	if len(certStore.Roots) == 0 {
		return nil, fmt.Errorf("parse idp metadata: no signing certificates")
	}

	ssoURL := ""
	for _, svc := range metadata.IDPSSODescriptor.SingleSignOnServices {
		if svc.Binding == redirectBinding {
			ssoURL = svc.Location
			break
		}
	}
	if ssoURL == "" && len(metadata.IDPSSODescriptor.SingleSignOnServices) > 0 {
		ssoURL = metadata.IDPSSODescriptor.SingleSignOnServices[0].Location
	}
	if ssoURL == "" {
		return nil, fmt.Errorf("parse idp metadata: no SSO endpoint")
	}

	return &IDPMetadata{
		EntityID:  metadata.EntityID,
		SSOURL:    ssoURL,
		CertStore: certStore,
	}, nil
}

func dropSpace(r rune) rune {
	switch r {
	case ' ', '\t', '\n', '\r':
		return -1
	}
	return r
}
