// Package csr builds certificate signing requests for order finalization.
package csr

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// PEMCSR is the PEM encoding of an x509 Certificate Signing Request (CSR)
type PEMCSR string

// B64CSR is the Base64URLSafe encoding of the DER form of an x509 Certificate
// Signing Request (CSR). ACME finalize requests carry the CSR in this form,
// not PEM. See https://tools.ietf.org/html/rfc8555#section-7.4
type B64CSR string

// CommonName selects the certificate subject common name for an order's
// identifier set. The primary name wins if it appears among the identifiers
// exactly, then its wildcard form ("*." + primaryName), then the first
// identifier.
func CommonName(identifiers []string, primaryName string) string {
	if len(identifiers) == 0 {
		return primaryName
	}
	wildcard := "*." + primaryName
	for _, ident := range identifiers {
		if ident == primaryName {
			return primaryName
		}
	}
	for _, ident := range identifiers {
		if ident == wildcard {
			return wildcard
		}
	}
	return identifiers[0]
}

// New produces a CSR for the given identifiers signed with the order's
// certificate key. Every identifier is included as a DNS SAN. The CSR uses
// a SHA-256 based signature and requests no CA capability. New does not
// mutate any of its inputs. It returns both the base64url DER encoding used
// on the wire and the PEM encoding persisted to disk.
func New(identifiers []string, primaryName string, signer crypto.Signer) (B64CSR, PEMCSR, error) {
	if len(identifiers) == 0 {
		return "", "", fmt.Errorf("csr: no identifiers specified")
	}
	if signer == nil {
		return "", "", fmt.Errorf("csr: no key pair specified")
	}

	template := x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName: CommonName(identifiers, primaryName),
		},
		DNSNames: identifiers,
		// x509.CreateCertificateRequest picks the concrete SHA-256 based
		// algorithm (SHA256WithRSA or ECDSAWithSHA256) from the signer type when
		// SignatureAlgorithm is unset. CSRs carry no basicConstraints, so CA:true
		// cannot be requested here.
	}

	csrBytes, err := x509.CreateCertificateRequest(rand.Reader, &template, signer)
	if err != nil {
		return "", "", err
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type: "CERTIFICATE REQUEST", Bytes: csrBytes,
	})

	return B64CSR(base64.RawURLEncoding.EncodeToString(csrBytes)),
		PEMCSR(pemBytes),
		nil
}
