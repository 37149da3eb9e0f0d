// Package keys offers utility functions for working with crypto.Signers,
// JWKs, key authorizations and PEM serialization.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"regexp"
	"strconv"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/cpu/acmeorder/acme"
)

// specPattern matches a key specification: an algorithm name optionally
// followed by a dash and a 3-4 digit size, e.g. "rsa", "rsa-2048", "ec-384".
var specPattern = regexp.MustCompile(`^([a-z]+)(?:-(\d{3,4}))?$`)

// Spec describes a key pair algorithm and size for an order's certificate key.
type Spec struct {
	// Algorithm is "rsa" or "ec".
	Algorithm string
	// Size is the modulus size in bits for RSA, or the curve size for EC
	// (256 for P-256, 384 for P-384).
	Size int
}

// ParseSpec parses a key specification string of the form "{rsa|ec}[-bits]".
// When the size is omitted the defaults are rsa-4096 and ec-256. Unsupported
// algorithms or sizes produce an acme.InvalidKeyTypeError.
func ParseSpec(raw string) (Spec, error) {
	match := specPattern.FindStringSubmatch(raw)
	if match == nil {
		return Spec{}, acme.InvalidKeyTypeError{Spec: raw}
	}

	spec := Spec{Algorithm: match[1]}
	if match[2] != "" {
		// The pattern guarantees match[2] is all digits.
		spec.Size, _ = strconv.Atoi(match[2])
	}

	switch spec.Algorithm {
	case "rsa":
		if spec.Size == 0 {
			spec.Size = 4096
		}
		if spec.Size != 2048 && spec.Size != 3072 && spec.Size != 4096 {
			return Spec{}, acme.InvalidKeyTypeError{Spec: raw}
		}
	case "ec":
		if spec.Size == 0 {
			spec.Size = 256
		}
		if spec.Size != 256 && spec.Size != 384 {
			return Spec{}, acme.InvalidKeyTypeError{Spec: raw}
		}
	default:
		return Spec{}, acme.InvalidKeyTypeError{Spec: raw}
	}
	return spec, nil
}

// String returns the canonical spec string, e.g. "rsa-4096".
func (s Spec) String() string {
	return fmt.Sprintf("%s-%d", s.Algorithm, s.Size)
}

// NewSigner generates a fresh private key of the given spec.
func NewSigner(spec Spec) (crypto.Signer, error) {
	switch spec.Algorithm {
	case "rsa":
		return rsa.GenerateKey(rand.Reader, spec.Size)
	case "ec":
		curve := elliptic.P256()
		if spec.Size == 384 {
			curve = elliptic.P384()
		}
		return ecdsa.GenerateKey(curve, rand.Reader)
	}
	return nil, acme.InvalidKeyTypeError{Spec: spec.Algorithm}
}

// SignerToPEM serializes a private key to PEM.
func SignerToPEM(signer crypto.Signer) ([]byte, error) {
	var keyBytes []byte
	var keyHeader string
	var err error
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		keyBytes, err = x509.MarshalECPrivateKey(k)
		keyHeader = "EC PRIVATE KEY"
	case *rsa.PrivateKey:
		keyBytes = x509.MarshalPKCS1PrivateKey(k)
		keyHeader = "RSA PRIVATE KEY"
	default:
		err = fmt.Errorf("unknown key type: %T", k)
	}
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  keyHeader,
		Bytes: keyBytes,
	}), nil
}

// PublicKeyToPEM serializes a private key's public half to PKIX PEM.
func PublicKeyToPEM(signer crypto.Signer) ([]byte, error) {
	pubBytes, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	}), nil
}

// SignerFromPEM parses a PEM serialized private key produced by SignerToPEM.
func SignerFromPEM(pemBytes []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in key data")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	return nil, fmt.Errorf("unknown PEM block type %q", block.Type)
}

// LoadSigner reads and parses a PEM serialized private key from path.
func LoadSigner(path string) (crypto.Signer, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return SignerFromPEM(pemBytes)
}

// JWKForSigner returns the public JWK for the given signer.
func JWKForSigner(signer crypto.Signer) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       signer.Public(),
		Algorithm: algForKey(signer),
	}
}

func algForKey(signer crypto.Signer) string {
	switch signer.(type) {
	case *ecdsa.PrivateKey:
		return "ECDSA"
	case *rsa.PrivateKey:
		return "RSA"
	}
	return "unknown"
}

// SigAlgForKey returns the JWS signature algorithm matching the signer's key
// type.
func SigAlgForKey(signer crypto.Signer) jose.SignatureAlgorithm {
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		if k.Curve == elliptic.P384() {
			return jose.ES384
		}
		return jose.ES256
	case *rsa.PrivateKey:
		return jose.RS256
	}
	return "unknown"
}

// JWKThumbprintBytes computes the RFC 7638 SHA-256 thumbprint of the signer's
// public key.
func JWKThumbprintBytes(signer crypto.Signer) []byte {
	jwk := JWKForSigner(signer)
	thumbBytes, _ := jwk.Thumbprint(crypto.SHA256)
	return thumbBytes
}

// JWKThumbprint returns the base64url encoding of the signer's public key
// thumbprint.
func JWKThumbprint(signer crypto.Signer) string {
	return base64.RawURLEncoding.EncodeToString(JWKThumbprintBytes(signer))
}

// KeyAuth computes the key authorization for a challenge token:
// token + "." + thumbprint. See https://tools.ietf.org/html/rfc8555#section-8.1
func KeyAuth(signer crypto.Signer, token string) string {
	return fmt.Sprintf("%s.%s", token, JWKThumbprint(signer))
}

// DNS01Digest computes the value published in the TXT record for a dns-01
// challenge: base64url(sha256(keyAuthorization)).
// See https://tools.ietf.org/html/rfc8555#section-8.4
func DNS01Digest(keyAuth string) string {
	digest := sha256.Sum256([]byte(keyAuth))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}
