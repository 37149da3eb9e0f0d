package csr

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpu/acmeorder/acme/keys"
)

func TestCommonName(t *testing.T) {
	testCases := []struct {
		name        string
		identifiers []string
		primaryName string
		expected    string
	}{
		{
			name:        "primary name present",
			identifiers: []string{"www.example.org", "example.org"},
			primaryName: "example.org",
			expected:    "example.org",
		},
		{
			name:        "wildcard form of primary name",
			identifiers: []string{"www.example.org", "*.example.org"},
			primaryName: "example.org",
			expected:    "*.example.org",
		},
		{
			name:        "fallback to first identifier",
			identifiers: []string{"www.example.org", "mail.example.org"},
			primaryName: "other.example.com",
			expected:    "www.example.org",
		},
		{
			name:        "exact match beats wildcard",
			identifiers: []string{"*.example.org", "example.org"},
			primaryName: "example.org",
			expected:    "example.org",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CommonName(tc.identifiers, tc.primaryName))
		})
	}
}

func TestNew(t *testing.T) {
	signer, err := keys.NewSigner(keys.Spec{Algorithm: "ec", Size: 256})
	require.NoError(t, err)

	identifiers := []string{"www.example.org", "example.org"}
	b64, pemCSR, err := New(identifiers, "example.org", signer)
	require.NoError(t, err)

	// The base64url form must decode to the same DER the PEM form carries.
	derFromB64, err := base64.RawURLEncoding.DecodeString(string(b64))
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(pemCSR))
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE REQUEST", block.Type)
	assert.Equal(t, block.Bytes, derFromB64)

	parsed, err := x509.ParseCertificateRequest(derFromB64)
	require.NoError(t, err)
	require.NoError(t, parsed.CheckSignature())

	assert.Equal(t, "example.org", parsed.Subject.CommonName)
	assert.Equal(t, identifiers, parsed.DNSNames)
	assert.Equal(t, x509.ECDSAWithSHA256, parsed.SignatureAlgorithm)
}

func TestNewInvalid(t *testing.T) {
	signer, err := keys.NewSigner(keys.Spec{Algorithm: "ec", Size: 256})
	require.NoError(t, err)

	_, _, err = New(nil, "example.org", signer)
	require.Error(t, err)

	_, _, err = New([]string{"example.org"}, "example.org", nil)
	require.Error(t, err)
}
