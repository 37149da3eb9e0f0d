package keys

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"strings"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpu/acmeorder/acme"
)

func TestParseSpec(t *testing.T) {
	testCases := []struct {
		raw      string
		expected Spec
		wantErr  bool
	}{
		{raw: "rsa", expected: Spec{Algorithm: "rsa", Size: 4096}},
		{raw: "rsa-2048", expected: Spec{Algorithm: "rsa", Size: 2048}},
		{raw: "rsa-3072", expected: Spec{Algorithm: "rsa", Size: 3072}},
		{raw: "rsa-4096", expected: Spec{Algorithm: "rsa", Size: 4096}},
		{raw: "ec", expected: Spec{Algorithm: "ec", Size: 256}},
		{raw: "ec-256", expected: Spec{Algorithm: "ec", Size: 256}},
		{raw: "ec-384", expected: Spec{Algorithm: "ec", Size: 384}},
		{raw: "rsa-1024", wantErr: true},
		{raw: "rsa-9999", wantErr: true},
		{raw: "ec-521", wantErr: true},
		{raw: "dsa-1024", wantErr: true},
		{raw: "rsa-", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "RSA-2048", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			spec, err := ParseSpec(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				assert.IsType(t, acme.InvalidKeyTypeError{}, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, spec)
		})
	}
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "rsa-2048", Spec{Algorithm: "rsa", Size: 2048}.String())
	assert.Equal(t, "ec-384", Spec{Algorithm: "ec", Size: 384}.String())
}

func TestNewSigner(t *testing.T) {
	rsaKey, err := NewSigner(Spec{Algorithm: "rsa", Size: 2048})
	require.NoError(t, err)
	require.IsType(t, &rsa.PrivateKey{}, rsaKey)
	assert.Equal(t, 2048, rsaKey.(*rsa.PrivateKey).N.BitLen())

	ecKey, err := NewSigner(Spec{Algorithm: "ec", Size: 384})
	require.NoError(t, err)
	require.IsType(t, &ecdsa.PrivateKey{}, ecKey)
	assert.Equal(t, "P-384", ecKey.(*ecdsa.PrivateKey).Curve.Params().Name)

	_, err = NewSigner(Spec{Algorithm: "dsa"})
	require.Error(t, err)
}

func TestPEMRoundTrip(t *testing.T) {
	for _, spec := range []Spec{
		{Algorithm: "rsa", Size: 2048},
		{Algorithm: "ec", Size: 256},
	} {
		t.Run(spec.String(), func(t *testing.T) {
			signer, err := NewSigner(spec)
			require.NoError(t, err)

			pemBytes, err := SignerToPEM(signer)
			require.NoError(t, err)

			restored, err := SignerFromPEM(pemBytes)
			require.NoError(t, err)
			assert.Equal(t, signer, restored)

			pubPEM, err := PublicKeyToPEM(signer)
			require.NoError(t, err)
			assert.Contains(t, string(pubPEM), "PUBLIC KEY")
		})
	}
}

func TestSignerFromPEMErrors(t *testing.T) {
	_, err := SignerFromPEM([]byte("not pem at all"))
	require.Error(t, err)

	_, err = SignerFromPEM([]byte(
		"-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CERTIFICATE")
}

func TestSigAlgForKey(t *testing.T) {
	p256, err := NewSigner(Spec{Algorithm: "ec", Size: 256})
	require.NoError(t, err)
	assert.Equal(t, jose.ES256, SigAlgForKey(p256))

	p384, err := NewSigner(Spec{Algorithm: "ec", Size: 384})
	require.NoError(t, err)
	assert.Equal(t, jose.ES384, SigAlgForKey(p384))

	rsaKey, err := NewSigner(Spec{Algorithm: "rsa", Size: 2048})
	require.NoError(t, err)
	assert.Equal(t, jose.RS256, SigAlgForKey(rsaKey))
}

func TestKeyAuth(t *testing.T) {
	signer, err := NewSigner(Spec{Algorithm: "ec", Size: 256})
	require.NoError(t, err)

	token := "evaGxfADs6pSRb2LAv9IZf17Dt3juxGJ-PCt92wr-oA"
	keyAuth := KeyAuth(signer, token)

	parts := strings.SplitN(keyAuth, ".", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, token, parts[0])
	assert.Equal(t, JWKThumbprint(signer), parts[1])

	// The thumbprint is a function of the public key alone and must be stable
	// across invocations.
	assert.Equal(t, keyAuth, KeyAuth(signer, token))

	other, err := NewSigner(Spec{Algorithm: "ec", Size: 256})
	require.NoError(t, err)
	assert.NotEqual(t, keyAuth, KeyAuth(other, token))
}

func TestDNS01Digest(t *testing.T) {
	// base64url(sha256(...)) is always 43 characters of the URL-safe alphabet
	// with no padding.
	digest := DNS01Digest("token.thumbprint")
	assert.Len(t, digest, 43)
	assert.NotContains(t, digest, "=")
	assert.NotContains(t, digest, "+")
	assert.NotContains(t, digest, "/")

	// Deterministic, and sensitive to the input.
	assert.Equal(t, digest, DNS01Digest("token.thumbprint"))
	assert.NotEqual(t, digest, DNS01Digest("token.otherprint"))
}
