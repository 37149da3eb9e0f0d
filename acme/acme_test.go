package acme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChallengeType(t *testing.T) {
	for _, raw := range []string{"http-01", "dns-01"} {
		challType, err := ParseChallengeType(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, challType.String())
	}

	for _, raw := range []string{"tls-alpn-01", "HTTP-01", "http01", ""} {
		_, err := ParseChallengeType(raw)
		assert.Error(t, err, "%q should not parse", raw)
	}
}

func TestErrorMessages(t *testing.T) {
	testCases := []struct {
		err      error
		contains string
	}{
		{InvalidKeyTypeError{Spec: "dsa-1024"}, "dsa-1024"},
		{InvalidArgumentError{Reason: "no identifiers supplied"}, "no identifiers"},
		{InvalidOrderStatusError{OrderURL: "https://example.com/order/1", Status: "invalid"}, "invalid"},
		{CreateFailedError{Reason: "server returned status 500"}, "500"},
		{InvalidConfigurationError{Reason: "no certificate slot"}, "certificate"},
	}
	for _, tc := range testCases {
		assert.Contains(t, tc.err.Error(), tc.contains)
	}
}
