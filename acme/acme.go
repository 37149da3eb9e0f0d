// Package acme provides ACME protocol constants and shared types. See RFC 8555.
package acme

import "fmt"

const (
	// Directory constants
	// See https://tools.ietf.org/html/rfc8555#section-9.7.5

	// The ACME directory key for the newNonce endpoint
	NEW_NONCE_ENDPOINT = "newNonce"
	// The ACME directory key for the newOrder endpoint.
	NEW_ORDER_ENDPOINT = "newOrder"
	// The ACME directory key for the revokeCert endpoint.
	REVOKE_CERT_ENDPOINT = "revokeCert"

	// The HTTP response header used by ACME to communicate a fresh nonce. See
	// https://tools.ietf.org/html/rfc8555#section-9.3
	REPLAY_NONCE_HEADER = "Replay-Nonce"

	// The URL path prefix under which http-01 challenge responses must be
	// provisioned. See https://tools.ietf.org/html/rfc8555#section-8.3
	HTTP01_PATH_PREFIX = "/.well-known/acme-challenge/"

	// The DNS label prepended to an identifier to form the TXT record name for
	// a dns-01 challenge response. See
	// https://tools.ietf.org/html/rfc8555#section-8.4
	DNS01_LABEL = "_acme-challenge."
)

// Order and authorization status values specified by RFC 8555.
// See https://tools.ietf.org/html/rfc8555#section-7.1.6
const (
	StatusPending     = "pending"
	StatusReady       = "ready"
	StatusProcessing  = "processing"
	StatusValid       = "valid"
	StatusInvalid     = "invalid"
	StatusDeactivated = "deactivated"
	StatusExpired     = "expired"
)

// ChallengeType is a closed enumeration of the challenge types this package
// can produce response material for.
type ChallengeType string

const (
	// ChallengeHTTP01 is the "http-01" challenge type from RFC 8555 §8.3.
	ChallengeHTTP01 ChallengeType = "http-01"
	// ChallengeDNS01 is the "dns-01" challenge type from RFC 8555 §8.4.
	ChallengeDNS01 ChallengeType = "dns-01"
)

// ParseChallengeType converts a raw challenge type string into a
// ChallengeType. Unknown types produce an error.
func ParseChallengeType(raw string) (ChallengeType, error) {
	switch ChallengeType(raw) {
	case ChallengeHTTP01:
		return ChallengeHTTP01, nil
	case ChallengeDNS01:
		return ChallengeDNS01, nil
	}
	return "", fmt.Errorf("unknown challenge type %q", raw)
}

// String returns the wire form of the challenge type.
func (t ChallengeType) String() string {
	return string(t)
}
