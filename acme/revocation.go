package acme

// Certificate revocation reason codes, from RFC 5280 §5.3.1. ACME carries
// them as bare integers in the revokeCert request payload.
// See https://tools.ietf.org/html/rfc8555#section-7.6
const (
	ReasonUnspecified          = 0
	ReasonKeyCompromise        = 1
	ReasonCACompromise         = 2
	ReasonAffiliationChanged   = 3
	ReasonSuperseded           = 4
	ReasonCessationOfOperation = 5
	ReasonCertificateHold      = 6
	ReasonRemoveFromCRL        = 8
	ReasonPrivilegeWithdrawn   = 9
	ReasonAACompromise         = 10
)
