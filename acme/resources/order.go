package resources

// The Order resource represents a collection of identifiers that an account
// wishes to create a Certificate for.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.3
//
// To understand the Status changes specified by ACME for the Order resource see
// https://tools.ietf.org/html/rfc8555#section-7.1.6
type Order struct {
	// The server-assigned ID (a URL) identifying the Order. Communicated by the
	// server in the Location header of the new-order response, not in the
	// response body.
	ID string `json:"-"`
	// The Status of the Order.
	Status string `json:"status,omitempty"`
	// A string representing an RFC 3339 date at which time the server considers
	// the Order expired.
	Expires string `json:"expires,omitempty"`
	// The Identifiers the Order wishes to finalize a Certificate for once the
	// Order is ready.
	Identifiers []Identifier `json:"identifiers"`
	// The requested notBefore validity timestamp, or empty for unspecified.
	NotBefore string `json:"notBefore,omitempty"`
	// The requested notAfter validity timestamp, or empty for unspecified.
	NotAfter string `json:"notAfter,omitempty"`
	// A list of URLs for Authorization resources the server specifies for the
	// Order Identifiers.
	Authorizations []string `json:"authorizations,omitempty"`
	// A URL used to Finalize the Order with a CSR once the Order has a status of
	// "ready".
	Finalize string `json:"finalize,omitempty"`
	// A URL used to fetch the Certificate issued by the server for the Order
	// after being Finalized. The Certificate field should be present and
	// not-empty when the Order has a status of "valid".
	Certificate string `json:"certificate,omitempty"`
	// The Error associated with an order the server will not issue for.
	Error *Problem `json:"error,omitempty"`
}

// String returns the Order's ID URL.
func (o Order) String() string {
	return o.ID
}

// IdentifierValues returns the DNS names from the Order's identifier list, in
// order.
func (o Order) IdentifierValues() []string {
	values := make([]string, 0, len(o.Identifiers))
	for _, ident := range o.Identifiers {
		values = append(values, ident.Value)
	}
	return values
}
