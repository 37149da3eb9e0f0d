package order

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cpu/acmeorder/acme"
	"github.com/cpu/acmeorder/acme/resources"
)

// Authorization tracks one identifier's proof-of-control state within an
// order. It wraps the remote authorization resource and knows how to refresh
// itself from the CA.
type Authorization struct {
	conn Connector
	url  string
	res  resources.Authorization
}

// newAuthorization fetches the authorization resource at ref.
func newAuthorization(ctx context.Context, conn Connector, ref string) (*Authorization, error) {
	a := &Authorization{conn: conn, url: ref}
	if err := a.Refresh(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Refresh re-fetches the authorization resource from the CA, replacing the
// local copy on success and leaving it unchanged otherwise.
func (a *Authorization) Refresh(ctx context.Context) error {
	resp, err := a.conn.PostAsGet(ctx, a.url)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching authorization %q returned status %d, expected %d",
			a.url, resp.StatusCode, http.StatusOK)
	}

	var fresh resources.Authorization
	if err := json.Unmarshal(resp.Body, &fresh); err != nil {
		return fmt.Errorf("authorization %q response was invalid JSON: %s", a.url, err)
	}
	fresh.ID = a.url
	a.res = fresh
	return nil
}

// URL returns the authorization's server-assigned reference.
func (a *Authorization) URL() string {
	return a.url
}

// Status returns the authorization's last fetched status.
func (a *Authorization) Status() string {
	return a.res.Status
}

// Identifier returns the authorized domain name, with the wildcard marker
// restored for wildcard authorizations.
func (a *Authorization) Identifier() string {
	if a.res.Wildcard {
		return "*." + a.res.Identifier.Value
	}
	return a.res.Identifier.Value
}

// Challenge returns the authorization's challenge of the given type, or nil
// if the server offered none.
func (a *Authorization) Challenge(challType acme.ChallengeType) *resources.Challenge {
	return a.res.Challenge(challType.String())
}
