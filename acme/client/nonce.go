package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cpu/acmeorder/acme"
)

// Nonce satisfies the JWS "NonceSource" interface by using a nonce stored by
// the client from previous responses. That nonce value will be returned after
// first getting a replacement nonce to store from the ACME server's NewNonce
// endpoint. This ensures a constant supply of fresh nonces by always fetching
// a replacement at the same time we use the old nonce.
func (c *Client) Nonce() (string, error) {
	c.mu.Lock()
	n := c.nonce
	c.mu.Unlock()

	if err := c.RefreshNonce(context.Background()); err != nil {
		return n, err
	}
	return n, nil
}

// RefreshNonce fetches a new nonce from the ACME server's NewNonce endpoint
// and stores it in the client's memory to be used in subsequent Nonce calls.
//
// See https://tools.ietf.org/html/rfc8555#section-7.2
func (c *Client) RefreshNonce(ctx context.Context) error {
	nonceURL, ok := c.GetEndpointURL(acme.NEW_NONCE_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"missing %q entry in ACME server directory", acme.NEW_NONCE_ENDPOINT)
	}

	resp, err := c.net.HeadURL(ctx, nonceURL)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%q returned HTTP status %d, expected %d",
			acme.NEW_NONCE_ENDPOINT, resp.StatusCode, http.StatusOK)
	}

	nonce := resp.Header.Get(acme.REPLAY_NONCE_HEADER)
	if nonce == "" {
		return fmt.Errorf("%q returned no %q header value",
			acme.NEW_NONCE_ENDPOINT, acme.REPLAY_NONCE_HEADER)
	}

	c.mu.Lock()
	c.nonce = nonce
	c.mu.Unlock()
	c.log.Debug("updated nonce", "nonce", nonce)
	return nil
}
