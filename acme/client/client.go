// Package client provides a low-level ACME v2 connector for an existing
// account. It signs request payloads into JWS envelopes and POSTs them to
// CA-provided URLs. Account registration is out of scope: the account URL and
// account key are supplied by the caller.
package client

import (
	"context"
	"crypto"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	acmenet "github.com/cpu/acmeorder/net"

	"github.com/cpu/acmeorder/acme/keys"
)

// Client allows interaction with an ACME server on behalf of one account.
// The account key signs every request envelope; the account URL is used as
// the JWS Key ID. The Client holds no order-specific state and is safe for
// concurrent use by multiple orders.
type Client struct {
	// A parsed *url.URL pointer for the ACME server's directory URL.
	DirectoryURL *url.URL
	// The account's URL, assigned by the server at registration time. Used as
	// the JWS "kid" header value.
	AccountURL string

	accountKey crypto.Signer
	log        *slog.Logger
	net        *acmenet.ACMENet

	// mu guards directory and nonce. The nonce is the value of the last-seen
	// Replay-Nonce header and is consumed by the next signing operation.
	mu        sync.Mutex
	directory map[string]any
	nonce     string
}

// Config contains configuration options provided to New when creating
// a Client instance.
type Config struct {
	// A fully qualified URL for the ACME server's directory resource. Must
	// include an HTTP/HTTPS protocol prefix.
	DirectoryURL string
	// An optional file path to one or more PEM encoded CA certificates to be
	// used as trust roots for HTTPS requests to the ACME server.
	CACert string
	// The URL of a previously registered ACME account.
	AccountURL string
	// A file path to the PEM serialized account private key.
	AccountKeyPath string
	// Optional logger. A nil Logger discards all output.
	Logger *slog.Logger
}

// normalize validates a Config.
func (conf *Config) normalize() error {
	conf.DirectoryURL = strings.TrimSpace(conf.DirectoryURL)
	conf.AccountURL = strings.TrimSpace(conf.AccountURL)
	conf.AccountKeyPath = strings.TrimSpace(conf.AccountKeyPath)

	if conf.DirectoryURL == "" {
		return fmt.Errorf("DirectoryURL must not be empty")
	}
	if _, err := url.Parse(conf.DirectoryURL); err != nil {
		return fmt.Errorf("DirectoryURL invalid: %s", err.Error())
	}
	if conf.AccountURL == "" {
		return fmt.Errorf("AccountURL must not be empty")
	}
	if conf.AccountKeyPath == "" {
		return fmt.Errorf("AccountKeyPath must not be empty")
	}
	return nil
}

// New creates a Client instance from the given Config. The account key is
// loaded from disk and the server's directory is fetched immediately so that
// endpoint lookups never surprise a caller mid-operation.
func New(ctx context.Context, config Config) (*Client, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}

	net, err := acmenet.New(config.CACert)
	if err != nil {
		return nil, fmt.Errorf("unable to create ACME net client: %s", err)
	}

	accountKey, err := keys.LoadSigner(config.AccountKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to load account key from %q: %s",
			config.AccountKeyPath, err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// Safe to discard the error: url.Parse succeeded in normalize above.
	dirURL, _ := url.Parse(config.DirectoryURL)

	client := &Client{
		DirectoryURL: dirURL,
		AccountURL:   config.AccountURL,
		accountKey:   accountKey,
		log:          logger,
		net:          net,
	}

	if err := client.UpdateDirectory(ctx); err != nil {
		return nil, err
	}
	if err := client.RefreshNonce(ctx); err != nil {
		return nil, err
	}

	return client, nil
}

// AccountSigner returns the account's private key. The order machinery uses
// its public half to compute key authorization thumbprints.
func (c *Client) AccountSigner() crypto.Signer {
	return c.accountKey
}

// Post POSTs a signed envelope to the given URL.
func (c *Client) Post(ctx context.Context, url string, body []byte) (*acmenet.Response, error) {
	c.log.Debug("posting signed envelope", "url", url, "bytes", len(body))
	return c.net.PostURL(ctx, url, body)
}

// PostAsGet fetches the resource at the given URL with a POST-as-GET
// request: a KID-signed envelope over an empty payload.
// See https://tools.ietf.org/html/rfc8555#section-6.3
func (c *Client) PostAsGet(ctx context.Context, url string) (*acmenet.Response, error) {
	envelope, err := c.SignKID(nil, url)
	if err != nil {
		return nil, err
	}
	return c.Post(ctx, url, envelope)
}
