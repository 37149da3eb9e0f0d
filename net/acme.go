// Package net provides common HTTP utilities.
package net

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
)

const (
	version       = "0.0.1"
	userAgentBase = "cpu.acmeorder"
	locale        = "en-us"
)

// ACMENet is a thin wrapper around an http.Client for talking to ACME
// servers. It is safe for concurrent use.
type ACMENet struct {
	httpClient *http.Client
}

// New constructs an ACMENet. If customCABundle is not empty it names a file
// of PEM CA certificates used as the trust roots for HTTPS requests instead
// of the system roots.
func New(customCABundle string) (*ACMENet, error) {
	var caBundle *x509.CertPool
	if customCABundle != "" {
		pemBundle, err := os.ReadFile(customCABundle)
		if err != nil {
			return nil, err
		}

		caBundle = x509.NewCertPool()
		caBundle.AppendCertsFromPEM(pemBundle)
	}

	return &ACMENet{
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs: caBundle,
				},
			},
		},
	}, nil
}

// Response holds the results from executing an HTTP request.
type Response struct {
	// StatusCode from the HTTP response.
	StatusCode int
	// Header from the HTTP response.
	Header http.Header
	// The response body. It has already been read to completion and closed.
	Body []byte
}

// Do performs an HTTP request, returning a pointer to a Response or an
// error. User-Agent and Accept-Language headers are automatically added to
// the request.
func (c *ACMENet) Do(req *http.Request) (*Response, error) {
	ua := fmt.Sprintf("%s %s (%s; %s)",
		userAgentBase, version, runtime.GOOS, runtime.GOARCH)
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", locale)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// HeadURL performs a HEAD request against the given URL.
func (c *ACMENet) HeadURL(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// PostURL POSTs the given body to the given URL with the ACME JOSE content
// type.
func (c *ACMENet) PostURL(ctx context.Context, url string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/jose+json")
	return c.Do(req)
}

// GetURL GETs the given URL.
func (c *ACMENet) GetURL(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}
