// Package precheck performs local validation of challenge response material
// before the ACME server is asked to verify it. A failed pre-check is cheap;
// a failed server-side validation burns the authorization.
package precheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/cpu/acmeorder/acme"
)

// Checker runs local lookups for challenge response material. All results
// are boolean: a pre-check reports whether the material is visible, never
// why it is not. A Checker holds no mutable state and is safe for
// concurrent use.
type Checker struct {
	// Resolver is the "host:port" of the DNS server queried for dns-01
	// records. Empty selects the system resolver configuration.
	Resolver string
	// Timeout bounds each individual lookup. Zero means 10 seconds.
	Timeout time.Duration
	// Logger for lookup outcomes. A nil Logger discards all output.
	Logger *slog.Logger
}

func (c *Checker) log() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

func (c *Checker) timeout() time.Duration {
	if c.Timeout == 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

// baseName strips a wildcard prefix from an identifier. Challenge response
// material for "*.example.org" is served for "example.org".
func baseName(identifier string) string {
	return strings.TrimPrefix(identifier, "*.")
}

// CheckHTTP01 fetches the well-known challenge URL for the identifier over
// plain HTTP and reports whether the body matches the key authorization.
func (c *Checker) CheckHTTP01(ctx context.Context, identifier, token, keyAuth string) bool {
	checkURL := "http://" + baseName(identifier) + acme.HTTP01_PATH_PREFIX + token
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return false
	}

	httpClient := &http.Client{Timeout: c.timeout()}
	resp, err := httpClient.Do(req)
	if err != nil {
		c.log().Debug("http-01 pre-check fetch failed", "url", checkURL, "err", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log().Debug("http-01 pre-check bad status", "url", checkURL, "status", resp.StatusCode)
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false
	}

	match := strings.TrimSpace(string(body)) == keyAuth
	c.log().Debug("http-01 pre-check", "url", checkURL, "match", match)
	return match
}

// CheckDNS01 queries the TXT record for the identifier's challenge label and
// reports whether any answer matches the expected digest.
func (c *Checker) CheckDNS01(ctx context.Context, identifier, digest string) bool {
	resolver := c.Resolver
	if resolver == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil || len(conf.Servers) == 0 {
			c.log().Debug("dns-01 pre-check has no resolver", "err", err)
			return false
		}
		resolver = conf.Servers[0] + ":" + conf.Port
	}

	name := dns.Fqdn(acme.DNS01_LABEL + baseName(identifier))
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeTXT)
	msg.RecursionDesired = true

	dnsClient := &dns.Client{Timeout: c.timeout()}
	reply, _, err := dnsClient.ExchangeContext(ctx, msg, resolver)
	if err != nil {
		c.log().Debug("dns-01 pre-check query failed", "name", name, "err", err)
		return false
	}
	if reply.Rcode != dns.RcodeSuccess {
		c.log().Debug("dns-01 pre-check bad rcode", "name", name, "rcode", reply.Rcode)
		return false
	}

	for _, answer := range reply.Answer {
		txt, ok := answer.(*dns.TXT)
		if !ok {
			continue
		}
		for _, value := range txt.Txt {
			if value == digest {
				return true
			}
		}
	}
	c.log().Debug("dns-01 pre-check found no matching TXT record", "name", name)
	return false
}
