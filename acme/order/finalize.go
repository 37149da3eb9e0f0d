package order

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"

	"github.com/cpu/acmeorder/acme"
	"github.com/cpu/acmeorder/acme/csr"
)

// Distinct, non-fatal finalize refusals. Both are reported with a false
// result so the caller can wait and retry.
var (
	// ErrOrderNotReady is returned when finalization is attempted against an
	// order whose status is not "ready".
	ErrOrderNotReady = errors.New("order status is not ready")
	// ErrAuthorizationsNotValid is returned when finalization is attempted
	// while one or more authorizations are not valid.
	ErrAuthorizationsNotValid = errors.New("not all order authorizations are valid")
)

// certPollAttempts caps how often RetrieveCertificate re-fetches an order
// stuck in "processing" before giving up for this invocation.
const certPollAttempts = 4

// Finalize builds a CSR for the order's identifiers from its key pair and
// submits it to the order's finalize URL. See FinalizeWithCSR for the
// sequencing rules.
func (o *Order) Finalize(ctx context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.signer == nil {
		return false, acme.InvalidConfigurationError{Reason: "order has no key pair"}
	}
	b64, pemCSR, err := csr.New(o.identifiers, o.primaryName, o.signer)
	if err != nil {
		return false, err
	}
	return o.finalize(ctx, b64, pemCSR)
}

// FinalizeWithCSR submits a caller-supplied signing request to the order's
// finalize URL. The order data is refreshed first so a stale status cannot
// slip through: finalization proceeds only when the order is "ready" and
// every authorization is valid, otherwise the matching refusal error is
// returned with a false result. On success the post-finalize order state is
// adopted and the authorization list refreshed.
func (o *Order) FinalizeWithCSR(ctx context.Context, b64 csr.B64CSR, pemCSR csr.PEMCSR) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalize(ctx, b64, pemCSR)
}

func (o *Order) finalize(ctx context.Context, b64 csr.B64CSR, pemCSR csr.PEMCSR) (bool, error) {
	if err := o.updateOrderData(ctx); err != nil {
		return false, err
	}

	if o.status != acme.StatusReady {
		o.log.Info("refusing to finalize order", "status", o.status)
		return false, ErrOrderNotReady
	}
	if !o.allAuthorizationsValid() {
		o.log.Info("refusing to finalize order with unmet authorizations")
		return false, ErrAuthorizationsNotValid
	}

	if err := o.paths.WriteCSR([]byte(pemCSR)); err != nil {
		return false, err
	}

	reqBody, err := json.Marshal(struct {
		CSR string `json:"csr"`
	}{CSR: string(b64)})
	if err != nil {
		return false, err
	}
	envelope, err := o.conn.SignKID(reqBody, o.finalizeURL)
	if err != nil {
		return false, err
	}
	resp, err := o.conn.Post(ctx, o.finalizeURL, envelope)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		o.log.Info("CA declined finalize request", "status", resp.StatusCode)
		return false, nil
	}

	var remote struct {
		Status      string `json:"status"`
		Expires     string `json:"expires"`
		Certificate string `json:"certificate"`
	}
	if err := json.Unmarshal(resp.Body, &remote); err != nil {
		return false, fmt.Errorf("finalize response was invalid JSON: %s", err)
	}
	o.status = remote.Status
	if remote.Expires != "" {
		o.expires = remote.Expires
	}
	if remote.Certificate != "" {
		o.certificateURL = remote.Certificate
	}
	if err := o.refreshAuthorizations(ctx); err != nil {
		return false, err
	}

	o.log.Info("finalized order", "url", o.url, "status", o.status)
	return true, nil
}

// RetrieveCertificate fetches the issued certificate chain and persists it
// to the configured slots: the leaf to the certificate slot, the whole chain
// to the full-chain slot and the issuing CA certificate to the CA-bundle
// slot (the latter two only when the response carried intermediates).
//
// An order still "processing" is re-fetched up to four times at the
// certificate poll interval, stopping early once the status moves on. If the
// order never reaches "valid", or no certificate reference is present, or
// the response contains no certificate, a false result is returned with
// a nil error; the caller may re-invoke later.
func (o *Order) RetrieveCertificate(ctx context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for attempt := 0; o.status == acme.StatusProcessing && attempt < certPollAttempts; attempt++ {
		if err := o.wait(ctx, o.certPollInterval); err != nil {
			return false, err
		}
		if err := o.updateOrderData(ctx); err != nil {
			return false, err
		}
	}

	if o.status != acme.StatusValid {
		o.log.Info("order is not valid, certificate not retrievable", "status", o.status)
		return false, nil
	}
	if o.certificateURL == "" {
		o.log.Info("valid order has no certificate reference")
		return false, nil
	}

	resp, err := o.conn.PostAsGet(ctx, o.certificateURL)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		o.log.Info("fetching certificate failed", "status", resp.StatusCode)
		return false, nil
	}

	blocks := splitCertificates(resp.Body)
	if len(blocks) == 0 {
		o.log.Info("certificate response contained no PEM certificate blocks")
		return false, nil
	}

	if err := o.paths.WriteCertificate(blocks[0]); err != nil {
		return false, err
	}
	if len(blocks) > 1 {
		if err := o.paths.WriteFullChain(bytes.Join(blocks, []byte("\n"))); err != nil {
			return false, err
		}
		if err := o.paths.WriteCABundle(blocks[len(blocks)-2]); err != nil {
			return false, err
		}
	}

	o.log.Info("retrieved certificate chain",
		"url", o.certificateURL, "certificates", len(blocks))
	return true, nil
}

// splitCertificates extracts every PEM CERTIFICATE block from body, leaf
// first, each re-encoded on its own.
func splitCertificates(body []byte) [][]byte {
	var blocks [][]byte
	rest := body
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		blocks = append(blocks, pem.EncodeToMemory(block))
	}
	return blocks
}
