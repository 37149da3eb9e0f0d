package order

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"os"

	"github.com/cpu/acmeorder/acme"
	"github.com/cpu/acmeorder/acme/keys"
)

// Revoke asks the CA to revoke the order's issued certificate with the given
// RFC 5280 reason code. Revocation is permitted only while the order is
// "valid" or "ready", requires issued certificate material on disk (the
// certificate slot, falling back to the full chain) along with the order's
// private key, and is signed with the certificate's own key rather than the
// account key.
func (o *Order) Revoke(ctx context.Context, reason int) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status != acme.StatusValid && o.status != acme.StatusReady {
		return false, acme.InvalidOrderStatusError{OrderURL: o.url, Status: o.status}
	}

	certPath, ok := o.paths.CertificateSource()
	if !ok {
		return false, acme.InvalidConfigurationError{
			Reason: "revocation requires a certificate or full-chain slot",
		}
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return false, acme.InvalidConfigurationError{
			Reason: "revocation requires an issued certificate on disk: " + err.Error(),
		}
	}
	certKey, err := keys.LoadSigner(o.paths.PrivateKey)
	if err != nil {
		return false, acme.InvalidConfigurationError{
			Reason: "revocation requires the order private key on disk: " + err.Error(),
		}
	}

	var block *pem.Block
	rest := certPEM
	for {
		block, rest = pem.Decode(rest)
		if block == nil || block.Type == "CERTIFICATE" {
			break
		}
	}
	if block == nil {
		return false, acme.InvalidConfigurationError{
			Reason: "certificate file contains no PEM certificate block",
		}
	}

	revokeURL, ok := o.conn.GetEndpointURL(acme.REVOKE_CERT_ENDPOINT)
	if !ok {
		return false, acme.InvalidConfigurationError{
			Reason: "ACME server directory has no revokeCert endpoint",
		}
	}

	reqBody, err := json.Marshal(struct {
		Certificate string `json:"certificate"`
		Reason      int    `json:"reason"`
	}{
		Certificate: base64.RawURLEncoding.EncodeToString(block.Bytes),
		Reason:      reason,
	})
	if err != nil {
		return false, err
	}

	envelope, err := o.conn.SignJWK(reqBody, revokeURL, certKey)
	if err != nil {
		return false, err
	}
	resp, err := o.conn.Post(ctx, revokeURL, envelope)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		o.log.Info("CA declined revocation", "status", resp.StatusCode)
		return false, nil
	}

	o.log.Info("revoked certificate", "order", o.url, "reason", reason)
	return true, nil
}
