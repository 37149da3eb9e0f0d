package order

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cpu/acmeorder/acme"
	"github.com/cpu/acmeorder/acme/keys"
)

// PendingChallenge describes the response material a caller must publish for
// one pending authorization. For http-01 the Filename/Content pair names the
// well-known file to serve; for dns-01 the DNSDigest is the TXT record value
// to publish.
type PendingChallenge struct {
	// Identifier is the domain the challenge authorizes.
	Identifier string
	// Type of the challenge the material answers.
	Type acme.ChallengeType
	// Filename is the challenge token (http-01 only).
	Filename string
	// Content is the key authorization (http-01 only).
	Content string
	// DNSDigest is base64url(sha256(keyAuthorization)) (dns-01 only).
	DNSDigest string
}

// GetPendingAuthorizations enumerates the challenge response material for
// every authorization that is pending with a pending challenge of the given
// type. An empty result with a nil error means there is no pending work.
func (o *Order) GetPendingAuthorizations(challType acme.ChallengeType) ([]PendingChallenge, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// One thumbprint serves every key authorization below.
	thumbprint := keys.JWKThumbprint(o.conn.AccountSigner())

	var pending []PendingChallenge
	for _, authz := range o.authorizations {
		if authz.Status() != acme.StatusPending {
			continue
		}
		chall := authz.Challenge(challType)
		if chall == nil || chall.Status != acme.StatusPending {
			continue
		}

		keyAuth := chall.Token + "." + thumbprint
		descriptor := PendingChallenge{
			Identifier: authz.Identifier(),
			Type:       challType,
		}
		switch challType {
		case acme.ChallengeHTTP01:
			descriptor.Filename = chall.Token
			descriptor.Content = keyAuth
		case acme.ChallengeDNS01:
			descriptor.DNSDigest = keys.DNS01Digest(keyAuth)
		}
		pending = append(pending, descriptor)
	}

	o.log.Debug("enumerated pending authorizations",
		"type", challType.String(), "count", len(pending))
	return pending, nil
}

// VerifyAuthorization asks the CA to validate the identifier's pending
// challenge of the given type, then polls the authorization until its status
// leaves pending. The result is true only when the authorization ends valid.
//
// A false result with a nil error means the CA declined or no matching
// pending authorization/challenge was found (including a failed local
// pre-check); a non-nil error indicates a transport failure or a cancelled
// context. The caller decides whether to retry.
func (o *Order) VerifyAuthorization(ctx context.Context, identifier string, challType acme.ChallengeType) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	authz := o.findAuthorization(identifier)
	if authz == nil || authz.Status() != acme.StatusPending {
		o.log.Info("no pending authorization for identifier", "identifier", identifier)
		return false, nil
	}
	chall := authz.Challenge(challType)
	if chall == nil || chall.Status != acme.StatusPending {
		o.log.Info("no pending challenge for identifier",
			"identifier", identifier, "type", challType.String())
		return false, nil
	}

	keyAuth := keys.KeyAuth(o.conn.AccountSigner(), chall.Token)

	if o.preCheck != nil {
		var visible bool
		switch challType {
		case acme.ChallengeHTTP01:
			visible = o.preCheck.CheckHTTP01(ctx, identifier, chall.Token, keyAuth)
		case acme.ChallengeDNS01:
			visible = o.preCheck.CheckDNS01(ctx, identifier, keys.DNS01Digest(keyAuth))
		}
		if !visible {
			o.log.Info("challenge material failed local pre-check",
				"identifier", identifier, "type", challType.String())
			return false, nil
		}
	}

	// Give DNS records a chance to propagate before the CA looks for them.
	if challType == acme.ChallengeDNS01 {
		if err := o.wait(ctx, o.dnsPropagationDelay); err != nil {
			return false, err
		}
	}

	envelope, err := o.conn.SignKID([]byte("{}"), chall.URL)
	if err != nil {
		return false, err
	}
	resp, err := o.conn.Post(ctx, chall.URL, envelope)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		o.log.Info("CA declined challenge notification",
			"identifier", identifier, "status", resp.StatusCode)
		return false, nil
	}

	for authz.Status() == acme.StatusPending {
		if err := o.wait(ctx, o.authzPollInterval); err != nil {
			return false, err
		}
		if err := authz.Refresh(ctx); err != nil {
			return false, err
		}
	}

	if authz.Status() != acme.StatusValid {
		o.log.Info("authorization did not validate",
			"identifier", identifier, "status", authz.Status())
		return false, nil
	}

	o.log.Info("authorization validated",
		"identifier", identifier, "type", challType.String())
	if o.onValid != nil {
		o.onValid(identifier, challType)
	}
	return true, nil
}

// DeactivateAuthorization asks the CA to deactivate the identifier's
// authorization. Local state changes only after the CA confirms.
func (o *Order) DeactivateAuthorization(ctx context.Context, identifier string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	authz := o.findAuthorization(identifier)
	if authz == nil {
		o.log.Info("no authorization for identifier", "identifier", identifier)
		return false, nil
	}

	reqBody, err := json.Marshal(struct {
		Status string `json:"status"`
	}{Status: acme.StatusDeactivated})
	if err != nil {
		return false, err
	}
	envelope, err := o.conn.SignKID(reqBody, authz.URL())
	if err != nil {
		return false, err
	}
	resp, err := o.conn.Post(ctx, authz.URL(), envelope)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		o.log.Info("CA declined authorization deactivation",
			"identifier", identifier, "status", resp.StatusCode)
		return false, nil
	}

	if err := o.refreshAuthorizations(ctx); err != nil {
		return false, err
	}
	o.log.Info("authorization deactivated", "identifier", identifier)
	return true, nil
}

// findAuthorization matches an identifier against the authorization list,
// accepting either the bare or wildcard-marked form.
func (o *Order) findAuthorization(identifier string) *Authorization {
	for _, authz := range o.authorizations {
		if authz.Identifier() == identifier || authz.res.Identifier.Value == identifier {
			return authz
		}
	}
	return nil
}
