package client

import (
	"crypto"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/cpu/acmeorder/acme/keys"
)

// SignKID signs the given payload into a JWS envelope using the account key,
// identifying the account with a "kid" protected header holding the account
// URL. This is the signing mode used for every ACME request except those that
// must prove possession of a non-account key.
//
// See https://tools.ietf.org/html/rfc8555#section-6.2
func (c *Client) SignKID(payload []byte, targetURL string) ([]byte, error) {
	jwk := &jose.JSONWebKey{
		Key:       c.accountKey,
		Algorithm: string(keys.SigAlgForKey(c.accountKey)),
		KeyID:     c.AccountURL,
	}

	signingKey := jose.SigningKey{
		Key:       jwk,
		Algorithm: keys.SigAlgForKey(c.accountKey),
	}

	return c.sign(signingKey, payload, targetURL)
}

// SignJWK signs the given payload into a JWS envelope with the provided key,
// embedding its public JWK in the protected header instead of a key ID.
// Certificate revocation by certificate key uses this mode.
//
// See https://tools.ietf.org/html/rfc8555#section-7.6
func (c *Client) SignJWK(payload []byte, targetURL string, key crypto.Signer) ([]byte, error) {
	signingKey := jose.SigningKey{
		Key:       key,
		Algorithm: keys.SigAlgForKey(key),
	}

	return c.signEmbedded(signingKey, payload, targetURL)
}

func (c *Client) sign(signingKey jose.SigningKey, payload []byte, targetURL string) ([]byte, error) {
	signer, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		NonceSource: c,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": targetURL,
		},
	})
	if err != nil {
		return nil, err
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, err
	}
	return []byte(signed.FullSerialize()), nil
}

func (c *Client) signEmbedded(signingKey jose.SigningKey, payload []byte, targetURL string) ([]byte, error) {
	signer, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		NonceSource: c,
		EmbedJWK:    true,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": targetURL,
		},
	})
	if err != nil {
		return nil, err
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, err
	}
	return []byte(signed.FullSerialize()), nil
}
