// Package order implements the lifecycle of one ACME certificate order:
// creation or recovery from persisted state, authorization tracking,
// challenge response material, finalization with a CSR, certificate
// retrieval and revocation.
//
// An Order is not safe for concurrent use by multiple goroutines; every
// public operation takes an exclusive lock on the whole Order. The Connector
// may be shared between Orders.
package order

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"github.com/cpu/acmeorder/acme"
	"github.com/cpu/acmeorder/acme/keys"
	"github.com/cpu/acmeorder/acme/resources"
	"github.com/cpu/acmeorder/acme/storage"
	acmenet "github.com/cpu/acmeorder/net"
)

// Connector is the signing and transport facade the order machinery drives.
// It holds the account identity and no order-specific state, so one Connector
// may serve many Orders concurrently.
type Connector interface {
	// SignKID signs payload into a JWS envelope identifying the account by
	// key ID.
	SignKID(payload []byte, targetURL string) ([]byte, error)
	// SignJWK signs payload into a JWS envelope embedding the public half of
	// the given non-account key.
	SignJWK(payload []byte, targetURL string, key crypto.Signer) ([]byte, error)
	// Post POSTs a signed envelope to a CA-provided URL.
	Post(ctx context.Context, url string, body []byte) (*acmenet.Response, error)
	// PostAsGet fetches a CA resource with a signed empty payload.
	PostAsGet(ctx context.Context, url string) (*acmenet.Response, error)
	// GetEndpointURL looks up a well-known endpoint ("newOrder", "revokeCert")
	// in the CA's directory.
	GetEndpointURL(name string) (string, bool)
	// AccountSigner returns the account key used for challenge thumbprints.
	AccountSigner() crypto.Signer
}

// PreChecker validates challenge response material locally before the CA is
// notified. Implementations report visibility only, never a cause.
type PreChecker interface {
	CheckHTTP01(ctx context.Context, identifier, token, keyAuth string) bool
	CheckDNS01(ctx context.Context, identifier, digest string) bool
}

// timestampPattern is the only accepted shape for notBefore/notAfter values.
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)

// recovery failure modes that select which persisted files survive. See the
// cleanup rules in New.
var (
	errMalformedReference  = errors.New("persisted order reference is not a well-formed URL")
	errIdentifierMismatch  = errors.New("persisted order identifiers do not match the requested set")
	errRecoveryFetchFailed = errors.New("fetching the persisted order failed")
)

// Config carries everything needed to construct or recover an Order.
type Config struct {
	// Identifiers is the ordered set of domain names the certificate must
	// cover. Required, and compared as a set against any recovered order.
	Identifiers []string
	// PrimaryName selects the certificate subject. Empty selects the first
	// identifier.
	PrimaryName string
	// KeyType is a key specification of the form "{rsa|ec}[-bits]". Empty
	// selects "rsa".
	KeyType string
	// NotBefore and NotAfter bound the requested validity window. Each must be
	// empty or match "YYYY-MM-DDTHH:MM:SSZ".
	NotBefore string
	NotAfter  string
	// Paths names the persisted artifacts.
	Paths storage.Paths
	// PreCheck, when not nil, validates challenge material locally before the
	// CA is notified. Nil disables pre-checking.
	PreCheck PreChecker
	// OnChallengeValidated, when not nil, is invoked after an authorization
	// reaches "valid" through VerifyAuthorization. Host applications hook
	// their own bookkeeping here.
	OnChallengeValidated func(identifier string, challType acme.ChallengeType)
	// Logger for order progress. A nil Logger discards all output.
	Logger *slog.Logger
	// Clock drives all polling waits. Nil selects the system clock.
	Clock clock.Clock

	// Polling configuration. Zero values select the defaults: a 1 second
	// authorization poll, a 5 second certificate poll and a 30 second dns-01
	// propagation delay.
	AuthzPollInterval   time.Duration
	CertPollInterval    time.Duration
	DNSPropagationDelay time.Duration
}

// Order tracks one certificate order against an ACME CA.
type Order struct {
	mu   sync.Mutex
	conn Connector

	identifiers []string
	primaryName string
	keySpec     keys.Spec
	notBefore   string
	notAfter    string

	paths    storage.Paths
	preCheck PreChecker
	onValid  func(identifier string, challType acme.ChallengeType)
	log      *slog.Logger
	clk      clock.Clock

	authzPollInterval   time.Duration
	certPollInterval    time.Duration
	dnsPropagationDelay time.Duration

	// Remote order state, adopted from the server.
	url            string
	status         string
	expires        string
	authzURLs      []string
	finalizeURL    string
	certificateURL string
	authorizations []*Authorization

	// The order's certificate key pair. Generated exactly once per order
	// lifetime, at creation.
	signer crypto.Signer
}

// New constructs an Order for the given identifier set, recovering persisted
// state when the order reference and both key pair halves are present on
// disk, and creating a fresh order with the CA otherwise.
//
// A recovered order is discarded and replaced by a fresh one when its remote
// status is invalid (issued material and private key are swept to ".old",
// stale artifacts removed), when its identifier set no longer matches the
// requested one (every file swept to ".old"), when the persisted reference is
// not a well-formed URL (every file removed), or when fetching it fails
// (stale artifacts removed; certificate material and private key preserved).
func New(ctx context.Context, conn Connector, cfg Config) (*Order, error) {
	o, err := fromConfig(conn, cfg)
	if err != nil {
		return nil, err
	}

	if o.paths.HaveOrderArtifacts() {
		err := o.recover(ctx)
		if err == nil {
			o.log.Info("recovered persisted order", "url", o.url, "status", o.status)
			return o, nil
		}

		var invalidStatus acme.InvalidOrderStatusError
		switch {
		case errors.As(err, &invalidStatus):
			o.log.Info("persisted order is invalid, sweeping issued material aside",
				"url", invalidStatus.OrderURL)
			if sweepErr := o.paths.SweepInvalid(); sweepErr != nil {
				return nil, sweepErr
			}
		case errors.Is(err, errIdentifierMismatch):
			o.log.Info("persisted order identifiers changed, sweeping all artifacts aside")
			if sweepErr := o.paths.SweepAll(); sweepErr != nil {
				return nil, sweepErr
			}
		case errors.Is(err, errMalformedReference):
			o.log.Info("persisted order reference is malformed, removing artifacts")
			if rmErr := o.paths.RemoveAll(); rmErr != nil {
				return nil, rmErr
			}
		default:
			o.log.Info("order recovery failed, removing stale artifacts", "err", err)
			if rmErr := o.paths.RemoveStale(); rmErr != nil {
				return nil, rmErr
			}
		}
		o.reset()
	}

	if err := o.create(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func fromConfig(conn Connector, cfg Config) (*Order, error) {
	if conn == nil {
		return nil, acme.InvalidArgumentError{Reason: "no connector supplied"}
	}
	if len(cfg.Identifiers) == 0 {
		return nil, acme.InvalidArgumentError{Reason: "no identifiers supplied"}
	}
	for _, ident := range cfg.Identifiers {
		if strings.Count(ident, "*") > 1 {
			return nil, acme.InvalidArgumentError{
				Reason: fmt.Sprintf("identifier %q contains more than one wildcard", ident),
			}
		}
	}
	for _, ts := range []string{cfg.NotBefore, cfg.NotAfter} {
		if ts != "" && !timestampPattern.MatchString(ts) {
			return nil, acme.InvalidArgumentError{
				Reason: fmt.Sprintf("timestamp %q does not match YYYY-MM-DDTHH:MM:SSZ", ts),
			}
		}
	}

	keyType := cfg.KeyType
	if keyType == "" {
		keyType = "rsa"
	}
	spec, err := keys.ParseSpec(keyType)
	if err != nil {
		return nil, err
	}

	if err := cfg.Paths.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	primaryName := cfg.PrimaryName
	if primaryName == "" {
		primaryName = cfg.Identifiers[0]
	}

	o := &Order{
		conn:                conn,
		identifiers:         append([]string(nil), cfg.Identifiers...),
		primaryName:         primaryName,
		keySpec:             spec,
		notBefore:           cfg.NotBefore,
		notAfter:            cfg.NotAfter,
		paths:               cfg.Paths,
		preCheck:            cfg.PreCheck,
		onValid:             cfg.OnChallengeValidated,
		log:                 logger,
		clk:                 clk,
		authzPollInterval:   cfg.AuthzPollInterval,
		certPollInterval:    cfg.CertPollInterval,
		dnsPropagationDelay: cfg.DNSPropagationDelay,
	}
	if o.authzPollInterval == 0 {
		o.authzPollInterval = time.Second
	}
	if o.certPollInterval == 0 {
		o.certPollInterval = 5 * time.Second
	}
	if o.dnsPropagationDelay == 0 {
		o.dnsPropagationDelay = 30 * time.Second
	}
	return o, nil
}

// reset discards any adopted remote state ahead of a fresh creation.
func (o *Order) reset() {
	o.url = ""
	o.status = ""
	o.expires = ""
	o.authzURLs = nil
	o.finalizeURL = ""
	o.certificateURL = ""
	o.authorizations = nil
	o.signer = nil
}

// recover loads the persisted order reference and key pair and re-fetches
// the remote order. The returned error selects the cleanup performed by New.
func (o *Order) recover(ctx context.Context) error {
	ref, err := o.paths.ReadOrderURL()
	if err != nil {
		return fmt.Errorf("%w: %s", errRecoveryFetchFailed, err)
	}
	parsed, err := url.Parse(ref)
	if err != nil || !parsed.IsAbs() {
		return errMalformedReference
	}

	signer, err := keys.LoadSigner(o.paths.PrivateKey)
	if err != nil {
		return fmt.Errorf("%w: %s", errRecoveryFetchFailed, err)
	}

	remote, err := o.fetchOrder(ctx, ref)
	if err != nil {
		return fmt.Errorf("%w: %s", errRecoveryFetchFailed, err)
	}

	if remote.Status == acme.StatusInvalid {
		return acme.InvalidOrderStatusError{OrderURL: ref, Status: remote.Status}
	}

	if !sameIdentifierSet(o.identifiers, remote.IdentifierValues()) {
		return errIdentifierMismatch
	}

	o.url = ref
	o.signer = signer
	o.adopt(remote)
	return o.refreshAuthorizations(ctx)
}

// create submits a new-order request, persists the returned reference and
// generates the order's key pair. Any failure surfaces as a typed error and
// aborts construction.
func (o *Order) create(ctx context.Context) error {
	newOrderURL, ok := o.conn.GetEndpointURL(acme.NEW_ORDER_ENDPOINT)
	if !ok {
		return acme.CreateFailedError{
			Reason: fmt.Sprintf("ACME server directory has no %q endpoint", acme.NEW_ORDER_ENDPOINT),
		}
	}

	identifiers := make([]resources.Identifier, 0, len(o.identifiers))
	for _, ident := range o.identifiers {
		identifiers = append(identifiers, resources.Identifier{Type: "dns", Value: ident})
	}
	reqBody, err := json.Marshal(resources.Order{
		Identifiers: identifiers,
		NotBefore:   o.notBefore,
		NotAfter:    o.notAfter,
	})
	if err != nil {
		return acme.CreateFailedError{Reason: err.Error()}
	}

	envelope, err := o.conn.SignKID(reqBody, newOrderURL)
	if err != nil {
		return acme.CreateFailedError{Reason: err.Error()}
	}

	resp, err := o.conn.Post(ctx, newOrderURL, envelope)
	if err != nil {
		return acme.CreateFailedError{Reason: err.Error()}
	}
	if resp.StatusCode != http.StatusCreated {
		return acme.CreateFailedError{
			Reason: fmt.Sprintf("server returned status %d, expected %d",
				resp.StatusCode, http.StatusCreated),
		}
	}

	// http.Header.Get is case-insensitive by construction.
	location := resp.Header.Get("Location")
	if location == "" {
		return acme.CreateFailedError{Reason: "server returned no Location header"}
	}

	var remote resources.Order
	if err := json.Unmarshal(resp.Body, &remote); err != nil {
		return acme.CreateFailedError{Reason: fmt.Sprintf("server returned invalid JSON: %s", err)}
	}

	if err := o.paths.WriteOrderURL(location); err != nil {
		return err
	}

	signer, err := keys.NewSigner(o.keySpec)
	if err != nil {
		return err
	}
	privPEM, err := keys.SignerToPEM(signer)
	if err != nil {
		return err
	}
	pubPEM, err := keys.PublicKeyToPEM(signer)
	if err != nil {
		return err
	}
	if err := o.paths.WriteKeyPair(privPEM, pubPEM); err != nil {
		return err
	}

	o.url = location
	o.signer = signer
	o.adopt(remote)
	o.log.Info("created new order", "url", o.url, "status", o.status,
		"key", o.keySpec.String())

	return o.refreshAuthorizations(ctx)
}

// fetchOrder retrieves the order resource at ref with a POST-as-GET.
func (o *Order) fetchOrder(ctx context.Context, ref string) (resources.Order, error) {
	var remote resources.Order
	resp, err := o.conn.PostAsGet(ctx, ref)
	if err != nil {
		return remote, err
	}
	if resp.StatusCode != http.StatusOK {
		return remote, fmt.Errorf("fetching order %q returned status %d, expected %d",
			ref, resp.StatusCode, http.StatusOK)
	}
	if err := json.Unmarshal(resp.Body, &remote); err != nil {
		return remote, fmt.Errorf("order %q response was invalid JSON: %s", ref, err)
	}
	remote.ID = ref
	return remote, nil
}

// adopt copies the remote order's fields into the local state.
func (o *Order) adopt(remote resources.Order) {
	o.status = remote.Status
	o.expires = remote.Expires
	if len(remote.Identifiers) > 0 {
		o.identifiers = remote.IdentifierValues()
	}
	o.authzURLs = append([]string(nil), remote.Authorizations...)
	o.finalizeURL = remote.Finalize
	if remote.Certificate != "" {
		o.certificateURL = remote.Certificate
	}
}

// UpdateOrderData re-fetches the order and adopts every remote field,
// refreshing the authorization list. On failure the local state is left
// unchanged; the caller may retry.
func (o *Order) UpdateOrderData(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updateOrderData(ctx)
}

func (o *Order) updateOrderData(ctx context.Context) error {
	remote, err := o.fetchOrder(ctx, o.url)
	if err != nil {
		return err
	}
	o.adopt(remote)
	return o.refreshAuthorizations(ctx)
}

// refreshAuthorizations rebuilds the authorization list from the order's
// authorization references. Malformed references are skipped silently. The
// previous list is replaced only once the new one is fully built.
func (o *Order) refreshAuthorizations(ctx context.Context) error {
	fresh := make([]*Authorization, 0, len(o.authzURLs))
	for _, ref := range o.authzURLs {
		parsed, err := url.Parse(ref)
		if err != nil || !parsed.IsAbs() {
			continue
		}
		authz, err := newAuthorization(ctx, o.conn, ref)
		if err != nil {
			return err
		}
		fresh = append(fresh, authz)
	}
	o.authorizations = fresh
	return nil
}

// allAuthorizationsValid reports whether the authorization list is non-empty
// and every entry is valid.
func (o *Order) allAuthorizationsValid() bool {
	if len(o.authorizations) == 0 {
		return false
	}
	for _, authz := range o.authorizations {
		if authz.Status() != acme.StatusValid {
			return false
		}
	}
	return true
}

// AllAuthorizationsValid reports whether every authorization for the order
// is valid. It is false for an order with no authorizations.
func (o *Order) AllAuthorizationsValid() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.allAuthorizationsValid()
}

// URL returns the remote order reference.
func (o *Order) URL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.url
}

// Status returns the last adopted remote order status.
func (o *Order) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Identifiers returns the order's identifier values in order.
func (o *Order) Identifiers() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.identifiers...)
}

// Authorizations returns the current authorization list.
func (o *Order) Authorizations() []*Authorization {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Authorization(nil), o.authorizations...)
}

// sameIdentifierSet compares two identifier slices as unordered sets.
func sameIdentifierSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, ident := range a {
		seen[ident]++
	}
	for _, ident := range b {
		seen[ident]--
		if seen[ident] < 0 {
			return false
		}
	}
	return true
}

// wait blocks for d using the order's clock, returning early with the
// context's error when it is cancelled.
func (o *Order) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clk.After(d):
		return nil
	}
}
