package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpu/acmeorder/acme"
	"github.com/cpu/acmeorder/acme/keys"
)

// stubPreChecker records what it was asked to check and answers with a fixed
// verdict.
type stubPreChecker struct {
	allow bool

	mu         sync.Mutex
	gotToken   string
	gotKeyAuth string
	gotDigest  string
}

func (s *stubPreChecker) CheckHTTP01(ctx context.Context, identifier, token, keyAuth string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotToken = token
	s.gotKeyAuth = keyAuth
	return s.allow
}

func (s *stubPreChecker) CheckDNS01(ctx context.Context, identifier, digest string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotDigest = digest
	return s.allow
}

func TestGetPendingAuthorizationsHTTP01(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	ord, err := New(context.Background(), conn,
		testConfig(testStoragePaths(t), "example.org", "www.example.org"))
	require.NoError(t, err)

	pending, err := ord.GetPendingAuthorizations(acme.ChallengeHTTP01)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	byIdentifier := make(map[string]PendingChallenge, len(pending))
	for _, p := range pending {
		byIdentifier[p.Identifier] = p
	}

	for _, ident := range []string{"example.org", "www.example.org"} {
		p, ok := byIdentifier[ident]
		require.True(t, ok, "missing descriptor for %q", ident)
		assert.Equal(t, acme.ChallengeHTTP01, p.Type)
		assert.Equal(t, "tok-"+ident, p.Filename)
		assert.Equal(t, keys.KeyAuth(conn.AccountSigner(), "tok-"+ident), p.Content)
		assert.Empty(t, p.DNSDigest)
	}
}

func TestGetPendingAuthorizationsDNS01(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	ord, err := New(context.Background(), conn,
		testConfig(testStoragePaths(t), "*.example.org"))
	require.NoError(t, err)

	pending, err := ord.GetPendingAuthorizations(acme.ChallengeDNS01)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	p := pending[0]
	assert.Equal(t, "*.example.org", p.Identifier)
	assert.Equal(t, acme.ChallengeDNS01, p.Type)
	assert.Empty(t, p.Filename)
	assert.Empty(t, p.Content)

	keyAuth := keys.KeyAuth(conn.AccountSigner(), "tok-example.org")
	assert.Equal(t, keys.DNS01Digest(keyAuth), p.DNSDigest)
}

func TestGetPendingAuthorizationsEmptyAfterValidation(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	ord, err := New(context.Background(), conn,
		testConfig(testStoragePaths(t), "example.org"))
	require.NoError(t, err)

	ok, err := ord.VerifyAuthorization(context.Background(), "example.org", acme.ChallengeHTTP01)
	require.NoError(t, err)
	require.True(t, ok)

	// An empty result with a nil error means no pending work remains.
	pending, err := ord.GetPendingAuthorizations(acme.ChallengeHTTP01)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestVerifyAuthorization(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	var validated []string
	cfg := testConfig(testStoragePaths(t), "example.org", "www.example.org")
	cfg.OnChallengeValidated = func(identifier string, challType acme.ChallengeType) {
		validated = append(validated, identifier+"/"+challType.String())
	}

	ord, err := New(context.Background(), conn, cfg)
	require.NoError(t, err)

	ok, err := ord.VerifyAuthorization(context.Background(), "example.org", acme.ChallengeHTTP01)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"example.org/http-01"}, validated)
	assert.False(t, ord.AllAuthorizationsValid())

	ok, err = ord.VerifyAuthorization(context.Background(), "www.example.org", acme.ChallengeHTTP01)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ord.AllAuthorizationsValid())

	// With every authorization valid the fake CA promotes the order.
	require.NoError(t, ord.UpdateOrderData(context.Background()))
	assert.Equal(t, acme.StatusReady, ord.Status())
}

func TestVerifyAuthorizationPollsUntilTerminal(t *testing.T) {
	ca := newFakeCA(t)
	ca.configure(func(ca *fakeCA) { ca.pendingPolls = 3 })
	conn := newTestConnector(t, ca)

	ord, err := New(context.Background(), conn,
		testConfig(testStoragePaths(t), "example.org"))
	require.NoError(t, err)

	ok, err := ord.VerifyAuthorization(context.Background(), "example.org", acme.ChallengeHTTP01)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyAuthorizationValidationFailure(t *testing.T) {
	ca := newFakeCA(t)
	ca.configure(func(ca *fakeCA) { ca.failValidation = true })
	conn := newTestConnector(t, ca)

	ord, err := New(context.Background(), conn,
		testConfig(testStoragePaths(t), "example.org"))
	require.NoError(t, err)

	// The CA moved the authorization to "invalid": a refusal, not an error.
	ok, err := ord.VerifyAuthorization(context.Background(), "example.org", acme.ChallengeHTTP01)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, ord.AllAuthorizationsValid())
}

func TestVerifyAuthorizationDeclined(t *testing.T) {
	ca := newFakeCA(t)
	ca.configure(func(ca *fakeCA) { ca.declineChallenge = true })
	conn := newTestConnector(t, ca)

	ord, err := New(context.Background(), conn,
		testConfig(testStoragePaths(t), "example.org"))
	require.NoError(t, err)

	ok, err := ord.VerifyAuthorization(context.Background(), "example.org", acme.ChallengeHTTP01)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyAuthorizationNoMatch(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	ord, err := New(context.Background(), conn,
		testConfig(testStoragePaths(t), "example.org"))
	require.NoError(t, err)

	ok, err := ord.VerifyAuthorization(context.Background(), "unknown.example.org", acme.ChallengeHTTP01)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, ca.challengeCount())
}

func TestVerifyAuthorizationPreCheck(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	checker := &stubPreChecker{allow: false}
	cfg := testConfig(testStoragePaths(t), "example.org")
	cfg.PreCheck = checker

	ord, err := New(context.Background(), conn, cfg)
	require.NoError(t, err)

	// A failed pre-check refuses locally: the CA is never notified.
	ok, err := ord.VerifyAuthorization(context.Background(), "example.org", acme.ChallengeHTTP01)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, ca.challengeCount())

	expectedKeyAuth := keys.KeyAuth(conn.AccountSigner(), "tok-example.org")
	assert.Equal(t, "tok-example.org", checker.gotToken)
	assert.Equal(t, expectedKeyAuth, checker.gotKeyAuth)

	// Once the material is visible verification proceeds.
	checker.allow = true
	ok, err = ord.VerifyAuthorization(context.Background(), "example.org", acme.ChallengeHTTP01)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, ca.challengeCount())
}

func TestVerifyAuthorizationDNS01PreCheckDigest(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	checker := &stubPreChecker{allow: true}
	cfg := testConfig(testStoragePaths(t), "example.org")
	cfg.PreCheck = checker

	ord, err := New(context.Background(), conn, cfg)
	require.NoError(t, err)

	ok, err := ord.VerifyAuthorization(context.Background(), "example.org", acme.ChallengeDNS01)
	require.NoError(t, err)
	assert.True(t, ok)

	keyAuth := keys.KeyAuth(conn.AccountSigner(), "tok-example.org")
	assert.Equal(t, keys.DNS01Digest(keyAuth), checker.gotDigest)
}

func TestVerifyAuthorizationCancelled(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	cfg := testConfig(testStoragePaths(t), "example.org")
	// A long propagation delay ensures the dns-01 path has to wait.
	cfg.DNSPropagationDelay = time.Minute

	ord, err := New(context.Background(), conn, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := ord.VerifyAuthorization(ctx, "example.org", acme.ChallengeDNS01)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
	assert.Equal(t, 0, ca.challengeCount())
}

func TestVerifyAuthorizationWildcard(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	ord, err := New(context.Background(), conn,
		testConfig(testStoragePaths(t), "*.example.org"))
	require.NoError(t, err)

	// The wildcard-marked identifier matches its authorization even though
	// the wire resource carries the bare base name.
	ok, err := ord.VerifyAuthorization(context.Background(), "*.example.org", acme.ChallengeDNS01)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeactivateAuthorization(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	ord, err := New(context.Background(), conn,
		testConfig(testStoragePaths(t), "example.org"))
	require.NoError(t, err)

	ok, err := ord.DeactivateAuthorization(context.Background(), "example.org")
	require.NoError(t, err)
	assert.True(t, ok)

	authzs := ord.Authorizations()
	require.Len(t, authzs, 1)
	assert.Equal(t, acme.StatusDeactivated, authzs[0].Status())
}

func TestDeactivateAuthorizationNoMatch(t *testing.T) {
	ca := newFakeCA(t)
	conn := newTestConnector(t, ca)

	ord, err := New(context.Background(), conn,
		testConfig(testStoragePaths(t), "example.org"))
	require.NoError(t, err)

	ok, err := ord.DeactivateAuthorization(context.Background(), "unknown.example.org")
	require.NoError(t, err)
	assert.False(t, ok)
}
