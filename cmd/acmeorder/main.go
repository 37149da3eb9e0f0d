// acmeorder drives one ACME certificate order from the command line: it
// creates or recovers the order, prints the pending challenge response
// material, and on request verifies authorizations, finalizes the order,
// retrieves the certificate chain and revokes it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	acmeclient "github.com/cpu/acmeorder/acme/client"
	"github.com/cpu/acmeorder/acme/order"
	"github.com/cpu/acmeorder/acme/precheck"
	"github.com/cpu/acmeorder/acme/storage"
	acmecmd "github.com/cpu/acmeorder/cmd"

	"github.com/cpu/acmeorder/acme"
)

const (
	DIRECTORY_DEFAULT = "https://acme-staging-v02.api.letsencrypt.org/directory"
	KEY_TYPE_DEFAULT  = "rsa-4096"
	CHALLENGE_DEFAULT = "http-01"
)

func main() {
	directory := flag.String(
		"directory",
		DIRECTORY_DEFAULT,
		"Directory URL for ACME server")

	caCert := flag.String(
		"ca",
		"",
		"Optional CA certificate(s) for verifying ACME server HTTPS")

	accountURL := flag.String(
		"account",
		"",
		"URL of a previously registered ACME account")

	accountKey := flag.String(
		"accountKey",
		"",
		"Filepath to the PEM encoded ACME account private key")

	domains := flag.String(
		"domains",
		"",
		"Comma separated domain names to order a certificate for")

	keyType := flag.String(
		"keyType",
		KEY_TYPE_DEFAULT,
		"Certificate key specification ({rsa|ec}[-bits])")

	challType := flag.String(
		"challengeType",
		CHALLENGE_DEFAULT,
		"Challenge type to use (http-01 or dns-01)")

	storeDir := flag.String(
		"store",
		".",
		"Directory for persisted order artifacts")

	notBefore := flag.String(
		"notBefore",
		"",
		"Optional requested notBefore timestamp (YYYY-MM-DDTHH:MM:SSZ)")

	notAfter := flag.String(
		"notAfter",
		"",
		"Optional requested notAfter timestamp (YYYY-MM-DDTHH:MM:SSZ)")

	noPreCheck := flag.Bool(
		"noPreCheck",
		false,
		"Skip local validation of challenge material before notifying the CA")

	interactive := flag.Bool(
		"shell",
		false,
		"Start an interactive shell instead of the one-shot issuance flow")

	revoke := flag.Bool(
		"revoke",
		false,
		"Revoke the order's issued certificate instead of issuing")

	revokeReason := flag.Int(
		"reason",
		acme.ReasonUnspecified,
		"RFC 5280 revocation reason code used with -revoke")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go acmecmd.CatchSignals(cancel)

	identifiers := strings.Split(*domains, ",")
	for i := range identifiers {
		identifiers[i] = strings.TrimSpace(identifiers[i])
	}
	if *domains == "" || len(identifiers) == 0 {
		acmecmd.FailOnError(fmt.Errorf("no -domains provided"), "Invalid arguments")
	}

	challenge, err := acme.ParseChallengeType(*challType)
	acmecmd.FailOnError(err, "Invalid -challengeType")

	client, err := acmeclient.New(ctx, acmeclient.Config{
		DirectoryURL:   *directory,
		CACert:         *caCert,
		AccountURL:     *accountURL,
		AccountKeyPath: *accountKey,
		Logger:         logger,
	})
	acmecmd.FailOnError(err, "Unable to create ACME client")

	cfg := order.Config{
		Identifiers: identifiers,
		KeyType:     *keyType,
		NotBefore:   *notBefore,
		NotAfter:    *notAfter,
		Paths: storage.Paths{
			OrderURL:    filepath.Join(*storeDir, "order.url"),
			PrivateKey:  filepath.Join(*storeDir, "private.key"),
			PublicKey:   filepath.Join(*storeDir, "public.key"),
			CSR:         filepath.Join(*storeDir, "order.csr"),
			Certificate: filepath.Join(*storeDir, "certificate.pem"),
			FullChain:   filepath.Join(*storeDir, "fullchain.pem"),
			CABundle:    filepath.Join(*storeDir, "ca-bundle.pem"),
		},
		Logger: logger,
	}
	if !*noPreCheck {
		cfg.PreCheck = &precheck.Checker{Logger: logger}
	}

	ord, err := order.New(ctx, client, cfg)
	acmecmd.FailOnError(err, "Unable to create or recover order")

	if *interactive {
		runShell(ctx, ord, challenge, *revokeReason)
		return
	}

	if *revoke {
		ok, err := ord.Revoke(ctx, *revokeReason)
		acmecmd.FailOnError(err, "Unable to revoke certificate")
		if !ok {
			acmecmd.FailOnError(fmt.Errorf("CA declined revocation"), "Revocation failed")
		}
		fmt.Println("certificate revoked")
		return
	}

	issue(ctx, ord, challenge)
}

// issue walks one order from pending authorizations to a persisted
// certificate chain, printing the challenge material the operator must
// publish along the way.
func issue(ctx context.Context, ord *order.Order, challenge acme.ChallengeType) {
	pending, err := ord.GetPendingAuthorizations(challenge)
	acmecmd.FailOnError(err, "Unable to enumerate pending authorizations")

	for _, p := range pending {
		switch p.Type {
		case acme.ChallengeHTTP01:
			fmt.Printf("publish http://%s%s%s with content %q, then press enter\n",
				p.Identifier, acme.HTTP01_PATH_PREFIX, p.Filename, p.Content)
		case acme.ChallengeDNS01:
			fmt.Printf("publish TXT %s%s with value %q, then press enter\n",
				acme.DNS01_LABEL, p.Identifier, p.DNSDigest)
		}
		fmt.Scanln()

		ok, err := ord.VerifyAuthorization(ctx, p.Identifier, p.Type)
		acmecmd.FailOnError(err, "Unable to verify authorization")
		if !ok {
			acmecmd.FailOnError(
				fmt.Errorf("authorization for %q did not validate", p.Identifier),
				"Verification failed")
		}
	}

	ok, err := ord.Finalize(ctx)
	acmecmd.FailOnError(err, "Unable to finalize order")
	if !ok {
		acmecmd.FailOnError(fmt.Errorf("CA declined finalize request"), "Finalize failed")
	}

	ok, err = ord.RetrieveCertificate(ctx)
	acmecmd.FailOnError(err, "Unable to retrieve certificate")
	if !ok {
		acmecmd.FailOnError(fmt.Errorf("certificate not available yet"), "Retrieval failed")
	}
	fmt.Println("certificate issued")
}
