package main

import (
	"context"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/abiosoft/readline"

	"github.com/cpu/acmeorder/acme"
	"github.com/cpu/acmeorder/acme/order"
)

const basePrompt = "[ acmeorder ] > "

// runShell starts an interactive shell for driving the order step by step.
// Useful when challenge material has to be published out-of-band and the
// operator wants to poke at the order state in between.
func runShell(ctx context.Context, ord *order.Order, challenge acme.ChallengeType, revokeReason int) {
	shell := ishell.NewWithConfig(&readline.Config{
		Prompt: basePrompt,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "Print the order URL, status and authorization statuses",
		Func: func(c *ishell.Context) {
			c.Printf("order: %s\n", ord.URL())
			c.Printf("status: %s\n", ord.Status())
			c.Printf("identifiers: %s\n", strings.Join(ord.Identifiers(), ", "))
			for _, authz := range ord.Authorizations() {
				c.Printf("authz %s: %s\n", authz.Identifier(), authz.Status())
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "update",
		Help: "Refresh the order and authorizations from the CA",
		Func: func(c *ishell.Context) {
			if err := ord.UpdateOrderData(ctx); err != nil {
				c.Printf("update: %s\n", err.Error())
				return
			}
			c.Printf("status: %s\n", ord.Status())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "pending",
		Help: "Print challenge response material for pending authorizations",
		Func: func(c *ishell.Context) {
			pending, err := ord.GetPendingAuthorizations(challenge)
			if err != nil {
				c.Printf("pending: %s\n", err.Error())
				return
			}
			if len(pending) == 0 {
				c.Printf("nothing pending\n")
				return
			}
			for _, p := range pending {
				switch p.Type {
				case acme.ChallengeHTTP01:
					c.Printf("%s: serve %s%s with content %q\n",
						p.Identifier, acme.HTTP01_PATH_PREFIX, p.Filename, p.Content)
				case acme.ChallengeDNS01:
					c.Printf("%s: publish TXT %s%s value %q\n",
						p.Identifier, acme.DNS01_LABEL, p.Identifier, p.DNSDigest)
				}
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "verify",
		Help: "verify <identifier> - ask the CA to validate a pending challenge",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Printf("usage: verify <identifier>\n")
				return
			}
			ok, err := ord.VerifyAuthorization(ctx, c.Args[0], challenge)
			reportOutcome(c, "verify", ok, err)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "deactivate",
		Help: "deactivate <identifier> - deactivate an authorization",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Printf("usage: deactivate <identifier>\n")
				return
			}
			ok, err := ord.DeactivateAuthorization(ctx, c.Args[0])
			reportOutcome(c, "deactivate", ok, err)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "finalize",
		Help: "Submit the order's CSR for issuance",
		Func: func(c *ishell.Context) {
			ok, err := ord.Finalize(ctx)
			reportOutcome(c, "finalize", ok, err)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "cert",
		Help: "Retrieve and persist the issued certificate chain",
		Func: func(c *ishell.Context) {
			ok, err := ord.RetrieveCertificate(ctx)
			reportOutcome(c, "cert", ok, err)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "revoke",
		Help: "Revoke the issued certificate",
		Func: func(c *ishell.Context) {
			ok, err := ord.Revoke(ctx, revokeReason)
			reportOutcome(c, "revoke", ok, err)
		},
	})

	shell.Println("acmeorder interactive shell. Type \"help\" for commands.")
	shell.Run()
}

func reportOutcome(c *ishell.Context, op string, ok bool, err error) {
	switch {
	case err != nil:
		c.Printf("%s: %s\n", op, err.Error())
	case !ok:
		c.Printf("%s: refused\n", op)
	default:
		c.Printf("%s: ok\n", op)
	}
}
