// Package cmd provides common command line tools for the acmeorder binaries.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// FailOnError prints msg and the error to stderr and exits non-zero. It is
// a no-op for a nil error.
func FailOnError(err error, msg string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "[!] %s - %s\n", msg, err)
	os.Exit(1)
}

// CatchSignals blocks until SIGTERM, SIGINT or SIGHUP arrives, then runs
// callback. Run it on its own goroutine with a callback that cancels the
// main context so in-flight requests wind down before exit.
func CatchSignals(callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	sig := <-sigChan
	fmt.Fprintf(os.Stderr, "caught %s, shutting down\n", sig)

	if callback != nil {
		callback()
	}
}
