// Command vaultctl is the operator CLI for a running fleetvault server. It
// drives the credential migration over the HTTP API: backfill batches,
// validation sweeps, per-credential reverts and the cleanup readiness check.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/ericfisherdev/fleetvault/internal/client"
)

// Exit codes.
const (
	exitSuccess     = 0
	exitUserError   = 1
	exitSysError    = 2
	exitCheckFailed = 3
)

// checkFailedError signals a command that ran but whose result is a "no":
// readiness blocked or validation found invalid credentials.
type checkFailedError struct {
	reason string
}

func (e *checkFailedError) Error() string { return e.reason }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// exitCode maps an error to the process exit status. Server-side 4xx and
// local usage errors are the operator's to fix; transport failures and 5xx
// are not.
func exitCode(err error) int {
	var checkErr *checkFailedError
	if errors.As(err, &checkErr) {
		return exitCheckFailed
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return exitUserError
		}
		return exitSysError
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return exitSysError
	}

	return exitUserError
}
