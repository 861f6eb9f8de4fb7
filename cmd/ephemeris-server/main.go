// Command ephemeris-server serves body states over WebSocket from a kernel
// dataset it keeps in sync with a remote archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/signalsfoundry/ephemeris-server/internal/server"
)

const (
	exitOK   = 0
	exitErr  = 1
	exitBind = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, server.ErrBind) {
			return exitBind
		}
		return exitErr
	}
	return exitOK
}
