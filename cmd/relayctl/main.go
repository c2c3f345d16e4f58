// Package main is an operator console for the call-signaling relay. It sends
// and reads signals as one user, mints hosted-media credentials and reaps
// expired signals directly from the configured store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cardkeep/signal_layer/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, newRootCmd()); err != nil {
		os.Exit(1)
	}
}

// run executes cmd and reports any error on its stderr.
func run(ctx context.Context, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		cli.NewPrinter(cmd.ErrOrStderr()).Error("%v", err)
	}
	return err
}
