package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardkeep/signal_layer/internal/cli"
	"github.com/cardkeep/signal_layer/pkg/callclient"
)

const program = "relayctl"

// options are the persistent flags shared by every subcommand.
type options struct {
	url     string
	token   string
	timeout time.Duration
	json    bool
}

func (o *options) client() (*callclient.Client, error) {
	if o.url == "" {
		return nil, fmt.Errorf("--url or RELAY_URL is required")
	}
	return callclient.NewClient(callclient.ClientConfig{
		BaseURL: o.url,
		Token:   o.token,
		Timeout: o.timeout,
	})
}

func printer(cmd *cobra.Command) *cli.Printer {
	return cli.NewPrinter(cmd.OutOrStdout())
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           program,
		Short:         "Talk to the call-signaling relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, cmd.UsageString())
	})

	flags := root.PersistentFlags()
	flags.StringVar(&opts.url, "url", os.Getenv("RELAY_URL"), "relay base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("RELAY_TOKEN"), "bearer token of the acting user")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")
	flags.BoolVar(&opts.json, "json", false, "print raw JSON")

	root.AddCommand(
		newSendCmd(opts),
		newPollCmd(opts),
		newWatchCmd(opts),
		newEndCmd(opts),
		newTokenCmd(opts),
		newCallCmd(opts),
		newICECmd(opts),
		newReapCmd(opts),
		newCompletionCmd(),
	)
	return root
}
